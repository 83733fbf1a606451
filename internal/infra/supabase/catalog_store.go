package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/boddenberg/suraksha-advisor-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Catalog — insurance_products (implements port.CatalogProvider)
// ============================================================

const (
	catalogCacheKey = "active"
	catalogPath     = "insurance_products?is_active=eq.true&select=id,name,product_type,description,base_premium,is_active&order=id.asc"
)

// productRow maps insurance_products columns.
type productRow struct {
	ID          rowID   `json:"id"`
	Name        string  `json:"name"`
	ProductType string  `json:"product_type"`
	Description string  `json:"description"`
	BasePremium float64 `json:"base_premium"`
	IsActive    bool    `json:"is_active"`
}

// ActiveProducts returns the active catalog snapshot.
func (c *Client) ActiveProducts(ctx context.Context) ([]domain.CatalogItem, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ActiveProducts")
	defer span.End()

	if c.catalog != nil {
		if items, ok := c.catalog.Get(catalogCacheKey); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return items, nil
		}
	}

	body, err := c.fetch(ctx, "supabase/catalog", catalogPath)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	items, err := decodeCatalog(body)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/catalog", Err: err}
	}
	span.SetAttributes(attribute.Int("catalog.size", len(items)))

	if c.catalog != nil {
		c.catalog.Set(catalogCacheKey, items)
	}
	return items, nil
}

// rowID accepts bigint and uuid primary keys.
type rowID string

func (id *rowID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	*id = rowID(strings.Trim(string(b), `"`))
	return nil
}

func decodeCatalog(body []byte) ([]domain.CatalogItem, error) {
	if len(body) == 0 {
		return []domain.CatalogItem{}, nil
	}

	var rows []productRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode insurance_products: %w", err)
	}

	items := make([]domain.CatalogItem, 0, len(rows))
	for _, r := range rows {
		if r.ID == "" || r.Name == "" {
			continue
		}
		items = append(items, domain.CatalogItem{
			ID:          string(r.ID),
			Name:        r.Name,
			Category:    r.ProductType,
			Price:       r.BasePremium,
			Description: r.Description,
			Active:      r.IsActive,
		})
	}
	return items, nil
}
