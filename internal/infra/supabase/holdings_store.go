package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/boddenberg/suraksha-advisor-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Holdings — policies (implements port.HoldingsProvider)
// ============================================================

// policyRow maps a policies row with its embedded product.
type policyRow struct {
	PolicyNumber  string  `json:"policy_number"`
	Status        string  `json:"status"`
	PremiumAmount float64 `json:"premium_amount"`
	ExpiryDate    string  `json:"expiry_date"`
	Product       *struct {
		Name        string `json:"name"`
		ProductType string `json:"product_type"`
	} `json:"insurance_products"`
}

// Holdings returns the user's policies, soonest expiry first.
func (c *Client) Holdings(ctx context.Context, userID string) ([]domain.Holding, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Holdings")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	path := fmt.Sprintf(
		"policies?user_id=eq.%s&select=policy_number,status,premium_amount,expiry_date,insurance_products(name,product_type)&order=expiry_date.asc",
		url.QueryEscape(userID),
	)
	body, err := c.fetch(ctx, "supabase/policies", path)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	holdings, err := decodeHoldings(body)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/policies", Err: err}
	}
	span.SetAttributes(attribute.Int("holdings.count", len(holdings)))
	return holdings, nil
}

func decodeHoldings(body []byte) ([]domain.Holding, error) {
	if len(body) == 0 {
		return []domain.Holding{}, nil
	}

	var rows []policyRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode policies: %w", err)
	}

	holdings := make([]domain.Holding, 0, len(rows))
	for _, r := range rows {
		h := domain.Holding{
			PolicyNumber: r.PolicyNumber,
			Status:       r.Status,
			Premium:      r.PremiumAmount,
			ExpiresAt:    parseDate(r.ExpiryDate),
		}
		if r.Product != nil {
			h.Name = r.Product.Name
			h.Category = r.Product.ProductType
		}
		holdings = append(holdings, h)
	}
	return holdings, nil
}

// parseDate accepts PostgREST date and timestamp renderings.
func parseDate(s string) time.Time {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
