// Package fixtures provides seed catalog and policy data for running the
// advisor without Supabase (local development, demos, tests).
package fixtures

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/suraksha-advisor-go/internal/domain"
)

// DemoUserID owns the seeded policies.
const DemoUserID = "demo-user"

// Catalog is an in-memory port.CatalogProvider.
type Catalog struct {
	mu    sync.RWMutex
	items []domain.CatalogItem
}

// NewCatalog returns a catalog over items. A nil slice seeds the default
// offerings.
func NewCatalog(items []domain.CatalogItem) *Catalog {
	if items == nil {
		items = SeedCatalog()
	}
	return &Catalog{items: items}
}

// ActiveProducts returns a copy of the catalog, inactive items included;
// callers filter.
func (c *Catalog) ActiveProducts(_ context.Context) ([]domain.CatalogItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.CatalogItem, len(c.items))
	copy(out, c.items)
	return out, nil
}

// Replace swaps the snapshot.
func (c *Catalog) Replace(items []domain.CatalogItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = items
}

// SeedCatalog returns the default offerings.
func SeedCatalog() []domain.CatalogItem {
	return []domain.CatalogItem{
		{ID: "1", Name: "Gramin Health Shield", Category: domain.CategoryHealth, Price: 5000,
			Description: "Basic health coverage up to 2 lakhs for the whole family, cashless at empanelled hospitals.", Active: true},
		{ID: "2", Name: "Kisan Crop Protection", Category: domain.CategoryCrop, Price: 3000,
			Description: "Protection against crop failure. Covers drought and floods.", Active: true},
		{ID: "3", Name: "Jeevan Suraksha Term Plan", Category: domain.CategoryLife, Price: 4200,
			Description: "Pure term life cover of 10 lakhs with a low yearly premium.", Active: true},
		{ID: "4", Name: "Vahan Raksha Two-Wheeler", Category: domain.CategoryVehicle, Price: 1500,
			Description: "Third-party and own-damage cover for motorcycles and scooters.", Active: true},
		{ID: "5", Name: "Griha Suraksha Home Cover", Category: domain.CategoryProperty, Price: 2500,
			Description: "Covers the house and shop stock against fire, flood and theft.", Active: true},
		{ID: "6", Name: "Pashu Dhan Livestock Cover", Category: domain.CategoryLivestock, Price: 1200,
			Description: "Insures cattle and buffaloes against death from disease or accident.", Active: true},
		{ID: "7", Name: "Kisan Tractor Cover", Category: domain.CategoryVehicle, Price: 6000,
			Description: "Discontinued tractor plan.", Active: false},
	}
}

// Holdings is an in-memory port.HoldingsProvider keyed by user id.
type Holdings struct {
	mu     sync.RWMutex
	byUser map[string][]domain.Holding
}

// NewHoldings returns a provider over byUser. A nil map seeds the demo
// user's policies relative to now.
func NewHoldings(byUser map[string][]domain.Holding, now time.Time) *Holdings {
	if byUser == nil {
		byUser = map[string][]domain.Holding{DemoUserID: SeedHoldings(now)}
	}
	return &Holdings{byUser: byUser}
}

// Holdings returns the user's policies; unknown users own none.
func (h *Holdings) Holdings(_ context.Context, userID string) ([]domain.Holding, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	src := h.byUser[userID]
	out := make([]domain.Holding, len(src))
	copy(out, src)
	return out, nil
}

// SeedHoldings returns the demo user's policies: one renewing within weeks
// and one already expired.
func SeedHoldings(now time.Time) []domain.Holding {
	day := now.UTC().Truncate(24 * time.Hour)
	return []domain.Holding{
		{PolicyNumber: "POL-4821-1", Name: "Gramin Health Shield", Status: "ACTIVE",
			Category: domain.CategoryHealth, Premium: 5750, ExpiresAt: day.AddDate(0, 0, 45)},
		{PolicyNumber: "POL-1377-1", Name: "Kisan Crop Protection", Status: "EXPIRED",
			Category: domain.CategoryCrop, Premium: 3900, ExpiresAt: day.AddDate(0, 0, -10)},
	}
}
