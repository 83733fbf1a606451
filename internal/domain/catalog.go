package domain

import "time"

// ============================================================
// Catalog — insurance offerings
// ============================================================

// Product categories, matching the product_type column of the catalog.
const (
	CategoryHealth    = "HEALTH"
	CategoryLife      = "LIFE"
	CategoryVehicle   = "VEHICLE"
	CategoryCrop      = "CROP"
	CategoryProperty  = "PROPERTY"
	CategoryLivestock = "LIVESTOCK"
)

// CatalogItem is a read-only snapshot of one offering.
type CatalogItem struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	Active      bool    `json:"active"`
}

// ActiveOnly returns the active items of a snapshot, preserving order.
func ActiveOnly(items []CatalogItem) []CatalogItem {
	out := make([]CatalogItem, 0, len(items))
	for _, it := range items {
		if it.Active {
			out = append(out, it)
		}
	}
	return out
}

// ============================================================
// Holdings — policies the user already owns
// ============================================================

// Holding is one policy row from the record store.
type Holding struct {
	PolicyNumber string    `json:"policy_number"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	Category     string    `json:"category"`
	Premium      float64   `json:"premium"`
	ExpiresAt    time.Time `json:"expires_at"`
}
