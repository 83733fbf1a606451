// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/boddenberg/suraksha-advisor-go/internal/domain"
)

// CatalogProvider returns the current snapshot of insurance offerings.
// Implemented by the Supabase adapter and by the fixture catalog.
type CatalogProvider interface {
	ActiveProducts(ctx context.Context) ([]domain.CatalogItem, error)
}

// HoldingsProvider returns the policies a user already owns, read-only.
type HoldingsProvider interface {
	Holdings(ctx context.Context, userID string) ([]domain.Holding, error)
}
