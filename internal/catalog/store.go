package catalog

import (
	"context"

	"github.com/fjod/go_cart/internal/domain"
)

var (
	ErrProductNotFound = domain.ErrNotFound
	ErrInvalidQuantity = domain.ErrInvalidQuantity
)

// Catalog is the read side of the product catalog plus the two stock mutations
// checkout needs.
type Catalog interface {
	// GetProduct returns ErrProductNotFound for unknown ids.
	GetProduct(ctx context.Context, id string) (*domain.Product, error)

	// DecrementStock removes qty units in a single conditional update.
	// It reports false when stock is insufficient and never drives stock negative.
	DecrementStock(ctx context.Context, id string, qty int) (bool, error)

	// RestoreStock returns qty units previously taken by DecrementStock.
	RestoreStock(ctx context.Context, id string, qty int) error
}

func checkQuantity(qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	return nil
}
