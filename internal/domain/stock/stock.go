package stock

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when no stock record exists for a product.
var ErrNotFound = errors.New("stock not found")

// Stock is the externally reported available quantity of a product.
type Stock struct {
	ID     int
	Amount int
}

// Service reads current stock levels. Implementations must not cache: every
// call reflects the latest known level.
type Service interface {
	GetByID(ctx context.Context, id int) (*Stock, error)
}
