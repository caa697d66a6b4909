package cart

import (
	"context"

	"github.com/go-faster/errors"
)

// DefaultKey is the storage key of the default cart.
const DefaultKey = "@RocketShoes:cart"

// ErrStateNotFound is returned by Storage when no value is stored for a key.
var ErrStateNotFound = errors.New("cart state not found")

// Storage persists the serialized cart under a single key. Save replaces
// the whole value.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}
