package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item as shown in the storefront.
type Product struct {
	ID    int
	Title string
	Price decimal.Decimal
	Image string

	// Extra holds display fields the cart does not interpret. They are kept
	// in arrival order so a persisted cart round-trips unchanged.
	Extra []Field

	// layout is the member list of a decoded document whose shape differs
	// from the one Encode produces: other member order, missing members, or
	// known members whose source text is kept verbatim. Nil for products
	// built in code and for documents already in encoded form.
	layout []member
}

type member struct {
	key string
	// raw is the source text of a known member, set when re-encoding the
	// typed value would not reproduce it (null, quoted numbers, escapes).
	raw jx.Raw
}

// Field is a raw JSON member of a product document.
type Field struct {
	Key   string
	Value jx.Raw
}

// Clone returns a copy of p that shares no slices with it.
func (p Product) Clone() Product {
	if p.Extra != nil {
		extra := make([]Field, len(p.Extra))
		copy(extra, p.Extra)
		p.Extra = extra
	}
	if p.layout != nil {
		p.layout = append([]member(nil), p.layout...)
	}
	return p
}

// Has reports whether the known member key ("id", "title", "price" or
// "image") carries a value. Members the source document omitted or set to
// null report false.
func (p Product) Has(key string) bool {
	if p.layout == nil {
		return isKnown(key)
	}
	for _, m := range p.layout {
		if m.key == key {
			return string(m.raw) != "null"
		}
	}
	return false
}

// Catalog defines the read operation of the product catalog.
type Catalog interface {
	GetByID(ctx context.Context, id int) (*Product, error)
}
