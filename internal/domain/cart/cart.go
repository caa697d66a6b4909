package cart

import (
	"github.com/xenking/cartstore/internal/domain/product"
)

// LineItem is one product entry in the cart with its chosen quantity.
// Display fields are copied from the catalog product when it is first added.
type LineItem struct {
	product.Product
	Amount int
}

// Cart is the ordered list of line items. Order is insertion order and is
// kept stable across mutations.
type Cart []LineItem

// Find returns the position of the line item for id, or -1.
func (c Cart) Find(id int) int {
	for i := range c {
		if c[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of c.
func (c Cart) Clone() Cart {
	if c == nil {
		return Cart{}
	}
	out := make(Cart, len(c))
	for i, item := range c {
		out[i] = LineItem{Product: item.Product.Clone(), Amount: item.Amount}
	}
	return out
}

// withAmount returns a copy of c where the item at i carries amount.
func (c Cart) withAmount(i, amount int) Cart {
	out := c.Clone()
	out[i].Amount = amount
	return out
}

// without returns a copy of c without the item at i.
func (c Cart) without(i int) Cart {
	out := make(Cart, 0, len(c)-1)
	out = append(out, c[:i].Clone()...)
	out = append(out, c[i+1:].Clone()...)
	return out
}

// with returns a copy of c with item appended.
func (c Cart) with(item LineItem) Cart {
	out := make(Cart, 0, len(c)+1)
	out = append(out, c.Clone()...)
	out = append(out, item)
	return out
}

// Quantity returns the total amount across all line items.
func (c Cart) Quantity() int {
	var n int
	for _, item := range c {
		n += item.Amount
	}
	return n
}
