package cart

import (
	"fmt"
	"io"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// InvalidStateError reports why a persisted cart was rejected.
type InvalidStateError struct {
	Index  int
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("line item %d: %s", e.Index, e.Reason)
}

// DecodeCart parses and validates a persisted cart blob. It rejects line
// items with a non-positive id or amount, duplicate ids and any data after
// the array. A JSON null is read as an empty cart.
func DecodeCart(data []byte) (Cart, error) {
	c := Cart{}
	d := jx.DecodeBytes(data)
	if d.Next() == jx.Null {
		if err := d.Null(); err != nil {
			return nil, errors.Wrap(err, "decode cart")
		}
	} else if err := d.Arr(func(d *jx.Decoder) error {
		var item LineItem
		if err := item.Decode(d); err != nil {
			return errors.Wrapf(err, "line item %d", len(c))
		}
		c = append(c, item)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode cart")
	}
	// Only whitespace may follow the cart.
	if err := d.Skip(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode cart: unexpected data after cart")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the cart invariants.
func (c Cart) Validate() error {
	seen := make(map[int]struct{}, len(c))
	for i, item := range c {
		switch {
		case item.ID <= 0:
			return &InvalidStateError{Index: i, Reason: "id must be positive"}
		case item.Amount <= 0:
			return &InvalidStateError{Index: i, Reason: "amount must be positive"}
		}
		if _, ok := seen[item.ID]; ok {
			return &InvalidStateError{Index: i, Reason: "duplicate id"}
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}

// EncodeCart serializes c into the persisted JSON form.
func EncodeCart(c Cart) []byte {
	var e jx.Encoder
	c.Encode(&e)
	return e.Bytes()
}

// Encode writes c as a JSON array. An empty cart is written as [].
func (c Cart) Encode(e *jx.Encoder) {
	e.ArrStart()
	for _, item := range c {
		item.Encode(e)
	}
	e.ArrEnd()
}

// Decode reads a line item: the product members plus "amount".
func (li *LineItem) Decode(d *jx.Decoder) error {
	return li.Product.DecodeObject(d, func(d *jx.Decoder, key string) (bool, error) {
		if key != "amount" {
			return false, nil
		}
		v, err := d.Int()
		if err != nil {
			return true, errors.Wrap(err, "amount")
		}
		li.Amount = v
		return true, nil
	})
}

// Encode writes li as a JSON object.
func (li LineItem) Encode(e *jx.Encoder) {
	e.ObjStart()
	li.Product.EncodeFields(e)
	e.FieldStart("amount")
	e.Int(li.Amount)
	e.ObjEnd()
}
