package stock

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Decode reads a stock document of the form {"id": 1, "amount": 3}.
// Unknown members are ignored.
func (s *Stock) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Int()
			if err != nil {
				return errors.Wrap(err, "id")
			}
			s.ID = v
		case "amount":
			v, err := d.Int()
			if err != nil {
				return errors.Wrap(err, "amount")
			}
			s.Amount = v
		default:
			return d.Skip()
		}
		return nil
	})
}

// Encode writes s as a JSON object.
func (s Stock) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int(s.ID)
	e.FieldStart("amount")
	e.Int(s.Amount)
	e.ObjEnd()
}
