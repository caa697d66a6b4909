package product

import (
	"bytes"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// knownKeys are the members decoded into typed fields, in encoding order.
var knownKeys = []string{"id", "title", "price", "image"}

func isKnown(key string) bool {
	return slices.Contains(knownKeys, key)
}

// Decode reads a catalog product document. An "amount" member, if the
// catalog sends one, is dropped: quantity belongs to the cart.
func (p *Product) Decode(d *jx.Decoder) error {
	return p.DecodeObject(d, func(d *jx.Decoder, key string) (bool, error) {
		if key == "amount" {
			return true, d.Skip()
		}
		return false, nil
	})
}

// DecodeObject reads a JSON object into p. own is offered every member
// first; when it reports true the member has been consumed and is not part
// of the product.
func (p *Product) DecodeObject(d *jx.Decoder, own func(d *jx.Decoder, key string) (bool, error)) error {
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if own != nil {
			handled, err := own(d, key)
			if err != nil || handled {
				return err
			}
		}
		return p.decodeMember(d, key)
	}); err != nil {
		return err
	}
	p.compactLayout()
	return nil
}

func (p *Product) decodeMember(d *jx.Decoder, key string) error {
	raw, err := d.Raw()
	if err != nil {
		return errors.Wrapf(err, "%s", key)
	}
	// Raw points into the decoder buffer and may carry surrounding spaces.
	raw = append(jx.Raw(nil), bytes.TrimSpace(raw)...)

	if !isKnown(key) {
		p.Extra = append(p.Extra, Field{Key: key, Value: raw})
		p.layout = append(p.layout, member{key: key})
		return nil
	}
	if err := p.setKnown(key, raw); err != nil {
		return errors.Wrap(err, key)
	}
	m := member{key: key}
	if !bytes.Equal(p.encodeKnown(key), raw) {
		m.raw = raw
	}
	p.layout = append(p.layout, m)
	return nil
}

func (p *Product) setKnown(key string, raw jx.Raw) error {
	d := jx.DecodeBytes(raw)
	switch key {
	case "id":
		v, err := d.Int()
		if err != nil {
			return err
		}
		p.ID = v
	case "title":
		v, err := decodeString(d)
		if err != nil {
			return err
		}
		p.Title = v
	case "price":
		v, err := decodePrice(d)
		if err != nil {
			return err
		}
		p.Price = v
	case "image":
		v, err := decodeString(d)
		if err != nil {
			return err
		}
		p.Image = v
	}
	return nil
}

// compactLayout drops the layout when Encode would reproduce the document
// from the typed fields alone.
func (p *Product) compactLayout() {
	if len(p.layout) != len(knownKeys)+len(p.Extra) {
		return
	}
	for i, m := range p.layout {
		var want string
		if i < len(knownKeys) {
			want = knownKeys[i]
		} else {
			want = p.Extra[i-len(knownKeys)].Key
		}
		if m.key != want || m.raw != nil {
			return
		}
	}
	p.layout = nil
}

// Encode writes p as a JSON object.
func (p Product) Encode(e *jx.Encoder) {
	e.ObjStart()
	p.EncodeFields(e)
	e.ObjEnd()
}

// EncodeFields writes the members of p into an already open object. A
// decoded product is written with the members, order and source text it was
// read with.
func (p Product) EncodeFields(e *jx.Encoder) {
	if p.layout == nil {
		for _, key := range knownKeys {
			e.FieldStart(key)
			p.writeKnown(e, key)
		}
		for _, f := range p.Extra {
			e.FieldStart(f.Key)
			e.Raw(f.Value)
		}
		return
	}

	extra := 0
	for _, m := range p.layout {
		switch {
		case m.raw != nil:
			e.FieldStart(m.key)
			e.Raw(m.raw)
		case isKnown(m.key):
			e.FieldStart(m.key)
			p.writeKnown(e, m.key)
		case extra < len(p.Extra):
			e.FieldStart(p.Extra[extra].Key)
			e.Raw(p.Extra[extra].Value)
			extra++
		}
	}
}

func (p Product) writeKnown(e *jx.Encoder, key string) {
	switch key {
	case "id":
		e.Int(p.ID)
	case "title":
		e.Str(p.Title)
	case "price":
		e.Raw([]byte(p.Price.String()))
	case "image":
		e.Str(p.Image)
	}
}

func (p Product) encodeKnown(key string) []byte {
	var e jx.Encoder
	p.writeKnown(&e, key)
	return e.Bytes()
}

func decodeString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// decodePrice accepts both JSON numbers and numeric strings.
func decodePrice(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Null:
		return decimal.Zero, d.Null()
	default:
		return decimal.Zero, errors.Errorf("unexpected %s", d.Next())
	}
}
