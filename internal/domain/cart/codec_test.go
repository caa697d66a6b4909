package cart

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCart_KeepsUnknownFields(t *testing.T) {
	const input = `[{"id":3,"title":"Tênis","price":"179.9","image":"a.jpg","priceFormatted":"R$ 179,90","tags":["new"],"amount":2}]`

	c, err := DecodeCart([]byte(input))
	require.NoError(t, err)
	require.Len(t, c, 1)

	assert.Equal(t, 3, c[0].ID)
	assert.Equal(t, "Tênis", c[0].Title)
	assert.Equal(t, "179.9", c[0].Price.String())
	assert.Equal(t, 2, c[0].Amount)
	require.Len(t, c[0].Extra, 2)
	assert.Equal(t, "priceFormatted", c[0].Extra[0].Key)
	assert.Equal(t, `["new"]`, string(c[0].Extra[1].Value))

	assert.Equal(t, input, string(EncodeCart(c)), "members are written back verbatim")
}

func TestDecodeCart_TrailingData(t *testing.T) {
	for name, input := range map[string]string{
		"Garbage":       `[{"id":1,"amount":1}] garbage`,
		"Concatenated":  `[{"id":1,"amount":1}][{"id":2,"amount":1}]`,
		"SecondValue":   `[] []`,
		"AfterNull":     `null 1`,
		"UnclosedArray": `[{"id":1,"amount":1}`,
	} {
		t.Run(name, func(t *testing.T) {
			c, err := DecodeCart([]byte(input))
			assert.Error(t, err)
			assert.Nil(t, c)
		})
	}

	c, err := DecodeCart([]byte("[{\"id\":1,\"amount\":1}]\n"))
	require.NoError(t, err, "trailing whitespace is allowed")
	assert.Len(t, c, 1)
}

func TestDecodeCart_Null(t *testing.T) {
	c, err := DecodeCart([]byte(`null`))
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Empty(t, c)
}

func TestDecodeCart_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name   string
		input  string
		index  int
		reason string
	}{
		{"MissingID", `[{"amount":1}]`, 0, "id must be positive"},
		{"ZeroAmount", `[{"id":1,"amount":1},{"id":2}]`, 1, "amount must be positive"},
		{"Duplicate", `[{"id":1,"amount":1},{"id":2,"amount":1},{"id":1,"amount":1}]`, 2, "duplicate id"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeCart([]byte(tc.input))

			var stateErr *InvalidStateError
			require.True(t, errors.As(err, &stateErr), "got %v", err)
			assert.Equal(t, tc.index, stateErr.Index)
			assert.Equal(t, tc.reason, stateErr.Reason)
		})
	}
}

func TestEncodeCart_Empty(t *testing.T) {
	assert.Equal(t, `[]`, string(EncodeCart(nil)))
	assert.Equal(t, `[]`, string(EncodeCart(Cart{})))
}

func TestCart_Quantity(t *testing.T) {
	assert.Zero(t, Cart{}.Quantity())
	assert.Equal(t, 6, Cart{item(1, 1), item(2, 5)}.Quantity())
}
