package cart

import (
	"github.com/go-faster/errors"
)

// ErrNotInCart is the cause of notices raised for a product that is not in
// the cart.
var ErrNotInCart = errors.New("product not in cart")

// Kind categorizes a user-facing notice.
type Kind string

// Notice kinds surfaced by cart operations.
const (
	KindOutOfStockOnAdd    Kind = "out_of_stock_on_add"
	KindAddFailed          Kind = "add_failed"
	KindRemoveFailed       Kind = "remove_failed"
	KindOutOfStockOnUpdate Kind = "out_of_stock_on_update"
	KindUpdateFailed       Kind = "update_failed"
)

// Message returns the text shown to the shopper.
func (k Kind) Message() string {
	switch k {
	case KindOutOfStockOnAdd, KindOutOfStockOnUpdate:
		return "Requested amount is out of stock"
	case KindAddFailed:
		return "Could not add product"
	case KindRemoveFailed:
		return "Could not remove product"
	case KindUpdateFailed:
		return "Could not change product amount"
	default:
		return string(k)
	}
}

// Warning reports whether the notice is a business-rule rejection rather
// than a failure.
func (k Kind) Warning() bool {
	return k == KindOutOfStockOnAdd || k == KindOutOfStockOnUpdate
}

// Notice is the result of a cart operation that did not change the cart.
// It is returned as an error and published to subscribers.
type Notice struct {
	Kind      Kind
	ProductID int
	Cause     error
}

func (n *Notice) Error() string {
	if n.Cause != nil {
		return string(n.Kind) + ": " + n.Cause.Error()
	}
	return string(n.Kind)
}

func (n *Notice) Unwrap() error {
	return n.Cause
}

// NoticeKind extracts the notice kind from err. It reports false when err
// is not a notice.
func NoticeKind(err error) (Kind, bool) {
	var n *Notice
	if errors.As(err, &n) {
		return n.Kind, true
	}
	return "", false
}
