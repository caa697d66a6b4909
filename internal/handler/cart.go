package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/cartstore/internal/domain/cart"
	"github.com/xenking/cartstore/internal/domain/product"
	"github.com/xenking/cartstore/internal/domain/stock"
)

// maxRequestBody bounds request documents. Cart requests carry one number.
const maxRequestBody = 4 << 10

// CreateCart allocates a new cart id. The cart itself is created lazily on
// first use.
func (h *Handler) CreateCart(w http.ResponseWriter, _ *http.Request) {
	id := uuid.NewString()
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("cartId")
		e.Str(id)
		e.ObjEnd()
	})
}

// GetCart returns the current cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	writeCart(w, http.StatusOK, store.Cart())
}

// AddProduct handles POST /cart/items {"productId": n}.
func (h *Handler) AddProduct(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	var productID int
	if err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		if key != "productId" {
			return d.Skip()
		}
		productID, err = d.Int()
		return err
	}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if productID <= 0 {
		writeError(w, http.StatusBadRequest, "productId must be positive")
		return
	}

	h.mutate(w, r, store, cart.Mutation{Op: cart.OpAdd, ProductID: productID})
}

// UpdateProductAmount handles PUT /cart/items/{productID} {"amount": n}.
// Non-positive amounts leave the cart unchanged and still succeed.
func (h *Handler) UpdateProductAmount(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	productID, ok := pathProductID(w, r)
	if !ok {
		return
	}

	var (
		amount  int
		present bool
	)
	if err := decodeBody(r, func(d *jx.Decoder, key string) (err error) {
		if key != "amount" {
			return d.Skip()
		}
		present = true
		amount, err = d.Int()
		return err
	}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !present {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}

	h.mutate(w, r, store, cart.Mutation{Op: cart.OpUpdate, ProductID: productID, Amount: amount})
}

// RemoveProduct handles DELETE /cart/items/{productID}.
func (h *Handler) RemoveProduct(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	productID, ok := pathProductID(w, r)
	if !ok {
		return
	}

	h.mutate(w, r, store, cart.Mutation{Op: cart.OpRemove, ProductID: productID})
}

// mutate applies m and responds with the cart the mutation left behind, so
// a concurrent change to the same cart cannot leak into the response.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, store *cart.Store, m cart.Mutation) {
	c, err := store.Mutate(r.Context(), m)
	if err != nil {
		writeNotice(w, r, err)
		return
	}
	writeCart(w, http.StatusOK, c)
}

func (h *Handler) store(w http.ResponseWriter, r *http.Request) (*cart.Store, bool) {
	id, ok := cartID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, CartIDHeader+" must be a UUID")
		return nil, false
	}
	return h.carts.Get(r.Context(), id), true
}

func pathProductID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "productID"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return 0, false
	}
	return id, true
}

func decodeBody(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if err := jx.DecodeBytes(body).Obj(field); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}

// noticeStatus maps a cart notice to an HTTP status.
func noticeStatus(n *cart.Notice) int {
	switch {
	case n.Kind.Warning():
		return http.StatusConflict
	case errors.Is(n, cart.ErrNotInCart),
		errors.Is(n, product.ErrNotFound),
		errors.Is(n, stock.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func writeNotice(w http.ResponseWriter, r *http.Request, err error) {
	var n *cart.Notice
	if !errors.As(err, &n) {
		zctx.From(r.Context()).Error("Unexpected cart error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := noticeStatus(n)
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("kind")
		e.Str(string(n.Kind))
		e.FieldStart("message")
		e.Str(n.Kind.Message())
		e.FieldStart("productId")
		e.Int(n.ProductID)
		e.ObjEnd()
	})
}

func writeCart(w http.ResponseWriter, status int, c cart.Cart) {
	writeJSON(w, status, func(e *jx.Encoder) {
		encodeCart(e, c)
	})
}

// encodeCart writes {"items": [...], "quantity": n}.
func encodeCart(e *jx.Encoder, c cart.Cart) {
	e.ObjStart()
	e.FieldStart("items")
	c.Encode(e)
	e.FieldStart("quantity")
	e.Int(c.Quantity())
	e.ObjEnd()
}
