package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/cartstore/internal/domain/cart"
	"github.com/xenking/cartstore/pkg/httpmiddleware"
)

// CartIDHeader selects the cart a request operates on. Requests without it
// use the default cart.
const CartIDHeader = "X-Cart-ID"

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// MutationRateLimit limits cart mutations per cart id. Zero disables it.
	MutationRateLimit httpmiddleware.RateLimitConfig
	// EventsHeartbeat is the interval of keep-alive comments on the event
	// stream. Zero disables them.
	EventsHeartbeat time.Duration
}

// Handler serves the cart HTTP API on top of a cart.Registry.
type Handler struct {
	carts     *cart.Registry
	limit     httpmiddleware.RateLimitConfig
	heartbeat time.Duration
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig, carts *cart.Registry) *Handler {
	return &Handler{
		carts:     carts,
		limit:     cfg.MutationRateLimit,
		heartbeat: cfg.EventsHeartbeat,
	}
}

// Routes returns the API router, to be mounted under /api.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	mutations := chi.Chain()
	if h.limit.Rate > 0 {
		limit := h.limit
		if limit.KeyFunc == nil {
			limit.KeyFunc = cartKey
		}
		mutations = chi.Chain(httpmiddleware.RateLimit(limit))
	}

	r.Post("/carts", h.CreateCart)
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Get("/events", h.StreamEvents)
		r.With(mutations...).Post("/items", h.AddProduct)
		r.With(mutations...).Put("/items/{productID}", h.UpdateProductAmount)
		r.With(mutations...).Delete("/items/{productID}", h.RemoveProduct)
	})
	return r
}

// cartID returns the validated cart id of r. The empty id is the default
// cart.
func cartID(r *http.Request) (string, bool) {
	id := r.Header.Get(CartIDHeader)
	if id == "" {
		return "", true
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

// cartKey is the rate limit key: the cart id, falling back to the default
// cart.
func cartKey(r *http.Request) string {
	id, _ := cartID(r)
	return "cart:" + id
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}
