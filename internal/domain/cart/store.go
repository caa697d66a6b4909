package cart

import (
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/cartstore/internal/domain/product"
	"github.com/xenking/cartstore/internal/domain/stock"
)

// Event is delivered to subscribers after every published change and every
// notice. Cart is always the committed snapshot at the time of the event.
type Event struct {
	Cart   Cart
	Notice *Notice
}

type subscriber struct {
	fn func(Event)
}

// Store owns a single cart. All mutations go through AddProduct,
// RemoveProduct and UpdateProductAmount; each one either commits a new cart
// (persisted first, then published) or leaves the cart untouched.
//
// Mutations are serialized per store, including the time spent waiting for
// the catalog or stock service, so concurrent calls cannot lose updates.
// Cart never blocks on a running mutation.
type Store struct {
	key      string
	storage  Storage
	products product.Catalog
	stock    stock.Service

	lg     *zap.Logger
	tracer trace.Tracer
	ops    metric.Int64Counter

	opMu sync.Mutex

	mu    sync.RWMutex
	items Cart
	subs  []*subscriber
}

// NewStore creates a Store and loads the persisted cart. A missing,
// unreadable or malformed value yields an empty cart; the reason is logged.
func NewStore(
	ctx context.Context,
	storage Storage,
	products product.Catalog,
	stocks stock.Service,
	opts ...Option,
) *Store {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	lg := o.lg.With(zap.String("cart_key", o.key))
	ops, err := o.meter.Meter("cartstore/cart").Int64Counter("cart.operations",
		metric.WithDescription("Cart operations by outcome"),
	)
	if err != nil {
		lg.Warn("Create operations counter", zap.Error(err))
		ops = metricnoop.Int64Counter{}
	}

	s := &Store{
		key:      o.key,
		storage:  storage,
		products: products,
		stock:    stocks,
		lg:       lg,
		tracer:   o.tracer.Tracer("cartstore/cart"),
		ops:      ops,
		items:    Cart{},
	}
	s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) {
	data, err := s.storage.Load(ctx, s.key)
	switch {
	case errors.Is(err, ErrStateNotFound):
		return
	case err != nil:
		s.lg.Error("Load persisted cart, starting empty", zap.Error(err))
		return
	}

	c, err := DecodeCart(data)
	if err != nil {
		s.lg.Warn("Persisted cart is malformed, starting empty",
			zap.Error(err),
			zap.Int("bytes", len(data)),
		)
		return
	}
	s.items = c
	s.lg.Debug("Loaded persisted cart", zap.Int("items", len(c)))
}

// Key returns the storage key of the cart.
func (s *Store) Key() string {
	return s.key
}

// Cart returns a snapshot of the current cart.
func (s *Store) Cart() Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.Clone()
}

// current returns the committed cart without copying. Callers must hold opMu
// and must not modify the result.
func (s *Store) current() Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items
}

// Subscribe registers fn to be called after every event, in registration
// order. The returned function removes the subscription. fn runs while the
// mutation that caused the event still holds the store, so it must not call
// AddProduct, RemoveProduct or UpdateProductAmount itself.
func (s *Store) Subscribe(fn func(Event)) (cancel func()) {
	sub := &subscriber{fn: fn}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.subs = slices.DeleteFunc(s.subs, func(v *subscriber) bool { return v == sub })
		})
	}
}

// idle reports whether the store has no subscribers and no running
// mutation.
func (s *Store) idle() bool {
	if !s.opMu.TryLock() {
		return false
	}
	defer s.opMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs) == 0
}

// Op names a cart mutation.
type Op string

// Cart mutations.
const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
	OpUpdate Op = "update"
)

// Mutation is a single cart operation. Amount is only read by OpUpdate.
type Mutation struct {
	Op        Op
	ProductID int
	Amount    int
}

// Mutate applies m and returns the cart as it stood when the operation
// finished: the committed cart on success, the unchanged cart on a notice.
func (s *Store) Mutate(ctx context.Context, m Mutation) (Cart, error) {
	switch m.Op {
	case OpAdd:
		return s.addProduct(ctx, m.ProductID)
	case OpRemove:
		return s.removeProduct(ctx, m.ProductID)
	case OpUpdate:
		return s.updateProductAmount(ctx, m.ProductID, m.Amount)
	default:
		return nil, errors.Errorf("unknown cart operation %q", m.Op)
	}
}

// AddProduct adds one unit of productID. A product already in the cart is
// incremented when stock allows it; a new product is fetched from the
// catalog and appended with amount 1.
func (s *Store) AddProduct(ctx context.Context, productID int) error {
	_, err := s.addProduct(ctx, productID)
	return err
}

// RemoveProduct drops the line item for productID. It never calls the
// catalog or stock service.
func (s *Store) RemoveProduct(ctx context.Context, productID int) error {
	_, err := s.removeProduct(ctx, productID)
	return err
}

// UpdateProductAmount sets the amount of the line item for productID.
// Non-positive amounts are ignored without a notice. Updating a product
// that is not in the cart is an error; stock is not consulted in that case.
func (s *Store) UpdateProductAmount(ctx context.Context, productID, amount int) error {
	_, err := s.updateProductAmount(ctx, productID, amount)
	return err
}

func (s *Store) addProduct(ctx context.Context, productID int) (_ Cart, rerr error) {
	ctx, span := s.tracer.Start(ctx, "cart.AddProduct",
		trace.WithAttributes(attribute.Int("product.id", productID)),
	)
	defer func() { s.finish(ctx, span, "add", rerr) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	current := s.current()
	if i := current.Find(productID); i >= 0 {
		st, err := s.stock.GetByID(ctx, productID)
		if err != nil {
			return s.reject(KindAddFailed, productID, errors.Wrap(err, "get stock"))
		}
		if current[i].Amount >= st.Amount {
			return s.reject(KindOutOfStockOnAdd, productID, nil)
		}
		return s.commit(ctx, current.withAmount(i, current[i].Amount+1), KindAddFailed, productID)
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return s.reject(KindAddFailed, productID, errors.Wrap(err, "get product"))
	}
	if p.ID != productID {
		return s.reject(KindAddFailed, productID, errors.Errorf("catalog returned product %d", p.ID))
	}
	return s.commit(ctx, current.with(LineItem{Product: p.Clone(), Amount: 1}), KindAddFailed, productID)
}

func (s *Store) removeProduct(ctx context.Context, productID int) (_ Cart, rerr error) {
	ctx, span := s.tracer.Start(ctx, "cart.RemoveProduct",
		trace.WithAttributes(attribute.Int("product.id", productID)),
	)
	defer func() { s.finish(ctx, span, "remove", rerr) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	current := s.current()
	i := current.Find(productID)
	if i < 0 {
		return s.reject(KindRemoveFailed, productID, ErrNotInCart)
	}
	return s.commit(ctx, current.without(i), KindRemoveFailed, productID)
}

func (s *Store) updateProductAmount(ctx context.Context, productID, amount int) (_ Cart, rerr error) {
	ctx, span := s.tracer.Start(ctx, "cart.UpdateProductAmount",
		trace.WithAttributes(
			attribute.Int("product.id", productID),
			attribute.Int("amount", amount),
		),
	)
	defer func() { s.finish(ctx, span, "update", rerr) }()

	if amount <= 0 {
		span.AddEvent("ignored non-positive amount")
		return s.Cart(), nil
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	current := s.current()
	i := current.Find(productID)
	if i < 0 {
		return s.reject(KindUpdateFailed, productID, ErrNotInCart)
	}

	st, err := s.stock.GetByID(ctx, productID)
	if err != nil {
		return s.reject(KindUpdateFailed, productID, errors.Wrap(err, "get stock"))
	}
	if amount > st.Amount {
		return s.reject(KindOutOfStockOnUpdate, productID, nil)
	}
	return s.commit(ctx, current.withAmount(i, amount), KindUpdateFailed, productID)
}

// commit persists next and then makes it the current cart. A failed write
// leaves the current cart in place and is reported as failKind.
func (s *Store) commit(ctx context.Context, next Cart, failKind Kind, productID int) (Cart, error) {
	if err := s.storage.Save(ctx, s.key, EncodeCart(next)); err != nil {
		return s.reject(failKind, productID, errors.Wrap(err, "save cart"))
	}

	s.mu.Lock()
	s.items = next
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	s.publish(subs, next, nil)
	return next.Clone(), nil
}

func (s *Store) reject(kind Kind, productID int, cause error) (Cart, error) {
	n := &Notice{Kind: kind, ProductID: productID, Cause: cause}

	lg := s.lg.With(zap.String("notice", string(kind)), zap.Int("product_id", productID))
	if kind.Warning() {
		lg.Info("Cart operation rejected")
	} else {
		lg.Warn("Cart operation failed", zap.Error(cause))
	}

	s.mu.RLock()
	current := s.items
	subs := slices.Clone(s.subs)
	s.mu.RUnlock()

	s.publish(subs, current, n)
	return current.Clone(), n
}

func (s *Store) publish(subs []*subscriber, c Cart, n *Notice) {
	for _, sub := range subs {
		sub.fn(Event{Cart: c.Clone(), Notice: n})
	}
}

func (s *Store) finish(ctx context.Context, span trace.Span, op string, err error) {
	defer span.End()

	outcome := "ok"
	if kind, ok := NoticeKind(err); ok {
		outcome = string(kind)
		span.SetAttributes(attribute.String("cart.notice", outcome))
		if !kind.Warning() {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
	}
	s.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}
