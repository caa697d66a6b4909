package cart

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/cartstore/internal/domain/product"
	"github.com/xenking/cartstore/internal/domain/stock"
)

// --- Fakes ---

type fakeStorage struct {
	mu      sync.Mutex
	data    map[string][]byte
	saves   int
	saveErr error
	loadErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{data: make(map[string][]byte)}
}

func (f *fakeStorage) Load(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	v, ok := f.data[key]
	if !ok {
		return nil, ErrStateNotFound
	}
	return v, nil
}

func (f *fakeStorage) Save(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.data[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeStorage) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeStorage) persisted(t *testing.T, key string) Cart {
	t.Helper()
	f.mu.Lock()
	data, ok := f.data[key]
	f.mu.Unlock()
	require.True(t, ok, "nothing persisted under %q", key)

	c, err := DecodeCart(data)
	require.NoError(t, err)
	return c
}

type fakeCatalog struct {
	mu       sync.Mutex
	products map[int]*product.Product
	err      error
	calls    int
}

func (f *fakeCatalog) GetByID(_ context.Context, id int) (*product.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	out := p.Clone()
	return &out, nil
}

type fakeStock struct {
	mu     sync.Mutex
	levels map[int]int
	err    error
	calls  int
}

func (f *fakeStock) GetByID(_ context.Context, id int) (*stock.Stock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	amount, ok := f.levels[id]
	if !ok {
		return nil, stock.ErrNotFound
	}
	return &stock.Stock{ID: id, Amount: amount}, nil
}

// --- Helpers ---

func newTestProduct(id int, title string) *product.Product {
	return &product.Product{
		ID:    id,
		Title: title,
		Price: decimal.RequireFromString("139.9"),
		Image: "https://cdn.example.com/" + title + ".jpg",
	}
}

type testEnv struct {
	storage  *fakeStorage
	catalog  *fakeCatalog
	stock    *fakeStock
	events   []Event
	eventsMu sync.Mutex
}

func newTestEnv() *testEnv {
	return &testEnv{
		storage: newFakeStorage(),
		catalog: &fakeCatalog{products: map[int]*product.Product{
			1: newTestProduct(1, "Shoe"),
			2: newTestProduct(2, "Boot"),
			3: newTestProduct(3, "Sandal"),
		}},
		stock: &fakeStock{levels: map[int]int{1: 3, 2: 5, 3: 1}},
	}
}

// seed persists c under the default key so the next store starts with it.
func (e *testEnv) seed(t *testing.T, c Cart) {
	t.Helper()
	require.NoError(t, e.storage.Save(context.Background(), DefaultKey, EncodeCart(c)))
	e.storage.saves = 0
}

func (e *testEnv) newStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(context.Background(), e.storage, e.catalog, e.stock, WithLogger(zaptest.NewLogger(t)))
	s.Subscribe(func(ev Event) {
		e.eventsMu.Lock()
		defer e.eventsMu.Unlock()
		e.events = append(e.events, ev)
	})
	return s
}

func (e *testEnv) lastEvent(t *testing.T) Event {
	t.Helper()
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	require.NotEmpty(t, e.events)
	return e.events[len(e.events)-1]
}

func item(id, amount int) LineItem {
	p := newTestProduct(id, map[int]string{1: "Shoe", 2: "Boot", 3: "Sandal"}[id])
	return LineItem{Product: *p, Amount: amount}
}

func ids(c Cart) []int {
	out := make([]int, len(c))
	for i, it := range c {
		out[i] = it.ID
	}
	return out
}

func decodeProduct(t *testing.T, doc string) *product.Product {
	t.Helper()
	var p product.Product
	require.NoError(t, p.Decode(jx.DecodeStr(doc)))
	return &p
}

func requireNotice(t *testing.T, err error, kind Kind) *Notice {
	t.Helper()
	var n *Notice
	require.True(t, errors.As(err, &n), "expected notice, got %v", err)
	require.Equal(t, kind, n.Kind)
	return n
}

// --- Tests ---

func TestStore_AddProduct(t *testing.T) {
	ctx := context.Background()

	t.Run("NewProduct", func(t *testing.T) {
		env := newTestEnv()
		s := env.newStore(t)

		require.NoError(t, s.AddProduct(ctx, 1))

		got := s.Cart()
		require.Len(t, got, 1)
		assert.Equal(t, 1, got[0].ID)
		assert.Equal(t, "Shoe", got[0].Title)
		assert.Equal(t, 1, got[0].Amount)
		assert.Equal(t, got, env.storage.persisted(t, DefaultKey))
		assert.Equal(t, got, env.lastEvent(t).Cart)
		assert.Nil(t, env.lastEvent(t).Notice)
		assert.Zero(t, env.stock.calls, "adding a new product must not consult stock")
	})

	t.Run("IncrementWithinStock", func(t *testing.T) {
		env := newTestEnv()
		env.seed(t, Cart{item(2, 1), item(1, 1), item(3, 1)})
		s := env.newStore(t)
		before := s.Cart()

		require.NoError(t, s.AddProduct(ctx, 1))

		got := s.Cart()
		assert.Equal(t, 2, got[1].Amount)
		assert.Equal(t, before[0], got[0])
		assert.Equal(t, before[2], got[2])
		assert.Zero(t, env.catalog.calls, "incrementing must not refetch the product")
		assert.Equal(t, got, env.storage.persisted(t, DefaultKey))
	})

	t.Run("OutOfStock", func(t *testing.T) {
		env := newTestEnv()
		env.stock.levels[1] = 2
		env.seed(t, Cart{item(1, 2)})
		s := env.newStore(t)

		err := s.AddProduct(ctx, 1)
		n := requireNotice(t, err, KindOutOfStockOnAdd)
		assert.True(t, n.Kind.Warning())
		assert.Equal(t, 1, n.ProductID)

		assert.Equal(t, Cart{item(1, 2)}, s.Cart())
		assert.Zero(t, env.storage.saves)
		assert.Equal(t, n, env.lastEvent(t).Notice)
	})

	t.Run("CatalogFailure", func(t *testing.T) {
		env := newTestEnv()
		env.catalog.err = errors.New("connection refused")
		s := env.newStore(t)

		err := s.AddProduct(ctx, 1)
		requireNotice(t, err, KindAddFailed)
		assert.Empty(t, s.Cart())
		assert.Zero(t, env.storage.saves)
	})

	t.Run("UnknownProduct", func(t *testing.T) {
		env := newTestEnv()
		s := env.newStore(t)

		err := s.AddProduct(ctx, 42)
		requireNotice(t, err, KindAddFailed)
		assert.ErrorIs(t, err, product.ErrNotFound)
		assert.Empty(t, s.Cart())
	})

	t.Run("CatalogReturnsOtherProduct", func(t *testing.T) {
		env := newTestEnv()
		env.catalog.products[7] = newTestProduct(8, "Wrong")
		s := env.newStore(t)

		requireNotice(t, s.AddProduct(ctx, 7), KindAddFailed)
		assert.Empty(t, s.Cart())
	})

	t.Run("StockFailure", func(t *testing.T) {
		env := newTestEnv()
		env.stock.err = errors.New("timeout")
		env.seed(t, Cart{item(1, 1)})
		s := env.newStore(t)

		requireNotice(t, s.AddProduct(ctx, 1), KindAddFailed)
		assert.Equal(t, Cart{item(1, 1)}, s.Cart())
	})

	t.Run("SaveFailure", func(t *testing.T) {
		env := newTestEnv()
		env.storage.saveErr = errors.New("disk full")
		s := env.newStore(t)

		err := s.AddProduct(ctx, 1)
		requireNotice(t, err, KindAddFailed)
		assert.ErrorContains(t, err, "disk full")
		assert.Empty(t, s.Cart(), "unsaved change must not become visible")
	})
}

func TestStore_RemoveProduct(t *testing.T) {
	ctx := context.Background()

	t.Run("Present", func(t *testing.T) {
		env := newTestEnv()
		env.seed(t, Cart{item(1, 1), item(2, 2), item(3, 1)})
		s := env.newStore(t)

		require.NoError(t, s.RemoveProduct(ctx, 2))

		assert.Equal(t, []int{1, 3}, ids(s.Cart()))
		assert.Equal(t, s.Cart(), env.storage.persisted(t, DefaultKey))
		assert.Zero(t, env.catalog.calls)
		assert.Zero(t, env.stock.calls)
	})

	t.Run("Absent", func(t *testing.T) {
		env := newTestEnv()
		env.seed(t, Cart{item(1, 1)})
		s := env.newStore(t)

		err := s.RemoveProduct(ctx, 2)
		requireNotice(t, err, KindRemoveFailed)
		assert.ErrorIs(t, err, ErrNotInCart)
		assert.Equal(t, Cart{item(1, 1)}, s.Cart())
		assert.Zero(t, env.storage.saves)
	})

	t.Run("Last", func(t *testing.T) {
		env := newTestEnv()
		env.seed(t, Cart{item(1, 1)})
		s := env.newStore(t)

		require.NoError(t, s.RemoveProduct(ctx, 1))
		assert.Empty(t, s.Cart())
		assert.Empty(t, env.storage.persisted(t, DefaultKey))
	})
}

func TestStore_UpdateProductAmount(t *testing.T) {
	ctx := context.Background()

	t.Run("NonPositiveIsIgnored", func(t *testing.T) {
		for _, amount := range []int{0, -1, -100} {
			env := newTestEnv()
			env.seed(t, Cart{item(1, 3)})
			s := env.newStore(t)

			require.NoError(t, s.UpdateProductAmount(ctx, 1, amount))
			assert.Equal(t, Cart{item(1, 3)}, s.Cart())
			assert.Zero(t, env.storage.saves, "amount %d", amount)
			assert.Zero(t, env.stock.calls)
			assert.Empty(t, env.events)
		}
	})

	t.Run("WithinStock", func(t *testing.T) {
		env := newTestEnv()
		env.seed(t, Cart{item(2, 1), item(1, 1)})
		s := env.newStore(t)

		require.NoError(t, s.UpdateProductAmount(ctx, 1, 3))

		assert.Equal(t, Cart{item(2, 1), item(1, 3)}, s.Cart())
		assert.Equal(t, s.Cart(), env.storage.persisted(t, DefaultKey))
	})

	t.Run("Decrease", func(t *testing.T) {
		env := newTestEnv()
		env.seed(t, Cart{item(1, 3)})
		s := env.newStore(t)

		require.NoError(t, s.UpdateProductAmount(ctx, 1, 1))
		assert.Equal(t, Cart{item(1, 1)}, s.Cart())
	})

	t.Run("OverStock", func(t *testing.T) {
		env := newTestEnv()
		env.seed(t, Cart{item(1, 1)})
		s := env.newStore(t)

		err := s.UpdateProductAmount(ctx, 1, 4)
		n := requireNotice(t, err, KindOutOfStockOnUpdate)
		assert.True(t, n.Kind.Warning())
		assert.Equal(t, Cart{item(1, 1)}, s.Cart())
		assert.Zero(t, env.storage.saves)
	})

	t.Run("NotInCart", func(t *testing.T) {
		env := newTestEnv()
		env.seed(t, Cart{item(1, 1)})
		s := env.newStore(t)

		err := s.UpdateProductAmount(ctx, 2, 1)
		requireNotice(t, err, KindUpdateFailed)
		assert.ErrorIs(t, err, ErrNotInCart)
		assert.Zero(t, env.stock.calls)
		assert.Zero(t, env.storage.saves)
	})

	t.Run("StockFailure", func(t *testing.T) {
		env := newTestEnv()
		env.stock.err = errors.New("bad gateway")
		env.seed(t, Cart{item(1, 1)})
		s := env.newStore(t)

		requireNotice(t, s.UpdateProductAmount(ctx, 1, 2), KindUpdateFailed)
		assert.Equal(t, Cart{item(1, 1)}, s.Cart())
	})
}

func TestStore_Persistence(t *testing.T) {
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		env := newTestEnv()
		env.catalog.products[4] = &product.Product{
			ID:    4,
			Title: "Runner",
			Price: decimal.RequireFromString("79.5"),
			Image: "runner.jpg",
			Extra: []product.Field{
				{Key: "brand", Value: jx.Raw(`"Acme"`)},
				{Key: "sizes", Value: jx.Raw(`[40,41,42]`)},
			},
		}
		env.stock.levels[4] = 10

		s := env.newStore(t)
		require.NoError(t, s.AddProduct(ctx, 2))
		require.NoError(t, s.AddProduct(ctx, 4))
		require.NoError(t, s.AddProduct(ctx, 4))
		require.NoError(t, s.AddProduct(ctx, 1))

		reloaded := NewStore(ctx, env.storage, env.catalog, env.stock)
		assert.Equal(t, s.Cart(), reloaded.Cart())
		assert.Equal(t, []int{2, 4, 1}, ids(reloaded.Cart()))
	})

	t.Run("Missing", func(t *testing.T) {
		env := newTestEnv()
		s := env.newStore(t)
		assert.NotNil(t, s.Cart())
		assert.Empty(t, s.Cart())
	})

	t.Run("Malformed", func(t *testing.T) {
		for name, data := range map[string]string{
			"NotJSON":      `{{{`,
			"Object":       `{"id":1}`,
			"ZeroAmount":   `[{"id":1,"amount":0}]`,
			"DuplicateIDs": `[{"id":1,"amount":1},{"id":1,"amount":2}]`,
			"StringAmount": `[{"id":1,"amount":"2"}]`,
			"NegativeID":   `[{"id":-1,"amount":1}]`,
		} {
			t.Run(name, func(t *testing.T) {
				env := newTestEnv()
				env.storage.data[DefaultKey] = []byte(data)

				s := env.newStore(t)
				assert.Empty(t, s.Cart())

				// The store stays usable.
				require.NoError(t, s.AddProduct(ctx, 1))
				assert.Len(t, s.Cart(), 1)
			})
		}
	})

	t.Run("LoadError", func(t *testing.T) {
		env := newTestEnv()
		env.storage.loadErr = errors.New("permission denied")
		s := env.newStore(t)
		assert.Empty(t, s.Cart())
	})

	t.Run("CustomKey", func(t *testing.T) {
		env := newTestEnv()
		s := NewStore(ctx, env.storage, env.catalog, env.stock, WithKey("shop:cart"))
		require.NoError(t, s.AddProduct(ctx, 1))

		assert.Equal(t, "shop:cart", s.Key())
		assert.Len(t, env.storage.persisted(t, "shop:cart"), 1)
		_, ok := env.storage.data[DefaultKey]
		assert.False(t, ok)
	})
}

func TestStore_Scenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("AddToEmptyCart", func(t *testing.T) {
		env := newTestEnv()
		env.catalog.products[1] = decodeProduct(t, `{"id":1,"name":"Shoe"}`)
		s := env.newStore(t)

		require.NoError(t, s.AddProduct(ctx, 1))

		got := s.Cart()
		require.Len(t, got, 1)
		assert.Equal(t, 1, got[0].Amount)
		assert.Equal(t, `[{"id":1,"name":"Shoe","amount":1}]`, string(EncodeCart(got)))
		assert.Equal(t, `[{"id":1,"name":"Shoe","amount":1}]`, string(env.storage.data[DefaultKey]))
	})

	t.Run("CatalogShapeSurvivesReload", func(t *testing.T) {
		env := newTestEnv()
		env.catalog.products[1] = decodeProduct(t, `{"name":"Shoe","id":1,"price":null}`)
		s := env.newStore(t)

		require.NoError(t, s.AddProduct(ctx, 1))
		require.NoError(t, s.AddProduct(ctx, 1))

		const want = `[{"name":"Shoe","id":1,"price":null,"amount":2}]`
		assert.Equal(t, want, string(env.storage.data[DefaultKey]))
		reloaded := NewStore(ctx, env.storage, env.catalog, env.stock)
		assert.Equal(t, want, string(EncodeCart(reloaded.Cart())))
		assert.False(t, reloaded.Cart()[0].Has("price"))
	})

	t.Run("AddAtStockLimit", func(t *testing.T) {
		env := newTestEnv()
		env.stock.levels[1] = 2
		env.seed(t, Cart{item(1, 2)})
		s := env.newStore(t)

		requireNotice(t, s.AddProduct(ctx, 1), KindOutOfStockOnAdd)
		assert.Equal(t, "Requested amount is out of stock", KindOutOfStockOnAdd.Message())
		assert.Equal(t, Cart{item(1, 2)}, s.Cart())
	})

	t.Run("UpdateToZero", func(t *testing.T) {
		env := newTestEnv()
		env.seed(t, Cart{item(1, 3)})
		s := env.newStore(t)

		require.NoError(t, s.UpdateProductAmount(ctx, 1, 0))
		assert.Equal(t, Cart{item(1, 3)}, s.Cart())
	})
}

func TestStore_Mutate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	s := env.newStore(t)

	got, err := s.Mutate(ctx, Mutation{Op: OpAdd, ProductID: 1})
	require.NoError(t, err)
	assert.Equal(t, env.lastEvent(t).Cart, got, "result is the committed cart")

	got, err = s.Mutate(ctx, Mutation{Op: OpAdd, ProductID: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids(got))

	got, err = s.Mutate(ctx, Mutation{Op: OpUpdate, ProductID: 1, Amount: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, got[0].Amount)

	got, err = s.Mutate(ctx, Mutation{Op: OpUpdate, ProductID: 1, Amount: 4})
	requireNotice(t, err, KindOutOfStockOnUpdate)
	assert.Equal(t, 3, got[0].Amount, "a notice returns the unchanged cart")

	got, err = s.Mutate(ctx, Mutation{Op: OpUpdate, ProductID: 1, Amount: 0})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Mutate(ctx, Mutation{Op: OpRemove, ProductID: 1})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ids(got))

	// The result is a snapshot.
	got[0].Amount = 50
	assert.Equal(t, 1, s.Cart()[0].Amount)

	_, err = s.Mutate(ctx, Mutation{Op: "clear"})
	assert.ErrorContains(t, err, "unknown cart operation")
}

func TestStore_Subscribe(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	s := NewStore(ctx, env.storage, env.catalog, env.stock)

	var first, second []Event
	cancelFirst := s.Subscribe(func(ev Event) { first = append(first, ev) })
	s.Subscribe(func(ev Event) { second = append(second, ev) })

	require.NoError(t, s.AddProduct(ctx, 1))
	cancelFirst()
	cancelFirst()
	require.NoError(t, s.AddProduct(ctx, 1))

	assert.Len(t, first, 1)
	require.Len(t, second, 2)
	assert.Equal(t, 2, second[1].Cart[0].Amount)

	// Subscribers get their own copy.
	second[1].Cart[0].Amount = 100
	assert.Equal(t, 2, s.Cart()[0].Amount)
}

func TestStore_CartIsSnapshot(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	s := env.newStore(t)
	require.NoError(t, s.AddProduct(ctx, 1))

	snapshot := s.Cart()
	snapshot[0].Amount = 99
	snapshot[0].Title = "changed"

	assert.Equal(t, 1, s.Cart()[0].Amount)
	assert.Equal(t, "Shoe", s.Cart()[0].Title)
}

func TestStore_ConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.stock.levels[2] = 1000
	s := NewStore(ctx, env.storage, env.catalog, env.stock)

	const n = 50
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AddProduct(ctx, 2))
		}()
	}
	wg.Wait()

	got := s.Cart()
	require.Len(t, got, 1)
	assert.Equal(t, n, got[0].Amount)
	assert.Equal(t, got, env.storage.persisted(t, DefaultKey))
}
