package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	assert.Equal(t, DefaultKey, KeyFor(DefaultKey, ""))
	assert.Equal(t, "cart:abc", KeyFor("cart", "abc"))
}

func TestRegistry_Get(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	var built []string
	r := NewRegistry("", func(ctx context.Context, key string) *Store {
		built = append(built, key)
		return NewStore(ctx, env.storage, env.catalog, env.stock, WithKey(key))
	})

	def := r.Get(ctx, "")
	other := r.Get(ctx, "7f1c")
	require.Same(t, def, r.Get(ctx, ""))
	require.Same(t, other, r.Get(ctx, "7f1c"))

	assert.Equal(t, []string{DefaultKey, DefaultKey + ":7f1c"}, built)
	assert.Equal(t, 2, r.Len())

	require.NoError(t, other.AddProduct(ctx, 1))
	assert.Empty(t, def.Cart(), "carts must not share state")
	assert.Len(t, env.storage.persisted(t, DefaultKey+":7f1c"), 1)
}

func TestRegistry_SlowLoadDoesNotBlockOtherCarts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	var (
		mu      sync.Mutex
		built   = map[string]int{}
		started = make(chan struct{})
		release = make(chan struct{})
	)
	r := NewRegistry("", func(ctx context.Context, key string) *Store {
		mu.Lock()
		built[key]++
		mu.Unlock()
		if key == KeyFor(DefaultKey, "slow") {
			close(started)
			<-release
		}
		return NewStore(ctx, env.storage, env.catalog, env.stock, WithKey(key))
	})

	slow := make(chan *Store, 2)
	go func() { slow <- r.Get(ctx, "slow") }()
	<-started
	go func() { slow <- r.Get(ctx, "slow") }()

	fast := make(chan *Store, 1)
	go func() { fast <- r.Get(ctx, "fast") }()
	select {
	case s := <-fast:
		assert.Equal(t, KeyFor(DefaultKey, "fast"), s.Key())
	case <-time.After(time.Second):
		t.Fatal("loading one cart blocked another")
	}

	close(release)
	first, second := <-slow, <-slow
	require.Same(t, first, second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, built[KeyFor(DefaultKey, "slow")])
}

func TestRegistry_Evict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	built := 0
	r := NewRegistry("", func(ctx context.Context, key string) *Store {
		built++
		return NewStore(ctx, env.storage, env.catalog, env.stock, WithKey(key))
	})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	idle := r.Get(ctx, "idle")
	require.NoError(t, idle.AddProduct(ctx, 1))
	watched := r.Get(ctx, "watched")
	cancel := watched.Subscribe(func(Event) {})
	busy := r.Get(ctx, "busy")
	r.Get(ctx, "recent")
	require.Equal(t, 4, built)

	now = now.Add(2 * time.Hour)
	r.Get(ctx, "recent")

	busy.opMu.Lock()
	assert.Equal(t, 1, r.Evict(time.Hour))
	busy.opMu.Unlock()
	assert.Equal(t, 3, r.Len())

	// The evicted cart comes back from storage.
	reloaded := r.Get(ctx, "idle")
	assert.NotSame(t, idle, reloaded)
	assert.Equal(t, 5, built)
	assert.Equal(t, idle.Cart(), reloaded.Cart())

	cancel()
	now = now.Add(2 * time.Hour)
	assert.Equal(t, 4, r.Evict(time.Hour))
	assert.Zero(t, r.Len())
}
