package cart

import (
	"context"
	"sync"
	"time"
)

// Factory builds the store persisted under key.
type Factory func(ctx context.Context, key string) *Store

// Registry hands out one Store per cart id. Stores are created on first
// use and dropped again by Evict once they sit idle.
type Registry struct {
	baseKey  string
	newStore Factory
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	// ready is closed once store is set.
	ready    chan struct{}
	store    *Store
	lastUsed time.Time
}

// NewRegistry creates a Registry. baseKey is the storage key of the default
// cart; other carts use KeyFor(baseKey, id).
func NewRegistry(baseKey string, newStore Factory) *Registry {
	if baseKey == "" {
		baseKey = DefaultKey
	}
	return &Registry{
		baseKey:  baseKey,
		newStore: newStore,
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
}

// KeyFor returns the storage key of the cart with the given id. The empty id
// names the default cart.
func KeyFor(baseKey, cartID string) string {
	if cartID == "" {
		return baseKey
	}
	return baseKey + ":" + cartID
}

// Get returns the store for cartID, loading it on first access. Loads run
// outside the registry lock, so a slow load only delays callers of the same
// cart. The load is not cut short by cancellation of ctx: a half-loaded cart
// would be overwritten by the next mutation.
func (r *Registry) Get(ctx context.Context, cartID string) *Store {
	r.mu.Lock()
	e, ok := r.entries[cartID]
	if ok {
		e.lastUsed = r.now()
		r.mu.Unlock()
		<-e.ready
		return e.store
	}
	e = &entry{ready: make(chan struct{}), lastUsed: r.now()}
	r.entries[cartID] = e
	r.mu.Unlock()

	e.store = r.newStore(context.WithoutCancel(ctx), KeyFor(r.baseKey, cartID))
	close(e.ready)
	return e.store
}

// Evict drops stores that were not requested for idle, have no subscribers
// and are not running a mutation. It returns the number of dropped stores.
// A dropped cart is loaded again from storage on its next Get.
func (r *Registry) Evict(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	deadline := r.now().Add(-idle)
	evicted := 0
	for id, e := range r.entries {
		if e.lastUsed.After(deadline) {
			continue
		}
		select {
		case <-e.ready:
		default:
			continue
		}
		if !e.store.idle() {
			continue
		}
		delete(r.entries, id)
		evicted++
	}
	return evicted
}

// RunEviction calls Evict every interval until ctx is done.
func (r *Registry) RunEviction(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict(idle)
		}
	}
}

// Len returns the number of loaded carts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
