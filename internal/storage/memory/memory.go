// Package memory implements an in-memory cart state storage.
package memory

import (
	"context"
	"sync"

	"github.com/xenking/cartstore/internal/domain/cart"
)

var _ cart.Storage = (*Storage)(nil)

// Storage keeps cart blobs in a map. It is used when no durable backend is
// configured and in tests.
type Storage struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// New creates an empty Storage.
func New() *Storage {
	return &Storage{values: make(map[string][]byte)}
}

// Load returns a copy of the value stored under key.
func (s *Storage) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, cart.ErrStateNotFound
	}
	return append([]byte(nil), v...), nil
}

// Save replaces the value stored under key.
func (s *Storage) Save(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), data...)
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
