// Package redis stores cart state in Redis string keys.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/cartstore/internal/domain/cart"
)

var _ cart.Storage = (*Storage)(nil)

// Storage keeps each cart under "<prefix><key>".
type Storage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Options configures a Storage.
type Options struct {
	// Prefix is prepended to every key.
	Prefix string
	// TTL expires carts that have not been written for this long.
	// Zero keeps them forever.
	TTL time.Duration
}

// New returns a Storage that uses the given client.
func New(client *redis.Client, opts Options) *Storage {
	return &Storage{
		client: client,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
	}
}

// NewClient parses a redis:// URL and returns a connected client.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// Load returns the cart blob stored under key.
func (s *Storage) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cart.ErrStateNotFound
		}
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return data, nil
}

// Save overwrites the cart blob stored under key.
func (s *Storage) Save(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
