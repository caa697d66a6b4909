// Package file stores cart state as one JSON file per key.
package file

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/moby/sys/atomicwriter"

	"github.com/xenking/cartstore/internal/domain/cart"
)

var _ cart.Storage = (*Storage)(nil)

// Storage writes each key to <dir>/<encoded key>.json. Writes replace the
// file atomically, so readers never see a partial cart.
type Storage struct {
	dir string
}

// New creates a Storage rooted at dir, creating the directory if needed.
func New(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory %q: %w", dir, err)
	}
	return &Storage{dir: dir}, nil
}

// path maps a key to a file name. Keys such as "@RocketShoes:cart" are not
// portable file names, so they are base64url encoded.
func (s *Storage) path(key string) string {
	return filepath.Join(s.dir, base64.RawURLEncoding.EncodeToString([]byte(key))+".json")
}

// Load reads the file for key.
func (s *Storage) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, cart.ErrStateNotFound
		}
		return nil, fmt.Errorf("reading cart state %q: %w", key, err)
	}
	return data, nil
}

// Save atomically replaces the file for key.
func (s *Storage) Save(_ context.Context, key string, data []byte) error {
	if err := atomicwriter.WriteFile(s.path(key), data, 0o640); err != nil {
		return fmt.Errorf("writing cart state %q: %w", key, err)
	}
	return nil
}

// Delete removes the file for key. Deleting a missing key is not an error.
func (s *Storage) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting cart state %q: %w", key, err)
	}
	return nil
}

// Ping checks that the state directory is still accessible.
func (s *Storage) Ping(_ context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("state directory: %w", err)
	}
	return nil
}
