package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cartstore/internal/domain/cart"
)

const (
	loadStateSQL = `SELECT payload FROM cart_state WHERE key = $1`

	saveStateSQL = `INSERT INTO cart_state (key, payload, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`

	deleteStateSQL = `DELETE FROM cart_state WHERE key = $1`
)

var _ cart.Storage = (*StateRepository)(nil)

// StateRepository implements cart.Storage backed by PostgreSQL.
type StateRepository struct {
	pool *pgxpool.Pool
}

// NewStateRepository returns a StateRepository that uses the given pool.
func NewStateRepository(pool *pgxpool.Pool) *StateRepository {
	return &StateRepository{pool: pool}
}

// Load returns the payload stored under key.
func (r *StateRepository) Load(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	if err := r.pool.QueryRow(ctx, loadStateSQL, key).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrStateNotFound
		}
		return nil, fmt.Errorf("loading cart state %q: %w", key, err)
	}
	return payload, nil
}

// Save upserts the payload for key.
func (r *StateRepository) Save(ctx context.Context, key string, data []byte) error {
	if _, err := r.pool.Exec(ctx, saveStateSQL, key, data); err != nil {
		return fmt.Errorf("saving cart state %q: %w", key, err)
	}
	return nil
}

// Delete removes the payload for key.
func (r *StateRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, deleteStateSQL, key); err != nil {
		return fmt.Errorf("deleting cart state %q: %w", key, err)
	}
	return nil
}

// Ping checks the database connection.
func (r *StateRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
