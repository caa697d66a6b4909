package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cartstore/internal/domain/product"
	"github.com/xenking/cartstore/internal/domain/stock"
)

const (
	getProductByIDSQL = `SELECT id, title, price, image FROM products WHERE id = $1`

	upsertProductSQL = `INSERT INTO products (id, title, price, image)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, price = EXCLUDED.price, image = EXCLUDED.image`

	getStockByIDSQL = `SELECT product_id, amount FROM stock WHERE product_id = $1`

	upsertStockSQL = `INSERT INTO stock (product_id, amount) VALUES ($1, $2)
		ON CONFLICT (product_id) DO UPDATE SET amount = EXCLUDED.amount`
)

var (
	_ product.Catalog = productView{}
	_ stock.Service   = stockView{}
)

// CatalogRepository serves products and stock levels from PostgreSQL. It is
// an alternative to the remote catalog API for single-database deployments.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// Products returns the repository as a product.Catalog.
func (r *CatalogRepository) Products() product.Catalog { return productView{r} }

// Stock returns the repository as a stock.Service.
func (r *CatalogRepository) Stock() stock.Service { return stockView{r} }

// productView and stockView disambiguate the two GetByID methods.
type (
	productView struct{ r *CatalogRepository }
	stockView   struct{ r *CatalogRepository }
)

func (v productView) GetByID(ctx context.Context, id int) (*product.Product, error) {
	return v.r.GetProduct(ctx, id)
}

func (v stockView) GetByID(ctx context.Context, id int) (*stock.Stock, error) {
	return v.r.GetStock(ctx, id)
}

// GetProduct returns a single product by its identifier.
func (r *CatalogRepository) GetProduct(ctx context.Context, id int) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

// GetStock returns the current stock level of a product. It always reads
// the table.
func (r *CatalogRepository) GetStock(ctx context.Context, id int) (*stock.Stock, error) {
	var s stock.Stock
	err := r.pool.QueryRow(ctx, getStockByIDSQL, id).Scan(&s.ID, &s.Amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, stock.ErrNotFound
		}
		return nil, fmt.Errorf("getting stock %d: %w", id, err)
	}
	return &s, nil
}

// UpsertProduct inserts or replaces a product together with its stock level
// in one transaction.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p product.Product, amount int) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertProductSQL, p.ID, p.Title, p.Price, p.Image); err != nil {
			return fmt.Errorf("upserting product %d: %w", p.ID, err)
		}
		if _, err := tx.Exec(ctx, upsertStockSQL, p.ID, amount); err != nil {
			return fmt.Errorf("upserting stock %d: %w", p.ID, err)
		}
		return nil
	})
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Title, &p.Price, &p.Image)
	return p, err
}
