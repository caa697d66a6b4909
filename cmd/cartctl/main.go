// Command cartctl inspects and maintains persisted carts and seeds the
// PostgreSQL catalog.
//
// Usage:
//
//	cartctl [flags] show
//	cartctl [flags] clear
//	cartctl [flags] -file products.json.gz seed
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/cartstore/internal/app"
	"github.com/xenking/cartstore/internal/domain/cart"
	"github.com/xenking/cartstore/internal/domain/product"
	"github.com/xenking/cartstore/internal/domain/stock"
	"github.com/xenking/cartstore/internal/storage/postgres"
)

type options struct {
	storage     app.StorageConfig
	databaseURL string
	cartID      string
	seedFile    string
	workers     int
}

func main() {
	var opts options
	flag.StringVar(&opts.storage.Driver, "storage", app.StorageFile, "cart storage driver: memory, file, redis or postgres")
	flag.StringVar(&opts.storage.Path, "path", "data/carts", "directory of the file driver")
	flag.StringVar(&opts.storage.RedisURL, "redis-url", os.Getenv("REDIS_URL"), "redis URL of the redis driver")
	flag.StringVar(&opts.storage.Key, "key", cart.DefaultKey, "storage key of the default cart")
	flag.StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	flag.StringVar(&opts.cartID, "cart", "", "cart id, empty for the default cart")
	flag.StringVar(&opts.seedFile, "file", "db/seed/catalog.json", "catalog document for seed, .gz is decompressed")
	flag.IntVar(&opts.workers, "workers", 8, "parallel upserts during seed")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] show|clear|seed\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, flag.Arg(0), opts); err != nil {
		lg.Error("Command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, lg *zap.Logger, command string, opts options) error {
	switch command {
	case "show":
		return withStorage(ctx, opts, func(s cart.Storage, key string) error {
			return show(ctx, os.Stdout, s, key)
		})
	case "clear":
		return withStorage(ctx, opts, func(s cart.Storage, key string) error {
			if err := s.Delete(ctx, key); err != nil {
				return errors.Wrap(err, "delete cart")
			}
			lg.Info("Cart cleared", zap.String("key", key))
			return nil
		})
	case "seed":
		return seed(ctx, lg, opts)
	case "":
		flag.Usage()
		return errors.New("command is required")
	default:
		return errors.Errorf("unknown command %q", command)
	}
}

func withStorage(ctx context.Context, opts options, fn func(s cart.Storage, key string) error) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	cfg := opts.storage
	var pool *pgxpool.Pool
	if cfg.Driver == app.StoragePostgres {
		p, err := postgres.NewPool(ctx, opts.databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		closers = append(closers, p.Close)
		pool = p
	}

	s, closeStorage, err := app.OpenStorage(ctx, cfg, pool)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	closers = append(closers, closeStorage)

	key := cfg.Key
	if key == "" {
		key = cart.DefaultKey
	}
	return fn(s, cart.KeyFor(key, opts.cartID))
}

func show(ctx context.Context, w io.Writer, s cart.Storage, key string) error {
	data, err := s.Load(ctx, key)
	if errors.Is(err, cart.ErrStateNotFound) {
		_, err = fmt.Fprintf(w, "%s: empty\n", key)
		return err
	}
	if err != nil {
		return errors.Wrap(err, "load cart")
	}

	c, err := cart.DecodeCart(data)
	if err != nil {
		return errors.Wrapf(err, "cart %s is malformed", key)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tAMOUNT\tPRICE\tTITLE\n")
	for _, item := range c {
		price := "-"
		if item.Has("price") {
			price = item.Price.StringFixed(2)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", item.ID, item.Amount, price, item.Title)
	}
	fmt.Fprintf(tw, "\t%d\t\t%d line items\n", c.Quantity(), len(c))
	return tw.Flush()
}

// catalogDocument mirrors the catalog API collections: /products and
// /stock.
type catalogDocument struct {
	Products []product.Product
	Stock    []stock.Stock
}

func readCatalog(r io.Reader) (*catalogDocument, error) {
	var doc catalogDocument
	d := jx.Decode(r, 64<<10)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				var p product.Product
				if err := p.Decode(d); err != nil {
					return errors.Wrapf(err, "product %d", len(doc.Products))
				}
				doc.Products = append(doc.Products, p)
				return nil
			})
		case "stock":
			return d.Arr(func(d *jx.Decoder) error {
				var s stock.Stock
				if err := s.Decode(d); err != nil {
					return errors.Wrapf(err, "stock %d", len(doc.Stock))
				}
				doc.Stock = append(doc.Stock, s)
				return nil
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	return &doc, nil
}

func openSeedFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open seed file")
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := pgzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "open gzip stream")
	}
	return struct {
		io.Reader
		io.Closer
	}{zr, closerFunc(func() error {
		_ = zr.Close()
		return f.Close()
	})}, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func seed(ctx context.Context, lg *zap.Logger, opts options) error {
	if opts.databaseURL == "" {
		return errors.New("seed requires -database-url or DATABASE_URL")
	}

	r, err := openSeedFile(opts.seedFile)
	if err != nil {
		return err
	}
	doc, err := readCatalog(r)
	_ = r.Close()
	if err != nil {
		return err
	}

	levels := make(map[int]int, len(doc.Stock))
	for _, s := range doc.Stock {
		levels[s.ID] = s.Amount
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	repo := postgres.NewCatalogRepository(pool)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.workers, 1))
	for _, p := range doc.Products {
		amount, ok := levels[p.ID]
		if !ok {
			lg.Warn("No stock entry, seeding zero", zap.Int("product_id", p.ID))
		}
		g.Go(func() error {
			return repo.UpsertProduct(gCtx, p, amount)
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "upsert products")
	}

	lg.Info("Catalog seeded",
		zap.Int("products", len(doc.Products)),
		zap.Int("stock_entries", len(doc.Stock)),
		zap.String("file", opts.seedFile),
	)
	return nil
}
