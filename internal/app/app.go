package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/cartstore/internal/catalogapi"
	"github.com/xenking/cartstore/internal/domain/cart"
	"github.com/xenking/cartstore/internal/domain/product"
	"github.com/xenking/cartstore/internal/domain/stock"
	"github.com/xenking/cartstore/internal/handler"
	"github.com/xenking/cartstore/internal/storage/file"
	"github.com/xenking/cartstore/internal/storage/memory"
	"github.com/xenking/cartstore/internal/storage/postgres"
	"github.com/xenking/cartstore/internal/storage/redis"
	"github.com/xenking/cartstore/pkg/health"
	"github.com/xenking/cartstore/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("catalog", cfg.Catalog.Source),
	)

	healthSvc := health.New(health.WithLogger(lg.Named("health")))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	var pool *pgxpool.Pool
	if cfg.needsDatabase() {
		var err error
		if pool, err = postgres.NewPool(ctx, cfg.DatabaseURL); err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	}

	storage, closeStorage, err := OpenStorage(ctx, cfg.Storage, pool)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer closeStorage()
	if p, ok := storage.(health.Pinger); ok {
		healthSvc.AddReadinessCheck("storage", 2*time.Second, health.PingCheck(p))
	}

	products, stocks, err := openCatalog(cfg, pool, lg, m, healthSvc)
	if err != nil {
		return errors.Wrap(err, "open catalog")
	}

	registry := cart.NewRegistry(cfg.Storage.Key, func(ctx context.Context, key string) *cart.Store {
		return cart.NewStore(ctx, storage, products, stocks,
			cart.WithKey(key),
			cart.WithLogger(lg.Named("cart")),
			cart.WithTracerProvider(m.TracerProvider()),
			cart.WithMeterProvider(m.MeterProvider()),
		)
	})
	// The default cart is loaded eagerly so a broken backend shows in the
	// startup logs.
	registry.Get(ctx, "")

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	h := handler.NewHandler(handler.HandlerConfig{
		MutationRateLimit: httpmiddleware.RateLimitConfig{
			Rate:    cfg.RateLimit.CartRate,
			Burst:   cfg.RateLimit.CartBurst,
			IdleTTL: cfg.RateLimit.IdleTimeout,
		},
		EventsHeartbeat: cfg.Events.Heartbeat,
	}, registry)

	router := chi.NewRouter()
	router.Use(
		httpmiddleware.Instrument("cart-api", m),
		httpmiddleware.LogRequests(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", handler.CartIDHeader, httpmiddleware.RequestIDHeader},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Retry-After"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
	)
	if cfg.RateLimit.Rate > 0 {
		router.Use(httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Rate:    cfg.RateLimit.Rate,
			Burst:   cfg.RateLimit.Burst,
			IdleTTL: cfg.RateLimit.IdleTimeout,
		}))
	}
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/api", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.RequestID(),
		),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	if cfg.Carts.EvictInterval > 0 {
		g.Go(func() error {
			registry.RunEviction(gCtx, cfg.Carts.EvictInterval, cfg.Carts.IdleTimeout)
			return nil
		})
	}
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		if ctx.Err() != nil {
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	return g.Wait()
}

// OpenStorage builds the configured cart.Storage. pool is only used by the
// postgres driver. The returned function releases its resources.
func OpenStorage(ctx context.Context, cfg StorageConfig, pool *pgxpool.Pool) (cart.Storage, func(), error) {
	noop := func() {}
	switch cfg.Driver {
	case StorageMemory:
		return memory.New(), noop, nil
	case StorageFile:
		s, err := file.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case StorageRedis:
		client, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return redis.New(client, redis.Options{Prefix: cfg.Prefix, TTL: cfg.TTL}), func() { _ = client.Close() }, nil
	case StoragePostgres:
		if pool == nil {
			return nil, nil, errors.New("postgres storage requires a database pool")
		}
		return postgres.NewStateRepository(pool), noop, nil
	default:
		return nil, nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// openCatalog builds the product and stock sources.
func openCatalog(
	cfg *Config,
	pool *pgxpool.Pool,
	lg *zap.Logger,
	m *app.Telemetry,
	hs *health.Health,
) (product.Catalog, stock.Service, error) {
	switch cfg.Catalog.Source {
	case CatalogHTTP:
		client, err := catalogapi.New(catalogapi.Config{
			BaseURL: cfg.Catalog.BaseURL,
			Timeout: cfg.Catalog.Timeout,
			Breaker: catalogapi.BreakerConfig{
				MaxFailures:      cfg.Catalog.Breaker.MaxFailures,
				OpenTimeout:      cfg.Catalog.Breaker.OpenTimeout,
				HalfOpenRequests: cfg.Catalog.Breaker.HalfOpenRequests,
			},
		},
			catalogapi.WithLogger(lg.Named("catalog")),
			catalogapi.WithTracerProvider(m.TracerProvider()),
			catalogapi.WithMeterProvider(m.MeterProvider()),
		)
		if err != nil {
			return nil, nil, err
		}
		hs.AddReadinessCheck("catalog", time.Second, client.Healthy)
		return client.Products(), client.Stock(), nil
	case CatalogPostgres:
		repo := postgres.NewCatalogRepository(pool)
		return repo.Products(), repo.Stock(), nil
	default:
		return nil, nil, errors.Errorf("unknown catalog source %q", cfg.Catalog.Source)
	}
}
