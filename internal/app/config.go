package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Catalog sources.
const (
	CatalogHTTP     = "http"
	CatalogPostgres = "postgres"
)

// Config holds the complete application configuration, loadable from
// environment variables (CART_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Storage     StorageConfig
	Catalog     CatalogConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Events      EventsConfig
	Carts       CartsConfig
	Graceful    GracefulConfig
}

// StorageConfig selects where carts are persisted.
type StorageConfig struct {
	Driver   string        `default:"file" usage:"Cart storage driver: memory, file, redis or postgres"`
	Key      string        `default:"@RocketShoes:cart" usage:"Storage key of the default cart"`
	Path     string        `default:"data/carts" usage:"Directory of the file driver"`
	RedisURL string        `usage:"Redis URL of the redis driver (CART_STORAGE_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	Prefix   string        `usage:"Key prefix of the redis driver, for sharing a database"`
	TTL      time.Duration `default:"0s" usage:"Expiry of idle carts in Redis, 0 keeps them"`
}

// CatalogConfig selects where products and stock levels come from.
type CatalogConfig struct {
	Source  string        `default:"http" usage:"Catalog source: http or postgres"`
	BaseURL string        `default:"http://localhost:3333" usage:"Base URL of the catalog and stock API"`
	Timeout time.Duration `default:"5s" usage:"Timeout of a single catalog request"`
	Breaker BreakerConfig
}

// BreakerConfig controls the catalog circuit breakers.
type BreakerConfig struct {
	MaxFailures      uint32        `default:"5" usage:"Consecutive failures that open the breaker"`
	OpenTimeout      time.Duration `default:"30s" usage:"How long an open breaker rejects calls"`
	HalfOpenRequests uint32        `default:"1" usage:"Probe requests allowed while half-open"`
}

// RateLimitConfig controls the per-client and per-cart token buckets.
type RateLimitConfig struct {
	Rate        float64       `default:"50" usage:"Sustained requests per second per client IP, 0 disables"`
	Burst       int           `default:"100" usage:"Burst size per client IP"`
	CartRate    float64       `default:"5" usage:"Sustained mutations per second per cart, 0 disables" flag:"cart-rate"`
	CartBurst   int           `default:"20" usage:"Burst size of mutations per cart" flag:"cart-burst"`
	IdleTimeout time.Duration `default:"5m" usage:"How long idle buckets are kept"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// EventsConfig controls the cart event stream.
type EventsConfig struct {
	Heartbeat time.Duration `default:"15s" usage:"Keep-alive interval of event streams, 0 disables"`
}

// CartsConfig controls how long loaded carts stay in memory.
type CartsConfig struct {
	IdleTimeout   time.Duration `default:"30m" usage:"Unused carts without subscribers are unloaded after this long"`
	EvictInterval time.Duration `default:"1m" usage:"How often idle carts are unloaded"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files and flags, then applies platform defaults and validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CART",
		Files:     []string{"config.yaml", "/etc/cart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables with
// standard names (PORT, DATABASE_URL, REDIS_URL) onto the configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Storage.RedisURL == "" {
		c.Storage.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate checks that the selected drivers have what they need.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Path == "" {
			return errors.New("file storage requires CART_STORAGE_PATH")
		}
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			return errors.New("redis storage requires CART_STORAGE_REDIS_URL or REDIS_URL")
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("postgres storage requires CART_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Catalog.Source {
	case CatalogHTTP:
		if c.Catalog.BaseURL == "" {
			return errors.New("http catalog requires CART_CATALOG_BASE_URL")
		}
	case CatalogPostgres:
		if c.DatabaseURL == "" {
			return errors.New("postgres catalog requires CART_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown catalog source %q", c.Catalog.Source)
	}
	return nil
}

// needsDatabase reports whether any component uses PostgreSQL.
func (c *Config) needsDatabase() bool {
	return c.Storage.Driver == StoragePostgres || c.Catalog.Source == CatalogPostgres
}
