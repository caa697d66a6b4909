// Package catalogapi is the HTTP client of the storefront catalog API
// (GET /products/{id}) and stock API (GET /stock/{id}).
package catalogapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/cartstore/internal/domain/product"
	"github.com/xenking/cartstore/internal/domain/stock"
)

const (
	// maxBodySize bounds the size of a single response document.
	maxBodySize = 1 << 20
	// defaultTimeout bounds a request when Config.Timeout is not set.
	defaultTimeout = 10 * time.Second
)

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// callerError marks a request that failed because the caller's context
// ended. It says nothing about the health of the upstream.
type callerError struct {
	err error
}

func (e *callerError) Error() string { return e.err.Error() }

func (e *callerError) Unwrap() error { return e.err }

// Config configures the Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Breaker BreakerConfig
}

// BreakerConfig controls the circuit breakers placed in front of each
// endpoint.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probe requests allowed while half-open.
	HalfOpenRequests uint32
}

// Option configures optional Client dependencies.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(c *Client) { c.lg = lg }
}

// WithTracerProvider sets the tracer provider for outgoing requests.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tp = tp }
}

// WithMeterProvider sets the meter provider for outgoing requests.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Client) { c.mp = mp }
}

// WithTransport sets the base transport wrapped by instrumentation.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.rt = rt }
}

// Client reads products and stock levels over HTTP. Concurrent requests for
// the same product share one round trip; stock is always fetched.
type Client struct {
	base *url.URL
	http *http.Client
	lg   *zap.Logger
	tp   trace.TracerProvider
	mp   metric.MeterProvider
	rt   http.RoundTripper

	productsCB *gobreaker.CircuitBreaker[*product.Product]
	stockCB    *gobreaker.CircuitBreaker[*stock.Stock]
	inflight   singleflight.Group
}

// New creates a Client for the API rooted at cfg.BaseURL.
func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}

	c := &Client{
		base: base,
		lg:   zap.NewNop(),
		tp:   otel.GetTracerProvider(),
		mp:   otel.GetMeterProvider(),
		rt:   http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.http = &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(c.rt,
			otelhttp.WithTracerProvider(c.tp),
			otelhttp.WithMeterProvider(c.mp),
		),
	}
	c.productsCB = gobreaker.NewCircuitBreaker[*product.Product](c.breakerSettings("catalog.products", cfg.Breaker))
	c.stockCB = gobreaker.NewCircuitBreaker[*stock.Stock](c.breakerSettings("catalog.stock", cfg.Breaker))

	return c, nil
}

func (c *Client) breakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// A missing product is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, product.ErrNotFound) || errors.Is(err, stock.ErrNotFound)
		},
		IsExcluded: func(err error) bool {
			var ce *callerError
			return errors.As(err, &ce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	}
}

// GetProduct fetches GET /products/{id}. Concurrent callers share one
// request, which is detached from their cancellation and bounded by the
// client timeout; a caller whose ctx ends stops waiting without failing the
// others.
func (c *Client) GetProduct(ctx context.Context, id int) (*product.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	key := strconv.Itoa(id)
	flightCtx := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(key, func() (any, error) {
		return c.productsCB.Execute(func() (*product.Product, error) {
			var p product.Product
			if err := c.get(flightCtx, "products", key, p.Decode, product.ErrNotFound); err != nil {
				return nil, err
			}
			return &p, nil
		})
	})

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "get product")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// Callers sharing a flight must not share slices.
		p := res.Val.(*product.Product).Clone()
		return &p, nil
	}
}

// GetStock fetches GET /stock/{id}.
func (c *Client) GetStock(ctx context.Context, id int) (*stock.Stock, error) {
	return c.stockCB.Execute(func() (*stock.Stock, error) {
		var s stock.Stock
		if err := c.get(ctx, "stock", strconv.Itoa(id), s.Decode, stock.ErrNotFound); err != nil {
			return nil, err
		}
		return &s, nil
	})
}

// Healthy reports an error while either breaker is open.
func (c *Client) Healthy(_ context.Context) error {
	for _, s := range []struct {
		name  string
		state gobreaker.State
	}{
		{"products", c.productsCB.State()},
		{"stock", c.stockCB.State()},
	} {
		if s.state == gobreaker.StateOpen {
			return errors.Errorf("%s circuit breaker is open", s.name)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, resource, id string, decode func(*jx.Decoder) error, notFound error) error {
	u := c.base.JoinPath(resource, id).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &callerError{err: errors.Wrap(err, "send request")}
		}
		return errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return notFound
	case resp.StatusCode != http.StatusOK:
		return &StatusError{Code: resp.StatusCode, URL: u}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if ctx.Err() != nil {
			return &callerError{err: errors.Wrap(err, "read body")}
		}
		return errors.Wrap(err, "read body")
	}
	if err := decode(jx.DecodeBytes(body)); err != nil {
		return errors.Wrapf(err, "decode %s %s", resource, id)
	}
	return nil
}

// Products returns the client as a product.Catalog.
func (c *Client) Products() product.Catalog { return productView{c} }

// Stock returns the client as a stock.Service.
func (c *Client) Stock() stock.Service { return stockView{c} }

type (
	productView struct{ c *Client }
	stockView   struct{ c *Client }
)

func (v productView) GetByID(ctx context.Context, id int) (*product.Product, error) {
	return v.c.GetProduct(ctx, id)
}

func (v stockView) GetByID(ctx context.Context, id int) (*stock.Stock, error) {
	return v.c.GetStock(ctx, id)
}
