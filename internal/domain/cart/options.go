package cart

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Option configures a Store.
type Option func(*options)

type options struct {
	key    string
	lg     *zap.Logger
	tracer trace.TracerProvider
	meter  metric.MeterProvider
}

func defaultOptions() options {
	return options{
		key:    DefaultKey,
		lg:     zap.NewNop(),
		tracer: otel.GetTracerProvider(),
		meter:  otel.GetMeterProvider(),
	}
}

// WithKey sets the storage key the cart is persisted under.
func WithKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.key = key
		}
	}
}

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(o *options) {
		if lg != nil {
			o.lg = lg
		}
	}
}

// WithTracerProvider sets the tracer provider used for operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp
		}
	}
}

// WithMeterProvider sets the meter provider used for operation counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meter = mp
		}
	}
}
