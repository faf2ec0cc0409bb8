// Package observability provides OpenTelemetry metrics integration for
// the stream core: connection gauges and dispatch/delivery counters
// exported over OTLP.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/kbukum/pushgate/logger"
)

// Config configures the OpenTelemetry meter provider.
type Config struct {
	// Enabled turns metric export on. When false nothing is initialized
	// and all recording calls are no-ops.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	// Insecure allows insecure connections (for development).
	Insecure bool `yaml:"insecure" mapstructure:"insecure"`
	// Interval is the metric export interval in seconds.
	Interval int `yaml:"interval" mapstructure:"interval"`
}

// ApplyDefaults sets sensible default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.Interval == 0 {
		c.Interval = 15
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Interval < 0 {
		return fmt.Errorf("observability.interval must be non-negative (got: %d)", c.Interval)
	}
	return nil
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, cfg Config, serviceName, serviceVersion string) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(serviceName, serviceVersion)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(time.Duration(cfg.Interval)*time.Second),
		)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("Meter initialized", logger.Fields(
		"service", serviceName,
		"endpoint", cfg.Endpoint,
		"interval_s", cfg.Interval,
	))
	return mp, nil
}

// newResource creates an OpenTelemetry resource with service metadata.
func newResource(serviceName, serviceVersion string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// StreamMetrics holds metric instruments for the stream core. A nil
// *StreamMetrics is valid; every recording method is a no-op then.
type StreamMetrics struct {
	connectionsActive metric.Int64UpDownCounter
	connectionsOpened metric.Int64Counter
	connectionsClosed metric.Int64Counter
	eventsDispatched  metric.Int64Counter
	broadcasts        metric.Int64Counter
	deliveryFailures  metric.Int64Counter
}

// NewStreamMetrics creates the stream instrument set on the given meter.
func NewStreamMetrics(meter metric.Meter) (*StreamMetrics, error) {
	connectionsActive, err := meter.Int64UpDownCounter("sse.connections.active",
		metric.WithDescription("Number of currently open streams"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sse.connections.active gauge: %w", err)
	}

	connectionsOpened, err := meter.Int64Counter("sse.connections.opened",
		metric.WithDescription("Total streams opened"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sse.connections.opened counter: %w", err)
	}

	connectionsClosed, err := meter.Int64Counter("sse.connections.closed",
		metric.WithDescription("Total streams closed, by end state"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sse.connections.closed counter: %w", err)
	}

	eventsDispatched, err := meter.Int64Counter("sse.events.dispatched",
		metric.WithDescription("Total events dispatched, by mode and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sse.events.dispatched counter: %w", err)
	}

	broadcasts, err := meter.Int64Counter("sse.broadcast.recipients",
		metric.WithDescription("Total broadcast delivery attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sse.broadcast.recipients counter: %w", err)
	}

	deliveryFailures, err := meter.Int64Counter("sse.delivery.failures",
		metric.WithDescription("Total rejected pushes, by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sse.delivery.failures counter: %w", err)
	}

	return &StreamMetrics{
		connectionsActive: connectionsActive,
		connectionsOpened: connectionsOpened,
		connectionsClosed: connectionsClosed,
		eventsDispatched:  eventsDispatched,
		broadcasts:        broadcasts,
		deliveryFailures:  deliveryFailures,
	}, nil
}

// ConnectionOpened records a new stream.
func (m *StreamMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.connectionsActive.Add(ctx, 1)
	m.connectionsOpened.Add(ctx, 1)
}

// ConnectionClosed records a stream ending in the given state.
func (m *StreamMetrics) ConnectionClosed(endState string) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.connectionsActive.Add(ctx, -1)
	m.connectionsClosed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", endState),
	))
}

// EventDispatched records one dispatch attempt.
func (m *StreamMetrics) EventDispatched(mode, outcome string) {
	if m == nil {
		return
	}
	m.eventsDispatched.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
}

// BroadcastAttempted records the recipient count of one broadcast.
func (m *StreamMetrics) BroadcastAttempted(recipients int) {
	if m == nil {
		return
	}
	m.broadcasts.Add(context.Background(), int64(recipients))
}

// DeliveryFailure records a rejected push.
func (m *StreamMetrics) DeliveryFailure(reason string) {
	if m == nil {
		return
	}
	m.deliveryFailures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}
