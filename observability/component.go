package observability

import (
	"context"
	"fmt"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/pushgate/component"
)

// Component manages the meter provider lifecycle. The instrument set is
// created eagerly against the global meter, which delegates to the real
// provider once Start installs it, so consumers can hold the instruments
// before the component starts.
type Component struct {
	cfg            Config
	serviceName    string
	serviceVersion string
	provider       *sdkmetric.MeterProvider
	metrics        *StreamMetrics
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent creates the metrics component. When cfg.Enabled is false
// the instrument set stays nil and every recording call is a no-op.
func NewComponent(cfg Config, serviceName, serviceVersion string) (*Component, error) {
	cfg.ApplyDefaults()
	c := &Component{
		cfg:            cfg,
		serviceName:    serviceName,
		serviceVersion: serviceVersion,
	}
	if cfg.Enabled {
		metrics, err := NewStreamMetrics(Meter(serviceName))
		if err != nil {
			return nil, err
		}
		c.metrics = metrics
	}
	return c, nil
}

// StreamMetrics returns the instrument set, or nil when export is disabled.
func (c *Component) StreamMetrics() *StreamMetrics { return c.metrics }

// Name returns the component name.
func (c *Component) Name() string { return "metrics" }

// Start installs the meter provider.
func (c *Component) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	mp, err := InitMeter(ctx, c.cfg, c.serviceName, c.serviceVersion)
	if err != nil {
		return err
	}
	c.provider = mp
	return nil
}

// Stop flushes and shuts down the meter provider.
func (c *Component) Stop(ctx context.Context) error {
	if c.provider == nil {
		return nil
	}
	return c.provider.Shutdown(ctx)
}

// Health reports whether metric export is running.
func (c *Component) Health(_ context.Context) component.Health {
	msg := "export disabled"
	if c.cfg.Enabled {
		msg = fmt.Sprintf("exporting to %s", c.cfg.Endpoint)
	}
	return component.Health{
		Name:    c.Name(),
		Status:  component.StatusHealthy,
		Message: msg,
	}
}

// Describe returns summary info for the startup display.
func (c *Component) Describe() component.Description {
	details := "disabled"
	if c.cfg.Enabled {
		details = fmt.Sprintf("OTLP %s every %ds", c.cfg.Endpoint, c.cfg.Interval)
	}
	return component.Description{
		Name:    "Metrics",
		Type:    "metrics",
		Details: details,
	}
}
