// Package bootstrap ties configuration, logging, and component lifecycle
// into a uniform application shell: load → validate → start components →
// wait for a signal → graceful shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbukum/pushgate/component"
	"github.com/kbukum/pushgate/config"
	"github.com/kbukum/pushgate/logger"
	"github.com/kbukum/pushgate/version"
)

// Config is satisfied by any struct embedding config.ServiceConfig.
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}

// App represents an application with uniform lifecycle management. The
// type parameter C is the service's config type.
type App[C Config] struct {
	Name       string
	Version    string
	Cfg        C
	Components *component.Registry
	Logger     *logger.Logger

	gracefulTimeout time.Duration
}

// Option configures an App.
type Option func(*options)

type options struct {
	gracefulTimeout *time.Duration
}

// WithGracefulTimeout overrides the shutdown deadline (default 15s).
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *options) { o.gracefulTimeout = &d }
}

// NewApp creates a new application instance from a typed config. It
// applies defaults, validates the config, and initializes the logger.
func NewApp[C Config](cfg C, opts ...Option) (*App[C], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	base := cfg.GetServiceConfig()
	logger.Init(base.Logging)

	ver := base.Version
	if ver == "" {
		ver = version.Version
	}

	app := &App[C]{
		Name:            base.Name,
		Version:         ver,
		Cfg:             cfg,
		Components:      component.NewRegistry(),
		Logger:          logger.GetGlobalLogger(),
		gracefulTimeout: 15 * time.Second,
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.gracefulTimeout != nil {
		app.gracefulTimeout = *o.gracefulTimeout
	}
	return app, nil
}

// RegisterComponent adds a component to the application's registry.
// Components start in registration order and stop in reverse.
func (a *App[C]) RegisterComponent(c component.Component) error {
	return a.Components.Register(c)
}

// Run executes the full application lifecycle: start all components,
// block until a shutdown signal, then stop everything gracefully.
func (a *App[C]) Run(ctx context.Context) error {
	a.Logger.Info("Starting application", map[string]interface{}{
		"service":     a.Name,
		"version":     a.Version,
		"environment": a.Cfg.GetServiceConfig().Environment,
	})

	if err := a.Components.StartAll(ctx); err != nil {
		return err
	}
	a.logSummary()

	a.Logger.Info("Application ready, waiting for shutdown signal")
	a.WaitForSignal(ctx)

	return a.stop()
}

// WaitForSignal blocks until SIGINT/SIGTERM or context cancellation.
func (a *App[C]) WaitForSignal(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		a.Logger.Info("Shutdown signal received", map[string]interface{}{
			"signal": sig.String(),
		})
	case <-ctx.Done():
		a.Logger.Info("Context canceled, shutting down")
	}
}

// ReadyCheck verifies that all registered components are healthy.
func (a *App[C]) ReadyCheck(ctx context.Context) error {
	results := a.Components.HealthAll(ctx)
	var unhealthy []string
	for _, h := range results {
		if h.Status != component.StatusHealthy {
			detail := h.Name + "=" + string(h.Status)
			if h.Message != "" {
				detail += "(" + h.Message + ")"
			}
			unhealthy = append(unhealthy, detail)
		}
	}
	if len(unhealthy) > 0 {
		return fmt.Errorf("unhealthy components: %v", unhealthy)
	}
	return nil
}

func (a *App[C]) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()

	if err := a.Components.StopAll(ctx); err != nil {
		a.Logger.Error("Shutdown finished with errors", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	a.Logger.Info("Application stopped")
	return nil
}

// logSummary prints one line per described component.
func (a *App[C]) logSummary() {
	for _, desc := range a.Components.Descriptions() {
		fields := map[string]interface{}{
			"type":    desc.Type,
			"details": desc.Details,
		}
		if desc.Port != 0 {
			fields["port"] = desc.Port
		}
		a.Logger.Info(desc.Name, fields)
	}
}
