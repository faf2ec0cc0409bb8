// pushgate is a server-sent-events push service: clients hold a long-lived
// stream open under /api/sse and the HTTP API pushes named events to one
// client or to everyone connected.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kbukum/pushgate/bootstrap"
	"github.com/kbukum/pushgate/config"
	"github.com/kbukum/pushgate/observability"
	"github.com/kbukum/pushgate/server"
	"github.com/kbukum/pushgate/sse"
	"github.com/kbukum/pushgate/version"
)

// Config is the full service configuration.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Server        server.Config        `yaml:"server" mapstructure:"server"`
	SSE           sse.Config           `yaml:"sse" mapstructure:"sse"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

// ApplyDefaults applies defaults to all configuration sections.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "pushgate"
	}
	c.ServiceConfig.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.SSE.ApplyDefaults()
	c.Observability.ApplyDefaults()
}

// Validate validates all configuration sections.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.SSE.Validate(); err != nil {
		return err
	}
	return c.Observability.Validate()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pushgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := config.LoadConfig("pushgate", &cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app, err := bootstrap.NewApp(&cfg)
	if err != nil {
		return err
	}

	// Metrics first so its instruments exist before the registry records.
	metrics, err := observability.NewComponent(cfg.Observability, app.Name, app.Version)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	registry := sse.NewRegistry(
		sse.WithBufferSize(cfg.SSE.BufferSize),
		sse.WithMetrics(metrics.StreamMetrics()),
	)
	dispatcher := sse.NewDispatcher(registry,
		sse.WithDispatcherMetrics(metrics.StreamMetrics()),
	)
	handler := sse.NewHandler(registry, dispatcher,
		sse.WithPath(cfg.SSE.Path),
		sse.WithKeepAlive(time.Duration(cfg.SSE.KeepAliveInterval)*time.Second),
	)

	srv := server.New(cfg.Server)
	srv.ApplyMiddleware()
	handler.Register(srv.GinEngine())

	// Server starts last and stops first, so in-flight streams drain
	// before the registry closes the remaining sinks.
	if err := app.RegisterComponent(metrics); err != nil {
		return err
	}
	if err := app.RegisterComponent(sse.NewComponent(registry, cfg.SSE.Path)); err != nil {
		return err
	}
	if err := app.RegisterComponent(srv); err != nil {
		return err
	}
	srv.RegisterHealth(app.Name, app.Components)

	app.Logger.Info("Build info", map[string]interface{}{
		"version": version.Version,
		"commit":  version.GitCommit,
	})

	return app.Run(context.Background())
}
