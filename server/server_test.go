package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/pushgate/component"
)

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.ReadTimeout != 15 || cfg.WriteTimeout != 15 || cfg.IdleTimeout != 60 {
		t.Errorf("unexpected timeout defaults: %d/%d/%d", cfg.ReadTimeout, cfg.WriteTimeout, cfg.IdleTimeout)
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		t.Error("expected CORS origin defaults")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestConfig_Validate_Invalid(t *testing.T) {
	cfg := Config{Port: 70000}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for out-of-range port")
	}

	cfg = Config{Port: 8080, ReadTimeout: -1}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative timeout")
	}
}

func TestServer_Lifecycle(t *testing.T) {
	cfg := Config{Port: 0}
	cfg.ApplyDefaults()
	cfg.Port = 0 // random port

	srv := New(cfg)
	srv.ApplyMiddleware()
	srv.GinEngine().GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop(ctx)

	health := srv.Health(ctx)
	if health.Status != component.StatusHealthy {
		t.Errorf("expected healthy after start, got %s", health.Status)
	}

	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	health = srv.Health(ctx)
	if health.Status == component.StatusHealthy {
		t.Error("expected unhealthy after stop")
	}
}

func TestServer_RegisterHealth(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	cfg.Port = 18099

	srv := New(cfg)
	components := component.NewRegistry()
	components.Register(srv)
	srv.RegisterHealth("pushgate", components)

	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop(ctx)
	time.Sleep(20 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Port))
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Service    string             `json:"service"`
		Status     string             `json:"status"`
		Components []component.Health `json:"components"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body.Service != "pushgate" {
		t.Errorf("expected service 'pushgate', got %q", body.Service)
	}
	if len(body.Components) != 1 {
		t.Errorf("expected 1 component, got %d", len(body.Components))
	}
}

func TestServer_Describe(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	srv := New(cfg)
	desc := srv.Describe()
	if desc.Type != "server" {
		t.Errorf("expected type 'server', got %q", desc.Type)
	}
	if desc.Port != 8080 {
		t.Errorf("expected port 8080, got %d", desc.Port)
	}
}
