// Package server provides the HTTP server component: a Gin engine behind
// an h2c-capable http.Server with the standard middleware stack and a
// /health endpoint.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kbukum/pushgate/component"
	"github.com/kbukum/pushgate/logger"
	"github.com/kbukum/pushgate/server/middleware"
)

// Server is an HTTP server backed by Gin. It implements
// component.Component so the bootstrap manages its lifecycle.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     Config
	log        *logger.Logger
	started    bool
}

var (
	_ component.Component   = (*Server)(nil)
	_ component.Describable = (*Server)(nil)
)

// New creates a new Server. Middleware is not applied yet; call
// ApplyMiddleware after construction.
func New(cfg Config) *Server {
	// Gin mode follows the global log level.
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// h2c lets HTTP/2 clients connect without TLS.
	h2s := &http2.Server{
		MaxConcurrentStreams: 250,
		IdleTimeout:          120 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      h2c.NewHandler(engine, h2s),
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeout) * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		engine:     engine,
		config:     cfg,
		log:        logger.WithComponent("server"),
	}
}

// GinEngine returns the underlying Gin engine for route registration.
func (s *Server) GinEngine() *gin.Engine {
	return s.engine
}

// ApplyMiddleware applies the standard middleware stack:
// recovery, request-ID, CORS, and request logging.
func (s *Server) ApplyMiddleware() {
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.CORS(s.config.CORS))
	s.engine.Use(middleware.RequestLogger())
}

// RegisterHealth registers the /health endpoint reporting component health.
func (s *Server) RegisterHealth(serviceName string, components *component.Registry) {
	s.engine.GET("/health", func(c *gin.Context) {
		results := components.HealthAll(c.Request.Context())
		status := component.StatusHealthy
		for _, h := range results {
			if h.Status != component.StatusHealthy {
				status = h.Status
			}
		}
		code := http.StatusOK
		if status != component.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"service":    serviceName,
			"status":     status,
			"components": results,
		})
	})
}

// Name returns the component name.
func (s *Server) Name() string { return "server" }

// Start binds the port and begins serving. It returns once the listener
// is bound so the caller knows the port is ready; serving continues in a
// goroutine.
func (s *Server) Start(_ context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.httpServer.Addr, err)
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	s.started = true

	s.log.Info("HTTP server started", map[string]interface{}{
		"addr": s.httpServer.Addr,
	})
	return nil
}

// Stop gracefully shuts down the server with a 5-second deadline.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.started = false
	return nil
}

// Health reports whether the server is accepting connections.
func (s *Server) Health(_ context.Context) component.Health {
	status := component.StatusHealthy
	msg := fmt.Sprintf("listening on %s", s.httpServer.Addr)
	if !s.started {
		status = component.StatusUnhealthy
		msg = "not started"
	}
	return component.Health{Name: s.Name(), Status: status, Message: msg}
}

// Describe returns summary info for the startup display.
func (s *Server) Describe() component.Description {
	return component.Description{
		Name:    "HTTP Server",
		Type:    "server",
		Details: s.httpServer.Addr,
		Port:    s.config.Port,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
