// Package api exposes a running camera source over HTTP: capabilities,
// settings, format negotiation, session control and statistics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	vimbacapture "github.com/e7canasta/vimba-capture"
	"github.com/e7canasta/vimba-capture/settings"
	"github.com/gin-gonic/gin"
)

// Controller is the part of a Source the HTTP surface drives.
type Controller interface {
	Capabilities() (vimbacapture.Capabilities, error)
	NegotiateFormat(ctx context.Context, generic string) error
	StartSession(ctx context.Context) error
	StopSession(ctx context.Context) error
	Settings() settings.Settings
	DeviceSettings() (settings.Settings, vimbacapture.Report, error)
	UpdateSettings(ctx context.Context, fn func(*settings.Settings)) (vimbacapture.Report, error)
	LastReport() vimbacapture.Report
	Stats() vimbacapture.Stats
}

// Config contains configuration for the HTTP server
type Config struct {
	// Addr is the listen address (e.g., ":8080")
	Addr string
	// ReadTimeout and WriteTimeout bound each request (default: 5s)
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// ShutdownTimeout bounds graceful shutdown (default: 5s)
	ShutdownTimeout time.Duration
	// Extra, if set, is merged into GET /api/stats under "host"
	Extra func() any
}

// Server serves the control API.
type Server struct {
	cfg    Config
	ctrl   Controller
	engine *gin.Engine
}

// New creates a Server with routes registered.
func New(ctrl Controller, cfg Config) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{cfg: cfg, ctrl: ctrl, engine: engine}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	h := &handlers{ctrl: s.ctrl, extra: s.cfg.Extra}

	s.engine.GET("/health", h.health)

	api := s.engine.Group("/api")
	api.GET("/capabilities", h.capabilities)
	api.GET("/settings", h.getSettings)
	api.PUT("/settings", h.putSettings)
	api.GET("/settings/device", h.deviceSettings)
	api.GET("/report", h.report)
	api.PUT("/format", h.putFormat)
	api.POST("/session/start", h.startSession)
	api.POST("/session/stop", h.stopSession)
	api.GET("/stats", h.stats)
}

// Handler returns the HTTP handler (for tests and embedding).
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("api: listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("api: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	slog.Info("api: server stopped")
	return nil
}

// requestLogger logs one line per request through slog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("api: request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
