// Package api hosts the HTTP server: middleware, the v1 routes and /metrics.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/verdant-app/verdant/internal/api/middleware"
	v1 "github.com/verdant-app/verdant/internal/api/v1"
	"github.com/verdant-app/verdant/internal/conf"
	"github.com/verdant-app/verdant/internal/errors"
	"github.com/verdant-app/verdant/internal/handles"
	"github.com/verdant-app/verdant/internal/logger"
	"github.com/verdant-app/verdant/internal/observability"
)

// Server timeouts
const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 2 * time.Minute
	shutdownTimeout = 10 * time.Second
)

// Server is the HTTP server
type Server struct {
	echo       *echo.Echo
	settings   *conf.WebServerSettings
	log        logger.Logger
	metrics    *observability.Metrics
	controller *v1.Controller
	apiOpts    []v1.Option
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithMetrics serves the registry at /metrics
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithAPIOptions passes options to the v1 controller
func WithAPIOptions(opts ...v1.Option) ServerOption {
	return func(s *Server) { s.apiOpts = append(s.apiOpts, opts...) }
}

// New creates the server and registers every route
func New(settings *conf.WebServerSettings, gardens v1.Gardens, registry *handles.Registry, log logger.Logger, opts ...ServerOption) *Server {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	s := &Server{settings: settings, log: log.Module("api")}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = readTimeout
	s.echo.Server.WriteTimeout = writeTimeout
	s.echo.Server.IdleTimeout = idleTimeout

	s.setupMiddleware()

	limit := v1.RateLimit{PerSecond: settings.RateLimit, Burst: settings.Burst}
	apiOpts := append([]v1.Option{v1.WithRateLimit(limit)}, s.apiOpts...)
	s.controller = v1.New(s.echo, gardens, registry, s.log, apiOpts...)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestID())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		return c.Path() == "/metrics"
	}))

	security := mw.DefaultSecurityConfig()
	s.echo.Use(mw.NewCORS(security))
	s.echo.Use(mw.NewBodyLimit(mw.DefaultBodyLimit))
	s.echo.Use(mw.NewSecureHeaders(security))
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Controller returns the v1 controller
func (s *Server) Controller() *v1.Controller {
	return s.controller
}

// Run serves on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.settings.Listen)
	if err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("listen", s.settings.Listen).
			Build()
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server starting", logger.String("address", ln.Addr().String()))
		errCh <- s.echo.Start("")
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.log.Info("HTTP server shutting down")
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("operation", "shutdown").
			Build()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
