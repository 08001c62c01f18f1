// Package api implements the v1 JSON API for gardens, care alerts and handles.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/verdant-app/verdant/internal/api/middleware"
	"github.com/verdant-app/verdant/internal/care"
	"github.com/verdant-app/verdant/internal/errors"
	"github.com/verdant-app/verdant/internal/garden"
	"github.com/verdant-app/verdant/internal/handles"
	"github.com/verdant-app/verdant/internal/logger"
)

// Gardens hands out the store for an owner
type Gardens interface {
	Store(ownerID string) (*garden.Store, error)
	Owners() []string
}

// AlertLister reads recorded care alerts
type AlertLister interface {
	List(ctx context.Context, ownerID string, limit int) ([]care.Event, error)
}

// RateLimit bounds handle lookups per client
type RateLimit struct {
	PerSecond float64
	Burst     int
}

// Controller serves the v1 routes
type Controller struct {
	Group    *echo.Group
	gardens  Gardens
	handles  *handles.Registry
	alerts   AlertLister
	log      logger.Logger
	limit    RateLimit
	version  string
	started  time.Time
	detector func() care.Stats
}

// Option configures a Controller
type Option func(*Controller)

// WithAlerts enables the alert history route
func WithAlerts(a AlertLister) Option {
	return func(c *Controller) { c.alerts = a }
}

// WithRateLimit sets the limit on handle lookup routes
func WithRateLimit(l RateLimit) Option {
	return func(c *Controller) { c.limit = l }
}

// WithVersion sets the version reported by the health route
func WithVersion(v string) Option {
	return func(c *Controller) { c.version = v }
}

// WithDetectorStats adds care detector counters to the health route
func WithDetectorStats(fn func() care.Stats) Option {
	return func(c *Controller) { c.detector = fn }
}

// New registers the v1 routes under /api/v1 on e
func New(e *echo.Echo, gardens Gardens, registry *handles.Registry, log logger.Logger, opts ...Option) *Controller {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	c := &Controller{
		Group:   e.Group("/api/v1"),
		gardens: gardens,
		handles: registry,
		log:     log.Module("v1"),
		limit:   RateLimit{PerSecond: 10, Burst: 20},
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)
	c.initGardenRoutes()
	c.initHandleRoutes()
}

// HealthCheck reports liveness and a few counters
func (c *Controller) HealthCheck(ctx echo.Context) error {
	uptime := time.Since(c.started)
	body := map[string]any{
		"status":         "healthy",
		"version":        c.version,
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": uptime.Seconds(),
		"gardens_loaded": len(c.gardens.Owners()),
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if c.detector != nil {
		body["care"] = c.detector()
	}
	return ctx.JSON(http.StatusOK, body)
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates an error body
func NewErrorResponse(err error, message string, code int, correlationID string) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: correlationID,
	}
}

// HandleError logs err and replies with the status it maps to
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := statusFor(err)
	id, _ := ctx.Get(middleware.RequestIDKey).(string)
	resp := NewErrorResponse(err, message, code, id)

	fields := []logger.Field{
		logger.String("correlation_id", id),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
		logger.Error(err),
	}
	log := c.log.WithContext(ctx.Request().Context())
	if code >= http.StatusInternalServerError {
		log.Error("api error", fields...)
	} else {
		log.Debug("api request rejected", fields...)
	}
	return ctx.JSON(code, resp)
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, garden.ErrNotFound), errors.Is(err, handles.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, handles.ErrAlreadyTaken), errors.Is(err, handles.ErrHandleHeld):
		return http.StatusConflict
	case errors.Is(err, handles.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, garden.ErrInvalidPlant),
		errors.Is(err, garden.ErrWateringOutOfOrder),
		errors.Is(err, handles.ErrInvalidHandle),
		errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.Is(err, garden.ErrUnavailable),
		errors.Is(err, handles.ErrUnavailable),
		errors.Is(err, garden.ErrStoreClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he.Code
		}
		return http.StatusInternalServerError
	}
}

// badRequest builds a validation error for malformed input
func badRequest(msg string) error {
	return errors.Newf("%s", msg).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

// queryLimit parses ?limit=, returning def when absent
func queryLimit(ctx echo.Context, def int) (int, error) {
	raw := ctx.QueryParam("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("limit must be a non-negative integer")
	}
	return n, nil
}
