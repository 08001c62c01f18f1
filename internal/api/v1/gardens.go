package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/verdant-app/verdant/internal/care"
	"github.com/verdant-app/verdant/internal/garden"
)

const defaultAlertLimit = 50

// CreatePlantRequest is the body of POST /gardens/:owner/plants
type CreatePlantRequest struct {
	garden.Plant
	// WateringStart is the last watering before tracking began; empty means now
	WateringStart *time.Time `json:"watering_start,omitempty"`
}

// WaterRequest is the optional body of POST .../water; empty means now
type WaterRequest struct {
	At *time.Time `json:"at,omitempty"`
}

// AlertsResponse is the body of GET /gardens/:owner/alerts
type AlertsResponse struct {
	OwnerID string       `json:"owner_id"`
	Alerts  []care.Event `json:"alerts"`
}

func (c *Controller) initGardenRoutes() {
	g := c.Group.Group("/gardens/:owner")
	g.GET("/plants", c.ListPlants)
	g.POST("/plants", c.CreatePlant)
	g.GET("/plants/:id", c.GetPlant)
	g.DELETE("/plants/:id", c.DeletePlant)
	g.POST("/plants/:id/water", c.WaterPlant)
	g.GET("/alerts", c.ListAlerts)
}

func (c *Controller) store(ctx echo.Context) (*garden.Store, error) {
	owner := ctx.Param("owner")
	if owner == "" {
		return nil, badRequest("owner is required")
	}
	return c.gardens.Store(owner)
}

// ListPlants returns a fresh snapshot. While the database is unreachable the
// last known snapshot is returned with from_cache set.
func (c *Controller) ListPlants(ctx echo.Context) error {
	s, err := c.store(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "failed to open garden")
	}
	snap, err := s.Refresh(ctx.Request().Context())
	if err != nil && !snap.FromCache {
		return c.HandleError(ctx, err, "failed to read garden")
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (c *Controller) CreatePlant(ctx echo.Context) error {
	s, err := c.store(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "failed to open garden")
	}
	var req CreatePlantRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, badRequest("invalid request body"), "failed to parse plant")
	}
	var start time.Time
	if req.WateringStart != nil {
		start = *req.WateringStart
	}
	p, err := s.Create(ctx.Request().Context(), req.Plant, start)
	if err != nil {
		return c.HandleError(ctx, err, "failed to create plant")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (c *Controller) GetPlant(ctx echo.Context) error {
	s, err := c.store(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "failed to open garden")
	}
	p, err := s.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "failed to get plant")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (c *Controller) DeletePlant(ctx echo.Context) error {
	s, err := c.store(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "failed to open garden")
	}
	if err := s.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "failed to delete plant")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (c *Controller) WaterPlant(ctx echo.Context) error {
	s, err := c.store(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "failed to open garden")
	}
	var req WaterRequest
	if ctx.Request().ContentLength > 0 {
		if err := ctx.Bind(&req); err != nil {
			return c.HandleError(ctx, badRequest("invalid request body"), "failed to parse watering")
		}
	}
	var at time.Time
	if req.At != nil {
		at = *req.At
	}
	p, err := s.Water(ctx.Request().Context(), ctx.Param("id"), at)
	if err != nil {
		return c.HandleError(ctx, err, "failed to water plant")
	}
	return ctx.JSON(http.StatusOK, p)
}

// ListAlerts returns recorded care alerts, newest first
func (c *Controller) ListAlerts(ctx echo.Context) error {
	if c.alerts == nil {
		return c.HandleError(ctx, echo.NewHTTPError(http.StatusNotImplemented, "alert history disabled"), "alert history disabled")
	}
	limit, err := queryLimit(ctx, defaultAlertLimit)
	if err != nil {
		return c.HandleError(ctx, err, "invalid limit")
	}
	owner := ctx.Param("owner")
	events, err := c.alerts.List(ctx.Request().Context(), owner, limit)
	if err != nil {
		return c.HandleError(ctx, err, "failed to list alerts")
	}
	if events == nil {
		events = []care.Event{}
	}
	return ctx.JSON(http.StatusOK, AlertsResponse{OwnerID: owner, Alerts: events})
}
