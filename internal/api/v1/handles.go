package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/verdant-app/verdant/internal/api/middleware"
	"github.com/verdant-app/verdant/internal/errors"
	"github.com/verdant-app/verdant/internal/handles"
)

const defaultSearchLimit = 20

// HandleResponse describes one handle and its holder
type HandleResponse struct {
	Handle string `json:"handle"`
	UserID string `json:"user_id,omitempty"`
}

// AvailabilityResponse is the body of GET /handles/:handle/available
type AvailabilityResponse struct {
	Handle    string `json:"handle"`
	Available bool   `json:"available"`
}

// SearchResponse is the body of GET /handles
type SearchResponse struct {
	Prefix  string   `json:"prefix"`
	Handles []string `json:"handles"`
}

// ClaimRequest is the body of POST /handles
type ClaimRequest struct {
	Handle string `json:"handle"`
	UserID string `json:"user_id"`
}

// RenameRequest is the body of PUT /users/:uid/handle. An empty Previous
// means the user's current handle, if any.
type RenameRequest struct {
	Handle   string `json:"handle"`
	Previous string `json:"previous,omitempty"`
}

func (c *Controller) initHandleRoutes() {
	limited := middleware.NewRateLimiter(c.limit.PerSecond, c.limit.Burst)

	c.Group.GET("/handles", c.SearchHandles, limited)
	c.Group.POST("/handles", c.ClaimHandle)
	c.Group.GET("/handles/:handle", c.ResolveHandle, limited)
	c.Group.GET("/handles/:handle/available", c.HandleAvailable, limited)
	c.Group.DELETE("/handles/:handle", c.ReleaseHandle)
	c.Group.PUT("/users/:uid/handle", c.RenameHandle)
	c.Group.GET("/users/:uid/handle", c.UserHandle)
}

func (c *Controller) SearchHandles(ctx echo.Context) error {
	limit, err := queryLimit(ctx, defaultSearchLimit)
	if err != nil {
		return c.HandleError(ctx, err, "invalid limit")
	}
	prefix := handles.Normalize(ctx.QueryParam("prefix"))
	found, err := c.handles.Search(ctx.Request().Context(), prefix, limit)
	if err != nil {
		return c.HandleError(ctx, err, "failed to search handles")
	}
	return ctx.JSON(http.StatusOK, SearchResponse{Prefix: prefix, Handles: found})
}

func (c *Controller) ResolveHandle(ctx echo.Context) error {
	handle := handles.Normalize(ctx.Param("handle"))
	userID, found, err := c.handles.Resolve(ctx.Request().Context(), handle)
	if err != nil {
		return c.HandleError(ctx, err, "failed to resolve handle")
	}
	if !found {
		return c.HandleError(ctx, notFound(handle), "handle not found")
	}
	return ctx.JSON(http.StatusOK, HandleResponse{Handle: handle, UserID: userID})
}

// HandleAvailable reports whether a handle can be claimed right now. The
// answer does not reserve the handle.
func (c *Controller) HandleAvailable(ctx echo.Context) error {
	handle := handles.Normalize(ctx.Param("handle"))
	available, err := c.handles.IsAvailable(ctx.Request().Context(), handle)
	if err != nil {
		return c.HandleError(ctx, err, "failed to check handle")
	}
	return ctx.JSON(http.StatusOK, AvailabilityResponse{Handle: handle, Available: available})
}

func (c *Controller) ClaimHandle(ctx echo.Context) error {
	var req ClaimRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, badRequest("invalid request body"), "failed to parse claim")
	}
	if err := c.handles.Claim(ctx.Request().Context(), req.Handle, req.UserID); err != nil {
		return c.HandleError(ctx, err, "failed to claim handle")
	}
	return ctx.JSON(http.StatusCreated, HandleResponse{Handle: handles.Normalize(req.Handle), UserID: req.UserID})
}

func (c *Controller) ReleaseHandle(ctx echo.Context) error {
	if err := c.handles.Release(ctx.Request().Context(), ctx.Param("handle")); err != nil {
		return c.HandleError(ctx, err, "failed to release handle")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// RenameHandle moves a user to a new handle in one transaction
func (c *Controller) RenameHandle(ctx echo.Context) error {
	uid := ctx.Param("uid")
	var req RenameRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, badRequest("invalid request body"), "failed to parse rename")
	}

	if err := c.handles.Rename(ctx.Request().Context(), req.Previous, req.Handle, uid); err != nil {
		return c.HandleError(ctx, err, "failed to rename handle")
	}
	return ctx.JSON(http.StatusOK, HandleResponse{Handle: handles.Normalize(req.Handle), UserID: uid})
}

func (c *Controller) UserHandle(ctx echo.Context) error {
	uid := ctx.Param("uid")
	handle, ok, err := c.handles.HandleOf(ctx.Request().Context(), uid)
	if err != nil {
		return c.HandleError(ctx, err, "failed to look up handle")
	}
	if !ok {
		return c.HandleError(ctx, notFound(uid), "user has no handle")
	}
	return ctx.JSON(http.StatusOK, HandleResponse{Handle: handle, UserID: uid})
}

func notFound(handle string) error {
	return errors.New(handles.ErrNotFound).
		Component("api").
		Category(errors.CategoryNotFound).
		Context("handle", handle).
		Build()
}
