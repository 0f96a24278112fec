// Package api provides the HTTP control surface for the replay engine.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/traceplay/replayd/config"
	"github.com/traceplay/replayd/replay"
	"github.com/traceplay/replayd/store"
	"github.com/traceplay/replayd/ws"
)

// Handler handles HTTP requests.
type Handler struct {
	scheduler *replay.Scheduler
	store     store.Store
	ws        *ws.Server
	config    *config.Config
}

// NewHandler creates a new handler.
func NewHandler(scheduler *replay.Scheduler, st store.Store, wsServer *ws.Server, cfg *config.Config) *Handler {
	return &Handler{
		scheduler: scheduler,
		store:     st,
		ws:        wsServer,
		config:    cfg,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Replay control surface (for the recording orchestrator)
	e.POST("/api/replay/start", h.StartReplay)
	e.GET("/api/replay/status", h.GetReplayStatus)
	e.POST("/api/replay/stop", h.StopReplay)

	// Observer attach (for the rendering client)
	if h.ws != nil {
		e.GET("/ws", h.ws.HandleWebSocket)
	}

	// Virtual filesystem queries
	e.GET("/api/fs/exists", h.FSExists)
	e.GET("/api/fs/list", h.FSList)

	// Delivered-event history
	e.GET("/api/sessions/:session_id/events", h.GetSessionEvents)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
