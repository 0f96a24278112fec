package api

import (
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// GetSessionEvents returns the persisted delivered-event history for a
// session, in delivery order.
// GET /api/sessions/:session_id/events
func (h *Handler) GetSessionEvents(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	afterSeq, _ := strconv.Atoi(c.QueryParam("after_seq"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 100
	}

	// Check session exists
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to get session: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get session"})
	}
	if session == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	events, err := h.store.GetEvents(ctx, sessionID, afterSeq, limit+1)
	if err != nil {
		log.Printf("ERROR: failed to get events: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get events"})
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	var nextSeq int
	if hasMore && len(events) > 0 {
		nextSeq = events[len(events)-1].Seq
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session":  session,
		"events":   events,
		"has_more": hasMore,
		"next_seq": nextSeq,
	})
}
