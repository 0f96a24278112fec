package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/traceplay/replayd/domain"
)

func getSessionEvents(t *testing.T, h *Handler, sessionID, query string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sessionID+"/events"+query, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("session_id")
	c.SetParamValues(sessionID)
	if err := h.GetSessionEvents(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func TestGetSessionEventsUnknownSession(t *testing.T) {
	h := newTestHandler(t)

	rec := getSessionEvents(t, h, "rs_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSessionEventsHistory(t *testing.T) {
	h := newTestHandler(t)
	events := writeFixture(t, "events.json", `[
		{"event_type": "file_write", "timestamp": 0, "file_path": "a.go"},
		{"event_type": "file_write", "timestamp": 0, "file_path": "b.go"},
		{"event_type": "file_write", "timestamp": 0, "file_path": "c.go"}
	]`)

	start := postStart(t, h, `{"path": "`+events+`"}`)
	assert.Equal(t, http.StatusAccepted, start.Code)
	sessionID := decodeBody(t, start)["session_id"].(string)

	waitForState(t, h, domain.SessionStateCompleted)

	rec := getSessionEvents(t, h, sessionID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["has_more"])
	assert.Len(t, body["events"], 3)

	session := body["session"].(map[string]interface{})
	assert.Equal(t, string(domain.SessionStateCompleted), session["state"])
}

func TestGetSessionEventsPaging(t *testing.T) {
	h := newTestHandler(t)
	events := writeFixture(t, "events.json", `[
		{"event_type": "file_write", "timestamp": 0, "file_path": "a.go"},
		{"event_type": "file_write", "timestamp": 0, "file_path": "b.go"},
		{"event_type": "file_write", "timestamp": 0, "file_path": "c.go"}
	]`)

	start := postStart(t, h, `{"path": "`+events+`"}`)
	sessionID := decodeBody(t, start)["session_id"].(string)
	waitForState(t, h, domain.SessionStateCompleted)

	rec := getSessionEvents(t, h, sessionID, "?limit=2")
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["has_more"])
	assert.Len(t, body["events"], 2)
	assert.Equal(t, float64(2), body["next_seq"])

	rec = getSessionEvents(t, h, sessionID, "?after_seq=2&limit=2")
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["has_more"])
	assert.Len(t, body["events"], 1)
}
