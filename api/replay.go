package api

import (
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/traceplay/replayd/domain"
	"github.com/traceplay/replayd/replay"
	"github.com/traceplay/replayd/trajectory"
	"github.com/traceplay/replayd/vfs"
)

// StartReplayRequest is the body of POST /api/replay/start.
type StartReplayRequest struct {
	Path          string   `json:"path"`
	Speed         *float64 `json:"speed"`
	ManifestPath  string   `json:"manifest_path"`
	WorkspacePath string   `json:"workspace_path"`
}

// StartReplay loads a trajectory and starts a replay session.
// POST /api/replay/start
func (h *Handler) StartReplay(c echo.Context) error {
	var req StartReplayRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	path := req.Path
	if path == "" {
		path = h.config.EventsPath
	}
	speed := h.config.Speed
	if req.Speed != nil {
		speed = *req.Speed
	}
	if speed <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"code":  "invalid_speed",
			"error": "speed must be positive",
		})
	}

	traj, err := trajectory.Load(path)
	if err != nil {
		return h.startError(c, path, err)
	}

	manifestPath := req.ManifestPath
	if manifestPath == "" {
		manifestPath = h.config.ManifestPath
	}
	manifest, warnings, err := trajectory.LoadManifest(manifestPath)
	if err != nil {
		return h.startError(c, manifestPath, err)
	}
	warnings = append(warnings, trajectory.Resolve(traj, manifest)...)

	workspacePath := req.WorkspacePath
	if workspacePath == "" {
		workspacePath = h.config.WorkspacePath
	}
	listing, err := vfs.LoadListing(workspacePath)
	if err != nil {
		return h.startError(c, workspacePath, err)
	}
	model := vfs.New()
	model.Seed(listing)

	snapshot, err := h.scheduler.Start(replay.StartRequest{
		TrajectoryPath: path,
		Trajectory:     traj,
		Model:          model,
		Speed:          speed,
		Warnings:       warnings,
	})
	if err != nil {
		switch {
		case errors.Is(err, replay.ErrAlreadyRunning):
			return c.JSON(http.StatusConflict, map[string]string{
				"code":  "already_running",
				"error": err.Error(),
			})
		case errors.Is(err, replay.ErrInvalidSpeed):
			return c.JSON(http.StatusBadRequest, map[string]string{
				"code":  "invalid_speed",
				"error": err.Error(),
			})
		}
		log.Printf("ERROR: failed to start replay: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to start replay"})
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"session_id": snapshot.SessionID,
		"state":      snapshot,
	})
}

// startError maps loader failures to HTTP responses: missing input files are
// 404, validation failures are 400 with the validation code.
func (h *Handler) startError(c echo.Context, path string, err error) error {
	var verr *trajectory.ValidationError
	if errors.As(err, &verr) {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"code":  verr.Code,
			"error": verr.Error(),
			"index": verr.Index,
		})
	}
	if errors.Is(err, os.ErrNotExist) {
		return c.JSON(http.StatusNotFound, map[string]string{
			"code":  "file_not_found",
			"error": "input file not found: " + path,
		})
	}
	log.Printf("ERROR: failed to load replay input: %v", err)
	return c.JSON(http.StatusBadRequest, map[string]string{
		"code":  "invalid_input",
		"error": err.Error(),
	})
}

// GetReplayStatus returns the current session snapshot.
// GET /api/replay/status
func (h *Handler) GetReplayStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"state": h.scheduler.Status(),
	})
}

// StopReplay cancels the running session. Idempotent against sessions that
// are not running.
// POST /api/replay/stop
func (h *Handler) StopReplay(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"state": h.scheduler.Stop(),
	})
}

// FSExists reports whether a path exists in the virtual filesystem model.
// GET /api/fs/exists?path=
func (h *Handler) FSExists(c echo.Context) error {
	path := c.QueryParam("path")
	model := h.scheduler.Model()
	exists := model != nil && model.Exists(path)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"path":   path,
		"exists": exists,
	})
}

// FSList returns the immediate children of a directory in the model.
// GET /api/fs/list?path=
func (h *Handler) FSList(c echo.Context) error {
	path := c.QueryParam("path")
	model := h.scheduler.Model()
	entries := []domain.ListingEntry{}
	if model != nil {
		entries = model.ListChildren(path)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"path":    path,
		"entries": entries,
		"total":   len(entries),
	})
}
