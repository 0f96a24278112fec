package domain

import (
	"encoding/json"
	"time"
)

// Event is one recorded action from a trajectory file.
//
// Timestamp is in seconds relative to trajectory start (t=0) and is never
// negative. Index is the record's position in the original file; it breaks
// ties between events sharing a timestamp.
type Event struct {
	Type      EventType `json:"event_type"`
	Timestamp float64   `json:"timestamp"`
	Index     int       `json:"index"`

	// Payload fields. Which of these are set depends on Type.
	FilePath string `json:"file_path,omitempty"`
	OldPath  string `json:"old_path,omitempty"`
	NewPath  string `json:"new_path,omitempty"`
	DirPath  string `json:"dir_path,omitempty"`

	// Content reference for file_write / file_edit, and the hydrated
	// content once resolved against the blob manifest.
	ContentRef string `json:"content_ref,omitempty"`
	Content    string `json:"content,omitempty"`

	// Free-form metadata for search/browse/context_switch/
	// cross_file_reference/error_* events.
	Meta json.RawMessage `json:"meta,omitempty"`
}

// Trajectory is an immutable ordered sequence of events, sorted by
// (timestamp, original index). It is owned by one replay session for its
// lifetime and read-only once loaded.
type Trajectory []Event

// BlobManifest maps a content-reference ID to stored content for
// file_write / file_edit events.
type BlobManifest map[string]string

// Warning records a non-fatal problem (structural conflict, missing blob)
// observed while loading or replaying a trajectory.
type Warning struct {
	EventIndex int         `json:"event_index"`
	Code       WarningCode `json:"code"`
	Message    string      `json:"message"`
}

// SessionSnapshot is the externally visible view of a replay session,
// returned by the status operation.
type SessionSnapshot struct {
	SessionID      string       `json:"session_id"`
	State          SessionState `json:"state"`
	TrajectoryPath string       `json:"trajectory_path,omitempty"`
	Speed          float64      `json:"speed"`
	VirtualClock   float64      `json:"virtual_clock"`
	Cursor         int          `json:"cursor"`
	TotalEvents    int          `json:"total_events"`
	StartedAt      time.Time    `json:"started_at,omitempty"`
	EndedAt        *time.Time   `json:"ended_at,omitempty"`
	Error          string       `json:"error,omitempty"`
	Warnings       []Warning    `json:"warnings"`
}

// DeliveredEvent is the envelope pushed to observers for one due event.
type DeliveredEvent struct {
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Total     int       `json:"total"`
	Event     Event     `json:"event"`
	SentAt    time.Time `json:"sent_at"`
}

// SessionRecord is the persisted form of a replay session.
type SessionRecord struct {
	SessionID      string       `json:"session_id"`
	TrajectoryPath string       `json:"trajectory_path"`
	Speed          float64      `json:"speed"`
	State          SessionState `json:"state"`
	TotalEvents    int          `json:"total_events"`
	StartedAt      time.Time    `json:"started_at"`
	EndedAt        *time.Time   `json:"ended_at,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// EventRecord is the persisted form of one delivered event.
type EventRecord struct {
	EventID   string          `json:"event_id"`
	SessionID string          `json:"session_id"`
	Seq       int             `json:"seq"`
	Ts        float64         `json:"ts"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ListingEntry is one entry of the initial workspace listing used to seed
// the virtual filesystem model.
type ListingEntry struct {
	Path string `json:"path"`
	Kind string `json:"kind"` // "file" or "directory"
}
