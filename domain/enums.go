// Package domain defines the core domain models for the replay engine.
package domain

// SessionState represents the lifecycle state of a replay session.
type SessionState string

const (
	SessionStateIdle      SessionState = "IDLE"
	SessionStateRunning   SessionState = "RUNNING"
	SessionStateCompleted SessionState = "COMPLETED"
	SessionStateFailed    SessionState = "FAILED"
	SessionStateCancelled SessionState = "CANCELLED"
)

// Terminal reports whether the state can only be superseded by a new start.
func (s SessionState) Terminal() bool {
	return s == SessionStateCompleted || s == SessionStateFailed || s == SessionStateCancelled
}

// EventType represents the type of a recorded trajectory event.
type EventType string

const (
	EventTypeFileRead           EventType = "file_read"
	EventTypeFileWrite          EventType = "file_write"
	EventTypeFileEdit           EventType = "file_edit"
	EventTypeFileMove           EventType = "file_move"
	EventTypeFileRename         EventType = "file_rename"
	EventTypeFileCopy           EventType = "file_copy"
	EventTypeFileDelete         EventType = "file_delete"
	EventTypeFileSearch         EventType = "file_search"
	EventTypeFileBrowse         EventType = "file_browse"
	EventTypeDirCreate          EventType = "dir_create"
	EventTypeContextSwitch      EventType = "context_switch"
	EventTypeCrossFileReference EventType = "cross_file_reference"
	EventTypeErrorEncounter     EventType = "error_encounter"
	EventTypeErrorResponse      EventType = "error_response"
)

// knownEventTypes is the closed set accepted by the trajectory loader.
var knownEventTypes = map[EventType]bool{
	EventTypeFileRead:           true,
	EventTypeFileWrite:          true,
	EventTypeFileEdit:           true,
	EventTypeFileMove:           true,
	EventTypeFileRename:         true,
	EventTypeFileCopy:           true,
	EventTypeFileDelete:         true,
	EventTypeFileSearch:         true,
	EventTypeFileBrowse:         true,
	EventTypeDirCreate:          true,
	EventTypeContextSwitch:      true,
	EventTypeCrossFileReference: true,
	EventTypeErrorEncounter:     true,
	EventTypeErrorResponse:      true,
}

// ValidEventType reports whether t is in the fixed event type enumeration.
func ValidEventType(t EventType) bool {
	return knownEventTypes[t]
}

// WarningCode classifies non-fatal problems recorded during load or replay.
type WarningCode string

const (
	WarningMissingBlob     WarningCode = "missing_blob"
	WarningConflict        WarningCode = "conflict"
	WarningManifestMissing WarningCode = "manifest_missing"
	WarningSkipped         WarningCode = "skipped"
)
