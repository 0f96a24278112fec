// Package store defines the storage interface and implementations.
package store

import (
	"context"

	"github.com/traceplay/replayd/domain"
)

// Store defines the interface for replay persistence. The scheduler writes
// sessions, delivered events, and warnings as the replay progresses; the
// history API and tests read them back.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, rec *domain.SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error)
	UpdateSessionState(ctx context.Context, sessionID string, state domain.SessionState, errMsg string) error

	// Delivered event operations
	CreateEvent(ctx context.Context, rec *domain.EventRecord) error
	GetEvents(ctx context.Context, sessionID string, afterSeq int, limit int) ([]domain.EventRecord, error)

	// Warning operations
	CreateWarning(ctx context.Context, sessionID string, w domain.Warning) error
	GetWarnings(ctx context.Context, sessionID string) ([]domain.Warning, error)

	// Lifecycle
	Close() error
}
