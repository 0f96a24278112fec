package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/traceplay/replayd/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS replay_sessions (
			session_id TEXT PRIMARY KEY,
			trajectory_path TEXT NOT NULL,
			speed REAL NOT NULL,
			state TEXT NOT NULL,
			total_events INTEGER NOT NULL,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS replay_events (
			event_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts REAL NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (session_id) REFERENCES replay_sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_replay_events_session ON replay_events(session_id, seq)`,
		`CREATE TABLE IF NOT EXISTS replay_warnings (
			session_id TEXT NOT NULL,
			event_index INTEGER NOT NULL,
			code TEXT NOT NULL,
			message TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES replay_sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_replay_warnings_session ON replay_warnings(session_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new replay session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, rec *domain.SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO replay_sessions (session_id, trajectory_path, speed, state, total_events, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.TrajectoryPath, rec.Speed, rec.State, rec.TotalEvents, rec.StartedAt)
	return err
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var endedAt sql.NullTime
	var errMsg sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, trajectory_path, speed, state, total_events, started_at, ended_at, error FROM replay_sessions WHERE session_id = ?`,
		sessionID).Scan(&rec.SessionID, &rec.TrajectoryPath, &rec.Speed, &rec.State, &rec.TotalEvents, &rec.StartedAt, &endedAt, &errMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		rec.EndedAt = &endedAt.Time
	}
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	return &rec, nil
}

// UpdateSessionState moves a session to a new state, stamping ended_at for
// terminal states.
func (s *SQLiteStore) UpdateSessionState(ctx context.Context, sessionID string, state domain.SessionState, errMsg string) error {
	var errVal sql.NullString
	if errMsg != "" {
		errVal = sql.NullString{String: errMsg, Valid: true}
	}
	if state.Terminal() {
		_, err := s.db.ExecContext(ctx,
			`UPDATE replay_sessions SET state = ?, ended_at = ?, error = ? WHERE session_id = ?`,
			state, time.Now(), errVal, sessionID)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE replay_sessions SET state = ?, error = ? WHERE session_id = ?`,
		state, errVal, sessionID)
	return err
}

// CreateEvent inserts one delivered event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, rec *domain.EventRecord) error {
	payload := ""
	if rec.Payload != nil {
		payload = string(rec.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO replay_events (event_id, session_id, seq, ts, type, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.SessionID, rec.Seq, rec.Ts, rec.Type, payload)
	return err
}

// GetEvents retrieves delivered events for a session in delivery order.
func (s *SQLiteStore) GetEvents(ctx context.Context, sessionID string, afterSeq int, limit int) ([]domain.EventRecord, error) {
	query := `SELECT event_id, session_id, seq, ts, type, payload FROM replay_events WHERE session_id = ? AND seq > ? ORDER BY seq ASC`
	args := []interface{}{sessionID, afterSeq}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.EventRecord
	for rows.Next() {
		var rec domain.EventRecord
		var payload sql.NullString
		if err := rows.Scan(&rec.EventID, &rec.SessionID, &rec.Seq, &rec.Ts, &rec.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			rec.Payload = json.RawMessage(payload.String)
		}
		events = append(events, rec)
	}
	return events, rows.Err()
}

// CreateWarning inserts one warning row.
func (s *SQLiteStore) CreateWarning(ctx context.Context, sessionID string, w domain.Warning) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO replay_warnings (session_id, event_index, code, message) VALUES (?, ?, ?, ?)`,
		sessionID, w.EventIndex, w.Code, w.Message)
	return err
}

// GetWarnings retrieves all warnings recorded for a session.
func (s *SQLiteStore) GetWarnings(ctx context.Context, sessionID string) ([]domain.Warning, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_index, code, message FROM replay_warnings WHERE session_id = ? ORDER BY rowid ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var warnings []domain.Warning
	for rows.Next() {
		var w domain.Warning
		if err := rows.Scan(&w.EventIndex, &w.Code, &w.Message); err != nil {
			return nil, err
		}
		warnings = append(warnings, w)
	}
	return warnings, rows.Err()
}
