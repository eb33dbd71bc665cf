// Package calllog persists call outcomes: ended calls, transfers to a
// live agent and completed contact collections, with their transcript.
package calllog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avvvet/taxline-intent/internal/session"
	"github.com/avvvet/taxline-intent/internal/transcript"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Event kinds.
const (
	EventEnded            = "ended"
	EventTransferred      = "transferred"
	EventContactCollected = "contact_collected"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Event is one row of the call log.
type Event struct {
	ID          int64
	SessionID   string
	Kind        string
	Reason      string
	ResponseKey string
	State       string
	Contact     session.ContactDetails
	Turns       int
	Transcript  []transcript.Entry
	CreatedAt   time.Time
}

// Sink receives call events.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards events. Used when no call log is configured.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// SQLiteStore writes call events to a SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and
// applies migrations.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("call log path not set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create call log directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping call log: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run call log migrations: %w", err)
	}
	logger.Debug("call log ready", zap.String("path", path))

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Record inserts ev. A zero CreatedAt is set to now.
func (s *SQLiteStore) Record(ctx context.Context, ev Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Transcript == nil {
		ev.Transcript = []transcript.Entry{}
	}
	lines, err := json.Marshal(ev.Transcript)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO call_events (session_id, event, reason, response_key, state, name, email, phone, turns, transcript, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.Kind, ev.Reason, ev.ResponseKey, ev.State,
		ev.Contact.Name, ev.Contact.Email, ev.Contact.Phone,
		ev.Turns, string(lines), ev.CreatedAt)
	if err != nil {
		s.logger.Error("call log insert failed", zap.Error(err), zap.String("session_id", ev.SessionID))
		return fmt.Errorf("failed to insert call event for %s: %w", ev.SessionID, err)
	}
	return nil
}

// Events returns every event recorded for sessionID, oldest first.
func (s *SQLiteStore) Events(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event, reason, response_key, state, name, email, phone, turns, transcript, created_at
		 FROM call_events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query call events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var lines string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &ev.Reason, &ev.ResponseKey, &ev.State,
			&ev.Contact.Name, &ev.Contact.Email, &ev.Contact.Phone, &ev.Turns, &lines, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan call event: %w", err)
		}
		if err := json.Unmarshal([]byte(lines), &ev.Transcript); err != nil {
			return nil, fmt.Errorf("failed to parse transcript: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate call events: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
