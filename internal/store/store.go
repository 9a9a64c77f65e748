// Package store is the conversation store adapter: the only component
// that touches durable message state. It persists messages, the outreach
// log, and the participant catalog in SQLite, and emits one change event
// per message insert through the configured Notifier.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/snapconnect/persona-engine/internal/model"
	"github.com/snapconnect/persona-engine/pkg/logger"
)

//go:embed schema.sql
var schemaSQL string

// Notifier receives one MessageCreated per persisted insert. Delivery to
// downstream consumers is at-least-once; the insert itself is never
// rolled back by a notification failure.
type Notifier interface {
	MessageCreated(ctx context.Context, msg *model.Message) error
}

// Store provides durable storage for messages and outreach records.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db       *sql.DB
	notifier Notifier
	log      *logger.Logger

	now func() time.Time
}

// Open creates or opens a SQLite database at the given path and applies
// pragmas and the schema. Idempotent.
func Open(path string, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent listener/scheduler writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, log: log, now: time.Now}, nil
}

// SetNotifier attaches the change-event publisher. Must be called before
// the first insert that should be observed downstream.
func (s *Store) SetNotifier(n Notifier) {
	s.notifier = n
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the store is reachable. Used by the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &model.StorageUnavailable{Op: "ping", Err: err}
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// millis converts a time to the unix-millisecond encoding used by every
// timestamp column.
func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
