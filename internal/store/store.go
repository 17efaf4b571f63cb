// Package store provides PostgreSQL-backed persistence for participants,
// sessions, and messages. All cross-participant exclusivity is enforced here
// through conditional updates; callers never hold in-process locks across
// store calls.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a lookup targets an identifier that does not
// exist (or no longer exists). Callers generally treat this the same as a
// session that has already ended.
var ErrNotFound = errors.New("store: record not found")

// Gender and preference values accepted for participants.
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderAny    = "any"
)

// Session status values.
const (
	StatusWaiting = "waiting"
	StatusMatched = "matched"
	StatusEnded   = "ended"
)

// Chat modes. Only text transport is implemented; the column is kept so
// session records stay forward-compatible.
const (
	ModeText  = "text"
	ModeAudio = "audio"
	ModeVideo = "video"
)

// Store wraps the database handle shared by the participant, session, and
// message operations.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL, verifies the connection, and applies any
// pending schema migrations. The returned Store is ready for use.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle without running migrations.
// Used by tests that manage their own schema lifecycle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
