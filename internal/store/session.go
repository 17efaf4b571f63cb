package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session is one pairing between exactly two participants. Sessions are
// created already matched; ended is terminal.
type Session struct {
	ID        string
	Mode      string
	Status    string
	CreatedAt time.Time
	EndedAt   time.Time
}

// GetSession retrieves a session by ID. Returns ErrNotFound for unknown IDs.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	const query = `SELECT id, mode, status, created_at, ended_at FROM sessions WHERE id = $1`

	var (
		sess    Session
		endedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sess.ID, &sess.Mode, &sess.Status, &sess.CreatedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	if endedAt.Valid {
		sess.EndedAt = endedAt.Time
	}
	return &sess, nil
}

// EndSession transitions a matched session to ended. Returns false when the
// session was already ended (or never matched) — the transition is idempotent
// under duplicate delivery, and a second end is a no-op, not an error.
func (s *Store) EndSession(ctx context.Context, id string) (bool, error) {
	const query = `
		UPDATE sessions
		SET status = $2, ended_at = NOW()
		WHERE id = $1 AND status = $3`

	res, err := s.db.ExecContext(ctx, query, id, StatusEnded, StatusMatched)
	if err != nil {
		return false, fmt.Errorf("store: end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: end session: %w", err)
	}
	return n == 1, nil
}

// PairSession atomically creates a matched session and binds both
// participants to it, or changes nothing. Each bind is guarded by the
// participant still seeking and unbound; if either guard fails — claimed by a
// concurrent pairing, withdrawn, gone — the transaction rolls back, no
// session row survives, and ok is false. This conditional bind is the sole
// mechanism keeping a participant out of two sessions at once.
func (s *Store) PairSession(ctx context.Context, sessionID, mode, aID, bID string) (*Session, bool, error) {
	const insertSession = `
		INSERT INTO sessions (id, mode, status, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING created_at`
	const bindParticipant = `
		UPDATE participants
		SET session_id = $2, seeking = FALSE
		WHERE id = $1 AND seeking = TRUE AND session_id IS NULL`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("store: pair session: begin: %w", err)
	}
	defer tx.Rollback()

	sess := &Session{ID: sessionID, Mode: mode, Status: StatusMatched}
	err = tx.QueryRowContext(ctx, insertSession, sessionID, mode, StatusMatched).Scan(&sess.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("store: pair session: create: %w", err)
	}

	for _, id := range []string{aID, bID} {
		res, err := tx.ExecContext(ctx, bindParticipant, id, sessionID)
		if err != nil {
			return nil, false, fmt.Errorf("store: pair session: bind %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, false, fmt.Errorf("store: pair session: bind %s: %w", id, err)
		}
		if n != 1 {
			// Guard failed; the deferred rollback undoes the session row and
			// any completed bind.
			return nil, false, nil
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("store: pair session: commit: %w", err)
	}
	return sess, true, nil
}

// SessionParticipants returns the participants currently bound to a session.
// While the session is matched this is exactly two rows; after it ends the
// bindings are cleared and the result is empty.
func (s *Store) SessionParticipants(ctx context.Context, sessionID string) ([]Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE session_id = $1`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: session participants: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan participant: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: session participants: %w", err)
	}
	return out, nil
}

// AbandonedSessions returns the IDs of matched sessions where no bound
// participant is still online. These are the sessions the reaper force-ends.
func (s *Store) AbandonedSessions(ctx context.Context) ([]string, error) {
	const query = `
		SELECT s.id
		FROM sessions s
		WHERE s.status = $1
		  AND NOT EXISTS (
			SELECT 1 FROM participants p
			WHERE p.session_id = s.id AND p.online = TRUE
		  )`

	rows, err := s.db.QueryContext(ctx, query, StatusMatched)
	if err != nil {
		return nil, fmt.Errorf("store: abandoned sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: abandoned sessions: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: abandoned sessions: %w", err)
	}
	return ids, nil
}

// CountMatchedSessions returns the number of sessions currently in matched
// status. Used for the active-sessions gauge.
func (s *Store) CountMatchedSessions(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM sessions WHERE status = $1`

	var n int
	if err := s.db.QueryRowContext(ctx, query, StatusMatched).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count matched sessions: %w", err)
	}
	return n, nil
}
