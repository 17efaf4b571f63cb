package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Participant is one user's presence record. SessionID is empty while the
// participant is unbound; DepartedAt is zero until the participant stops or
// is reaped.
type Participant struct {
	ID              string
	DisplayName     string
	Gender          string
	PreferredGender string
	Seeking         bool
	SessionID       string
	Online          bool
	LastSeen        time.Time
	JoinedAt        time.Time
	DepartedAt      time.Time
}

const participantColumns = `id, display_name, gender, preferred_gender, seeking,
	session_id, online, last_seen, joined_at, departed_at`

func scanParticipant(row interface{ Scan(...any) error }) (*Participant, error) {
	var (
		p          Participant
		sessionID  sql.NullString
		departedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.DisplayName, &p.Gender, &p.PreferredGender,
		&p.Seeking, &sessionID, &p.Online, &p.LastSeen, &p.JoinedAt, &departedAt)
	if err != nil {
		return nil, err
	}
	if sessionID.Valid {
		p.SessionID = sessionID.String
	}
	if departedAt.Valid {
		p.DepartedAt = departedAt.Time
	}
	return &p, nil
}

// CreateParticipant inserts a new participant record. The caller supplies the
// identifier; seeking starts true and online starts true.
func (s *Store) CreateParticipant(ctx context.Context, p *Participant) error {
	const query = `
		INSERT INTO participants (id, display_name, gender, preferred_gender, seeking, online, last_seen, joined_at)
		VALUES ($1, $2, $3, $4, TRUE, TRUE, NOW(), NOW())`

	_, err := s.db.ExecContext(ctx, query, p.ID, p.DisplayName, p.Gender, p.PreferredGender)
	if err != nil {
		return fmt.Errorf("store: create participant: %w", err)
	}
	return nil
}

// GetParticipant retrieves a participant by ID. Returns ErrNotFound if the
// identifier is unknown.
func (s *Store) GetParticipant(ctx context.Context, id string) (*Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE id = $1`

	p, err := scanParticipant(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get participant: %w", err)
	}
	return p, nil
}

// GetParticipants loads the participant rows for a set of identifiers. The
// result order is unspecified; unknown IDs are simply absent.
func (s *Store) GetParticipants(ctx context.Context, ids []string) ([]Participant, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + participantColumns + ` FROM participants WHERE id = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("store: get participants: %w", err)
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
		return nil, fmt.Errorf("store: get participants: %w", err)
	}
	return out, nil
}

// Touch records a heartbeat: last_seen moves to now and the participant is
// marked online. Idempotent at any call rate. Departed participants are not
// resurrected.
func (s *Store) Touch(ctx context.Context, id string) error {
	const query = `
		UPDATE participants
		SET last_seen = NOW(), online = TRUE
		WHERE id = $1 AND departed_at IS NULL`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: touch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UnbindParticipant releases a participant from a session. When release is
// true the participant returns to seeking, but only if it is still online —
// offline participants are never left seeking. The update is conditional on
// the participant still referencing the given session, so ending the same
// session twice is a no-op.
func (s *Store) UnbindParticipant(ctx context.Context, id, sessionID string, release bool) error {
	const query = `
		UPDATE participants
		SET session_id = NULL, seeking = (online AND $3)
		WHERE id = $1 AND session_id = $2`

	_, err := s.db.ExecContext(ctx, query, id, sessionID, release)
	if err != nil {
		return fmt.Errorf("store: unbind participant: %w", err)
	}
	return nil
}

// SetSeeking flips the seeking flag for an online, unbound participant.
// Returns false if the participant is bound, offline, or departed.
func (s *Store) SetSeeking(ctx context.Context, id string, seeking bool) (bool, error) {
	const query = `
		UPDATE participants
		SET seeking = $2
		WHERE id = $1 AND session_id IS NULL AND online = TRUE AND departed_at IS NULL`

	res, err := s.db.ExecContext(ctx, query, id, seeking)
	if err != nil {
		return false, fmt.Errorf("store: set seeking: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkDeparted logically destroys a participant: offline, not seeking,
// unbound, departed_at set. The record itself is retained because message
// history references it. Idempotent.
func (s *Store) MarkDeparted(ctx context.Context, id string) error {
	const query = `
		UPDATE participants
		SET online = FALSE, seeking = FALSE, session_id = NULL,
		    departed_at = COALESCE(departed_at, NOW())
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: mark departed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkStaleOffline flips every online participant whose last heartbeat is
// older than the threshold to offline and not seeking, returning the affected
// IDs. Used by the reaper sweep.
func (s *Store) MarkStaleOffline(ctx context.Context, threshold time.Duration) ([]string, error) {
	const query = `
		UPDATE participants
		SET online = FALSE, seeking = FALSE
		WHERE online = TRUE AND last_seen < NOW() - $1 * INTERVAL '1 second'
		RETURNING id`

	rows, err := s.db.QueryContext(ctx, query, threshold.Seconds())
	if err != nil {
		return nil, fmt.Errorf("store: mark stale offline: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: mark stale offline: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: mark stale offline: %w", err)
	}
	return ids, nil
}
