package session

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists sessions and attendees in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Constraint names are part of the contract: insert failures are classified
// into duplicate kinds by the violated constraint.
const (
	constraintMatric = "uq_attendees_session_matric"
	constraintDevice = "uq_attendees_session_device"
)

// InitSchema creates tables and the uniqueness constraints the gate relies on.
func (r *Repository) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			lecture_name TEXT NOT NULL,
			duration_minutes INT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ends_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			secret TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS attendees (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			full_name TEXT NOT NULL,
			matric_number TEXT NOT NULL,
			level TEXT NOT NULL,
			device_id TEXT NOT NULL,
			submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT ` + constraintMatric + ` UNIQUE (session_id, matric_number),
			CONSTRAINT ` + constraintDevice + ` UNIQUE (session_id, device_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attendees_session_submitted
			ON attendees (session_id, submitted_at)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateSession writes a new session row.
func (r *Repository) CreateSession(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, lecture_name, duration_minutes, started_at, ends_at, expires_at, status, secret)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, s.ID, s.LectureName, s.DurationMinutes, s.StartedAt, s.EndsAt, s.ExpiresAt, s.Status, s.Secret)
	return err
}

// GetSession returns a session by id, including the secret.
func (r *Repository) GetSession(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, lecture_name, duration_minutes, started_at, ends_at, expires_at, status, secret, created_at
		FROM sessions WHERE id = $1
	`, id)
	var s Session
	if err := row.Scan(&s.ID, &s.LectureName, &s.DurationMinutes, &s.StartedAt, &s.EndsAt,
		&s.ExpiresAt, &s.Status, &s.Secret, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}

// MarkEnded sets status to ended. Safe to race: concurrent observers of the
// time-based transition all issue the same write and losing costs nothing.
func (r *Repository) MarkEnded(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET status = 'ended' WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertAttendee writes one attendance record under the two per-session
// uniqueness constraints. submitted_at is assigned by the database.
func (r *Repository) InsertAttendee(ctx context.Context, a Attendee) (Attendee, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendees (id, session_id, full_name, matric_number, level, device_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING submitted_at
	`, a.ID, a.SessionID, a.FullName, a.MatricNumber, a.Level, a.DeviceID)
	if err := row.Scan(&a.SubmittedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case constraintMatric:
				return Attendee{}, ErrDuplicateMatric
			case constraintDevice:
				return Attendee{}, ErrDuplicateDevice
			}
		}
		return Attendee{}, err
	}
	return a, nil
}

// ListAttendees returns a session's attendees in submission order.
func (r *Repository) ListAttendees(ctx context.Context, sessionID string) ([]Attendee, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, full_name, matric_number, level, device_id, submitted_at
		FROM attendees
		WHERE session_id = $1
		ORDER BY submitted_at, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Attendee
	for rows.Next() {
		var a Attendee
		if err := rows.Scan(&a.ID, &a.SessionID, &a.FullName, &a.MatricNumber,
			&a.Level, &a.DeviceID, &a.SubmittedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// DeleteAttendee removes one attendee, scoped to the session so an id from a
// different session cannot be removed. Returns the deleted record.
func (r *Repository) DeleteAttendee(ctx context.Context, sessionID, attendeeID string) (Attendee, error) {
	row := r.db.QueryRowContext(ctx, `
		DELETE FROM attendees
		WHERE id = $1 AND session_id = $2
		RETURNING id, session_id, full_name, matric_number, level, device_id, submitted_at
	`, attendeeID, sessionID)
	var a Attendee
	if err := row.Scan(&a.ID, &a.SessionID, &a.FullName, &a.MatricNumber,
		&a.Level, &a.DeviceID, &a.SubmittedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attendee{}, ErrNotFound
		}
		return Attendee{}, err
	}
	return a, nil
}
