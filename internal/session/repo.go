package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/geo"
)

// PostgresRepository persists sessions in the attendance_sessions table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, class_id, teacher_id, status, start_time, end_time,
	teacher_lat, teacher_lng, teacher_located_at, created_at, updated_at`

// Create inserts a new session.
func (r *PostgresRepository) Create(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_sessions (id, class_id, teacher_id, status, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, s.ID, s.ClassID, s.TeacherID, s.Status, s.StartTime, s.EndTime)
	if err := row.Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Get returns a single session by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

// SetStatus moves a session from one status to another atomically.
func (r *PostgresRepository) SetStatus(ctx context.Context, id string, from, to Status) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrStatusConflict
}

// SetTeacherLocation stores the teacher's live position.
func (r *PostgresRepository) SetTeacherLocation(ctx context.Context, id string, loc TeacherLocation) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET teacher_lat = $2, teacher_lng = $3, teacher_located_at = $4, updated_at = NOW()
		WHERE id = $1
	`, id, loc.Point.Latitude, loc.Point.Longitude, loc.RecordedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExpired returns active sessions whose end time is not after now.
func (r *PostgresRepository) ListExpired(ctx context.Context, now time.Time) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE status = 'active' AND end_time <= $1
		ORDER BY end_time
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		s         Session
		lat, lng  sql.NullFloat64
		locatedAt sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.ClassID, &s.TeacherID, &s.Status, &s.StartTime, &s.EndTime,
		&lat, &lng, &locatedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Session{}, err
	}
	if lat.Valid && lng.Valid {
		s.TeacherLocation = &TeacherLocation{
			Point:      geo.GeoPoint{Latitude: lat.Float64, Longitude: lng.Float64},
			RecordedAt: locatedAt.Time,
		}
	}
	return s, nil
}
