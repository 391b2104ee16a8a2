package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"geoattend/internal/verdict"
)

// Repository persists classes and attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertClass creates a class or replaces its details and location.
func (r *Repository) UpsertClass(ctx context.Context, c Class) (Class, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO classes (id, name, course_code, room, latitude, longitude, radius)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), classes.name),
			course_code = COALESCE(NULLIF(EXCLUDED.course_code, ''), classes.course_code),
			room = COALESCE(NULLIF(EXCLUDED.room, ''), classes.room),
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			radius = EXCLUDED.radius,
			updated_at = NOW()
		RETURNING name, course_code, room, updated_at
	`, c.ID, c.Name, c.CourseCode, c.Room, c.Location.Point.Latitude, c.Location.Point.Longitude, c.Location.Radius)
	if err := row.Scan(&c.Name, &c.CourseCode, &c.Room, &c.UpdatedAt); err != nil {
		return Class{}, err
	}
	return c, nil
}

// GetClass returns a single class by id.
func (r *Repository) GetClass(ctx context.Context, id string) (Class, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, course_code, room, latitude, longitude, radius, updated_at
		FROM classes WHERE id = $1
	`, id)
	var c Class
	err := row.Scan(&c.ID, &c.Name, &c.CourseCode, &c.Room,
		&c.Location.Point.Latitude, &c.Location.Point.Longitude, &c.Location.Radius, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Class{}, ErrClassNotFound
	}
	if err != nil {
		return Class{}, err
	}
	return c, nil
}

const recordColumns = `id, session_id, student_id, status, outcome, latitude, longitude,
	accuracy, distance_meters, captured_at, marked_at`

// UpsertRecord writes the latest attempt for (session, student). The write
// only happens while the session row is active; the share lock holds off a
// concurrent completion until the record is in.
func (r *Repository) UpsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (`+recordColumns+`)
		SELECT $1::text, s.id, $3::text, $4::text, $5::text, $6::double precision, $7::double precision,
			$8::double precision, $9::double precision, $10::timestamptz, $11::timestamptz
		FROM attendance_sessions s
		WHERE s.id = $2 AND s.status = 'active'
		FOR SHARE
		ON CONFLICT (session_id, student_id) DO UPDATE SET
			status = EXCLUDED.status,
			outcome = EXCLUDED.outcome,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			accuracy = EXCLUDED.accuracy,
			distance_meters = EXCLUDED.distance_meters,
			captured_at = EXCLUDED.captured_at,
			marked_at = EXCLUDED.marked_at
		RETURNING id
	`, rec.ID, rec.SessionID, rec.StudentID, rec.Status, rec.Outcome, rec.Latitude, rec.Longitude,
		rec.Accuracy, rec.DistanceMeters, rec.CapturedAt, rec.MarkedAt)
	if err := row.Scan(&rec.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: session %s closed before the record was saved", verdict.ErrSessionNotActive, rec.SessionID)
		}
		return Record{}, err
	}
	return rec, nil
}

// GetRecord returns a single record by id.
func (r *Repository) GetRecord(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return rec, err
}

// ListRecords returns every record of a session, earliest mark first.
func (r *Repository) ListRecords(ctx context.Context, sessionID string) ([]Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM attendance_records
		WHERE session_id = $1 ORDER BY marked_at`, sessionID)
}

// ListProxyRecords returns the records of a session flagged for review.
func (r *Repository) ListProxyRecords(ctx context.Context, sessionID string) ([]Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM attendance_records
		WHERE session_id = $1 AND status = $2 ORDER BY marked_at`, sessionID, Proxy)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Status, &rec.Outcome,
		&rec.Latitude, &rec.Longitude, &rec.Accuracy, &rec.DistanceMeters, &rec.CapturedAt, &rec.MarkedAt)
	return rec, err
}
