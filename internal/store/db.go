package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return &DB{Client: db}, db.PingContext(ctx)
}

// Healthy verifies database connectivity.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Migrate creates the tables the service needs if they are missing.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.Client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS classes (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	course_code  TEXT NOT NULL DEFAULT '',
	room         TEXT NOT NULL DEFAULT '',
	latitude     DOUBLE PRECISION NOT NULL,
	longitude    DOUBLE PRECISION NOT NULL,
	radius       DOUBLE PRECISION NOT NULL CHECK (radius > 0),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS attendance_sessions (
	id                  TEXT PRIMARY KEY,
	class_id            TEXT NOT NULL,
	teacher_id          TEXT NOT NULL,
	status              TEXT NOT NULL CHECK (status IN ('scheduled', 'active', 'completed')),
	start_time          TIMESTAMPTZ NOT NULL,
	end_time            TIMESTAMPTZ NOT NULL,
	teacher_lat         DOUBLE PRECISION,
	teacher_lng         DOUBLE PRECISION,
	teacher_located_at  TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_sessions_active_end ON attendance_sessions(end_time) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS attendance_records (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL REFERENCES attendance_sessions(id),
	student_id       TEXT NOT NULL,
	status           TEXT NOT NULL CHECK (status IN ('present', 'proxy', 'absent')),
	outcome          TEXT NOT NULL,
	latitude         DOUBLE PRECISION NOT NULL,
	longitude        DOUBLE PRECISION NOT NULL,
	accuracy         DOUBLE PRECISION NOT NULL DEFAULT 0,
	distance_meters  DOUBLE PRECISION NOT NULL,
	captured_at      TIMESTAMPTZ NOT NULL,
	marked_at        TIMESTAMPTZ NOT NULL,
	UNIQUE (session_id, student_id)
);

CREATE INDEX IF NOT EXISTS idx_records_session_status ON attendance_records(session_id, status);
`
