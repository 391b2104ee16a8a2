package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geoattend/internal/geo"
)

// Status is the lifecycle state of an attendance session.
type Status string

const (
	Scheduled Status = "scheduled"
	Active    Status = "active"
	Completed Status = "completed"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrStatusConflict    = errors.New("session status changed concurrently")
	ErrInvalidSession    = errors.New("invalid session")
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == Scheduled || s == Active || s == Completed
}

// CanTransition reports whether from -> to is allowed. Completed is terminal.
func CanTransition(from, to Status) bool {
	return (from == Scheduled && to == Active) || (from == Active && to == Completed)
}

// TeacherLocation is the teacher's live position for a session.
type TeacherLocation struct {
	Point      geo.GeoPoint `json:"point"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// Session is one occurrence of a class during which attendance is taken.
type Session struct {
	ID              string           `json:"id"`
	ClassID         string           `json:"class_id"`
	TeacherID       string           `json:"teacher_id"`
	Status          Status           `json:"status"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         time.Time        `json:"end_time"`
	TeacherLocation *TeacherLocation `json:"teacher_location,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Snapshot is the immutable view of a session the verdict engine works on.
type Snapshot struct {
	Status          Status
	TeacherLocation *geo.GeoPoint
}

// Snapshot copies the fields verification depends on.
func (s Session) Snapshot() Snapshot {
	snap := Snapshot{Status: s.Status}
	if s.TeacherLocation != nil {
		p := s.TeacherLocation.Point
		snap.TeacherLocation = &p
	}
	return snap
}

func (s Session) validate() error {
	if s.ClassID == "" || s.TeacherID == "" {
		return fmt.Errorf("%w: class and teacher required", ErrInvalidSession)
	}
	if s.StartTime.IsZero() || !s.EndTime.After(s.StartTime) {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidSession)
	}
	return nil
}

// Repository persists sessions. SetStatus is a compare-and-set: it fails with
// ErrStatusConflict when the stored status is not from.
type Repository interface {
	Create(ctx context.Context, s Session) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	SetStatus(ctx context.Context, id string, from, to Status) error
	SetTeacherLocation(ctx context.Context, id string, loc TeacherLocation) error
	ListExpired(ctx context.Context, now time.Time) ([]Session, error)
}
