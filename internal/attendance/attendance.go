package attendance

import (
	"context"
	"errors"
	"time"

	"geoattend/internal/verdict"
)

var (
	ErrClassNotFound  = errors.New("class not found")
	ErrRecordNotFound = errors.New("attendance record not found")
	ErrInvalidClass   = errors.New("invalid class")
)

// Class is a course offering with a fixed room location.
type Class struct {
	ID         string                    `json:"id"`
	Name       string                    `json:"name"`
	CourseCode string                    `json:"course_code"`
	Room       string                    `json:"room"`
	Location   verdict.ReferenceLocation `json:"location"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// RecordStatus is the attendance mark kept for a student in a session.
type RecordStatus string

const (
	Present RecordStatus = "present"
	Proxy   RecordStatus = "proxy"
	Absent  RecordStatus = "absent"
)

// StatusFor maps a classified outcome to the stored mark. Device errors have
// no mark.
func StatusFor(s verdict.Status) (RecordStatus, bool) {
	switch s {
	case verdict.Verified:
		return Present, true
	case verdict.ProxySuspect:
		return Proxy, true
	case verdict.OutOfRange:
		return Absent, true
	}
	return "", false
}

// Record is the latest verified attempt of a student in a session.
type Record struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	StudentID      string         `json:"student_id"`
	Status         RecordStatus   `json:"status"`
	Outcome        verdict.Status `json:"outcome"`
	Latitude       float64        `json:"latitude"`
	Longitude      float64        `json:"longitude"`
	Accuracy       float64        `json:"accuracy"`
	DistanceMeters float64        `json:"distance_meters"`
	CapturedAt     time.Time      `json:"captured_at"`
	MarkedAt       time.Time      `json:"marked_at"`
}

// Store persists classes and attendance records.
type Store interface {
	UpsertClass(ctx context.Context, c Class) (Class, error)
	GetClass(ctx context.Context, id string) (Class, error)
	// UpsertRecord keeps one record per (session, student); a later call
	// overwrites the earlier one and keeps its id.
	UpsertRecord(ctx context.Context, r Record) (Record, error)
	GetRecord(ctx context.Context, id string) (Record, error)
	ListRecords(ctx context.Context, sessionID string) ([]Record, error)
	ListProxyRecords(ctx context.Context, sessionID string) ([]Record, error)
}
