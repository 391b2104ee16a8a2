// Package attemptlog keeps an append-only trail of every verification
// attempt, including device failures and rejected requests, for audit.
package attemptlog

import (
	"context"
	"time"
)

// Attempt is one call to mark attendance, whatever its result.
type Attempt struct {
	SessionID      string    `bson:"session_id" json:"session_id"`
	StudentID      string    `bson:"student_id" json:"student_id"`
	Outcome        string    `bson:"outcome,omitempty" json:"outcome,omitempty"`
	Reason         string    `bson:"reason,omitempty" json:"reason,omitempty"`
	DistanceMeters *float64  `bson:"distance_meters,omitempty" json:"distance_meters,omitempty"`
	Latitude       *float64  `bson:"latitude,omitempty" json:"latitude,omitempty"`
	Longitude      *float64  `bson:"longitude,omitempty" json:"longitude,omitempty"`
	Accuracy       float64   `bson:"accuracy,omitempty" json:"accuracy,omitempty"`
	Error          string    `bson:"error,omitempty" json:"error,omitempty"`
	At             time.Time `bson:"at" json:"at"`
}

// Log stores attempts and reads back a student's trail for review.
type Log interface {
	Append(ctx context.Context, a Attempt) error
	ForStudent(ctx context.Context, sessionID, studentID string) ([]Attempt, error)
}

// Nop discards attempts. Used when no document store is configured.
type Nop struct{}

func (Nop) Append(context.Context, Attempt) error { return nil }

func (Nop) ForStudent(context.Context, string, string) ([]Attempt, error) { return nil, nil }
