package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"geoattend/internal/attemptlog"
	"geoattend/internal/location"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
	"geoattend/internal/session"
	"geoattend/internal/verdict"
)

// SessionReader is the part of the session lifecycle verification needs.
type SessionReader interface {
	Get(ctx context.Context, id string) (session.Session, error)
}

// Result is what a student gets back from one attempt. Record is nil for
// device errors, which are not persisted.
type Result struct {
	Outcome verdict.Outcome `json:"outcome"`
	Record  *Record         `json:"record,omitempty"`
}

// Options tune verification.
type Options struct {
	Tolerance       verdict.Tolerance
	LocationTimeout time.Duration
}

// Service coordinates verification, record keeping and notification.
type Service struct {
	sessions SessionReader
	store    Store
	attempts attemptlog.Log
	queue    queue.Queue
	opts     Options
	now      func() time.Time
}

// NewService wires a service. attempts and q may be nil.
func NewService(sessions SessionReader, store Store, attempts attemptlog.Log, q queue.Queue, opts Options) *Service {
	if attempts == nil {
		attempts = attemptlog.Nop{}
	}
	if opts.LocationTimeout <= 0 {
		opts.LocationTimeout = location.DefaultTimeout
	}
	return &Service{sessions: sessions, store: store, attempts: attempts, queue: q, opts: opts, now: time.Now}
}

// MarkAttendance acquires the student's position through acq and classifies
// it against the session's class. An inactive session fails before the
// device is asked for a position, and the status is read again before a
// record is written.
func (s *Service) MarkAttendance(ctx context.Context, studentID, sessionID string, acq location.Acquirer) (Result, error) {
	attempt := attemptlog.Attempt{SessionID: sessionID, StudentID: studentID}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			metrics.TrackRejection("not_found")
		}
		return Result{}, err
	}
	snap := sess.Snapshot()
	if snap.Status != session.Active {
		err := fmt.Errorf("%w: status %s", verdict.ErrSessionNotActive, snap.Status)
		metrics.TrackRejection("not_active")
		s.logAttempt(ctx, attempt, err)
		return Result{}, err
	}

	class, err := s.store.GetClass(ctx, sess.ClassID)
	if err != nil {
		if errors.Is(err, ErrClassNotFound) {
			metrics.TrackRejection("not_found")
		}
		s.logAttempt(ctx, attempt, err)
		return Result{}, fmt.Errorf("class %s: %w", sess.ClassID, err)
	}

	capture := location.Acquire(ctx, acq, s.opts.LocationTimeout)
	out, err := verdict.Verify(snap, capture, class.Location, s.opts.Tolerance)
	if err != nil {
		if errors.Is(err, verdict.ErrInvalidInput) {
			metrics.TrackRejection("invalid_input")
		} else if errors.Is(err, verdict.ErrSessionNotActive) {
			metrics.TrackRejection("not_active")
		}
		s.logAttempt(ctx, attempt, err)
		return Result{}, err
	}

	attempt.Outcome = string(out.Status)
	attempt.Reason = string(out.Reason)
	attempt.DistanceMeters = out.DistanceMeters
	if out.Reading != nil {
		lat, lng := out.Reading.Point.Latitude, out.Reading.Point.Longitude
		attempt.Latitude, attempt.Longitude = &lat, &lng
		attempt.Accuracy = out.Reading.Accuracy
	}

	status, ok := StatusFor(out.Status)
	if ok {
		// The session may have ended while the device was answering.
		if err := s.stillActive(ctx, sessionID); err != nil {
			s.logAttempt(ctx, attempt, err)
			return Result{}, err
		}
	}
	s.logAttempt(ctx, attempt, nil)
	metrics.TrackVerification(string(out.Status), string(out.Reason), out.DistanceMeters)
	if !ok {
		return Result{Outcome: out}, nil
	}
	rec, err := s.store.UpsertRecord(ctx, Record{
		SessionID:      sessionID,
		StudentID:      studentID,
		Status:         status,
		Outcome:        out.Status,
		Latitude:       out.Reading.Point.Latitude,
		Longitude:      out.Reading.Point.Longitude,
		Accuracy:       out.Reading.Accuracy,
		DistanceMeters: *out.DistanceMeters,
		CapturedAt:     out.Reading.CapturedAt,
		MarkedAt:       s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, verdict.ErrSessionNotActive) {
			metrics.TrackRejection("not_active")
			return Result{}, err
		}
		return Result{}, fmt.Errorf("save record: %w", err)
	}
	if s.queue != nil {
		if err := s.queue.Publish(ctx, queue.Message{Type: queue.TypeAttendanceMarked, Body: []byte(rec.ID)}); err != nil {
			log.Printf("queue publish failed for record %s: %v", rec.ID, err)
		}
	}
	return Result{Outcome: out, Record: &rec}, nil
}

// SetClassLocation validates and stores a class room location. The zone must
// leave room for the proxy band under the configured tolerance.
func (s *Service) SetClassLocation(ctx context.Context, c Class) (Class, error) {
	if c.ID == "" {
		return Class{}, fmt.Errorf("%w: id required", ErrInvalidClass)
	}
	if err := c.Location.Point.Validate(); err != nil {
		return Class{}, fmt.Errorf("%w: %v", ErrInvalidClass, err)
	}
	if err := verdict.ValidateZone(c.Location, s.opts.Tolerance); err != nil {
		return Class{}, err
	}
	return s.store.UpsertClass(ctx, c)
}

// GetClass returns a stored class.
func (s *Service) GetClass(ctx context.Context, id string) (Class, error) {
	return s.store.GetClass(ctx, id)
}

// Records lists every record of a session.
func (s *Service) Records(ctx context.Context, sessionID string) ([]Record, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListRecords(ctx, sessionID)
}

// ProxyReview lists the records of a session flagged as proxy attempts.
func (s *Service) ProxyReview(ctx context.Context, sessionID string) ([]Record, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListProxyRecords(ctx, sessionID)
}

// Attempts returns a student's verification attempts in a session, newest first.
func (s *Service) Attempts(ctx context.Context, sessionID, studentID string) ([]attemptlog.Attempt, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.attempts.ForStudent(ctx, sessionID, studentID)
}

func (s *Service) stillActive(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != session.Active {
		metrics.TrackRejection("not_active")
		return fmt.Errorf("%w: status %s", verdict.ErrSessionNotActive, sess.Status)
	}
	return nil
}

func (s *Service) logAttempt(ctx context.Context, a attemptlog.Attempt, cause error) {
	if cause != nil {
		a.Error = cause.Error()
	}
	a.At = s.now().UTC()
	if err := s.attempts.Append(ctx, a); err != nil {
		log.Printf("attempt log append failed for session %s: %v", a.SessionID, err)
	}
}
