// Package worker processes attendance events off the queue and closes
// sessions whose end time has passed.
package worker

import (
	"context"
	"log"
	"time"

	"geoattend/internal/attendance"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
)

// RecordReader loads stored attendance records.
type RecordReader interface {
	GetRecord(ctx context.Context, id string) (attendance.Record, error)
}

// Notifier tells a student their attendance was taken.
type Notifier interface {
	Notify(ctx context.Context, rec attendance.Record) error
}

// LogNotifier writes confirmations to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, rec attendance.Record) error {
	log.Printf("attendance confirmed: student %s present in session %s (%.1fm)", rec.StudentID, rec.SessionID, rec.DistanceMeters)
	return nil
}

// Reviewer receives records that need a human decision.
type Reviewer interface {
	Flag(ctx context.Context, rec attendance.Record) error
}

// LogReviewer writes proxy suspects to the process log.
type LogReviewer struct{}

func (LogReviewer) Flag(_ context.Context, rec attendance.Record) error {
	log.Printf("proxy review: student %s in session %s was %.1fm from the class", rec.StudentID, rec.SessionID, rec.DistanceMeters)
	return nil
}

// Processor handles attendance.marked messages.
type Processor struct {
	records  RecordReader
	notifier Notifier
	reviewer Reviewer
}

// NewProcessor wires a processor. Nil notifier or reviewer log instead.
func NewProcessor(records RecordReader, notifier Notifier, reviewer Reviewer) *Processor {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if reviewer == nil {
		reviewer = LogReviewer{}
	}
	return &Processor{records: records, notifier: notifier, reviewer: reviewer}
}

// Handle processes one message. Unknown types are skipped.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != queue.TypeAttendanceMarked {
		return nil
	}
	rec, err := p.records.GetRecord(ctx, string(msg.Body))
	if err != nil {
		return err
	}
	switch rec.Status {
	case attendance.Proxy:
		metrics.ProxyReviewsQueued.Inc()
		return p.reviewer.Flag(ctx, rec)
	case attendance.Present:
		return p.notifier.Notify(ctx, rec)
	}
	return nil
}

// Run consumes q until ctx is done or the queue closes.
func (p *Processor) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if err := p.Handle(ctx, msg); err != nil {
			log.Printf("processing %s %s failed: %v", msg.Type, msg.Body, err)
		}
	}
	return nil
}

// Closer completes sessions whose end time is not after now.
type Closer interface {
	CloseExpired(ctx context.Context, now time.Time) (int, error)
}

// Sweep calls CloseExpired every interval until ctx is done.
func Sweep(ctx context.Context, c Closer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	sweepOnce(ctx, c)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(ctx, c)
		}
	}
}

func sweepOnce(ctx context.Context, c Closer) {
	n, err := c.CloseExpired(ctx, time.Now())
	if err != nil {
		log.Printf("session sweep failed: %v", err)
		return
	}
	if n > 0 {
		metrics.SessionsAutoClosed.Add(float64(n))
		log.Printf("session sweep closed %d expired session(s)", n)
	}
}
