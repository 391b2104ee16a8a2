package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"geoattend/internal/geo"
)

// TransitionHook observes successful status changes.
type TransitionHook func(s Session, from, to Status)

// Lifecycle drives session state changes. Transitions for a given session are
// serialized in-process and guarded by the repository's compare-and-set.
type Lifecycle struct {
	repo   Repository
	closer *AutoCloser
	hook   TransitionHook

	locks sync.Map // session id -> *sync.Mutex
	now   func() time.Time
}

// NewLifecycle creates a lifecycle service. closer may be nil when timers are
// not wanted (e.g. the worker, which relies on CloseExpired).
func NewLifecycle(repo Repository, closer *AutoCloser, hook TransitionHook) *Lifecycle {
	return &Lifecycle{repo: repo, closer: closer, hook: hook, now: time.Now}
}

func (l *Lifecycle) lock(id string) func() {
	m, _ := l.locks.LoadOrStore(id, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Create stores a new scheduled session.
func (l *Lifecycle) Create(ctx context.Context, s Session) (Session, error) {
	s.Status = Scheduled
	s.TeacherLocation = nil
	s.StartTime, s.EndTime = s.StartTime.UTC(), s.EndTime.UTC()
	if err := s.validate(); err != nil {
		return Session{}, err
	}
	return l.repo.Create(ctx, s)
}

// Get returns the current state of a session.
func (l *Lifecycle) Get(ctx context.Context, id string) (Session, error) {
	return l.repo.Get(ctx, id)
}

// Start activates a scheduled session and arms its auto-close timer.
func (l *Lifecycle) Start(ctx context.Context, id string) (Session, error) {
	return l.transition(ctx, id, Active, func(s Session) {
		if l.closer != nil {
			l.closer.Schedule(id, s.EndTime, func() { l.autoClose(id) })
		}
	})
}

// Complete ends an active session, optionally recording where the teacher was.
func (l *Lifecycle) Complete(ctx context.Context, id string, teacherLoc *geo.GeoPoint) (Session, error) {
	if teacherLoc != nil {
		if err := teacherLoc.Validate(); err != nil {
			return Session{}, err
		}
	}
	unlock := l.lock(id)
	defer unlock()

	s, err := l.repo.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !CanTransition(s.Status, Completed) {
		return Session{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, Completed)
	}
	if err := l.setStatus(ctx, s, Completed); err != nil {
		return Session{}, err
	}
	s.Status = Completed
	if teacherLoc != nil {
		// The status write above is the commit point; a losing caller
		// must never touch the stored location.
		loc := TeacherLocation{Point: *teacherLoc, RecordedAt: l.now().UTC()}
		if err := l.repo.SetTeacherLocation(ctx, id, loc); err != nil {
			return s, fmt.Errorf("session completed, teacher location not saved: %w", err)
		}
		s.TeacherLocation = &loc
	}
	return s, nil
}

// UpdateTeacherLocation sets the live teacher position while the session is active.
func (l *Lifecycle) UpdateTeacherLocation(ctx context.Context, id string, p geo.GeoPoint) (Session, error) {
	if err := p.Validate(); err != nil {
		return Session{}, err
	}
	unlock := l.lock(id)
	defer unlock()

	s, err := l.repo.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.Status != Active {
		return Session{}, fmt.Errorf("%w: teacher location on %s session", ErrInvalidTransition, s.Status)
	}
	loc := TeacherLocation{Point: p, RecordedAt: l.now().UTC()}
	if err := l.repo.SetTeacherLocation(ctx, id, loc); err != nil {
		return Session{}, err
	}
	s.TeacherLocation = &loc
	return s, nil
}

// CloseExpired completes every active session whose end time has passed.
// It returns how many sessions it closed.
func (l *Lifecycle) CloseExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := l.repo.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, s := range expired {
		if _, err := l.Complete(ctx, s.ID, nil); err != nil {
			log.Printf("auto-close session %s failed: %v", s.ID, err)
			continue
		}
		closed++
	}
	return closed, nil
}

// endOfTime bounds ListExpired when every active session is wanted.
var endOfTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Resume restores timers after a restart: sessions already past their end
// time are closed, the other active ones get their auto-close timer back.
func (l *Lifecycle) Resume(ctx context.Context) (closed, armed int, err error) {
	closed, err = l.CloseExpired(ctx, l.now())
	if err != nil || l.closer == nil {
		return closed, 0, err
	}
	active, err := l.repo.ListExpired(ctx, endOfTime)
	if err != nil {
		return closed, 0, err
	}
	for _, s := range active {
		id := s.ID
		l.closer.Schedule(id, s.EndTime, func() { l.autoClose(id) })
		armed++
	}
	return closed, armed, nil
}

func (l *Lifecycle) autoClose(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := l.Complete(ctx, id, nil); err != nil {
		log.Printf("auto-close session %s failed: %v", id, err)
		return
	}
	log.Printf("session %s auto-closed at end time", id)
}

// transition runs onDone, when set, while the session lock is still held.
func (l *Lifecycle) transition(ctx context.Context, id string, to Status, onDone func(Session)) (Session, error) {
	unlock := l.lock(id)
	defer unlock()

	s, err := l.repo.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !CanTransition(s.Status, to) {
		return Session{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	if err := l.setStatus(ctx, s, to); err != nil {
		return Session{}, err
	}
	s.Status = to
	if onDone != nil {
		onDone(s)
	}
	return s, nil
}

// setStatus must be called with the session lock held.
func (l *Lifecycle) setStatus(ctx context.Context, s Session, to Status) error {
	if err := l.repo.SetStatus(ctx, s.ID, s.Status, to); err != nil {
		return err
	}
	if to == Completed {
		if l.closer != nil {
			l.closer.Cancel(s.ID)
		}
		// Completed is terminal: later callers fail the transition check
		// whichever mutex they get, so the entry can go.
		l.locks.Delete(s.ID)
	}
	if l.hook != nil {
		l.hook(s, s.Status, to)
	}
	return nil
}
