package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps sessions in process memory, for dev and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]Session)}
}

func (r *MemoryRepository) Create(_ context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return s, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.TeacherLocation != nil {
		loc := *s.TeacherLocation
		s.TeacherLocation = &loc
	}
	return s, nil
}

func (r *MemoryRepository) SetStatus(_ context.Context, id string, from, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != from {
		return ErrStatusConflict
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	r.sessions[id] = s
	return nil
}

func (r *MemoryRepository) SetTeacherLocation(_ context.Context, id string, loc TeacherLocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.TeacherLocation = &loc
	s.UpdatedAt = time.Now().UTC()
	r.sessions[id] = s
	return nil
}

func (r *MemoryRepository) ListExpired(_ context.Context, now time.Time) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Session
	for _, s := range r.sessions {
		if s.Status == Active && !s.EndTime.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}
