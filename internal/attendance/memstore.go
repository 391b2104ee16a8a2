package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for dev and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	classes map[string]Class
	records map[string]Record
	byKey   map[[2]string]string // (session, student) -> record id
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		classes: make(map[string]Class),
		records: make(map[string]Record),
		byKey:   make(map[[2]string]string),
	}
}

func (m *MemoryStore) UpsertClass(_ context.Context, c Class) (Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if old, ok := m.classes[c.ID]; ok {
		if c.Name == "" {
			c.Name = old.Name
		}
		if c.CourseCode == "" {
			c.CourseCode = old.CourseCode
		}
		if c.Room == "" {
			c.Room = old.Room
		}
	}
	c.UpdatedAt = time.Now().UTC()
	m.classes[c.ID] = c
	return c, nil
}

func (m *MemoryStore) GetClass(_ context.Context, id string) (Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classes[id]
	if !ok {
		return Class{}, ErrClassNotFound
	}
	return c, nil
}

func (m *MemoryStore) UpsertRecord(_ context.Context, r Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{r.SessionID, r.StudentID}
	if id, ok := m.byKey[key]; ok {
		r.ID = id
	} else if r.ID == "" {
		r.ID = uuid.NewString()
	}
	m.byKey[key] = r.ID
	m.records[r.ID] = r
	return r, nil
}

func (m *MemoryStore) GetRecord(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return r, nil
}

func (m *MemoryStore) ListRecords(_ context.Context, sessionID string) ([]Record, error) {
	return m.filter(func(r Record) bool { return r.SessionID == sessionID }), nil
}

func (m *MemoryStore) ListProxyRecords(_ context.Context, sessionID string) ([]Record, error) {
	return m.filter(func(r Record) bool { return r.SessionID == sessionID && r.Status == Proxy }), nil
}

func (m *MemoryStore) filter(keep func(Record) bool) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarkedAt.Before(out[j].MarkedAt) })
	return out
}
