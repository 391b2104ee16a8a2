package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedRepository serves completed sessions from Redis. Sessions that can
// still change state always read through to the underlying repository, so a
// cached copy can never claim a session is active after it has ended.
type CachedRepository struct {
	Repository
	client *redis.Client
	ttl    time.Duration
}

// NewCachedRepository wraps repo with a Redis snapshot cache whose entries
// expire after ttl.
func NewCachedRepository(repo Repository, client *redis.Client, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRepository{Repository: repo, client: client, ttl: ttl}
}

func cacheKey(id string) string { return "attendance:session:" + id }

// cacheable reports whether s is in a state no later write can change.
func cacheable(s Session) bool { return s.Status == Completed }

func (r *CachedRepository) Get(ctx context.Context, id string) (Session, error) {
	data, err := r.client.Get(ctx, cacheKey(id)).Bytes()
	if err == nil {
		var s Session
		if err := json.Unmarshal(data, &s); err == nil {
			return s, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("session cache get %s failed: %v", id, err)
	}

	s, err := r.Repository.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if cacheable(s) {
		// SetNX: a write that landed after our read has already stored
		// the newer copy and must win.
		r.put(ctx, s, true)
	}
	return s, nil
}

func (r *CachedRepository) SetStatus(ctx context.Context, id string, from, to Status) error {
	if err := r.Repository.SetStatus(ctx, id, from, to); err != nil {
		return err
	}
	r.refresh(ctx, id)
	return nil
}

func (r *CachedRepository) SetTeacherLocation(ctx context.Context, id string, loc TeacherLocation) error {
	if err := r.Repository.SetTeacherLocation(ctx, id, loc); err != nil {
		return err
	}
	r.refresh(ctx, id)
	return nil
}

// refresh overwrites the cached copy with the state just written, or drops it
// when the session is not cacheable or cannot be read back.
func (r *CachedRepository) refresh(ctx context.Context, id string) {
	s, err := r.Repository.Get(ctx, id)
	if err != nil || !cacheable(s) || !r.put(ctx, s, false) {
		r.invalidate(ctx, id)
	}
}

// put stores s and reports whether the cache now holds it. With nx set an
// existing entry is left alone.
func (r *CachedRepository) put(ctx context.Context, s Session, nx bool) bool {
	data, err := json.Marshal(s)
	if err != nil {
		return false
	}
	if nx {
		err = r.client.SetNX(ctx, cacheKey(s.ID), data, r.ttl).Err()
	} else {
		err = r.client.Set(ctx, cacheKey(s.ID), data, r.ttl).Err()
	}
	if err != nil {
		log.Printf("session cache set %s failed: %v", s.ID, err)
		return false
	}
	return true
}

func (r *CachedRepository) invalidate(ctx context.Context, id string) {
	if err := r.client.Del(ctx, cacheKey(id)).Err(); err != nil {
		log.Printf("session cache invalidate %s failed: %v", id, err)
	}
}
