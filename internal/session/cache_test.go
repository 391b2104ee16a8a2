package session

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"geoattend/internal/geo"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 1, DialTimeout: 200 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCacheable(t *testing.T) {
	for _, status := range []Status{Scheduled, Active, Completed} {
		if got := cacheable(Session{Status: status}); got != (status == Completed) {
			t.Errorf("cacheable(%s) = %v", status, got)
		}
	}
}

func TestCachedRepository(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	mem := NewMemoryRepository()
	repo := NewCachedRepository(mem, client, time.Minute)

	now := time.Now().UTC()
	s, err := repo.Create(ctx, Session{ClassID: "c", TeacherID: "t", Status: Scheduled, StartTime: now, EndTime: now.Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Del(ctx, cacheKey(s.ID)) })
	cached := func() bool {
		n, _ := client.Exists(ctx, cacheKey(s.ID)).Result()
		return n == 1
	}

	t.Run("open session reads through", func(t *testing.T) {
		if _, err := repo.Get(ctx, s.ID); err != nil {
			t.Fatal(err)
		}
		if err := repo.SetStatus(ctx, s.ID, Scheduled, Active); err != nil {
			t.Fatal(err)
		}
		got, err := repo.Get(ctx, s.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != Active {
			t.Errorf("Get() status = %s, want %s", got.Status, Active)
		}
		if cached() {
			t.Error("active session was cached")
		}
	})

	t.Run("completion is written through", func(t *testing.T) {
		if err := repo.SetStatus(ctx, s.ID, Active, Completed); err != nil {
			t.Fatal(err)
		}
		if !cached() {
			t.Fatal("completed session not cached after SetStatus()")
		}
		got, err := repo.Get(ctx, s.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != Completed {
			t.Errorf("Get() status = %s, want %s", got.Status, Completed)
		}
	})

	t.Run("SetTeacherLocation refreshes", func(t *testing.T) {
		loc := TeacherLocation{Point: geo.GeoPoint{Latitude: 3, Longitude: 4}, RecordedAt: now}
		if err := repo.SetTeacherLocation(ctx, s.ID, loc); err != nil {
			t.Fatal(err)
		}
		got, err := repo.Get(ctx, s.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.TeacherLocation == nil || got.TeacherLocation.Point != loc.Point {
			t.Errorf("Get() teacher location = %+v, want %v", got.TeacherLocation, loc.Point)
		}
	})

	t.Run("missing session", func(t *testing.T) {
		if _, err := repo.Get(ctx, "nope"); err != ErrNotFound {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})
}

// pausingRepository holds Get after reading until release is closed.
type pausingRepository struct {
	*MemoryRepository
	read    chan struct{}
	release chan struct{}
}

func (r *pausingRepository) Get(ctx context.Context, id string) (Session, error) {
	s, err := r.MemoryRepository.Get(ctx, id)
	if r.read != nil {
		close(r.read)
		r.read = nil
		<-r.release
	}
	return s, err
}

func TestCachedRepositorySlowReadDoesNotOverwrite(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tests := []struct {
		name  string
		from  Status
		write func(repo *CachedRepository, id string) error
		check func(t *testing.T, got Session)
	}{
		{
			name: "completion during an active read",
			from: Active,
			write: func(repo *CachedRepository, id string) error {
				return repo.SetStatus(ctx, id, Active, Completed)
			},
			check: func(t *testing.T, got Session) {
				if got.Status != Completed {
					t.Errorf("Get() status = %s, want %s", got.Status, Completed)
				}
			},
		},
		{
			name: "location written during a completed read",
			from: Completed,
			write: func(repo *CachedRepository, id string) error {
				return repo.SetTeacherLocation(ctx, id, TeacherLocation{Point: geo.GeoPoint{Latitude: 5, Longitude: 6}, RecordedAt: now})
			},
			check: func(t *testing.T, got Session) {
				if got.TeacherLocation == nil {
					t.Error("Get() returned the copy from before the location write")
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := NewMemoryRepository()
			s, err := mem.Create(ctx, Session{ClassID: "c", TeacherID: "t", Status: tt.from, StartTime: now, EndTime: now.Add(time.Hour)})
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { client.Del(ctx, cacheKey(s.ID)) })

			slow := &pausingRepository{MemoryRepository: mem, read: make(chan struct{}), release: make(chan struct{})}
			read := slow.read
			reader := NewCachedRepository(slow, client, time.Minute)
			writer := NewCachedRepository(mem, client, time.Minute)

			done := make(chan error, 1)
			go func() {
				_, err := reader.Get(ctx, s.ID)
				done <- err
			}()
			<-read
			if err := tt.write(writer, s.ID); err != nil {
				t.Fatal(err)
			}
			close(slow.release)
			if err := <-done; err != nil {
				t.Fatal(err)
			}

			got, err := writer.Get(ctx, s.ID)
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, got)
		})
	}
}
