package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestClient connects to TEST_REDIS_ADDR or skips the test.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

type availability struct {
	Capacity  int `json:"capacity"`
	Available int `json:"available"`
}

func TestSetGetDelete(t *testing.T) {
	svc := NewService(newTestClient(t))
	ctx := context.Background()

	var got availability
	if err := svc.Get(ctx, "rsvp:test:a", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get on empty cache = %v, want ErrCacheMiss", err)
	}

	want := availability{Capacity: 10, Available: 4}
	if err := svc.Set(ctx, "rsvp:test:a", want, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := svc.Get(ctx, "rsvp:test:a", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != want {
		t.Errorf("Get = %+v, want %+v", got, want)
	}

	if err := svc.Delete(ctx, "rsvp:test:a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if svc.Exists(ctx, "rsvp:test:a") {
		t.Error("key still exists after Delete")
	}
}

func TestDeletePattern(t *testing.T) {
	svc := NewService(newTestClient(t))
	ctx := context.Background()

	for _, k := range []string{"rsvp:p:1", "rsvp:p:2", "rsvp:other"} {
		if err := svc.Set(ctx, k, 1, time.Minute); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	if err := svc.DeletePattern(ctx, "rsvp:p:*"); err != nil {
		t.Fatalf("DeletePattern: %v", err)
	}
	if svc.Exists(ctx, "rsvp:p:1") || svc.Exists(ctx, "rsvp:p:2") {
		t.Error("pattern keys survived")
	}
	if !svc.Exists(ctx, "rsvp:other") {
		t.Error("unrelated key was deleted")
	}
}

func TestGetOrSetCallsFetcherOnce(t *testing.T) {
	svc := NewService(newTestClient(t))
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (interface{}, error) {
		calls++
		return availability{Capacity: 3, Available: 1}, nil
	}

	for i := 0; i < 2; i++ {
		var got availability
		if err := svc.GetOrSet(ctx, "rsvp:test:gos", time.Minute, fetch, &got); err != nil {
			t.Fatalf("GetOrSet: %v", err)
		}
		if got.Available != 1 {
			t.Errorf("Available = %d", got.Available)
		}
	}
	if calls != 1 {
		t.Errorf("fetcher called %d times, want 1", calls)
	}
}
