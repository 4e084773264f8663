package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"instagrade/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return rc, mr
}

func TestGetMissReturnsEmpty(t *testing.T) {
	rc, _ := newTestCache(t)
	got, err := rc.Get(context.Background(), "absent")
	if err != nil || got != "" {
		t.Fatalf("expected empty miss, got %q (%v)", got, err)
	}
}

func TestLockOwnership(t *testing.T) {
	rc, mr := newTestCache(t)
	ctx := context.Background()

	ok, err := rc.TryLock(ctx, "scan:1", "owner-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock acquired, got %v (%v)", ok, err)
	}
	ok, err = rc.TryLock(ctx, "scan:1", "owner-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second lock refused, got %v (%v)", ok, err)
	}
	released, err := rc.Unlock(ctx, "scan:1", "owner-b")
	if err != nil || released {
		t.Fatalf("expected foreign unlock ignored, got %v (%v)", released, err)
	}
	released, err = rc.Unlock(ctx, "scan:1", "owner-a")
	if err != nil || !released {
		t.Fatalf("expected owner unlock, got %v (%v)", released, err)
	}
	if mr.Exists("scan:1") {
		t.Fatalf("expected lock key removed")
	}
}

func TestGetWithCached(t *testing.T) {
	rc, mr := newTestCache(t)
	ctx := context.Background()
	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		return "value", nil
	}
	identity := func(s string) (string, error) { return s, nil }
	isEmpty := func(s string) bool { return s == "" }

	for i := 0; i < 2; i++ {
		got, err := cache.GetWithCached(ctx, rc, "k", time.Minute, time.Second, isEmpty, identity, identity, fetch)
		if err != nil || got != "value" {
			t.Fatalf("expected value, got %q (%v)", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one source read, got %d", calls)
	}
	if ttl := mr.TTL("k"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected jittered ttl within a minute, got %v", ttl)
	}

	empty := func(ctx context.Context) (string, error) { return "", nil }
	if _, err := cache.GetWithCached(ctx, rc, "none", time.Minute, time.Second, isEmpty, identity, identity, empty); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := mr.Get("none"); v != cache.NullCacheValue {
		t.Fatalf("expected null marker, got %q", v)
	}

	boom := errors.New("boom")
	failing := func(ctx context.Context) (string, error) { return "", boom }
	if _, err := cache.GetWithCached(ctx, rc, "fail", time.Minute, time.Second, isEmpty, identity, identity, failing); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestJitterTTL(t *testing.T) {
	t.Parallel()
	for i := 0; i < 20; i++ {
		got := cache.JitterTTL(10 * time.Second)
		if got < 9*time.Second || got > 10*time.Second {
			t.Fatalf("expected ttl in [9s,10s], got %v", got)
		}
	}
	if cache.JitterTTL(0) != 0 {
		t.Fatalf("expected zero ttl untouched")
	}
}
