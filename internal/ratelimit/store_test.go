package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryStoreFixedWindow(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	ctx := context.Background()
	window := time.Minute

	for i := int64(1); i <= 5; i++ {
		entry, err := store.Increment(ctx, "login:ip:10.0.0.1", window)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if entry.Count != i {
			t.Fatalf("expected count %d, got %d", i, entry.Count)
		}
		if !entry.ResetAt.Equal(now.Add(window)) {
			t.Fatalf("reset time moved within window: %v", entry.ResetAt)
		}
	}

	// A new window resets the count to 1.
	now = now.Add(window + time.Millisecond)
	entry, err := store.Increment(ctx, "login:ip:10.0.0.1", window)
	if err != nil {
		t.Fatalf("increment after window: %v", err)
	}
	if entry.Count != 1 {
		t.Fatalf("expected count reset to 1, got %d", entry.Count)
	}
}

func TestMemoryStoreGetReportsAbsence(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if _, ok, _ := store.Get(ctx, "missing"); ok {
		t.Fatal("expected absence for unknown key")
	}

	if _, err := store.Increment(ctx, "k", time.Second); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatal("expected live entry")
	}

	now = now.Add(2 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("expected expired entry to read as absent")
	}
}

func TestMemoryStoreCleanupEvictsExpired(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = store.Increment(ctx, "a", time.Second)
	_, _ = store.Increment(ctx, "b", time.Hour)

	now = now.Add(2 * time.Second)
	if err := store.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one surviving entry, got %d", store.Len())
	}
	if _, ok, _ := store.Get(ctx, "b"); !ok {
		t.Fatal("live entry must survive cleanup")
	}
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _ = store.Increment(ctx, "shared", time.Minute)
		}()
	}
	wg.Wait()

	entry, ok, err := store.Get(ctx, "shared")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if entry.Count != workers {
		t.Fatalf("expected %d increments, got %d", workers, entry.Count)
	}
}

func TestRedisStoreFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "test")
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		entry, err := store.Increment(ctx, "otp:phone:555", time.Minute)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if entry.Count != i {
			t.Fatalf("expected count %d, got %d", i, entry.Count)
		}
	}

	mr.FastForward(time.Minute + time.Second)

	entry, err := store.Increment(ctx, "otp:phone:555", time.Minute)
	if err != nil {
		t.Fatalf("increment after expiry: %v", err)
	}
	if entry.Count != 1 {
		t.Fatalf("expected redis window reset to 1, got %d", entry.Count)
	}
}

func TestRedisStoreGetMissing(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "test")

	if _, ok, _ := store.Get(context.Background(), "never"); ok {
		t.Fatal("expected absence for unknown redis key")
	}
}

func TestEntryRetryAfter(t *testing.T) {
	now := time.Now()
	entry := Entry{Count: 10, ResetAt: now.Add(30 * time.Second)}
	if got := entry.RetryAfter(now); got != 30*time.Second {
		t.Fatalf("expected 30s retry-after, got %v", got)
	}
	if got := entry.RetryAfter(now.Add(time.Minute)); got != 0 {
		t.Fatalf("expected zero retry-after past reset, got %v", got)
	}
}
