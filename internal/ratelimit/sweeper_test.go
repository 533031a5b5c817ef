package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestSweeperSinglePass(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = store.Increment(ctx, "stale", time.Second)
	now = now.Add(5 * time.Second)

	Sweeper{Store: store}.Sweep(ctx)

	if store.Len() != 0 {
		t.Fatalf("expected sweep to evict expired entries, %d left", store.Len())
	}
}

func TestSweeperStopsOnCancel(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Sweeper{Store: store, Interval: time.Millisecond}.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}
