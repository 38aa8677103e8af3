package conversation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReaperSweepOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, NewState("idle")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, NewState("active")); err != nil {
		t.Fatalf("put: %v", err)
	}

	store.mu.Lock()
	store.states["idle"].UpdatedAt = time.Now().Add(-time.Hour).Unix()
	store.mu.Unlock()

	reaper := NewReaper(store, 30*time.Minute, time.Minute)
	reaper.SweepOnce(ctx)

	if _, err := store.Get(ctx, "idle"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("idle conversation should be reaped, got %v", err)
	}
	if _, err := store.Get(ctx, "active"); err != nil {
		t.Fatalf("active conversation should survive: %v", err)
	}
}

func TestReaperDefaults(t *testing.T) {
	reaper := NewReaper(NewMemoryStore(), 0, 0)
	if reaper.idleTimeout != 30*time.Minute {
		t.Fatalf("unexpected default idle timeout: %v", reaper.idleTimeout)
	}
	if reaper.interval != 5*time.Minute {
		t.Fatalf("unexpected default interval: %v", reaper.interval)
	}
}
