package conversation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state := NewState("c1")
	state.Task = TaskStopOrder
	state.Step = StepAwaitSellToken
	state.Data.Network = "sepolia"
	state.Data.DropPercent = Float(10)

	if err := store.Put(ctx, state); err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Task != TaskStopOrder || loaded.Step != StepAwaitSellToken {
		t.Fatalf("unexpected state: %+v", loaded)
	}
	if loaded.Data.DropPercent == nil || *loaded.Data.DropPercent != 10 {
		t.Fatalf("unexpected drop percent: %+v", loaded.Data.DropPercent)
	}

	// Get 必须返回拷贝，修改不能影响存储内的状态。
	loaded.Data.Network = "mainnet"
	*loaded.Data.DropPercent = 99
	again, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Data.Network != "sepolia" || *again.Data.DropPercent != 10 {
		t.Fatalf("store returned shared state: %+v", again.Data)
	}

	if err := store.Delete(ctx, "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "c1"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStorePutValidation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, nil); err == nil {
		t.Fatal("expected error for nil state")
	}
	if err := store.Put(ctx, &State{}); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"old", "fresh"} {
		if err := store.Put(ctx, NewState(id)); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	store.mu.Lock()
	store.states["old"].UpdatedAt = time.Now().Add(-time.Hour).Unix()
	store.mu.Unlock()

	removed, err := store.Sweep(ctx, time.Now().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := store.Get(ctx, "old"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected old conversation to be gone, got %v", err)
	}
	if _, err := store.Get(ctx, "fresh"); err != nil {
		t.Fatalf("fresh conversation should survive: %v", err)
	}
}

func TestResetTaskPreservesContext(t *testing.T) {
	state := NewState("c2")
	state.Task = TaskStopOrder
	state.Data.Account = "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"
	state.Data.Network = "sepolia"
	state.Data.SellToken = "ETH"
	state.Data.DropPercent = Float(10)
	state.RegisterCustomToken("FOO", "0x0000000000000000000000000000000000000001")
	state.Data.Derived = &Derived{CurrentPrice: 3000}

	state.ResetTask()

	if state.Task != TaskNone {
		t.Fatalf("task should be cleared, got %v", state.Task)
	}
	if state.Data.SellToken != "" || state.Data.DropPercent != nil || state.Data.Derived != nil {
		t.Fatalf("task slots should be cleared: %+v", state.Data)
	}
	if state.Data.Account == "" || state.Data.Network != "sepolia" {
		t.Fatalf("account and network must survive reset: %+v", state.Data)
	}
	if state.Data.CustomTokens["FOO"] == "" {
		t.Fatal("custom tokens must survive reset")
	}
}

func TestAppendTurnCapsHistory(t *testing.T) {
	state := NewState("c3")
	for i := 0; i < 10; i++ {
		state.AppendTurn("user", "message", 4)
	}
	if len(state.History) != 4 {
		t.Fatalf("expected history capped at 4, got %d", len(state.History))
	}
}
