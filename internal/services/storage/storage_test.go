package storage

import (
	"context"
	"testing"
	"time"

	"github.com/prompt-refiner-go/internal/config"
	"github.com/prompt-refiner-go/pkg/logger"
)

func newTestStore() *MemoryStore {
	return NewMemoryStore(&config.ConversationsConfig{}, logger.Discard())
}

func TestGetOrCreateStartsAtRoundOne(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	conv, err := store.GetOrCreate(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if conv.Round != 1 || conv.UserID != "alice" || conv.InitialRequest != "" {
		t.Errorf("new conversation = %+v", conv)
	}
	if store.Count() != 1 {
		t.Errorf("Count = %d, want 1", store.Count())
	}

	again, _ := store.GetOrCreate(ctx, "alice")
	if again.CreatedAt != conv.CreatedAt {
		t.Error("GetOrCreate replaced an existing conversation")
	}
}

func TestGetAbsent(t *testing.T) {
	conv, err := newTestStore().Get(context.Background(), "ghost")
	if err != nil || conv != nil {
		t.Errorf("Get = %+v, %v; want nil, nil", conv, err)
	}
}

func TestCopiesAreIsolated(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	conv, _ := store.GetOrCreate(ctx, "bob")
	conv.Round = 3
	conv.Answers[0] = "unsaved"

	stored, _ := store.Get(ctx, "bob")
	if stored.Round != 1 || stored.Answers[0] != "" {
		t.Errorf("unsaved mutation leaked into store: %+v", stored)
	}

	if err := store.Save(ctx, conv); err != nil {
		t.Fatalf("Save: %v", err)
	}
	stored, _ = store.Get(ctx, "bob")
	if stored.Round != 3 || stored.Answers[0] != "unsaved" {
		t.Errorf("saved conversation = %+v", stored)
	}
}

func TestSaveStampsUpdatedAt(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := newTestStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	conv, _ := store.GetOrCreate(ctx, "carol")
	now = now.Add(time.Minute)
	store.Save(ctx, conv)

	stored, _ := store.Get(ctx, "carol")
	if !stored.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", stored.UpdatedAt, now)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	store.GetOrCreate(ctx, "dave")
	if err := store.Delete(ctx, "dave"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if conv, _ := store.Get(ctx, "dave"); conv != nil {
		t.Errorf("conversation survived delete: %+v", conv)
	}
	if err := store.Delete(ctx, "dave"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestIdleTimeoutExpires(t *testing.T) {
	store := NewMemoryStore(&config.ConversationsConfig{IdleTimeout: 20 * time.Millisecond}, logger.Discard())
	ctx := context.Background()

	store.GetOrCreate(ctx, "erin")
	time.Sleep(40 * time.Millisecond)

	if conv, _ := store.Get(ctx, "erin"); conv != nil {
		t.Error("idle conversation should have expired")
	}
}
