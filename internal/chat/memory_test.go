package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dukahq/duka/internal/llm"
)

func TestGetOrCreate_NewConversation(t *testing.T) {
	store := NewInMemoryStore()
	owner := Owner{SessionID: "sess-1"}

	conv, err := store.GetOrCreate(context.Background(), uuid.Nil, owner)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if conv.ID == uuid.Nil {
		t.Error("new conversation must get an ID")
	}
	if !conv.Active {
		t.Error("new conversation must be active")
	}
	if conv.SessionID != "sess-1" {
		t.Errorf("session = %q", conv.SessionID)
	}
	if conv.MessageCount != 0 {
		t.Errorf("message count = %d", conv.MessageCount)
	}
}

func TestGetOrCreate_ExistingConversation(t *testing.T) {
	store := NewInMemoryStore()
	owner := Owner{UserID: "u1", SessionID: "sess-1"}

	ctx := context.Background()
	first, err := store.GetOrCreate(ctx, uuid.Nil, owner)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	again, err := store.GetOrCreate(ctx, first.ID, owner)
	if err != nil {
		t.Fatalf("GetOrCreate existing: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("got a different conversation: %s != %s", again.ID, first.ID)
	}
}

func TestGetOrCreate_OwnerMismatch(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	conv, err := store.GetOrCreate(ctx, uuid.Nil, Owner{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if _, err := store.GetOrCreate(ctx, conv.ID, Owner{SessionID: "sess-2"}); !errors.Is(err, ErrConversationOwner) {
		t.Errorf("different session should be rejected, got %v", err)
	}
	if _, err := store.GetOrCreate(ctx, conv.ID, Owner{UserID: "u1", SessionID: "sess-1"}); !errors.Is(err, ErrConversationOwner) {
		t.Errorf("different user should be rejected, got %v", err)
	}
}

func TestGetOrCreate_UnknownIDCreatesFresh(t *testing.T) {
	store := NewInMemoryStore()

	id := uuid.New()
	conv, err := store.GetOrCreate(context.Background(), id, Owner{SessionID: "s"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if conv.ID != id {
		t.Errorf("requested ID not honored: %s", conv.ID)
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.GetConversation(context.Background(), uuid.New())
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestAppendMessages_UpdatesConversation(t *testing.T) {
	store := NewInMemoryStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	ctx := context.Background()
	conv, err := store.GetOrCreate(ctx, uuid.Nil, Owner{SessionID: "s"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	store.now = func() time.Time { return base.Add(time.Minute) }
	msgs := []llm.Message{
		llm.UserMessage("hello"),
		llm.AssistantMessage("hi there"),
	}
	if err := store.AppendMessages(ctx, conv.ID, msgs); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.MessageCount != 2 {
		t.Errorf("message count = %d, want 2", got.MessageCount)
	}
	if !got.LastActivityAt.Equal(base.Add(time.Minute)) {
		t.Errorf("last activity = %v", got.LastActivityAt)
	}
}

func TestAppendMessages_UnknownConversation(t *testing.T) {
	store := NewInMemoryStore()

	err := store.AppendMessages(context.Background(), uuid.New(), []llm.Message{llm.UserMessage("x")})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestRecentHistory_OrderAndWindow(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	conv, _ := store.GetOrCreate(ctx, uuid.Nil, Owner{SessionID: "s"})

	for i := 0; i < 3; i++ {
		msgs := []llm.Message{
			llm.UserMessage("question"),
			llm.AssistantMessage("answer"),
		}
		if err := store.AppendMessages(ctx, conv.ID, msgs); err != nil {
			t.Fatalf("AppendMessages: %v", err)
		}
	}

	all, err := store.RecentHistory(ctx, conv.ID, 0)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("history = %d messages, want 6", len(all))
	}
	if all[0].Role != llm.RoleUser || all[5].Role != llm.RoleAssistant {
		t.Errorf("history out of order: first %s, last %s", all[0].Role, all[5].Role)
	}

	windowed, err := store.RecentHistory(ctx, conv.ID, 4)
	if err != nil {
		t.Fatalf("RecentHistory windowed: %v", err)
	}
	if len(windowed) != 4 {
		t.Fatalf("window = %d messages, want 4", len(windowed))
	}
	// Windowing keeps the most recent messages.
	if windowed[3].Content != all[5].Content || windowed[3].Role != all[5].Role {
		t.Error("window must end at the latest message")
	}
}

func TestRecentHistory_EmptyConversation(t *testing.T) {
	store := NewInMemoryStore()

	hist, err := store.RecentHistory(context.Background(), uuid.New(), 10)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(hist) != 0 {
		t.Errorf("expected empty history, got %d", len(hist))
	}
}

func TestSaveContext(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	conv, _ := store.GetOrCreate(ctx, uuid.Nil, Owner{SessionID: "s"})

	pc := PageContext{PageType: "product", ProductID: 42}
	if err := store.SaveContext(ctx, conv.ID, pc); err != nil {
		t.Fatalf("SaveContext: %v", err)
	}
	if got := store.contexts[conv.ID]; len(got) != 1 || got[0].ProductID != 42 {
		t.Errorf("context not recorded: %+v", got)
	}
}

func TestDeactivateIdle(t *testing.T) {
	store := NewInMemoryStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	store.now = func() time.Time { return base.Add(-2 * time.Hour) }
	stale, _ := store.GetOrCreate(ctx, uuid.Nil, Owner{SessionID: "stale"})

	store.now = func() time.Time { return base }
	fresh, _ := store.GetOrCreate(ctx, uuid.Nil, Owner{SessionID: "fresh"})

	n, err := store.DeactivateIdle(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("DeactivateIdle: %v", err)
	}
	if n != 1 {
		t.Errorf("deactivated = %d, want 1", n)
	}

	got, _ := store.GetConversation(ctx, stale.ID)
	if got.Active {
		t.Error("stale conversation still active")
	}
	got, _ = store.GetConversation(ctx, fresh.ID)
	if !got.Active {
		t.Error("fresh conversation was deactivated")
	}

	// A second sweep finds nothing new.
	n, _ = store.DeactivateIdle(ctx, base.Add(-time.Hour))
	if n != 0 {
		t.Errorf("second sweep deactivated %d", n)
	}
}
