package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dukahq/duka/internal/llm"
	"github.com/dukahq/duka/internal/ratelimit"
	"github.com/dukahq/duka/internal/tools"
)

func testService(t *testing.T, provider llm.Provider, limit int, toolset ...tools.Tool) (*Service, *InMemoryStore) {
	t.Helper()
	store := NewInMemoryStore()
	limiter := ratelimit.NewLimiter(ratelimit.Config{MaxRequests: limit, Window: time.Minute})
	orch := testOrchestrator(provider, toolset...)
	svc := NewService(store, limiter, NewContextBuilder(""), orch, discardLogger())
	return svc, store
}

func TestChat_SearchFlow(t *testing.T) {
	product := productJSON(1, "Trail Runner", 4)
	provider := &scriptedProvider{script: []*llm.Response{
		toolResponse(llm.ToolCall{ID: "call_1", Name: "echo", Arguments: map[string]any{"text": "shoes"}}),
		textResponse("Found a great option."),
	}}
	// The echo tool's payload is product-shaped so the formatter extracts a card.
	tl := &payloadTool{name: "echo", payload: product}
	svc, store := testService(t, provider, 20, tl)

	resp, err := svc.Chat(context.Background(), &Request{
		Message:   "find me running shoes",
		SessionID: "sess-1",
		Identity:  "sess-1",
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Reply != "Found a great option." {
		t.Errorf("reply = %q", resp.Reply)
	}
	if len(resp.Cards) != 1 || resp.Cards[0].Title != "Trail Runner" {
		t.Errorf("cards = %+v", resp.Cards)
	}
	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls)
	}
	if resp.ConversationID == "" {
		t.Fatal("response must carry the conversation ID")
	}

	// The whole turn is persisted: user, assistant(tool), tool, assistant.
	id, err := uuid.Parse(resp.ConversationID)
	if err != nil {
		t.Fatalf("conversation ID not a UUID: %v", err)
	}
	msgs, err := store.RecentHistory(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("persisted messages = %d, want 4", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || msgs[3].Role != llm.RoleAssistant {
		t.Errorf("unexpected transcript shape: %+v", msgs)
	}
}

func TestChat_ContinuesConversation(t *testing.T) {
	provider := &scriptedProvider{script: []*llm.Response{textResponse("first")}}
	svc, _ := testService(t, provider, 20)

	ctx := context.Background()
	first, err := svc.Chat(ctx, &Request{Message: "hello", SessionID: "s", Identity: "s"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	second, err := svc.Chat(ctx, &Request{
		Message:        "and again",
		ConversationID: first.ConversationID,
		SessionID:      "s",
		Identity:       "s",
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if second.ConversationID != first.ConversationID {
		t.Errorf("conversation changed: %s != %s", second.ConversationID, first.ConversationID)
	}

	// The second call replays the first turn as history.
	last := provider.requests[len(provider.requests)-1]
	if len(last.Messages) != 3 { // user, assistant, user
		t.Errorf("history not replayed: %d messages", len(last.Messages))
	}
}

func TestChat_EmptyMessageRejected(t *testing.T) {
	provider := &scriptedProvider{script: []*llm.Response{textResponse("unused")}}
	svc, _ := testService(t, provider, 20)

	_, err := svc.Chat(context.Background(), &Request{Message: "   ", SessionID: "s", Identity: "s"})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if provider.calls != 0 {
		t.Error("empty message must not reach the provider")
	}
}

func TestChat_RateLimited(t *testing.T) {
	provider := &scriptedProvider{script: []*llm.Response{textResponse("ok")}}
	svc, _ := testService(t, provider, 2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := svc.Chat(ctx, &Request{Message: "hi", SessionID: "s", Identity: "shopper-1"}); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	_, err := svc.Chat(ctx, &Request{Message: "hi", SessionID: "s", Identity: "shopper-1"})
	var limitErr *ratelimit.LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitError, got %v", err)
	}
	if limitErr.RetryAfter <= 0 {
		t.Errorf("retry after = %v, want positive", limitErr.RetryAfter)
	}

	// Another shopper still gets through.
	if _, err := svc.Chat(ctx, &Request{Message: "hi", SessionID: "s2", Identity: "shopper-2"}); err != nil {
		t.Errorf("second identity should not be limited: %v", err)
	}
}

func TestChat_OwnerMismatch(t *testing.T) {
	provider := &scriptedProvider{script: []*llm.Response{textResponse("ok")}}
	svc, _ := testService(t, provider, 20)

	ctx := context.Background()
	first, err := svc.Chat(ctx, &Request{Message: "hi", SessionID: "owner-a", Identity: "a"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	_, err = svc.Chat(ctx, &Request{
		Message:        "gimme",
		ConversationID: first.ConversationID,
		SessionID:      "owner-b",
		Identity:       "b",
	})
	if !errors.Is(err, ErrConversationOwner) {
		t.Fatalf("expected ErrConversationOwner, got %v", err)
	}
}

func TestChat_ProviderFailureYieldsApology(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("all backends down")}
	svc, _ := testService(t, provider, 20)

	resp, err := svc.Chat(context.Background(), &Request{Message: "hi", SessionID: "s", Identity: "s"})
	if err != nil {
		t.Fatalf("provider failure must fold into a reply, got error: %v", err)
	}
	if resp.Reply != ProviderErrorReply {
		t.Errorf("reply = %q, want the apology", resp.Reply)
	}
	if len(resp.Cards) != 0 {
		t.Errorf("apology must not carry cards: %+v", resp.Cards)
	}
	if resp.ConversationID == "" {
		t.Error("apology still belongs to the conversation")
	}
}

func TestChat_ForcedStopPersisted(t *testing.T) {
	provider := &scriptedProvider{script: []*llm.Response{
		toolResponse(llm.ToolCall{ID: "c", Name: "echo", Arguments: map[string]any{"text": "x"}}),
	}}
	svc, store := testService(t, provider, 20, &echoTool{name: "echo"})

	resp, err := svc.Chat(context.Background(), &Request{Message: "loop", SessionID: "s", Identity: "s"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Reply != ForcedStopReply {
		t.Errorf("reply = %q", resp.Reply)
	}

	id, _ := uuid.Parse(resp.ConversationID)
	msgs, _ := store.RecentHistory(context.Background(), id, 0)
	last := msgs[len(msgs)-1]
	if last.Content != ForcedStopReply {
		t.Errorf("forced-stop reply not persisted, last = %+v", last)
	}
}

func TestChat_TruncatesOversizedMessage(t *testing.T) {
	provider := &scriptedProvider{script: []*llm.Response{textResponse("ok")}}
	svc, store := testService(t, provider, 20)

	big := strings.Repeat("a", DefaultMaxMessageBytes+100)
	resp, err := svc.Chat(context.Background(), &Request{Message: big, SessionID: "s", Identity: "s"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	id, _ := uuid.Parse(resp.ConversationID)
	msgs, _ := store.RecentHistory(context.Background(), id, 0)
	if len(msgs[0].Content) > DefaultMaxMessageBytes+len("\n[message truncated]") {
		t.Errorf("user message not truncated: %d bytes", len(msgs[0].Content))
	}
	if !strings.HasSuffix(msgs[0].Content, "[message truncated]") {
		t.Error("truncation notice missing")
	}
}

func TestChat_HistoryWindow(t *testing.T) {
	provider := &scriptedProvider{script: []*llm.Response{textResponse("ok")}}
	svc, _ := testService(t, provider, 100)
	svc.WithHistoryWindow(4)

	ctx := context.Background()
	first, err := svc.Chat(ctx, &Request{Message: "turn 0", SessionID: "s", Identity: "s"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	for i := 1; i < 6; i++ {
		if _, err := svc.Chat(ctx, &Request{
			Message:        fmt.Sprintf("turn %d", i),
			ConversationID: first.ConversationID,
			SessionID:      "s",
			Identity:       "s",
		}); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}

	// history window (4) + the new user message
	last := provider.requests[len(provider.requests)-1]
	if len(last.Messages) != 5 {
		t.Errorf("prompt carries %d messages, want 5", len(last.Messages))
	}
}

func TestChat_WindowNeverStartsWithToolResult(t *testing.T) {
	// Turn 1 persists four messages: user, assistant(tool call), tool
	// result, assistant answer. A window of 2 opens on the tool result,
	// whose originating call fell outside it.
	provider := &scriptedProvider{script: []*llm.Response{
		toolResponse(llm.ToolCall{ID: "call_1", Name: "echo", Arguments: map[string]any{"text": "ping"}}),
		textResponse("done"),
	}}
	svc, _ := testService(t, provider, 20, &echoTool{name: "echo"})
	svc.WithHistoryWindow(2)

	ctx := context.Background()
	first, err := svc.Chat(ctx, &Request{Message: "find shoes", SessionID: "s", Identity: "s"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if _, err := svc.Chat(ctx, &Request{
		Message:        "thanks",
		ConversationID: first.ConversationID,
		SessionID:      "s",
		Identity:       "s",
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	// The orphaned tool result must be trimmed before the prompt is built.
	last := provider.requests[len(provider.requests)-1]
	if len(last.Messages) == 0 {
		t.Fatal("expected a prompt")
	}
	if last.Messages[0].Role == llm.RoleTool {
		t.Errorf("prompt starts with an orphaned tool result: %+v", last.Messages[0])
	}
	for _, m := range last.Messages {
		if m.Role != llm.RoleTool {
			continue
		}
		if !transcriptHasCall(last.Messages, m.ToolCallID) {
			t.Errorf("tool result %q has no originating call in the prompt", m.ToolCallID)
		}
	}
}

func transcriptHasCall(msgs []llm.Message, callID string) bool {
	for _, m := range msgs {
		if m.Role != llm.RoleAssistant {
			continue
		}
		for _, c := range m.ToolCalls {
			if c.ID == callID {
				return true
			}
		}
	}
	return false
}

func TestTrimHistoryBoundary(t *testing.T) {
	call := llm.AssistantMessage("", llm.ToolCall{ID: "c1", Name: "echo"})
	result := llm.ToolResultMessage("c1", "echo", `{"success":true}`)
	answer := llm.AssistantMessage("done")
	user := llm.UserMessage("hi")

	clean := []llm.Message{user, call, result, answer}
	if got := trimHistoryBoundary(clean); len(got) != 4 {
		t.Errorf("complete window must not be trimmed: %d messages", len(got))
	}

	orphanHead := []llm.Message{result, answer, user}
	if got := trimHistoryBoundary(orphanHead); len(got) != 2 || got[0].Role != llm.RoleAssistant {
		t.Errorf("leading orphan tool result not trimmed: %+v", got)
	}

	orphanTail := []llm.Message{user, call}
	if got := trimHistoryBoundary(orphanTail); len(got) != 1 || got[0].Role != llm.RoleUser {
		t.Errorf("trailing unanswered tool call not trimmed: %+v", got)
	}

	if got := trimHistoryBoundary([]llm.Message{result}); len(got) != 0 {
		t.Errorf("all-orphan window should trim to empty: %+v", got)
	}
}

func TestChat_MessageLimitConfigurable(t *testing.T) {
	provider := &scriptedProvider{script: []*llm.Response{textResponse("ok")}}
	svc, store := testService(t, provider, 20)
	svc.WithMessageLimit(64)

	big := strings.Repeat("b", 200)
	resp, err := svc.Chat(context.Background(), &Request{Message: big, SessionID: "s", Identity: "s"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	id, _ := uuid.Parse(resp.ConversationID)
	msgs, _ := store.RecentHistory(context.Background(), id, 0)
	want := strings.Repeat("b", 64) + "\n[message truncated]"
	if msgs[0].Content != want {
		t.Errorf("configured limit not applied: %d bytes", len(msgs[0].Content))
	}
}

func TestChat_MalformedConversationIDStartsFresh(t *testing.T) {
	provider := &scriptedProvider{script: []*llm.Response{textResponse("ok")}}
	svc, _ := testService(t, provider, 20)

	resp, err := svc.Chat(context.Background(), &Request{
		Message:        "hi",
		ConversationID: "not-a-uuid",
		SessionID:      "s",
		Identity:       "s",
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.ConversationID == "" || resp.ConversationID == "not-a-uuid" {
		t.Errorf("expected a fresh conversation, got %q", resp.ConversationID)
	}
}

// payloadTool returns a fixed JSON payload, already product-shaped.
type payloadTool struct {
	name    string
	payload string
}

func (t *payloadTool) Name() string        { return t.name }
func (t *payloadTool) Description() string { return "returns a fixed payload" }
func (t *payloadTool) Schema() *tools.Schema {
	return tools.NewSchema(tools.Param{Name: "text", Kind: tools.KindString})
}

func (t *payloadTool) Execute(context.Context, map[string]any) (*tools.Result, error) {
	var data any
	if err := json.Unmarshal([]byte(t.payload), &data); err != nil {
		return nil, err
	}
	return tools.Ok(data), nil
}
