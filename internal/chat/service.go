package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukahq/duka/internal/llm"
	"github.com/dukahq/duka/internal/observability"
	"github.com/dukahq/duka/internal/ratelimit"
	"github.com/dukahq/duka/internal/tools"
)

// ProviderErrorReply is the user-facing answer when the LLM provider fails.
// Provider detail is logged, never shown.
const ProviderErrorReply = "Sorry, I'm having trouble answering right now. Please try again in a moment."

// Request is one inbound chat turn.
type Request struct {
	Message        string
	ConversationID string // empty = start a new conversation
	UserID         string // authenticated user, optional
	SessionID      string // anonymous session, required when UserID is empty
	Identity       string // rate-limit key (e.g. remote address + session)
	PageContext    PageContext
}

// Response is the turn's user-facing result.
type Response struct {
	Reply          string   `json:"reply"`
	Cards          []Card   `json:"cards"`
	Suggestions    []string `json:"suggestions"`
	ConversationID string   `json:"conversation_id"`
}

// Service is the chat entry point. It wires the rate limiter, conversation
// store, context builder, orchestration loop and formatter into one turn.
type Service struct {
	store           ConversationStore
	limiter         *ratelimit.Limiter
	builder         *ContextBuilder
	orch            *Orchestrator
	formatter       *Formatter
	logger          *slog.Logger
	obs             *observability.Observability // nil = observability disabled
	historyWindow   int                          // 0 = DefaultHistoryWindow
	maxMessageBytes int                          // 0 = DefaultMaxMessageBytes
}

// NewService creates a chat service.
func NewService(store ConversationStore, limiter *ratelimit.Limiter, builder *ContextBuilder, orch *Orchestrator, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		limiter:   limiter,
		builder:   builder,
		orch:      orch,
		formatter: NewFormatter(),
		logger:    logger,
	}
}

// WithObservability attaches metrics and tracing.
func (s *Service) WithObservability(obs *observability.Observability) *Service {
	s.obs = obs
	return s
}

// WithHistoryWindow sets how many recent messages are replayed per turn.
func (s *Service) WithHistoryWindow(n int) *Service {
	s.historyWindow = n
	return s
}

// WithMessageLimit caps inbound message content, in bytes.
func (s *Service) WithMessageLimit(n int) *Service {
	s.maxMessageBytes = n
	return s
}

// Chat runs one turn: rate-limit check → load or create the conversation →
// build the turn context → run the loop → persist → format.
//
// Only request, rate-limit and protocol/storage errors return a non-nil
// error. Provider failures come back as a normal response carrying a
// generic apology: a degraded answer beats an error screen.
func (s *Service) Chat(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	if err := s.limiter.Allow(req.Identity); err != nil {
		s.recordRequest("rate_limited", start)
		return nil, err
	}

	owner := resolveOwner(req)
	convID := parseConversationID(req.ConversationID)

	conv, err := s.store.GetOrCreate(ctx, convID, owner)
	if err != nil {
		s.recordRequest("store_error", start)
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	// Snapshot the page context for this turn. Non-fatal: a missing
	// snapshot degrades analytics, not the conversation.
	if err := s.store.SaveContext(ctx, conv.ID, req.PageContext); err != nil {
		s.logger.WarnContext(ctx, "failed to save page context",
			slog.String("conversation_id", conv.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	window := s.historyWindow
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	history, err := s.store.RecentHistory(ctx, conv.ID, window)
	if err != nil {
		s.recordRequest("store_error", start)
		return nil, fmt.Errorf("loading history: %w", err)
	}
	history = trimHistoryBoundary(history)

	maxBytes := s.maxMessageBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	userMsg := llm.UserMessage(truncateContent(req.Message, maxBytes))
	if err := s.store.AppendMessages(ctx, conv.ID, []llm.Message{userMsg}); err != nil {
		s.recordRequest("store_error", start)
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	systemPrompt := s.builder.Build(req.PageContext)
	messages := append(history, userMsg)

	// The cart tool resolves its owner from context, not model arguments.
	toolCtx := tools.ContextWithOwner(ctx, owner.Key())

	outcome, err := s.orch.Run(toolCtx, systemPrompt, messages)
	if err != nil {
		if errors.Is(err, ErrProtocol) {
			s.recordRequest("protocol_error", start)
			return nil, err
		}
		// Provider failure: log the detail, answer with the apology.
		s.logger.ErrorContext(ctx, "orchestration failed",
			slog.String("conversation_id", conv.ID.String()),
			slog.String("error", err.Error()),
		)
		s.recordRequest("provider_error", start)
		return &Response{
			Reply:          ProviderErrorReply,
			Cards:          []Card{},
			Suggestions:    append([]string{}, discoverySuggestions...),
			ConversationID: conv.ID.String(),
		}, nil
	}

	// Persist everything the loop produced, once, after the terminal state.
	if err := s.store.AppendMessages(ctx, conv.ID, outcome.Messages); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist turn messages",
			slog.String("conversation_id", conv.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	formatted := s.formatter.Format(outcome.FinalText, append(messages, outcome.Messages...))

	outcomeLabel := "ok"
	if outcome.ForcedStop {
		outcomeLabel = "forced_stop"
	}
	s.recordRequest(outcomeLabel, start)
	s.logger.InfoContext(ctx, "chat turn completed",
		slog.String("conversation_id", conv.ID.String()),
		slog.Int("iterations", outcome.Iterations),
		slog.Int("tokens_used", outcome.TokensUsed),
		slog.Bool("forced_stop", outcome.ForcedStop),
		slog.Duration("duration", time.Since(start)),
	)

	return &Response{
		Reply:          formatted.Reply,
		Cards:          formatted.Cards,
		Suggestions:    formatted.Suggestions,
		ConversationID: conv.ID.String(),
	}, nil
}

// History returns the conversation record with its recent messages,
// newest-last.
func (s *Service) History(ctx context.Context, id uuid.UUID, limit int) (*Conversation, []llm.Message, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryWindow
	}
	msgs, err := s.store.RecentHistory(ctx, id, limit)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}

func (s *Service) recordRequest(outcome string, start time.Time) {
	if s.obs != nil && s.obs.Metrics != nil {
		s.obs.Metrics.RecordChatRequest(outcome, time.Since(start))
	}
}

// resolveOwner picks the conversation owner: the authenticated user wins
// over the anonymous session, and a conversation never carries both.
func resolveOwner(req *Request) Owner {
	if req.UserID != "" {
		return Owner{UserID: req.UserID}
	}
	return Owner{SessionID: req.SessionID}
}

func parseConversationID(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		// Unknown or malformed IDs start a fresh conversation.
		return uuid.Nil
	}
	return id
}

// trimHistoryBoundary drops messages stranded by the history window. A
// window that opens mid-turn can start with tool results whose assistant
// tool-call message fell outside it; replaying those violates the
// provider's call/result pairing. The trailing check covers a turn whose
// results were never persisted.
func trimHistoryBoundary(msgs []llm.Message) []llm.Message {
	for len(msgs) > 0 && msgs[0].Role == llm.RoleTool {
		msgs = msgs[1:]
	}
	for len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		if last.Role != llm.RoleAssistant || len(last.ToolCalls) == 0 {
			break
		}
		msgs = msgs[:len(msgs)-1]
	}
	return msgs
}

func truncateContent(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[message truncated]"
}
