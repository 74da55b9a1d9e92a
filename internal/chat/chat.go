// Package chat implements the conversational shopping assistant core:
// conversation state, the tool-calling orchestration loop, prompt assembly
// and response formatting.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dukahq/duka/internal/llm"
)

// DefaultMaxIterations caps provider calls per turn. Empirically enough for
// a search → detail → add-to-cart flow with room to spare.
const DefaultMaxIterations = 5

// DefaultHistoryWindow is the number of recent messages replayed into the
// prompt. Older turns stay in storage but leave the context window.
const DefaultHistoryWindow = 12

// DefaultMaxMessageBytes is the per-message content size limit.
const DefaultMaxMessageBytes = 8192

// ErrEmptyMessage rejects requests with no user text before any external call.
var ErrEmptyMessage = errors.New("message must not be empty")

// ErrConversationOwner is returned when a caller supplies a conversation ID
// owned by someone else.
var ErrConversationOwner = errors.New("conversation belongs to a different owner")

// ErrConversationNotFound is returned by lookups of unknown conversation IDs.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrProtocol marks a malformed transcript: a tool message whose call ID has
// no matching tool call in the preceding assistant message. It indicates a
// loop-construction bug, never bad user input, and is fatal to the request.
var ErrProtocol = errors.New("transcript protocol violation")

// Owner identifies who a conversation belongs to: the authenticated user
// when present, otherwise the anonymous session. Exactly one side is set;
// the user wins when both are supplied.
type Owner struct {
	UserID    string
	SessionID string
}

// Key returns the single identity the conversation is bound to.
func (o Owner) Key() string {
	if o.UserID != "" {
		return o.UserID
	}
	return o.SessionID
}

// Conversation is the durable record of one assistant thread.
type Conversation struct {
	ID             uuid.UUID `json:"id"`
	UserID         string    `json:"user_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	MessageCount   int       `json:"message_count"`
	Active         bool      `json:"active"`
}

// PageContext is the per-turn snapshot of where the shopper is in the
// storefront. Zero-valued fields are simply absent facts.
type PageContext struct {
	PageType      string  `json:"page_type"`
	ProductID     int64   `json:"product_id,omitempty"`
	Category      string  `json:"category,omitempty"`
	SearchQuery   string  `json:"search_query,omitempty"`
	CartItemCount int     `json:"cart_item_count,omitempty"`
	CartTotal     float64 `json:"cart_total,omitempty"`
}

// ConversationStore persists conversations and their ordered messages.
type ConversationStore interface {
	// GetOrCreate returns the conversation with the given ID, or creates it
	// bound to owner when the ID is nil or unknown. Idempotent: an existing
	// conversation is returned unchanged. The owner is verified on existing
	// conversations; a mismatch returns ErrConversationOwner.
	GetOrCreate(ctx context.Context, id uuid.UUID, owner Owner) (*Conversation, error)

	// GetConversation returns an existing conversation without creating one.
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)

	// AppendMessages atomically appends messages in order and updates the
	// conversation's counters and activity timestamp.
	AppendMessages(ctx context.Context, id uuid.UUID, msgs []llm.Message) error

	// RecentHistory returns up to limit of the newest messages, ordered
	// oldest-first.
	RecentHistory(ctx context.Context, id uuid.UUID, limit int) ([]llm.Message, error)

	// SaveContext records the page-context snapshot for the turn starting
	// now. Write-once per turn, never retroactively mutated.
	SaveContext(ctx context.Context, id uuid.UUID, pc PageContext) error

	// DeactivateIdle marks conversations with no activity since the cutoff
	// as inactive and reports how many were affected.
	DeactivateIdle(ctx context.Context, cutoff time.Time) (int64, error)
}
