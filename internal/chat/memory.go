package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukahq/duka/internal/llm"
)

// InMemoryStore implements ConversationStore without persistence. History
// is lost on restart. Used when no database is configured and in tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[uuid.UUID]*Conversation
	messages      map[uuid.UUID][]llm.Message
	contexts      map[uuid.UUID][]PageContext
	now           func() time.Time
}

var _ ConversationStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an ephemeral conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[uuid.UUID]*Conversation),
		messages:      make(map[uuid.UUID][]llm.Message),
		contexts:      make(map[uuid.UUID][]PageContext),
		now:           time.Now,
	}
}

func (s *InMemoryStore) GetOrCreate(_ context.Context, id uuid.UUID, owner Owner) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != uuid.Nil {
		if conv, ok := s.conversations[id]; ok {
			if conv.UserID != owner.UserID || conv.SessionID != owner.SessionID {
				return nil, ErrConversationOwner
			}
			cp := *conv
			return &cp, nil
		}
	}

	if id == uuid.Nil {
		id = uuid.New()
	}
	now := s.now()
	conv := &Conversation{
		ID:             id,
		UserID:         owner.UserID,
		SessionID:      owner.SessionID,
		CreatedAt:      now,
		LastActivityAt: now,
		Active:         true,
	}
	s.conversations[id] = conv
	cp := *conv
	return &cp, nil
}

func (s *InMemoryStore) GetConversation(_ context.Context, id uuid.UUID) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	cp := *conv
	return &cp, nil
}

func (s *InMemoryStore) AppendMessages(_ context.Context, id uuid.UUID, msgs []llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	s.messages[id] = append(s.messages[id], msgs...)
	conv.MessageCount += len(msgs)
	conv.LastActivityAt = s.now()
	return nil
}

func (s *InMemoryStore) RecentHistory(_ context.Context, id uuid.UUID, limit int) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := s.messages[id]
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	cp := make([]llm.Message, len(hist))
	copy(cp, hist)
	return cp, nil
}

func (s *InMemoryStore) SaveContext(_ context.Context, id uuid.UUID, pc PageContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[id] = append(s.contexts[id], pc)
	return nil
}

func (s *InMemoryStore) DeactivateIdle(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, conv := range s.conversations {
		if conv.Active && conv.LastActivityAt.Before(cutoff) {
			conv.Active = false
			n++
		}
	}
	return n, nil
}
