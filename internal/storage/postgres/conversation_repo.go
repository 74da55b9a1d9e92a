package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dukahq/duka/internal/chat"
	"github.com/dukahq/duka/internal/llm"
)

// Compile-time interface check.
var _ chat.ConversationStore = (*ConversationRepository)(nil)

// ConversationRepository implements chat.ConversationStore with PostgreSQL.
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a ConversationRepository.
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// GetOrCreate returns an existing conversation or creates a new one.
// If the conversation exists, the owner is verified to prevent cross-user access.
func (r *ConversationRepository) GetOrCreate(ctx context.Context, id uuid.UUID, owner chat.Owner) (*chat.Conversation, error) {
	if id != uuid.Nil {
		var existing ConversationModel
		err := r.db.WithContext(ctx).
			Where("id = ?", id).
			First(&existing).Error
		if err == nil {
			if existing.UserID != owner.UserID || existing.SessionID != owner.SessionID {
				return nil, chat.ErrConversationOwner
			}
			return toConversation(&existing), nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("looking up conversation: %w", err)
		}
	}

	if id == uuid.Nil {
		id = uuid.New()
	}
	now := time.Now().UTC()
	model := ConversationModel{
		ID:             id,
		UserID:         owner.UserID,
		SessionID:      owner.SessionID,
		Active:         true,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	return toConversation(&model), nil
}

// GetConversation returns an existing conversation without creating one.
func (r *ConversationRepository) GetConversation(ctx context.Context, id uuid.UUID) (*chat.Conversation, error) {
	var model ConversationModel
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, chat.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}
	return toConversation(&model), nil
}

// AppendMessages atomically appends one or more messages to a conversation.
// Sequence numbers are monotonically assigned starting after the current max.
func (r *ConversationRepository) AppendMessages(ctx context.Context, id uuid.UUID, msgs []llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Get current max sequence number.
		var maxSeq int
		err := tx.Model(&ConversationMessageModel{}).
			Where("conversation_id = ?", id).
			Select("COALESCE(MAX(seq_num), 0)").
			Scan(&maxSeq).Error
		if err != nil {
			return fmt.Errorf("getting max seq_num: %w", err)
		}

		models := make([]ConversationMessageModel, 0, len(msgs))
		for i, msg := range msgs {
			models = append(models, toConversationMessageModel(id, maxSeq+i+1, msg))
		}

		if err := tx.Create(&models).Error; err != nil {
			return fmt.Errorf("inserting messages: %w", err)
		}

		res := tx.Model(&ConversationModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"message_count":    gorm.Expr("message_count + ?", len(msgs)),
				"last_activity_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("updating conversation counters: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return chat.ErrConversationNotFound
		}

		return nil
	})
}

// RecentHistory returns the most recent messages for a conversation,
// ordered oldest-first (ascending seq_num).
func (r *ConversationRepository) RecentHistory(ctx context.Context, id uuid.UUID, limit int) ([]llm.Message, error) {
	if limit <= 0 {
		limit = chat.DefaultHistoryWindow
	}

	// The N most recent by seq_num DESC, then re-ordered ASC.
	var models []ConversationMessageModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", id).
		Order("seq_num DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("loading conversation history: %w", err)
	}

	// Reverse to oldest-first order.
	for i, j := 0, len(models)-1; i < j; i, j = i+1, j-1 {
		models[i], models[j] = models[j], models[i]
	}

	messages := make([]llm.Message, len(models))
	for i := range models {
		messages[i] = toMessage(&models[i])
	}

	return messages, nil
}

// SaveContext inserts the page-context snapshot for the turn starting now.
// Snapshots are append-only; earlier turns are never rewritten.
func (r *ConversationRepository) SaveContext(ctx context.Context, id uuid.UUID, pc chat.PageContext) error {
	model := ConversationContextModel{
		ID:             uuid.New(),
		ConversationID: id,
		PageType:       pc.PageType,
		ProductID:      pc.ProductID,
		Category:       pc.Category,
		SearchQuery:    pc.SearchQuery,
		CartItemCount:  pc.CartItemCount,
		CartTotal:      pc.CartTotal,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("saving page context: %w", err)
	}
	return nil
}

// DeactivateIdle marks conversations with no activity since the cutoff as
// inactive and reports how many were affected.
func (r *ConversationRepository) DeactivateIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&ConversationModel{}).
		Where("active = ? AND last_activity_at < ?", true, cutoff).
		Update("active", false)
	if res.Error != nil {
		return 0, fmt.Errorf("deactivating idle conversations: %w", res.Error)
	}
	return res.RowsAffected, nil
}
