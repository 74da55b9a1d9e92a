package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dukahq/duka/internal/chat"
	"github.com/dukahq/duka/internal/commerce"
	"github.com/dukahq/duka/internal/llm"
)

// sanitizeRole enforces that only transcript roles the loop produces are
// stored. Unknown roles default to "user" to prevent injection of system
// messages through the persistence layer.
func sanitizeRole(role llm.Role) string {
	switch role {
	case llm.RoleUser:
		return "user"
	case llm.RoleAssistant:
		return "assistant"
	case llm.RoleTool:
		return "tool"
	default:
		return "user"
	}
}

// estimateTokens provides a rough token count using the ~4 chars/token heuristic.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// toConversationMessageModel converts an llm.Message to a GORM model for persistence.
func toConversationMessageModel(convID uuid.UUID, seqNum int, msg llm.Message) ConversationMessageModel {
	var toolCalls JSONB
	if len(msg.ToolCalls) > 0 {
		data, _ := json.Marshal(msg.ToolCalls)
		if data != nil {
			toolCalls = JSONB(data)
		}
	}

	return ConversationMessageModel{
		ID:             uuid.New(),
		ConversationID: convID,
		SeqNum:         seqNum,
		Role:           sanitizeRole(msg.Role),
		Content:        msg.Content,
		ToolCalls:      toolCalls,
		ToolCallID:     msg.ToolCallID,
		ToolName:       msg.ToolName,
		TokenEstimate:  estimateTokens(msg.Content),
		CreatedAt:      time.Now().UTC(),
	}
}

// toMessage converts a GORM model back to an llm.Message.
func toMessage(m *ConversationMessageModel) llm.Message {
	msg := llm.Message{
		Role:       llm.Role(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		ToolName:   m.ToolName,
	}

	if len(m.ToolCalls) > 0 {
		var calls []llm.ToolCall
		if err := json.Unmarshal(m.ToolCalls, &calls); err == nil {
			msg.ToolCalls = calls
		}
	}

	return msg
}

// toConversation converts a GORM model to the chat domain type.
func toConversation(m *ConversationModel) *chat.Conversation {
	return &chat.Conversation{
		ID:             m.ID,
		UserID:         m.UserID,
		SessionID:      m.SessionID,
		CreatedAt:      m.CreatedAt,
		LastActivityAt: m.LastActivityAt,
		MessageCount:   m.MessageCount,
		Active:         m.Active,
	}
}

// toProduct converts a GORM model to the commerce domain type.
func toProduct(m *ProductModel) commerce.Product {
	return commerce.Product{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Category:    m.Category,
		Price:       m.Price,
		Currency:    m.Currency,
		Rating:      m.Rating,
		ReviewCount: m.ReviewCount,
		StockCount:  m.StockCount,
		ImageURL:    m.ImageURL,
	}
}

// toProductModel converts a commerce product for persistence (catalog seeding).
func toProductModel(p commerce.Product) ProductModel {
	return ProductModel{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Price:       p.Price,
		Currency:    p.Currency,
		Rating:      p.Rating,
		ReviewCount: p.ReviewCount,
		StockCount:  p.StockCount,
		ImageURL:    p.ImageURL,
	}
}

// toReviewSummaryModel converts a curated review summary for persistence.
func toReviewSummaryModel(s commerce.ReviewsSummary) ReviewSummaryModel {
	return ReviewSummaryModel{
		ProductID:     s.ProductID,
		AverageRating: s.AverageRating,
		ReviewCount:   s.ReviewCount,
		Highlights:    encodeStrings(s.Highlights),
		Complaints:    encodeStrings(s.Complaints),
	}
}

func encodeStrings(values []string) JSONB {
	if len(values) == 0 {
		return nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return JSONB(data)
}

// decodeStrings unmarshals a JSONB string list, tolerating empty columns.
func decodeStrings(data JSONB) []string {
	if len(data) == 0 {
		return nil
	}
	var out []string
	_ = json.Unmarshal(data, &out)
	return out
}
