package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JSONB is a json.RawMessage stored in a jsonb column (TEXT under SQLite).
type JSONB json.RawMessage

// ConversationModel maps to the "conversations" table.
type ConversationModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID         string    `gorm:"index:idx_conv_user"`
	SessionID      string    `gorm:"index:idx_conv_session"`
	MessageCount   int       `gorm:"not null;default:0"`
	Active         bool      `gorm:"not null;default:true;index"`
	LastActivityAt time.Time `gorm:"not null;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ConversationModel) TableName() string { return "conversations" }

// ConversationMessageModel maps to the "conversation_messages" table.
type ConversationMessageModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index:idx_convmsg_seq"`
	SeqNum         int       `gorm:"not null;index:idx_convmsg_seq"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"type:text"`
	ToolCalls      JSONB     `gorm:"type:jsonb"` // assistant tool requests, when present
	ToolCallID     string    // set on tool-result rows
	ToolName       string
	TokenEstimate  int `gorm:"not null;default:0"`
	CreatedAt      time.Time
}

func (ConversationMessageModel) TableName() string { return "conversation_messages" }

// ConversationContextModel maps to the "conversation_contexts" table.
// One row per turn — snapshots are write-once, never updated.
type ConversationContextModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index"`
	PageType       string    `gorm:"not null"`
	ProductID      int64
	Category       string
	SearchQuery    string
	CartItemCount  int
	CartTotal      float64 `gorm:"type:numeric(14,2)"`
	CreatedAt      time.Time
}

func (ConversationContextModel) TableName() string { return "conversation_contexts" }

// ProductModel maps to the "products" table.
type ProductModel struct {
	ID          int64   `gorm:"primaryKey"`
	Name        string  `gorm:"not null"`
	Description string  `gorm:"type:text"`
	Category    string  `gorm:"not null;index"`
	Price       float64 `gorm:"type:numeric(14,2);not null"`
	Currency    string  `gorm:"not null;default:'USD'"`
	Rating      float64 `gorm:"not null;default:0"`
	ReviewCount int     `gorm:"not null;default:0"`
	StockCount  int     `gorm:"not null;default:0"`
	ImageURL    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ProductModel) TableName() string { return "products" }

// ReviewSummaryModel maps to the "review_summaries" table.
type ReviewSummaryModel struct {
	ProductID     int64   `gorm:"primaryKey"`
	AverageRating float64 `gorm:"not null;default:0"`
	ReviewCount   int     `gorm:"not null;default:0"`
	Highlights    JSONB   `gorm:"type:jsonb"`
	Complaints    JSONB   `gorm:"type:jsonb"`
	UpdatedAt     time.Time
}

func (ReviewSummaryModel) TableName() string { return "review_summaries" }

// CartItemModel maps to the "cart_items" table.
type CartItemModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	OwnerKey  string    `gorm:"not null;uniqueIndex:idx_cart_owner_product"`
	ProductID int64     `gorm:"not null;uniqueIndex:idx_cart_owner_product"`
	Quantity  int       `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CartItemModel) TableName() string { return "cart_items" }
