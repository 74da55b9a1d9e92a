package chat

import (
	"encoding/json"

	"github.com/dukahq/duka/internal/llm"
)

// MaxCards caps how many product cards one reply can carry.
const MaxCards = 5

// formatterWindow bounds how far back in the transcript the formatter looks
// for tool results.
const formatterWindow = 10

// Card is a product summary rendered alongside the reply.
type Card struct {
	ID       int64   `json:"id"`
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency,omitempty"`
	Rating   float64 `json:"rating,omitempty"`
	ImageURL string  `json:"image_url,omitempty"`
	InStock  bool    `json:"in_stock"`
}

// FormattedReply is the user-facing projection of one turn.
type FormattedReply struct {
	Reply       string   `json:"reply"`
	Cards       []Card   `json:"cards"`
	Suggestions []string `json:"suggestions"`
}

var (
	cardSuggestions = []string{
		"Compare these for me",
		"Tell me more about the first one",
		"Which one has the best reviews?",
	}
	discoverySuggestions = []string{
		"Show me today's best sellers",
		"Help me find a gift",
		"What's on sale right now?",
	}
)

// Formatter projects the loop's transcript into a reply with product cards
// and follow-up suggestions. Pure: it never calls external services.
type Formatter struct{}

// NewFormatter creates a formatter.
func NewFormatter() *Formatter { return &Formatter{} }

// Format scans the trailing transcript for successful tool results carrying
// product data and extracts up to MaxCards display cards, preserving the
// order the results were produced. Suggestions depend on whether any cards
// were found.
func (f *Formatter) Format(finalText string, transcript []llm.Message) *FormattedReply {
	window := transcript
	if len(window) > formatterWindow {
		window = window[len(window)-formatterWindow:]
	}

	var cards []Card
	seen := make(map[int64]bool)
	for _, msg := range window {
		if msg.Role != llm.RoleTool {
			continue
		}
		for _, c := range cardsFromResult(msg.Content) {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			cards = append(cards, c)
			if len(cards) == MaxCards {
				break
			}
		}
		if len(cards) == MaxCards {
			break
		}
	}

	suggestions := discoverySuggestions
	if len(cards) > 0 {
		suggestions = cardSuggestions
	}

	return &FormattedReply{
		Reply:       finalText,
		Cards:       append([]Card{}, cards...),
		Suggestions: append([]string{}, suggestions...),
	}
}

// cardsFromResult parses a serialized tool result and pulls product-shaped
// entries out of its data payload. Non-product payloads yield nothing.
func cardsFromResult(content string) []Card {
	var result struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(content), &result); err != nil || !result.Success || len(result.Data) == 0 {
		return nil
	}

	// Data may be one product or a list of them.
	var list []json.RawMessage
	if err := json.Unmarshal(result.Data, &list); err != nil {
		list = []json.RawMessage{result.Data}
	}

	var cards []Card
	for _, raw := range list {
		if c, ok := cardFromProduct(raw); ok {
			cards = append(cards, c)
		}
	}
	return cards
}

func cardFromProduct(raw json.RawMessage) (Card, bool) {
	var p struct {
		ID         int64   `json:"id"`
		Name       string  `json:"name"`
		Price      float64 `json:"price"`
		Currency   string  `json:"currency"`
		Rating     float64 `json:"rating"`
		ImageURL   string  `json:"image_url"`
		StockCount int     `json:"stock_count"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.ID <= 0 || p.Name == "" {
		return Card{}, false
	}
	return Card{
		ID:       p.ID,
		Title:    p.Name,
		Price:    p.Price,
		Currency: p.Currency,
		Rating:   p.Rating,
		ImageURL: p.ImageURL,
		InStock:  p.StockCount > 0,
	}, true
}
