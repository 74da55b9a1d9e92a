package chat

import (
	"fmt"
	"strings"
)

// DefaultPolicyPrompt is the static assistant policy used when no prompt is
// configured.
const DefaultPolicyPrompt = `You are Duka, a helpful shopping assistant for an online store.
Help shoppers find products, compare options, check stock and reviews, and add items to their cart.
Use the available tools to look up live data instead of guessing; never invent products, prices or stock levels.
If a tool reports a failure, explain it conversationally and offer an alternative.
Only add items to the cart when the shopper clearly asked for it.
Keep replies short and friendly.`

// ContextBuilder assembles the system instructions for one turn by merging
// the static policy prompt with fact lines derived from the page context.
type ContextBuilder struct {
	policyPrompt string
}

// NewContextBuilder creates a builder around the given policy prompt.
// An empty prompt falls back to DefaultPolicyPrompt.
func NewContextBuilder(policyPrompt string) *ContextBuilder {
	if policyPrompt == "" {
		policyPrompt = DefaultPolicyPrompt
	}
	return &ContextBuilder{policyPrompt: policyPrompt}
}

// Build returns the full system prompt for one turn. Pure: same inputs,
// same output, no external calls. Absent context fields produce no fact
// line — nothing is fabricated.
func (b *ContextBuilder) Build(pc PageContext) string {
	facts := b.factLines(pc)
	if len(facts) == 0 {
		return b.policyPrompt
	}

	var sb strings.Builder
	sb.WriteString(b.policyPrompt)
	sb.WriteString("\n\nCurrent shopper context:\n")
	for _, f := range facts {
		sb.WriteString("- ")
		sb.WriteString(f)
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *ContextBuilder) factLines(pc PageContext) []string {
	var facts []string
	if pc.PageType != "" {
		facts = append(facts, fmt.Sprintf("The shopper is on the %s page.", pc.PageType))
	}
	if pc.ProductID > 0 {
		facts = append(facts, fmt.Sprintf("The shopper is viewing product ID %d.", pc.ProductID))
	}
	if pc.Category != "" {
		facts = append(facts, fmt.Sprintf("The shopper is browsing the %q category.", pc.Category))
	}
	if pc.SearchQuery != "" {
		facts = append(facts, fmt.Sprintf("The shopper just searched for %q.", pc.SearchQuery))
	}
	if pc.CartItemCount > 0 {
		facts = append(facts, fmt.Sprintf("The cart has %d item(s) totaling $%.2f.", pc.CartItemCount, pc.CartTotal))
	}
	return facts
}
