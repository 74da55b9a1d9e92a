package chat

import (
	"strings"
	"testing"
)

func TestBuild_NoContextReturnsPolicyOnly(t *testing.T) {
	b := NewContextBuilder("")
	got := b.Build(PageContext{})
	if got != DefaultPolicyPrompt {
		t.Errorf("empty context should yield the bare policy prompt, got %q", got)
	}
}

func TestBuild_CustomPrompt(t *testing.T) {
	b := NewContextBuilder("You sell rubber ducks.")
	got := b.Build(PageContext{})
	if got != "You sell rubber ducks." {
		t.Errorf("got %q", got)
	}
}

func TestBuild_FactLines(t *testing.T) {
	b := NewContextBuilder("")
	got := b.Build(PageContext{
		PageType:      "product",
		ProductID:     42,
		Category:      "shoes",
		SearchQuery:   "trail runners",
		CartItemCount: 2,
		CartTotal:     159.98,
	})

	for _, want := range []string{
		"product page",
		"product ID 42",
		"shoes",
		"trail runners",
		"2 item",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
	if !strings.HasPrefix(got, DefaultPolicyPrompt) {
		t.Error("facts must follow the policy prompt, not replace it")
	}
}

func TestBuild_AbsentFieldsProduceNoFacts(t *testing.T) {
	b := NewContextBuilder("")
	got := b.Build(PageContext{PageType: "home"})
	if strings.Contains(got, "product ID") || strings.Contains(got, "cart") {
		t.Errorf("zero-valued fields fabricated facts:\n%s", got)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	b := NewContextBuilder("")
	pc := PageContext{PageType: "category", Category: "bags"}
	if b.Build(pc) != b.Build(pc) {
		t.Error("same page context must produce the same prompt")
	}
}
