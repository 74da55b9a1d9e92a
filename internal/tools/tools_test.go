package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/dukahq/duka/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func searchSchema() *Schema {
	return NewSchema(
		Param{Name: "query", Kind: KindString, Required: true},
		Param{Name: "limit", Kind: KindInt, Min: 1, Max: 10, Default: 5},
		Param{Name: "max_price", Kind: KindNumber, Min: 0, Max: 100000},
	)
}

func TestSanitize_ClampsIntAboveMax(t *testing.T) {
	args, err := searchSchema().Sanitize(map[string]any{"query": "shoes", "limit": float64(999)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["limit"] != 10 {
		t.Errorf("expected limit clamped to 10, got %v", args["limit"])
	}
}

func TestSanitize_ClampsIntBelowMin(t *testing.T) {
	args, err := searchSchema().Sanitize(map[string]any{"query": "shoes", "limit": float64(0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["limit"] != 1 {
		t.Errorf("expected limit clamped to 1, got %v", args["limit"])
	}
}

func TestSanitize_AppliesDefault(t *testing.T) {
	args, err := searchSchema().Sanitize(map[string]any{"query": "shoes"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["limit"] != 5 {
		t.Errorf("expected default limit 5, got %v", args["limit"])
	}
}

func TestSanitize_TruncatesLongStrings(t *testing.T) {
	long := strings.Repeat("x", 500)
	args, err := searchSchema().Sanitize(map[string]any{"query": long})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := args["query"].(string)
	if len(got) != DefaultMaxStringLen {
		t.Errorf("expected query truncated to %d, got %d", DefaultMaxStringLen, len(got))
	}
}

func TestSanitize_RejectsMissingRequired(t *testing.T) {
	_, err := searchSchema().Sanitize(map[string]any{"limit": float64(3)})
	if err == nil {
		t.Fatal("expected error for missing required parameter")
	}
	if !strings.Contains(err.Error(), "query") {
		t.Errorf("error should name the parameter: %v", err)
	}
}

func TestSanitize_RejectsInvalidIdentifier(t *testing.T) {
	schema := NewSchema(Param{Name: "product_id", Kind: KindID, Required: true})

	for _, bad := range []any{float64(-5), float64(0), float64(3.7), "abc"} {
		if _, err := schema.Sanitize(map[string]any{"product_id": bad}); err == nil {
			t.Errorf("expected identifier %v to be rejected", bad)
		}
	}

	args, err := schema.Sanitize(map[string]any{"product_id": float64(42)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["product_id"] != int64(42) {
		t.Errorf("expected int64 42, got %v (%T)", args["product_id"], args["product_id"])
	}
}

func TestSanitize_EnumDegradesToDefault(t *testing.T) {
	schema := NewSchema(
		Param{Name: "sort", Kind: KindString, Default: "relevance",
			Enum: []string{"relevance", "price_asc"}},
		Param{Name: "mode", Kind: KindString,
			Enum: []string{"compact", "full"}},
	)

	args, err := schema.Sanitize(map[string]any{"sort": "price_asc", "mode": "full"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["sort"] != "price_asc" || args["mode"] != "full" {
		t.Errorf("valid enum values must pass through: %+v", args)
	}

	args, err = schema.Sanitize(map[string]any{"sort": "cheapest", "mode": "verbose"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["sort"] != "relevance" {
		t.Errorf("invalid enum value should fall back to the default, got %v", args["sort"])
	}
	if _, ok := args["mode"]; ok {
		t.Error("invalid enum value without a default should be dropped")
	}
}

func TestSanitize_DropsUnknownArguments(t *testing.T) {
	args, err := searchSchema().Sanitize(map[string]any{"query": "shoes", "bogus": "value"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := args["bogus"]; ok {
		t.Error("expected unknown argument to be dropped")
	}
}

func TestSanitize_ClampsNumber(t *testing.T) {
	args, err := searchSchema().Sanitize(map[string]any{"query": "q", "max_price": float64(9999999)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["max_price"] != float64(100000) {
		t.Errorf("expected max_price clamped, got %v", args["max_price"])
	}
}

func TestJSONSchema(t *testing.T) {
	js := searchSchema().JSONSchema()
	if js["type"] != "object" {
		t.Errorf("expected object schema, got %v", js["type"])
	}
	props := js["properties"].(map[string]any)
	if _, ok := props["query"]; !ok {
		t.Error("expected query property")
	}
	required := js["required"].([]string)
	if len(required) != 1 || required[0] != "query" {
		t.Errorf("unexpected required list: %v", required)
	}
	limit := props["limit"].(map[string]any)
	if limit["maximum"] != float64(10) {
		t.Errorf("expected limit maximum 10, got %v", limit["maximum"])
	}
}

// fakeTool is a configurable Tool for executor tests.
type fakeTool struct {
	name   string
	schema *Schema
	result *Result
	err    error
	got    map[string]any
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake tool" }
func (f *fakeTool) Schema() *Schema {
	if f.schema == nil {
		return NewSchema()
	}
	return f.schema
}

func (f *fakeTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	f.got = args
	return f.result, f.err
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r := NewRegistry()
	r.Register(&fakeTool{name: "dup"})
	r.Register(&fakeTool{name: "dup"})
}

func TestRegistry_Definitions(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "a", schema: searchSchema()})
	defs := r.Definitions()
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Name != "a" {
		t.Errorf("unexpected name %q", defs[0].Name)
	}
	if defs[0].InputSchema["type"] != "object" {
		t.Errorf("expected object input schema, got %v", defs[0].InputSchema)
	}
}

func decodeResult(t *testing.T, msg llm.Message) Result {
	t.Helper()
	var r Result
	if err := json.Unmarshal([]byte(msg.Content), &r); err != nil {
		t.Fatalf("tool message is not valid result JSON: %v", err)
	}
	return r
}

func TestExecutor_PreservesOrderAndIDs(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 3; i++ {
		r.Register(&fakeTool{name: fmt.Sprintf("tool_%d", i), result: Ok(i)})
	}
	e := NewExecutor(r, discardLogger())

	calls := []llm.ToolCall{
		{ID: "c1", Name: "tool_1"},
		{ID: "c2", Name: "tool_2"},
		{ID: "c3", Name: "tool_3"},
	}
	msgs := e.Execute(context.Background(), calls)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 tool messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Role != llm.RoleTool {
			t.Errorf("message %d: expected tool role, got %q", i, m.Role)
		}
		if m.ToolCallID != calls[i].ID {
			t.Errorf("message %d: expected call ID %q, got %q", i, calls[i].ID, m.ToolCallID)
		}
	}
}

func TestExecutor_UnknownToolIsResultNotError(t *testing.T) {
	e := NewExecutor(NewRegistry(), discardLogger())
	msgs := e.Execute(context.Background(), []llm.ToolCall{{ID: "c1", Name: "nope"}})
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	result := decodeResult(t, msgs[0])
	if result.Success {
		t.Error("expected failure result for unknown tool")
	}
	if !strings.Contains(result.Error, "unknown tool") {
		t.Errorf("unexpected error text: %q", result.Error)
	}
}

func TestExecutor_SanitizeRejectionIsResult(t *testing.T) {
	r := NewRegistry()
	ft := &fakeTool{
		name:   "get_product_details",
		schema: NewSchema(Param{Name: "product_id", Kind: KindID, Required: true}),
		result: Ok("unreachable"),
	}
	r.Register(ft)
	e := NewExecutor(r, discardLogger())

	msgs := e.Execute(context.Background(), []llm.ToolCall{{
		ID: "c1", Name: "get_product_details",
		Arguments: map[string]any{"product_id": float64(-5)},
	}})
	result := decodeResult(t, msgs[0])
	if result.Success {
		t.Error("expected failure result for invalid identifier")
	}
	if ft.got != nil {
		t.Error("tool must not execute when sanitization rejects")
	}
}

func TestExecutor_ToolErrorIsResult(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "flaky", err: errors.New("backend down")})
	e := NewExecutor(r, discardLogger())

	msgs := e.Execute(context.Background(), []llm.ToolCall{{ID: "c1", Name: "flaky"}})
	result := decodeResult(t, msgs[0])
	if result.Success {
		t.Error("expected failure result")
	}
	if !strings.Contains(result.Error, "backend down") {
		t.Errorf("expected cause in error, got %q", result.Error)
	}
}

func TestExecutor_SanitizedArgsReachTool(t *testing.T) {
	r := NewRegistry()
	ft := &fakeTool{name: "search_products", schema: searchSchema(), result: Ok(nil)}
	r.Register(ft)
	e := NewExecutor(r, discardLogger())

	e.Execute(context.Background(), []llm.ToolCall{{
		ID: "c1", Name: "search_products",
		Arguments: map[string]any{"query": "shoes", "limit": float64(999)},
	}})
	if ft.got["limit"] != 10 {
		t.Errorf("expected clamped limit to reach tool, got %v", ft.got["limit"])
	}
}

func TestTruncateOutput(t *testing.T) {
	s := strings.Repeat("a", 100)
	got := TruncateOutput(s, 50)
	if len(got) != 50 {
		t.Errorf("expected 50 bytes, got %d", len(got))
	}
	if !strings.HasSuffix(got, "[truncated]") {
		t.Errorf("expected truncation notice, got %q", got)
	}
	if TruncateOutput("short", 50) != "short" {
		t.Error("short strings must pass through unchanged")
	}
}
