package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/dukahq/duka/internal/llm"
	"github.com/dukahq/duka/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedProvider replays a fixed sequence of responses. When the script
// runs out it keeps answering with the last entry, so iteration-cap tests
// can loop indefinitely.
type scriptedProvider struct {
	script   []*llm.Response
	err      error
	calls    int
	requests []*llm.Request
}

func (p *scriptedProvider) SendMessage(_ context.Context, req *llm.Request) (*llm.Response, error) {
	p.calls++
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	i := p.calls - 1
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	return p.script[i], nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func textResponse(content string) *llm.Response {
	return &llm.Response{
		Content:    content,
		StopReason: llm.StopEndTurn,
		Usage:      llm.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func toolResponse(calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{
		ToolCalls:  calls,
		StopReason: llm.StopToolUse,
		Usage:      llm.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

// echoTool returns its "text" argument, or fails when told to.
type echoTool struct {
	name string
	fail bool
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echoes its input" }
func (t *echoTool) Schema() *tools.Schema {
	return tools.NewSchema(tools.Param{Name: "text", Kind: tools.KindString})
}

func (t *echoTool) Execute(_ context.Context, args map[string]any) (*tools.Result, error) {
	if t.fail {
		return nil, fmt.Errorf("backend unavailable")
	}
	return tools.Ok(map[string]any{"echo": args["text"]}), nil
}

func testOrchestrator(provider llm.Provider, toolset ...tools.Tool) *Orchestrator {
	reg := tools.NewRegistry()
	for _, tl := range toolset {
		reg.Register(tl)
	}
	exec := tools.NewExecutor(reg, discardLogger())
	return NewOrchestrator(provider, reg, exec, discardLogger())
}

func TestRun_PlainAnswer(t *testing.T) {
	provider := &scriptedProvider{script: []*llm.Response{textResponse("hello there")}}
	orch := testOrchestrator(provider)

	outcome, err := orch.Run(context.Background(), "be helpful", []llm.Message{llm.UserMessage("hi")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.FinalText != "hello there" {
		t.Errorf("final text = %q", outcome.FinalText)
	}
	if outcome.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", outcome.Iterations)
	}
	if outcome.ForcedStop {
		t.Error("unexpected forced stop")
	}
	if len(outcome.Messages) != 1 || outcome.Messages[0].Role != llm.RoleAssistant {
		t.Fatalf("expected one assistant message, got %+v", outcome.Messages)
	}
	if outcome.TokensUsed != 15 {
		t.Errorf("tokens = %d, want 15", outcome.TokensUsed)
	}
}

func TestRun_ToolRoundTrip(t *testing.T) {
	provider := &scriptedProvider{script: []*llm.Response{
		toolResponse(llm.ToolCall{ID: "call_1", Name: "echo", Arguments: map[string]any{"text": "ping"}}),
		textResponse("it said ping"),
	}}
	orch := testOrchestrator(provider, &echoTool{name: "echo"})

	outcome, err := orch.Run(context.Background(), "", []llm.Message{llm.UserMessage("call the tool")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.FinalText != "it said ping" {
		t.Errorf("final text = %q", outcome.FinalText)
	}
	if outcome.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", outcome.Iterations)
	}

	// Transcript order: assistant(tool call), tool result, assistant(answer).
	if len(outcome.Messages) != 3 {
		t.Fatalf("expected 3 appended messages, got %d", len(outcome.Messages))
	}
	if outcome.Messages[0].Role != llm.RoleAssistant || len(outcome.Messages[0].ToolCalls) != 1 {
		t.Errorf("message 0 should carry the tool call: %+v", outcome.Messages[0])
	}
	if outcome.Messages[1].Role != llm.RoleTool || outcome.Messages[1].ToolCallID != "call_1" {
		t.Errorf("message 1 should answer call_1: %+v", outcome.Messages[1])
	}
	if outcome.Messages[2].Role != llm.RoleAssistant {
		t.Errorf("message 2 should be the final answer: %+v", outcome.Messages[2])
	}

	// The second provider call must include the tool result in its transcript.
	second := provider.requests[1]
	if !strings.Contains(second.Messages[len(second.Messages)-1].Content, "ping") {
		t.Errorf("tool result missing from follow-up request: %+v", second.Messages)
	}
}

func TestRun_FailedToolKeepsLoopAlive(t *testing.T) {
	provider := &scriptedProvider{script: []*llm.Response{
		toolResponse(llm.ToolCall{ID: "call_1", Name: "echo", Arguments: map[string]any{"text": "x"}}),
		textResponse("that didn't work, sorry"),
	}}
	orch := testOrchestrator(provider, &echoTool{name: "echo", fail: true})

	outcome, err := orch.Run(context.Background(), "", []llm.Message{llm.UserMessage("try it")})
	if err != nil {
		t.Fatalf("a failed tool must not fail the run: %v", err)
	}
	if outcome.FinalText != "that didn't work, sorry" {
		t.Errorf("final text = %q", outcome.FinalText)
	}
	if !strings.Contains(outcome.Messages[1].Content, `"success":false`) {
		t.Errorf("tool failure should be recorded in the transcript: %s", outcome.Messages[1].Content)
	}
}

func TestRun_IterationCapForcesStop(t *testing.T) {
	// The model asks for a tool on every call and never answers.
	provider := &scriptedProvider{script: []*llm.Response{
		toolResponse(llm.ToolCall{ID: "call_x", Name: "echo", Arguments: map[string]any{"text": "again"}}),
	}}
	orch := testOrchestrator(provider, &echoTool{name: "echo"}).WithMaxIterations(3)

	outcome, err := orch.Run(context.Background(), "", []llm.Message{llm.UserMessage("loop forever")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.ForcedStop {
		t.Fatal("expected a forced stop")
	}
	if outcome.FinalText != ForcedStopReply {
		t.Errorf("final text = %q, want the forced-stop reply", outcome.FinalText)
	}
	if outcome.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", outcome.Iterations)
	}
	if provider.calls != 3 {
		t.Errorf("provider calls = %d, want 3", provider.calls)
	}

	// The synthesized reply ends the transcript so the turn stays persistable.
	last := outcome.Messages[len(outcome.Messages)-1]
	if last.Role != llm.RoleAssistant || last.Content != ForcedStopReply {
		t.Errorf("last message should be the forced-stop reply: %+v", last)
	}
}

func TestRun_DefaultIterationCap(t *testing.T) {
	provider := &scriptedProvider{script: []*llm.Response{
		toolResponse(llm.ToolCall{ID: "call_x", Name: "echo", Arguments: map[string]any{"text": "again"}}),
	}}
	orch := testOrchestrator(provider, &echoTool{name: "echo"})

	outcome, err := orch.Run(context.Background(), "", []llm.Message{llm.UserMessage("go")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Iterations != DefaultMaxIterations {
		t.Errorf("iterations = %d, want %d", outcome.Iterations, DefaultMaxIterations)
	}
}

func TestRun_ProviderErrorPropagates(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("upstream 500")}
	orch := testOrchestrator(provider)

	_, err := orch.Run(context.Background(), "", []llm.Message{llm.UserMessage("hi")})
	if err == nil {
		t.Fatal("expected provider error")
	}
	if !strings.Contains(err.Error(), "upstream 500") {
		t.Errorf("error should wrap the provider failure: %v", err)
	}
}

func TestValidateToolResults(t *testing.T) {
	calls := []llm.ToolCall{{ID: "call_1", Name: "echo"}, {ID: "call_2", Name: "echo"}}
	good := []llm.Message{
		llm.ToolResultMessage("call_1", "echo", "{}"),
		llm.ToolResultMessage("call_2", "echo", "{}"),
	}
	if err := validateToolResults(calls, good); err != nil {
		t.Fatalf("well-formed results rejected: %v", err)
	}

	missing := good[:1]
	if err := validateToolResults(calls, missing); !errors.Is(err, ErrProtocol) {
		t.Errorf("count mismatch should be ErrProtocol, got %v", err)
	}

	swapped := []llm.Message{good[1], good[0]}
	if err := validateToolResults(calls, swapped); !errors.Is(err, ErrProtocol) {
		t.Errorf("order mismatch should be ErrProtocol, got %v", err)
	}

	badRole := []llm.Message{llm.UserMessage("nope"), good[1]}
	if err := validateToolResults(calls, badRole); !errors.Is(err, ErrProtocol) {
		t.Errorf("wrong role should be ErrProtocol, got %v", err)
	}
}
