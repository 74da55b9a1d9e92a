// Package llm defines the provider-agnostic interface for LLM interactions.
package llm

import "context"

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// SendMessage sends a conversation to the LLM and returns its response.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "openai").
	Name() string
}

// Request represents a full conversation sent to the LLM.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  float64
	Tools        []ToolDefinition // nil = no tool use
}

// ToolDefinition describes a tool the LLM can invoke.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in the conversation.
//
// An assistant turn may carry ToolCalls alongside (or instead of) text.
// A tool turn carries the serialized result of exactly one tool call,
// identified by ToolCallID.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Set only on tool messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// UserMessage creates a plain user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant turn with optional tool calls.
func AssistantMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResultMessage creates a tool turn answering the call with the given ID.
func ToolResultMessage(callID, toolName, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, ToolName: toolName}
}

// Stop reasons normalized across providers.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Response is what the LLM returns.
type Response struct {
	Content    string     // Assistant text, may be empty on pure tool-call turns.
	ToolCalls  []ToolCall // Tool invocations requested by the model, in emitted order.
	Usage      Usage
	StopReason string // one of the Stop* constants, or a provider-specific value
}

// HasToolUse returns true if the LLM is requesting tool execution.
func (r *Response) HasToolUse() bool {
	return r.StopReason == StopToolUse && len(r.ToolCalls) > 0
}

// Usage tracks token consumption for cost accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
