// Package tools defines the tool interface, schema-driven argument
// sanitization, and the registry of tools exposed to the LLM. The registry
// is closed: every tool is compiled in and registered at startup, nothing is
// discovered at runtime.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dukahq/duka/internal/llm"
)

// Tool is the interface all assistant tools must implement.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "search_products").
	Name() string

	// Description returns the description sent to the LLM.
	Description() string

	// Schema returns the tool's parameter schema. It drives both the JSON
	// Schema advertised to the LLM and argument sanitization before Execute.
	Schema() *Schema

	// Execute runs the tool with sanitized arguments. Domain failures are
	// reported inside Result with Success=false; a non-nil error is reserved
	// for conditions the caller cannot fold into the transcript.
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Result is the outcome of a tool execution. It is serialized as-is into
// the model-facing transcript, so failures stay visible to the LLM instead
// of aborting the conversation.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Ok wraps a successful payload.
func Ok(data any) *Result { return &Result{Success: true, Data: data} }

// Fail wraps a domain failure message.
func Fail(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Encode renders the result as compact JSON for the transcript.
func (r *Result) Encode() string {
	b, err := json.Marshal(r)
	if err != nil {
		// Data should always be marshalable; degrade rather than drop the turn.
		return `{"success":false,"error":"unencodable tool result"}`
	}
	return string(b)
}

// MaxOutputBytes caps serialized tool output placed in the transcript.
const MaxOutputBytes = 16 << 10 // 16 KB

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "... [truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}

// contextKey is an unexported type for context keys defined in this package.
type contextKey int

const ownerKey contextKey = iota

// ContextWithOwner returns a new context carrying the cart/conversation
// owner identity (authenticated user ID, or the anonymous session ID).
func ContextWithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// OwnerFromContext extracts the owner identity from context, or "" if not set.
func OwnerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey).(string); ok {
		return v
	}
	return ""
}

// Registry holds available tools keyed by name.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// All returns all registered tools.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	return result
}

// Definitions converts all registered tools into LLM tool definitions.
func (r *Registry) Definitions() []llm.ToolDefinition {
	all := r.All()
	defs := make([]llm.ToolDefinition, len(all))
	for i, t := range all {
		defs[i] = llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema().JSONSchema(),
		}
	}
	return defs
}
