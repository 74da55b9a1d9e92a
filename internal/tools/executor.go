package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukahq/duka/internal/llm"
)

// ExecutionMetrics receives per-call execution stats. Satisfied by the
// observability metrics collector; nil disables recording.
type ExecutionMetrics interface {
	RecordToolExecution(tool string, success bool, duration time.Duration)
}

// Executor resolves and runs the tool calls requested by the model.
//
// Every failure — unknown tool, rejected arguments, domain errors from the
// tool itself — is folded into a Result with Success=false and returned to
// the model as a tool message. Executor never fails a conversation over a
// tool; the model reads the error and decides what to do next.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
	metrics  ExecutionMetrics // nil = no metrics
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	return &Executor{registry: registry, logger: logger}
}

// WithMetrics attaches an execution metrics recorder.
func (e *Executor) WithMetrics(m ExecutionMetrics) *Executor {
	e.metrics = m
	return e
}

// Execute runs the given tool calls sequentially, in emitted order, and
// returns one tool message per call, in the same order. Each message
// carries the originating call ID so the transcript stays well-formed.
func (e *Executor) Execute(ctx context.Context, calls []llm.ToolCall) []llm.Message {
	msgs := make([]llm.Message, 0, len(calls))
	for _, call := range calls {
		result := e.executeOne(ctx, call)
		output := TruncateOutput(result.Encode(), MaxOutputBytes)
		msgs = append(msgs, llm.ToolResultMessage(call.ID, call.Name, output))
	}
	return msgs
}

func (e *Executor) executeOne(ctx context.Context, call llm.ToolCall) *Result {
	start := time.Now()

	tool := e.registry.Get(call.Name)
	if tool == nil {
		e.logger.WarnContext(ctx, "model requested unknown tool",
			slog.String("tool", call.Name),
			slog.String("call_id", call.ID),
		)
		e.record(call.Name, false, start)
		return Fail("unknown tool %q", call.Name)
	}

	args, err := tool.Schema().Sanitize(call.Arguments)
	if err != nil {
		e.logger.WarnContext(ctx, "tool arguments rejected",
			slog.String("tool", call.Name),
			slog.String("call_id", call.ID),
			slog.String("error", err.Error()),
		)
		e.record(call.Name, false, start)
		return Fail("invalid arguments: %s", err)
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		// Collaborator failures are data, not fatalities.
		e.logger.ErrorContext(ctx, "tool execution failed",
			slog.String("tool", call.Name),
			slog.String("call_id", call.ID),
			slog.String("error", err.Error()),
		)
		e.record(call.Name, false, start)
		return Fail("%s failed: %s", call.Name, err)
	}
	if result == nil {
		result = Fail("%s returned no result", call.Name)
	}

	e.logger.DebugContext(ctx, "tool executed",
		slog.String("tool", call.Name),
		slog.String("call_id", call.ID),
		slog.Bool("success", result.Success),
		slog.Duration("duration", time.Since(start)),
	)
	e.record(call.Name, result.Success, start)
	return result
}

func (e *Executor) record(tool string, success bool, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordToolExecution(tool, success, time.Since(start))
	}
}
