package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qmuntal/stateless"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukahq/duka/internal/llm"
	"github.com/dukahq/duka/internal/observability"
	"github.com/dukahq/duka/internal/tools"
)

// Loop states. The loop is a finite state machine so its safety valve is a
// named terminal state, not an implicit break condition.
const (
	stateCallModel    = "call_model"
	stateExecuteTools = "execute_tools"
	stateDone         = "done"
	stateForcedStop   = "forced_stop"
)

// Loop triggers.
const (
	triggerToolsRequested = "tools_requested"
	triggerToolsExecuted  = "tools_executed"
	triggerAnswered       = "answered"
	triggerCapReached     = "cap_reached"
)

// ForcedStopReply is the synthesized answer when the iteration cap is hit.
const ForcedStopReply = "I'm having trouble finishing that request. Could you rephrase it or break it into smaller steps?"

// Outcome is the result of one orchestration run.
type Outcome struct {
	FinalText  string        // the assistant's answer (may be ForcedStopReply)
	Messages   []llm.Message // messages appended during the run, in order
	Iterations int           // provider calls made
	TokensUsed int
	ForcedStop bool // true when the iteration cap ended the run
}

// Orchestrator runs the tool-calling loop for one turn: call the model,
// execute any requested tools, feed results back, repeat until the model
// answers in plain text or the iteration cap forces a stop.
type Orchestrator struct {
	provider      llm.Provider
	executor      *tools.Executor
	registry      *tools.Registry
	logger        *slog.Logger
	obs           *observability.Observability // nil = observability disabled
	maxIterations int                          // 0 = DefaultMaxIterations
	maxTokens     int
	temperature   float64
}

// NewOrchestrator creates an orchestrator over the given provider and tools.
func NewOrchestrator(provider llm.Provider, registry *tools.Registry, executor *tools.Executor, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		executor: executor,
		registry: registry,
		logger:   logger,
	}
}

// WithObservability attaches metrics and tracing.
func (o *Orchestrator) WithObservability(obs *observability.Observability) *Orchestrator {
	o.obs = obs
	return o
}

// WithMaxIterations sets the provider-call ceiling per turn.
func (o *Orchestrator) WithMaxIterations(n int) *Orchestrator {
	o.maxIterations = n
	return o
}

// WithSampling sets the provider token budget and temperature.
func (o *Orchestrator) WithSampling(maxTokens int, temperature float64) *Orchestrator {
	o.maxTokens = maxTokens
	o.temperature = temperature
	return o
}

// newMachine wires the loop's transition graph. Any undeclared transition
// is a bug and surfaces as a firing error.
func newMachine() *stateless.StateMachine {
	m := stateless.NewStateMachine(stateCallModel)
	m.Configure(stateCallModel).
		Permit(triggerToolsRequested, stateExecuteTools).
		Permit(triggerAnswered, stateDone).
		Permit(triggerCapReached, stateForcedStop)
	m.Configure(stateExecuteTools).
		Permit(triggerToolsExecuted, stateCallModel)
	return m
}

// Run executes the loop over the assembled message list (bounded history
// plus the new user message). The returned Outcome carries every message
// appended during the run so the caller can persist them once, after the
// loop reaches a terminal state.
func (o *Orchestrator) Run(ctx context.Context, systemPrompt string, history []llm.Message) (*Outcome, error) {
	if o.obs != nil && o.obs.Tracer != nil {
		var span trace.Span
		ctx, span = o.obs.Tracer.Tracer().Start(ctx, "chat.orchestrate")
		defer span.End()
	}

	maxIter := o.maxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	machine := newMachine()
	transcript := history
	outcome := &Outcome{}
	toolDefs := o.registry.Definitions()

	var lastResp *llm.Response

	for {
		switch machine.MustState() {
		case stateCallModel:
			if outcome.Iterations >= maxIter {
				if err := machine.FireCtx(ctx, triggerCapReached); err != nil {
					return nil, fmt.Errorf("firing %s: %w", triggerCapReached, err)
				}
				continue
			}

			resp, err := o.provider.SendMessage(ctx, &llm.Request{
				SystemPrompt: systemPrompt,
				Messages:     transcript,
				MaxTokens:    o.maxTokens,
				Temperature:  o.temperature,
				Tools:        toolDefs,
			})
			if err != nil {
				if span := trace.SpanFromContext(ctx); span.IsRecording() {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
				return nil, fmt.Errorf("llm request failed: %w", err)
			}
			outcome.Iterations++
			outcome.TokensUsed += resp.Usage.InputTokens + resp.Usage.OutputTokens
			lastResp = resp

			assistant := llm.AssistantMessage(resp.Content, resp.ToolCalls...)
			transcript = append(transcript, assistant)
			outcome.Messages = append(outcome.Messages, assistant)

			trigger := triggerAnswered
			if resp.HasToolUse() {
				trigger = triggerToolsRequested
			}
			if err := machine.FireCtx(ctx, trigger); err != nil {
				return nil, fmt.Errorf("firing %s: %w", trigger, err)
			}

		case stateExecuteTools:
			o.logger.InfoContext(ctx, "executing tool calls",
				slog.Int("iteration", outcome.Iterations),
				slog.Int("tool_calls", len(lastResp.ToolCalls)),
			)
			results := o.executor.Execute(ctx, lastResp.ToolCalls)
			if err := validateToolResults(lastResp.ToolCalls, results); err != nil {
				return nil, err
			}
			transcript = append(transcript, results...)
			outcome.Messages = append(outcome.Messages, results...)

			if err := machine.FireCtx(ctx, triggerToolsExecuted); err != nil {
				return nil, fmt.Errorf("firing %s: %w", triggerToolsExecuted, err)
			}

		case stateDone:
			outcome.FinalText = lastResp.Content
			o.obs.MetricsOrNil().RecordChatIterations(outcome.Iterations)
			if o.obs != nil && o.obs.Tracer != nil {
				if span := trace.SpanFromContext(ctx); span.IsRecording() {
					span.SetAttributes(
						attribute.Int("iterations", outcome.Iterations),
						attribute.Int("tokens_used", outcome.TokensUsed),
					)
				}
			}
			return outcome, nil

		case stateForcedStop:
			o.logger.WarnContext(ctx, "iteration cap reached, forcing stop",
				slog.Int("max_iterations", maxIter),
			)
			outcome.FinalText = ForcedStopReply
			outcome.ForcedStop = true
			o.obs.MetricsOrNil().RecordChatIterations(outcome.Iterations)
			forced := llm.AssistantMessage(ForcedStopReply)
			outcome.Messages = append(outcome.Messages, forced)
			return outcome, nil
		}
	}
}

// validateToolResults checks that tool results answer exactly the calls the
// assistant just emitted, in the same order. A mismatch is a protocol error:
// the transcript would be rejected by the provider on the next call.
func validateToolResults(calls []llm.ToolCall, results []llm.Message) error {
	if len(results) != len(calls) {
		return fmt.Errorf("%w: %d tool calls but %d results", ErrProtocol, len(calls), len(results))
	}
	for i, r := range results {
		if r.Role != llm.RoleTool {
			return fmt.Errorf("%w: result %d has role %q", ErrProtocol, i, r.Role)
		}
		if r.ToolCallID != calls[i].ID {
			return fmt.Errorf("%w: result %d answers call %q, expected %q", ErrProtocol, i, r.ToolCallID, calls[i].ID)
		}
	}
	return nil
}
