// Package agent drives conversation turns: the bounded LLM+tools iteration
// loop and the orchestrator that wires the runtime together.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hearthstack/hearth/internal/providers"
	"github.com/hearthstack/hearth/internal/tools"
	"github.com/hearthstack/hearth/internal/tracing"
)

// DefaultMaxIterations is the loop cap for sub-agent runs. The primary
// agent uses a larger cap from config.
const DefaultMaxIterations = 10

// Responses for the non-success terminations.
const (
	ResponseMaxIterations = "reached maximum iterations"
	ResponseTimedOut      = "timed out"
)

// Event is emitted as the loop progresses, for streaming surfaces.
type Event struct {
	Type    string // protocol.FrameText, FrameToolStart, FrameToolResult
	Content string
	Tool    string
	IsError bool
}

// RunRequest is the input for one loop execution.
type RunRequest struct {
	RunID         string
	UserID        string
	RunKind       string // "primary" or "subagent", for spans and logs
	SystemPrompt  string
	Messages      []providers.Message // conversation so far plus the new user message
	MaxIterations int                 // <= 0 uses DefaultMaxIterations
	Timeout       time.Duration       // overall; races the whole loop, 0 = none
	OnEvent       func(Event)         // optional
}

// RunResult is the outcome of a loop execution. The loop never returns a Go
// error: provider failures, timeouts, and cap exhaustion all come back as
// Success=false with an explanatory Response.
type RunResult struct {
	Success    bool                `json:"success"`
	Response   string              `json:"response"`
	Iterations int                 `json:"iterations"`
	ProviderID string              `json:"provider_id"`
	Messages   []providers.Message `json:"messages"`
}

// Loop runs bounded tool-calling conversations against one provider and
// tool registry.
type Loop struct {
	provider providers.Provider
	tools    *tools.Registry
}

// NewLoop creates a Loop.
func NewLoop(provider providers.Provider, registry *tools.Registry) *Loop {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Loop{provider: provider, tools: registry}
}

// Run drives one conversation turn to completion: the LLM emits either a
// final text response or tool invocations; tool outputs are appended as
// role=tool messages and the loop repeats.
func (l *Loop) Run(ctx context.Context, req RunRequest) *RunResult {
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	ctx, span := tracing.StartRun(ctx, req.RunKind, req.UserID)
	defer span.End()

	messages := make([]providers.Message, 0, len(req.Messages)+1)
	messages = append(messages, providers.Message{Role: "system", Content: req.SystemPrompt})
	messages = append(messages, req.Messages...)

	result := &RunResult{ProviderID: l.provider.ID()}

	for result.Iterations < maxIterations {
		result.Iterations++
		slog.Debug("loop iteration",
			"run", req.RunID, "kind", req.RunKind,
			"iteration", result.Iterations, "messages", len(messages))

		resp, err := l.provider.Chat(ctx, providers.ChatRequest{
			Messages: messages,
			Tools:    l.tools.ProviderDefs(),
		})
		if err != nil {
			if timedOut(ctx, err) {
				result.Response = ResponseTimedOut
			} else {
				result.Response = err.Error()
			}
			result.Messages = messages
			return result
		}

		calls := resp.ToolCalls
		content := resp.Content
		if len(calls) == 0 {
			// Some providers embed tool calls as JSON in the text.
			if pre, extracted, ok := ExtractToolCalls(resp.Content); ok {
				calls = extracted
				content = pre
			}
		}

		if len(calls) == 0 {
			result.Success = true
			result.Response = resp.Content
			messages = append(messages, providers.Message{
				Role:    "assistant",
				Content: resp.Content,
			})
			result.Messages = messages
			emit(req.OnEvent, Event{Type: "text", Content: resp.Content})
			return result
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   content,
			ToolCalls: calls,
		})

		for _, tc := range calls {
			if err := ctx.Err(); err != nil {
				result.Response = ResponseTimedOut
				result.Messages = messages
				return result
			}

			emit(req.OnEvent, Event{Type: "tool_start", Tool: tc.Name})
			slog.Info("tool call", "run", req.RunID, "tool", tc.Name)

			toolCtx, toolSpan := tracing.StartTool(ctx, tc.Name)
			res := l.tools.Execute(toolCtx, tc.Name, tc.Arguments)
			toolSpan.End()

			if res.IsError {
				slog.Warn("tool error", "run", req.RunID, "tool", tc.Name,
					"error", truncate(res.ForLLM, 200))
			}
			emit(req.OnEvent, Event{
				Type: "tool_result", Tool: tc.Name,
				Content: truncate(res.ForLLM, 500), IsError: res.IsError,
			})

			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    res.ForLLM,
				ToolCallID: tc.ID,
			})
		}
	}

	result.Response = ResponseMaxIterations
	result.Messages = messages
	return result
}

func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func emit(fn func(Event), ev Event) {
	if fn != nil {
		fn(ev)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
