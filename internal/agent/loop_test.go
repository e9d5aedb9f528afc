package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hearthstack/hearth/internal/providers"
	"github.com/hearthstack/hearth/internal/tools"
)

// fakeProvider replays scripted responses. Shared by loop and orchestrator tests.
type fakeProvider struct {
	responses []*providers.ChatResponse
	err       error
	calls     int
	delay     time.Duration
	requests  []providers.ChatRequest
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.requests = append(f.requests, req)
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}

func (f *fakeProvider) ID() string      { return "fake" }
func (f *fakeProvider) Name() string    { return "Fake" }
func (f *fakeProvider) Available() bool { return true }

func textResponse(s string) *providers.ChatResponse {
	return &providers.ChatResponse{Content: s, FinishReason: "stop"}
}

func toolResponse(name string, args map[string]any) *providers.ChatResponse {
	return &providers.ChatResponse{
		FinishReason: "tool_calls",
		ToolCalls:    []providers.ToolCall{{ID: "tc", Name: name, Arguments: args}},
	}
}

func TestRunReturnsFinalText(t *testing.T) {
	p := &fakeProvider{responses: []*providers.ChatResponse{textResponse("done")}}
	loop := NewLoop(p, nil)

	res := loop.Run(context.Background(), RunRequest{
		SystemPrompt: "sys",
		Messages:     []providers.Message{{Role: "user", Content: "hi"}},
	})

	if !res.Success || res.Response != "done" || res.Iterations != 1 {
		t.Fatalf("result = %+v", res)
	}
	last := res.Messages[len(res.Messages)-1]
	if last.Role != "assistant" || last.Content != "done" {
		t.Errorf("last message = %+v", last)
	}
	if res.ProviderID != "fake" {
		t.Errorf("provider id = %s", res.ProviderID)
	}
}

func TestRunExecutesToolsThenFinishes(t *testing.T) {
	reg := tools.NewRegistry()
	var gotArgs map[string]any
	reg.Register(&tools.Tool{
		Name: "lookup",
		Execute: func(ctx context.Context, args map[string]any) *tools.Result {
			gotArgs = args
			return tools.NewResult("42")
		},
	})

	p := &fakeProvider{responses: []*providers.ChatResponse{
		toolResponse("lookup", map[string]any{"q": "answer"}),
		textResponse("the answer is 42"),
	}}
	loop := NewLoop(p, reg)

	res := loop.Run(context.Background(), RunRequest{
		Messages: []providers.Message{{Role: "user", Content: "?"}},
	})

	if !res.Success || res.Iterations != 2 {
		t.Fatalf("result = %+v", res)
	}
	if gotArgs["q"] != "answer" {
		t.Errorf("tool args = %v", gotArgs)
	}

	// Transcript must contain the tool result message.
	foundTool := false
	for _, m := range res.Messages {
		if m.Role == "tool" && m.Content == "42" && m.ToolCallID == "tc" {
			foundTool = true
		}
	}
	if !foundTool {
		t.Error("tool result message missing from transcript")
	}
}

func TestRunToolNotFoundContinues(t *testing.T) {
	p := &fakeProvider{responses: []*providers.ChatResponse{
		toolResponse("nonexistent", nil),
		textResponse("recovered"),
	}}
	loop := NewLoop(p, tools.NewRegistry())

	res := loop.Run(context.Background(), RunRequest{
		Messages: []providers.Message{{Role: "user", Content: "go"}},
	})

	if !res.Success || res.Response != "recovered" {
		t.Fatalf("result = %+v", res)
	}
	found := false
	for _, m := range res.Messages {
		if m.Role == "tool" && strings.Contains(m.Content, "tool not found") {
			found = true
		}
	}
	if !found {
		t.Error("missing tool-not-found error result in transcript")
	}
}

func TestRunIterationCap(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&tools.Tool{
		Name: "spin",
		Execute: func(ctx context.Context, args map[string]any) *tools.Result {
			return tools.NewResult("again")
		},
	})
	p := &fakeProvider{responses: []*providers.ChatResponse{toolResponse("spin", nil)}}
	loop := NewLoop(p, reg)

	res := loop.Run(context.Background(), RunRequest{
		Messages:      []providers.Message{{Role: "user", Content: "loop"}},
		MaxIterations: 10,
	})

	if res.Success {
		t.Error("cap exhaustion must not be success")
	}
	if res.Iterations != 10 {
		t.Errorf("iterations = %d, want 10", res.Iterations)
	}
	if !strings.Contains(res.Response, "maximum iterations") {
		t.Errorf("response = %q", res.Response)
	}
}

func TestRunTimeout(t *testing.T) {
	p := &fakeProvider{
		responses: []*providers.ChatResponse{textResponse("late")},
		delay:     200 * time.Millisecond,
	}
	loop := NewLoop(p, nil)

	res := loop.Run(context.Background(), RunRequest{
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
		Timeout:  20 * time.Millisecond,
	})

	if res.Success || res.Response != ResponseTimedOut {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunProviderError(t *testing.T) {
	p := &fakeProvider{err: errors.New("model unavailable")}
	loop := NewLoop(p, nil)

	res := loop.Run(context.Background(), RunRequest{
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
	})

	if res.Success || res.Response != "model unavailable" {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunEmbeddedJSONFallback(t *testing.T) {
	reg := tools.NewRegistry()
	executed := false
	reg.Register(&tools.Tool{
		Name: "lookup",
		Execute: func(ctx context.Context, args map[string]any) *tools.Result {
			executed = true
			return tools.NewResult("ok")
		},
	})
	p := &fakeProvider{responses: []*providers.ChatResponse{
		textResponse(`Let me check. {"tool": "lookup", "arguments": {"q": "x"}}`),
		textResponse("found it"),
	}}
	loop := NewLoop(p, reg)

	res := loop.Run(context.Background(), RunRequest{
		Messages: []providers.Message{{Role: "user", Content: "?"}},
	})

	if !executed {
		t.Fatal("embedded tool call not executed")
	}
	if !res.Success || res.Response != "found it" {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunEmitsEvents(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&tools.Tool{
		Name: "x",
		Execute: func(ctx context.Context, args map[string]any) *tools.Result {
			return tools.NewResult("r")
		},
	})
	p := &fakeProvider{responses: []*providers.ChatResponse{
		toolResponse("x", nil),
		textResponse("end"),
	}}
	loop := NewLoop(p, reg)

	var types []string
	loop.Run(context.Background(), RunRequest{
		Messages: []providers.Message{{Role: "user", Content: "go"}},
		OnEvent:  func(ev Event) { types = append(types, ev.Type) },
	})

	want := []string{"tool_start", "tool_result", "text"}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}
