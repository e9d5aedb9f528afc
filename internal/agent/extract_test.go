package agent

import "testing"

func TestExtractToolCallsToolShape(t *testing.T) {
	pre, calls, ok := ExtractToolCalls(`I'll search now. {"tool": "web_search", "arguments": {"q": "go"}} Done.`)
	if !ok || len(calls) != 1 {
		t.Fatalf("ok=%v calls=%v", ok, calls)
	}
	if calls[0].Name != "web_search" || calls[0].Arguments["q"] != "go" {
		t.Errorf("call = %+v", calls[0])
	}
	if pre != "I'll search now.\nDone." {
		t.Errorf("preamble = %q", pre)
	}
}

func TestExtractToolCallsActionShape(t *testing.T) {
	_, calls, ok := ExtractToolCalls(`{"action": "delegate_task", "input": {"task": "t", "role": "r"}}`)
	if !ok || calls[0].Name != "delegate_task" || calls[0].Arguments["task"] != "t" {
		t.Fatalf("ok=%v calls=%+v", ok, calls)
	}
}

func TestExtractToolCallsBatchShape(t *testing.T) {
	_, calls, ok := ExtractToolCalls(`{"tool_calls": [
		{"name": "a", "arguments": {"x": 1}},
		{"name": "b", "arguments": {"y": 2}}
	]}`)
	if !ok || len(calls) != 2 {
		t.Fatalf("ok=%v calls=%d", ok, len(calls))
	}
	if calls[0].Name != "a" || calls[1].Name != "b" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestExtractToolCallsFilePathShape(t *testing.T) {
	_, calls, ok := ExtractToolCalls(`{"file_path": "/tmp/x", "content": "hi"}`)
	if !ok || calls[0].Name != "write_file" {
		t.Fatalf("ok=%v calls=%+v", ok, calls)
	}
	_, calls, ok = ExtractToolCalls(`{"file_path": "/tmp/x"}`)
	if !ok || calls[0].Name != "read_file" {
		t.Fatalf("ok=%v calls=%+v", ok, calls)
	}
}

func TestExtractToolCallsSiblingArgs(t *testing.T) {
	_, calls, ok := ExtractToolCalls(`{"tool": "confirm_task", "task_id": "t9"}`)
	if !ok || calls[0].Arguments["task_id"] != "t9" {
		t.Fatalf("ok=%v calls=%+v", ok, calls)
	}
}

func TestExtractToolCallsRejectsPlainText(t *testing.T) {
	tests := []string{
		"no json here at all",
		`{"just": "data", "no": "tool keys"}`,
		"unbalanced { brace",
		`{"tool": ""}`,
	}
	for _, in := range tests {
		if _, _, ok := ExtractToolCalls(in); ok {
			t.Errorf("ExtractToolCalls(%q) = ok, want reject", in)
		}
	}
}
