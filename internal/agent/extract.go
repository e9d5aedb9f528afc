package agent

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/hearthstack/hearth/internal/providers"
)

// ExtractToolCalls scans assistant text for an embedded JSON tool call.
// Some providers emit tool invocations as JSON inside plain text instead of
// native tool_calls; this fallback finds the outermost object (first '{' to
// last '}'), and when it parses to a recognized tool-call shape, peels the
// surrounding text off as a preamble.
//
// Recognized shapes:
//
//	{"tool": "name", "arguments": {...}}
//	{"action": "name", "input": {...}}
//	{"tool_calls": [{"name": "...", "arguments": {...}}, ...]}
//	{"file_path": "...", ...}           (implicit file operation)
func ExtractToolCalls(text string) (preamble string, calls []providers.ToolCall, ok bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return "", nil, false
	}

	calls = callsFromObject(obj)
	if len(calls) == 0 {
		return "", nil, false
	}

	pre := strings.TrimSpace(text[:start])
	post := strings.TrimSpace(text[end+1:])
	if post != "" {
		if pre != "" {
			pre += "\n"
		}
		pre += post
	}
	return pre, calls, true
}

func callsFromObject(obj map[string]any) []providers.ToolCall {
	// Batch shape first.
	if raw, ok := obj["tool_calls"].([]any); ok {
		var calls []providers.ToolCall
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if c, ok := singleCall(m, true); ok {
				calls = append(calls, c)
			}
		}
		return calls
	}

	if c, ok := singleCall(obj, false); ok {
		return []providers.ToolCall{c}
	}
	return nil
}

// singleCall parses one call object. allowName additionally accepts the
// "name" key used inside tool_calls entries; at the top level only the
// explicit "tool"/"action"/"file_path" keys are recognized so arbitrary
// JSON data in a reply is not mistaken for a call.
func singleCall(obj map[string]any, allowName bool) (providers.ToolCall, bool) {
	name := ""
	if s, ok := obj["tool"].(string); ok && s != "" {
		name = s
	} else if s, ok := obj["action"].(string); ok && s != "" {
		name = s
	} else if allowName {
		if s, ok := obj["name"].(string); ok && s != "" {
			name = s
		}
	}

	args := map[string]any{}
	for _, key := range []string{"arguments", "args", "parameters", "input"} {
		if m, ok := obj[key].(map[string]any); ok {
			args = m
			break
		}
	}

	if name == "" {
		// Implicit file operation: a bare object with file_path.
		if _, ok := obj["file_path"].(string); !ok {
			return providers.ToolCall{}, false
		}
		if _, hasContent := obj["content"]; hasContent {
			name = "write_file"
		} else {
			name = "read_file"
		}
		args = obj
	} else if len(args) == 0 {
		// Carry sibling keys as arguments when no nested args object exists.
		for k, v := range obj {
			switch k {
			case "tool", "name", "action":
			default:
				args[k] = v
			}
		}
	}

	return providers.ToolCall{
		ID:        "extracted-" + uuid.NewString()[:8],
		Name:      name,
		Arguments: args,
	}, true
}
