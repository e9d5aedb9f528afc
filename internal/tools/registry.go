// Package tools provides the tool registry, the tool result type and the
// argument helpers that tool handlers use. The delegation toolset the
// primary agent drives the runtime with lives in package delegation.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hearthstack/hearth/internal/providers"
)

// Tool is one agent-callable tool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema fragment
	Execute     func(ctx context.Context, args map[string]any) *Result
}

// Registry holds the tools exposed to an agent run.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subset returns a new registry holding only the named tools. Unknown names
// are skipped. An empty name list returns the full registry.
func (r *Registry) Subset(names []string) *Registry {
	if len(names) == 0 {
		return r
	}
	sub := NewRegistry()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			sub.tools[name] = t
		}
	}
	return sub
}

// ProviderDefs builds the provider-facing tool schemas.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs a tool by name. Unknown tools and handler panics come back
// as error results, never as Go errors: the agent loop feeds them to the
// model so it can recover.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result *Result) {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("Error: tool not found: %s", name))
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("tool panic", "tool", name, "panic", rec)
			result = ErrorResult(fmt.Sprintf("Error: tool %s panicked: %v", name, rec))
		}
	}()

	if args == nil {
		args = map[string]any{}
	}
	res := t.Execute(ctx, args)
	if res == nil {
		return ErrorResult(fmt.Sprintf("Error: tool %s returned no result", name))
	}
	return res
}

// StringArg extracts a required non-empty string argument.
func StringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

// OptStringArg extracts an optional string argument.
func OptStringArg(args map[string]any, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}

// OptStringsArg extracts an optional string-array argument.
func OptStringsArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// OptBoolArg extracts an optional bool argument.
func OptBoolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}
