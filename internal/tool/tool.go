// Package tool holds the tools served by cmd/toolserver.
package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/joebot/toolbot/internal/textutil"
)

// Tool is one callable capability. Parameters returns its JSON Schema.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// Registry keeps tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a name twice replaces the earlier tool
// but keeps its position.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.tools[n])
	}
	return out
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Execute runs a tool by name.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	t := r.Get(name)
	if t == nil {
		return "", fmt.Errorf("tool %q not found", name)
	}
	if params == nil {
		params = map[string]any{}
	}
	out, err := t.Execute(ctx, params)
	if err != nil {
		slog.Warn("Tool execution error", "tool", name, "err", err)
		return "", err
	}
	return out, nil
}

// Defaults returns a registry with the standard tool set. root confines the
// filesystem tools; an empty root disables them.
func Defaults(root string) *Registry {
	r := NewRegistry()
	r.Register(NewClockTool())
	if root != "" {
		r.Register(&ReadFileTool{Root: root})
		r.Register(&ListDirTool{Root: root})
	}
	r.Register(NewWebFetchTool())
	return r
}

// getStringParam extracts a string parameter, returning empty string if missing.
func getStringParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return s
}

// requireStringParam extracts a required string parameter.
func requireStringParam(params map[string]any, key string) (string, error) {
	s := getStringParam(params, key)
	if s == "" {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	return s, nil
}

// truncateString keeps the first maxLen runes of s and notes how many were
// cut.
func truncateString(s string, maxLen int) string {
	kept := textutil.Cut(s, maxLen)
	if len(kept) == len(s) {
		return s
	}
	remaining := utf8.RuneCountInString(s) - maxLen
	return kept + fmt.Sprintf("\n... (truncated, %d more chars)", remaining)
}
