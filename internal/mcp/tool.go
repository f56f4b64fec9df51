package mcp

import (
	"context"
	"fmt"
	"sort"
)

// ToolContext exposes the caller's identity to tool handlers. Handlers
// receive a ctx already carrying the tenant, so repository calls inherit
// isolation without further plumbing.
type ToolContext struct {
	TenantID string
	UserID   string
	Scopes   []string
}

// HasScope reports whether the caller holds scope.
func (tc ToolContext) HasScope(scope string) bool {
	for _, s := range tc.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ToolFunc executes one tool call. args is the decoded arguments object.
type ToolFunc func(ctx context.Context, tc ToolContext, args map[string]any) (any, error)

// Tool describes one dispatchable tool. InputSchema is a JSON Schema
// fragment advertised verbatim in tools/list.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Scopes      []string
	Handler     ToolFunc
}

// Registry maps tool names to tools. Populated once at startup.
type Registry struct {
	byName map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Tool)}
}

// Register adds a tool. A duplicate name or nil handler panics: both are
// wiring bugs.
func (r *Registry) Register(t Tool) {
	if t.Handler == nil {
		panic(fmt.Sprintf("mcp: tool %s has no handler", t.Name))
	}
	if _, dup := r.byName[t.Name]; dup {
		panic(fmt.Sprintf("mcp: duplicate tool %s", t.Name))
	}
	r.byName[t.Name] = t
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// List returns all tools in name order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.byName))
	for _, t := range r.byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
