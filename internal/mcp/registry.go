// Package mcp holds the tool registry, the transports that expose it, and
// the invokers the CLI uses to reach a tool server.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/vthunder/toolbox/internal/logging"
)

// ErrUnknownTool is returned when a tool name is not registered
var ErrUnknownTool = errors.New("unknown tool")

var toolNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidToolName reports whether name is safe to dispatch on
func ValidToolName(name string) bool {
	return toolNameRe.MatchString(name)
}

// Invoker calls a named tool and returns the decoded envelope
type Invoker interface {
	Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error)
}

// ToolHandler handles a tool call and returns the text content of the result
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

// PropDef describes one tool argument
type PropDef struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ToolDef describes a tool for listing and schema generation
type ToolDef struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Properties  map[string]PropDef `json:"properties"`
	Required    []string           `json:"required,omitempty"`
}

// Registry maps tool names to definitions and handlers
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]ToolDef
	handlers map[string]ToolHandler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		defs:     make(map[string]ToolDef),
		handlers: make(map[string]ToolHandler),
	}
}

// Register adds or replaces a tool
func (r *Registry) Register(name string, def ToolDef, handler ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def.Name = name
	if def.Properties == nil {
		def.Properties = map[string]PropDef{}
	}
	if _, exists := r.defs[name]; exists {
		logging.Debug("tools", "replacing tool %s", name)
	}
	r.defs[name] = def
	r.handlers[name] = handler
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Tools returns all definitions sorted by name
func (r *Registry) Tools() []ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDef, 0, len(r.defs))
	for _, d := range r.defs {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Invoke runs the named handler and returns its raw text
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	logging.Debug("tools", "call %s %s", name, logging.Truncate(fmt.Sprint(args), 120))
	return handler(ctx, args)
}

// Call makes the registry an in-process Invoker: the handler's text is
// decoded like any other tool response.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	text, err := r.Invoke(ctx, name, args)
	if err != nil {
		return nil, err
	}
	return DecodeText(text), nil
}
