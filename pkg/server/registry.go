package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mcplane/mcp-go/pkg/mcputil"
	"github.com/mcplane/mcp-go/pkg/protocol"
)

// ToolHandler executes a tool with already-validated arguments. It
// returns a plain result value; the dispatcher renders it into wire
// content. Handlers are unaware of JSON-RPC framing.
type ToolHandler func(ctx context.Context, args json.RawMessage) (any, error)

// ResourceHandler produces the textual contents of a resource.
type ResourceHandler func(ctx context.Context) (string, error)

// PromptHandler renders a prompt template with the given arguments.
type PromptHandler func(ctx context.Context, args json.RawMessage) ([]protocol.PromptMessage, error)

type toolEntry struct {
	tool    protocol.Tool
	handler ToolHandler
	schema  *mcputil.CompiledSchema
}

type resourceEntry struct {
	resource protocol.Resource
	handler  ResourceHandler
}

type promptEntry struct {
	prompt  protocol.Prompt
	handler PromptHandler
}

// registry is the shared ordered name->entry store. Listings replay the
// registration order, stable across calls. Mutation is serialized
// against concurrent dispatch by the RWMutex.
type registry[E any] struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]E
}

func newRegistry[E any]() *registry[E] {
	return &registry[E]{entries: make(map[string]E)}
}

func (r *registry[E]) add(name string, entry E) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%q already registered", name)
	}
	r.entries[name] = entry
	r.order = append(r.order, name)
	return nil
}

func (r *registry[E]) get(name string) (E, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	return entry, ok
}

func (r *registry[E]) snapshot() []E {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]E, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// ToolRegistry maps tool names to metadata and handlers.
type ToolRegistry struct {
	reg *registry[toolEntry]
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{reg: newRegistry[toolEntry]()}
}

// Register adds a tool. Duplicate names are a programmer error and are
// rejected. The declared input schema is compiled here so a broken
// schema fails registration, not dispatch.
func (r *ToolRegistry) Register(tool protocol.Tool, handler ToolHandler) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("tool %q has no handler", tool.Name)
	}
	schema, err := mcputil.CompileSchema(tool.Name, tool.InputSchema)
	if err != nil {
		return err
	}
	return r.reg.add(tool.Name, toolEntry{tool: tool, handler: handler, schema: schema})
}

// List returns all tools in registration order.
func (r *ToolRegistry) List() []protocol.Tool {
	entries := r.reg.snapshot()
	tools := make([]protocol.Tool, len(entries))
	for i, e := range entries {
		tools[i] = e.tool
	}
	return tools
}

func (r *ToolRegistry) lookup(name string) (toolEntry, bool) {
	return r.reg.get(name)
}

// ResourceRegistry maps resource URIs to metadata and handlers.
type ResourceRegistry struct {
	reg *registry[resourceEntry]
}

// NewResourceRegistry creates an empty resource registry.
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{reg: newRegistry[resourceEntry]()}
}

// Register adds a resource keyed by URI. Duplicate URIs are rejected.
func (r *ResourceRegistry) Register(resource protocol.Resource, handler ResourceHandler) error {
	if resource.URI == "" {
		return fmt.Errorf("resource uri must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("resource %q has no handler", resource.URI)
	}
	return r.reg.add(resource.URI, resourceEntry{resource: resource, handler: handler})
}

// List returns all resources in registration order.
func (r *ResourceRegistry) List() []protocol.Resource {
	entries := r.reg.snapshot()
	resources := make([]protocol.Resource, len(entries))
	for i, e := range entries {
		resources[i] = e.resource
	}
	return resources
}

func (r *ResourceRegistry) lookup(uri string) (resourceEntry, bool) {
	return r.reg.get(uri)
}

// PromptRegistry maps prompt names to metadata and handlers.
type PromptRegistry struct {
	reg *registry[promptEntry]
}

// NewPromptRegistry creates an empty prompt registry.
func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{reg: newRegistry[promptEntry]()}
}

// Register adds a prompt. Duplicate names are rejected.
func (r *PromptRegistry) Register(prompt protocol.Prompt, handler PromptHandler) error {
	if prompt.Name == "" {
		return fmt.Errorf("prompt name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("prompt %q has no handler", prompt.Name)
	}
	return r.reg.add(prompt.Name, promptEntry{prompt: prompt, handler: handler})
}

// List returns all prompts in registration order.
func (r *PromptRegistry) List() []protocol.Prompt {
	entries := r.reg.snapshot()
	prompts := make([]protocol.Prompt, len(entries))
	for i, e := range entries {
		prompts[i] = e.prompt
	}
	return prompts
}

func (r *PromptRegistry) lookup(name string) (promptEntry, bool) {
	return r.reg.get(name)
}
