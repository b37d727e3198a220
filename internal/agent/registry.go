package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxToolNameLength guards against pathological tool-call names reaching
// the registry from a misbehaving provider.
const MaxToolNameLength = 256

// MaxToolParamsSize caps the JSON payload size accepted for a single tool
// call (10MB).
const MaxToolParamsSize = 10 << 20

// Registry is an ordered, name-keyed catalog of tools. It is built once at
// startup via Register and frozen with Freeze; lookups after that point
// take only a read lock (in practice, never contend with a writer).
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	schemas map[string]*jsonschema.Schema
	frozen  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. Registering a name twice replaces the tool but
// keeps its original position in iteration order. Panics if called after
// Freeze — registration is a startup-only operation.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("agent: cannot register a tool after the registry is frozen")
	}
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t

	compiled, err := compileSchema(name, t.InputSchema())
	if err != nil {
		return fmt.Errorf("tool %q: compile input schema: %w", name, err)
	}
	r.schemas[name] = compiled
	return nil
}

// Freeze marks the registry immutable. Called once after all startup
// registrations are done.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools in stable insertion order, optionally filtered to
// exclude write-capable tools (read-only mode).
func (r *Registry) List(readOnly bool) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		if readOnly && HasWriteCapability(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// ValidateInput checks params against the tool's declared JSON schema.
// Unknown tool names are not a schema error here — dispatch handles that.
func (r *Registry) ValidateInput(name string, params json.RawMessage) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return schema.Validate(v)
}

// Dispatch executes a tool by name. Unknown tool names and oversized
// payloads produce a synthetic error ToolResult rather than a Go error,
// so the engine always has something to feed back to the model.
func (r *Registry) Dispatch(ctx context.Context, name string, params json.RawMessage, tctx *ToolExecutionContext) *ToolResult {
	if len(name) > MaxToolNameLength {
		return &ToolResult{Content: "tool name exceeds maximum length", IsError: true}
	}
	if len(params) > MaxToolParamsSize {
		return &ToolResult{Content: "tool parameters exceed maximum size", IsError: true}
	}

	t, ok := r.Get(name)
	if !ok {
		return &ToolResult{Content: "unknown tool " + name, IsError: true}
	}

	if err := r.ValidateInput(name, params); err != nil {
		return &ToolResult{Content: "invalid input: " + err.Error(), IsError: true}
	}

	result, err := t.Execute(ctx, params, tctx)
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}
	}
	if result == nil {
		return &ToolResult{Content: "", IsError: false}
	}
	return result
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	compiler := jsonschema.NewCompiler()
	url := "mem://tools/" + name + ".json"
	if err := compiler.AddResource(url, bytesReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
