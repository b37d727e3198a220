package agent

import (
	"context"
	"encoding/json"
	"testing"
)

type stubTool struct {
	name   string
	caps   []ToolCapability
	approv bool
	result *ToolResult
	err    error
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"msg":{"type":"string"}},"required":["msg"]}`)
}
func (s *stubTool) Capabilities() []ToolCapability { return s.caps }
func (s *stubTool) RequiresApproval() bool         { return s.approv }
func (s *stubTool) Execute(ctx context.Context, input json.RawMessage, tctx *ToolExecutionContext) (*ToolResult, error) {
	return s.result, s.err
}

func TestRegistryListPreservesInsertionOrder(t *testing.T) {
	r := NewRegistry()
	names := []string{"c", "a", "b"}
	for _, n := range names {
		if err := r.Register(&stubTool{name: n, result: &ToolResult{Content: "ok"}}); err != nil {
			t.Fatalf("register %s: %v", n, err)
		}
	}
	r.Freeze()

	got := r.List(false)
	if len(got) != 3 {
		t.Fatalf("List returned %d tools, want 3", len(got))
	}
	for i, n := range names {
		if got[i].Name() != n {
			t.Errorf("List()[%d] = %s, want %s", i, got[i].Name(), n)
		}
	}
}

func TestRegistryListFiltersWriteCapabilitiesInReadOnly(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&stubTool{name: "reader", caps: []ToolCapability{CapabilityReadFiles}, result: &ToolResult{}})
	_ = r.Register(&stubTool{name: "writer", caps: []ToolCapability{CapabilityWriteFiles}, result: &ToolResult{}})
	r.Freeze()

	got := r.List(true)
	if len(got) != 1 || got[0].Name() != "reader" {
		t.Errorf("List(readOnly=true) = %v, want only [reader]", got)
	}
}

func TestRegistryDispatchUnknownToolReturnsErrorResult(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	res := r.Dispatch(context.Background(), "nope", json.RawMessage(`{}`), &ToolExecutionContext{})
	if res == nil || !res.IsError {
		t.Fatalf("Dispatch(unknown) = %+v, want is_error result", res)
	}
	if res.Content != "unknown tool nope" {
		t.Errorf("Dispatch(unknown).Content = %q", res.Content)
	}
}

func TestRegistryDispatchValidatesSchema(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&stubTool{name: "needs_msg", result: &ToolResult{Content: "ok"}})
	r.Freeze()

	res := r.Dispatch(context.Background(), "needs_msg", json.RawMessage(`{}`), &ToolExecutionContext{})
	if !res.IsError {
		t.Error("Dispatch with missing required field should return is_error result")
	}
}

func TestRegistryDispatchSuccess(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&stubTool{name: "needs_msg", result: &ToolResult{Content: "done"}})
	r.Freeze()

	res := r.Dispatch(context.Background(), "needs_msg", json.RawMessage(`{"msg":"hi"}`), &ToolExecutionContext{})
	if res.IsError || res.Content != "done" {
		t.Errorf("Dispatch success = %+v", res)
	}
}
