package agent

import (
	"context"
	"encoding/json"
)

// ToolCapability tags the side-effect class of a tool, used for audit
// display, read-only filtering, and future policy checks.
type ToolCapability string

const (
	CapabilityReadFiles     ToolCapability = "read_files"
	CapabilityWriteFiles    ToolCapability = "write_files"
	CapabilityExecuteShell  ToolCapability = "execute_shell"
	CapabilityNetworkAccess ToolCapability = "network_access"
	CapabilitySendMessages  ToolCapability = "send_messages"
	CapabilityModifyConfig  ToolCapability = "modify_config"
)

// writeCapabilities is the set filtered out of the tool catalog when a turn
// runs in read-only mode.
var writeCapabilities = map[ToolCapability]bool{
	CapabilityWriteFiles:   true,
	CapabilityExecuteShell: true,
	CapabilitySendMessages: true,
}

// ToolResult is the outcome of a tool execution, fed back into the next
// LLM call as a ToolResult content block.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolExecutionContext is passed to every tool invocation. Workspace is the
// process-wide mutable working directory, guarded by a read-write lock.
type ToolExecutionContext struct {
	SessionID string
	Workspace *Workspace
	Progress  ProgressSink
	Cancel    context.Context
}

// Tool is the polymorphic unit of agent capability. Implementations are
// registered once at startup and never mutated.
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Capabilities() []ToolCapability
	RequiresApproval() bool
	Execute(ctx context.Context, input json.RawMessage, tctx *ToolExecutionContext) (*ToolResult, error)
}

// HasWriteCapability reports whether a tool exposes any capability that
// read-only mode must suppress.
func HasWriteCapability(t Tool) bool {
	for _, c := range t.Capabilities() {
		if writeCapabilities[c] {
			return true
		}
	}
	return false
}
