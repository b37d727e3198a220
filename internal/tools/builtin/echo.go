// Package builtin provides small first-party tools with no external
// dependencies of their own, registered alongside files/exec in every
// deployment.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/agentd/internal/agent"
)

// EchoTool returns its input unchanged. Used in tests and as a minimal
// no-side-effect tool for smoke-testing the registry and manifest wiring.
type EchoTool struct{}

// NewEchoTool creates an echo tool.
func NewEchoTool() *EchoTool {
	return &EchoTool{}
}

func (t *EchoTool) Name() string { return "echo" }

func (t *EchoTool) Description() string {
	return "Echo the given message back unchanged. Useful for testing tool wiring."
}

func (t *EchoTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"message": {
				"type": "string",
				"description": "Text to echo back."
			}
		},
		"required": ["message"]
	}`)
}

func (t *EchoTool) Capabilities() []agent.ToolCapability {
	return nil
}

func (t *EchoTool) RequiresApproval() bool {
	return false
}

func (t *EchoTool) Execute(ctx context.Context, params json.RawMessage, tctx *agent.ToolExecutionContext) (*agent.ToolResult, error) {
	var input struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: input.Message}, nil
}
