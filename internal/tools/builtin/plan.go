package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentd/internal/agent"
	"github.com/haasonsaas/agentd/internal/sessions"
	"github.com/haasonsaas/agentd/pkg/models"
)

// PlanTool reads and edits a session's task plan. The plan itself is an
// opaque ordered list to the engine; this tool is the one place that
// interprets it as a todo list.
type PlanTool struct {
	store sessions.Store
}

// NewPlanTool creates a plan tool backed by store.
func NewPlanTool(store sessions.Store) *PlanTool {
	return &PlanTool{store: store}
}

func (t *PlanTool) Name() string { return "plan" }

func (t *PlanTool) Description() string {
	return "View or edit the current session's task plan: list, add, complete, or replace items."
}

func (t *PlanTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["list", "add", "complete", "replace"],
				"description": "list: show current plan. add: append an item. complete: mark an item done by id. replace: overwrite the whole plan."
			},
			"text": {
				"type": "string",
				"description": "Item text, for action=add."
			},
			"item_id": {
				"type": "string",
				"description": "Target item id, for action=complete."
			},
			"items": {
				"type": "array",
				"description": "Full replacement list, for action=replace.",
				"items": {
					"type": "object",
					"properties": {
						"text": {"type": "string"},
						"done": {"type": "boolean"}
					},
					"required": ["text"]
				}
			}
		},
		"required": ["action"]
	}`)
}

func (t *PlanTool) Capabilities() []agent.ToolCapability {
	return []agent.ToolCapability{agent.CapabilityModifyConfig}
}

func (t *PlanTool) RequiresApproval() bool {
	return false
}

func (t *PlanTool) Execute(ctx context.Context, params json.RawMessage, tctx *agent.ToolExecutionContext) (*agent.ToolResult, error) {
	if t.store == nil {
		return &agent.ToolResult{Content: "plan store unavailable", IsError: true}, nil
	}

	var input struct {
		Action string `json:"action"`
		Text   string `json:"text"`
		ItemID string `json:"item_id"`
		Items  []struct {
			Text string `json:"text"`
			Done bool   `json:"done"`
		} `json:"items"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}

	switch strings.ToLower(strings.TrimSpace(input.Action)) {
	case "list":
		items, err := t.store.GetPlan(ctx, tctx.SessionID)
		if err != nil {
			return nil, fmt.Errorf("get plan: %w", err)
		}
		return renderPlan(items), nil

	case "add":
		if strings.TrimSpace(input.Text) == "" {
			return &agent.ToolResult{Content: "text is required for action=add", IsError: true}, nil
		}
		items, err := t.store.GetPlan(ctx, tctx.SessionID)
		if err != nil {
			return nil, fmt.Errorf("get plan: %w", err)
		}
		items = append(items, models.PlanItem{ID: uuid.NewString(), Text: input.Text})
		if err := t.store.SetPlan(ctx, tctx.SessionID, items); err != nil {
			return nil, fmt.Errorf("set plan: %w", err)
		}
		return renderPlan(items), nil

	case "complete":
		if strings.TrimSpace(input.ItemID) == "" {
			return &agent.ToolResult{Content: "item_id is required for action=complete", IsError: true}, nil
		}
		items, err := t.store.GetPlan(ctx, tctx.SessionID)
		if err != nil {
			return nil, fmt.Errorf("get plan: %w", err)
		}
		found := false
		for i := range items {
			if items[i].ID == input.ItemID {
				items[i].Done = true
				found = true
				break
			}
		}
		if !found {
			return &agent.ToolResult{Content: "item not found: " + input.ItemID, IsError: true}, nil
		}
		if err := t.store.SetPlan(ctx, tctx.SessionID, items); err != nil {
			return nil, fmt.Errorf("set plan: %w", err)
		}
		return renderPlan(items), nil

	case "replace":
		items := make([]models.PlanItem, 0, len(input.Items))
		for _, item := range input.Items {
			if strings.TrimSpace(item.Text) == "" {
				continue
			}
			items = append(items, models.PlanItem{ID: uuid.NewString(), Text: item.Text, Done: item.Done})
		}
		if err := t.store.SetPlan(ctx, tctx.SessionID, items); err != nil {
			return nil, fmt.Errorf("set plan: %w", err)
		}
		return renderPlan(items), nil

	default:
		return &agent.ToolResult{Content: "unsupported action: " + input.Action, IsError: true}, nil
	}
}

func renderPlan(items []models.PlanItem) *agent.ToolResult {
	payload, err := json.MarshalIndent(map[string]interface{}{"items": items}, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: "encode plan failed", IsError: true}
	}
	return &agent.ToolResult{Content: string(payload)}
}
