package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/agentd/internal/agent"
	"github.com/haasonsaas/agentd/internal/sessions"
	"github.com/haasonsaas/agentd/pkg/models"
)

// stubProvider is a minimal agent.Provider that always ends the turn with a
// canned text reply, never requesting a tool.
type stubProvider struct{}

func (stubProvider) Name() string         { return "stub" }
func (stubProvider) DefaultModel() string { return "stub-model" }
func (stubProvider) SupportedModels() []string { return []string{"stub-model"} }
func (stubProvider) ContextWindow(model string) (uint32, bool) { return 200000, true }
func (stubProvider) CalculateCost(model string, in, out uint32) float64 { return 0 }

func (stubProvider) Complete(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	return &agent.LLMResponse{
		ID:         "resp-1",
		Model:      "stub-model",
		Content:    []agent.ContentBlock{{Type: agent.ContentText, Text: "hello from stub"}},
		StopReason: agent.StopEndTurn,
		Usage:      agent.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func (stubProvider) Stream(ctx context.Context, req agent.LLMRequest) (<-chan agent.StreamEvent, <-chan error) {
	events := make(chan agent.StreamEvent)
	errs := make(chan error, 1)
	close(events)
	close(errs)
	return events, errs
}

func newTestEngine(t *testing.T) (*agent.Engine, string) {
	t.Helper()
	store := sessions.NewMemoryStore()
	session := &models.Session{ID: "sess-1", ProviderName: "stub", Model: "stub-model"}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	registry := agent.NewRegistry()
	broker := agent.NewBroker()
	workspace := agent.NewWorkspace(t.TempDir())
	queue := agent.NewMessageQueue()
	providers := map[string]agent.Provider{"stub": stubProvider{}}

	engine := agent.NewEngine(store, registry, broker, workspace, queue, providers, "stub", "stub-model", "You are a test assistant.")
	return engine, session.ID
}

func rpcID(n int) json.RawMessage { return json.RawMessage([]byte(itoa(n))) }

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestA2AServerMessageSendCompletesTask(t *testing.T) {
	engine, sessionID := newTestEngine(t)
	s := NewA2AServer(engine, NewMetrics(), nil)

	params, _ := json.Marshal(messageSendParams{SessionID: sessionID, Message: "hi"})
	resp := s.Dispatch(context.Background(), RPCRequest{JSONRPC: "2.0", ID: rpcID(1), Method: "message/send", Params: params})
	if resp.Error != nil {
		t.Fatalf("message/send error = %v", resp.Error)
	}

	view, ok := resp.Result.(taskView)
	if !ok {
		t.Fatalf("expected taskView result, got %T", resp.Result)
	}
	if view.Status != string(TaskRunning) && view.Status != string(TaskCompleted) {
		t.Fatalf("unexpected initial status %q", view.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := s.tasks.get(view.ID)
		if !ok {
			t.Fatalf("task %q vanished", view.ID)
		}
		if task.Status == TaskCompleted {
			if task.Result == "" {
				t.Fatal("expected non-empty result on completed task")
			}
			return
		}
		if task.Status == TaskFailed {
			t.Fatalf("task failed: %s", task.Error)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task did not complete in time")
}

func TestA2AServerMessageSendRequiresSessionID(t *testing.T) {
	engine, _ := newTestEngine(t)
	s := NewA2AServer(engine, NewMetrics(), nil)

	params, _ := json.Marshal(messageSendParams{Message: "hi"})
	resp := s.Dispatch(context.Background(), RPCRequest{JSONRPC: "2.0", ID: rpcID(1), Method: "message/send", Params: params})
	if resp.Error == nil {
		t.Fatal("expected error for missing session_id")
	}
	if resp.Error.Code != rpcInvalidParams {
		t.Fatalf("expected rpcInvalidParams, got %d", resp.Error.Code)
	}
}

func TestA2AServerRejectsWrongJSONRPCVersion(t *testing.T) {
	engine, _ := newTestEngine(t)
	s := NewA2AServer(engine, NewMetrics(), nil)

	resp := s.Dispatch(context.Background(), RPCRequest{JSONRPC: "1.0", ID: rpcID(1), Method: "message/send"})
	if resp.Error == nil || resp.Error.Code != rpcInvalidRequest {
		t.Fatalf("expected rpcInvalidRequest, got %+v", resp.Error)
	}
}

func TestA2AServerUnknownMethod(t *testing.T) {
	engine, _ := newTestEngine(t)
	s := NewA2AServer(engine, NewMetrics(), nil)

	resp := s.Dispatch(context.Background(), RPCRequest{JSONRPC: "2.0", ID: rpcID(1), Method: "tasks/frobnicate"})
	if resp.Error == nil || resp.Error.Code != rpcMethodNotFound {
		t.Fatalf("expected rpcMethodNotFound, got %+v", resp.Error)
	}
}

func TestA2AServerTasksGetUnknownTask(t *testing.T) {
	engine, _ := newTestEngine(t)
	s := NewA2AServer(engine, NewMetrics(), nil)

	params, _ := json.Marshal(taskParams{TaskID: "does-not-exist"})
	resp := s.Dispatch(context.Background(), RPCRequest{JSONRPC: "2.0", ID: rpcID(1), Method: "tasks/get", Params: params})
	if resp.Error == nil || resp.Error.Code != rpcTaskNotFound {
		t.Fatalf("expected rpcTaskNotFound, got %+v", resp.Error)
	}
}

func TestA2AServerTasksCancel(t *testing.T) {
	engine, sessionID := newTestEngine(t)
	s := NewA2AServer(engine, NewMetrics(), nil)

	sendParams, _ := json.Marshal(messageSendParams{SessionID: sessionID, Message: "hi"})
	sendResp := s.Dispatch(context.Background(), RPCRequest{JSONRPC: "2.0", ID: rpcID(1), Method: "message/send", Params: sendParams})
	view := sendResp.Result.(taskView)

	cancelParams, _ := json.Marshal(taskParams{TaskID: view.ID})
	cancelResp := s.Dispatch(context.Background(), RPCRequest{JSONRPC: "2.0", ID: rpcID(2), Method: "tasks/cancel", Params: cancelParams})
	if cancelResp.Error != nil {
		t.Fatalf("tasks/cancel error = %v", cancelResp.Error)
	}
}
