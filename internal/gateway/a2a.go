package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentd/internal/agent"
	"github.com/haasonsaas/agentd/internal/agent/providers"
)

// JSON-RPC 2.0 error codes: the standard codes plus an application-specific
// range starting at -32000, reserved for -32000..-32099.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcTaskNotFound   = -32000
	rpcAgentError     = -32001
)

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func errorResponse(id json.RawMessage, code int, message string) RPCResponse {
	return RPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

func resultResponse(id json.RawMessage, result interface{}) RPCResponse {
	return RPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

// messageSendParams is the payload for the "message/send" method, mapping
// directly onto Engine.SendMessage's (sessionID, userInput) pair.
type messageSendParams struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// taskParams identifies a task for "tasks/get" and "tasks/cancel".
type taskParams struct {
	TaskID string `json:"task_id"`
}

// taskView is the wire shape of a Task — deliberately excludes the
// store's internal cancel func.
type taskView struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newTaskView(t *Task) taskView {
	return taskView{
		ID:        t.ID,
		SessionID: t.SessionID,
		Status:    string(t.Status),
		Result:    t.Result,
		Error:     t.Error,
		CreatedAt: t.CreatedAt,
	}
}

// A2AServer dispatches JSON-RPC 2.0 requests against an agent.Engine. It
// contains no agent logic of its own — every method is a thin translation
// to/from Engine calls.
type A2AServer struct {
	engine  *agent.Engine
	tasks   *taskStore
	metrics *Metrics
	logger  *slog.Logger
}

// NewA2AServer builds a gateway bound to engine.
func NewA2AServer(engine *agent.Engine, metrics *Metrics, logger *slog.Logger) *A2AServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &A2AServer{engine: engine, tasks: newTaskStore(), metrics: metrics, logger: logger}
}

// Dispatch handles one JSON-RPC request and returns its response. It never
// returns a transport-level error — malformed or unknown requests become
// JSON-RPC error responses instead.
func (s *A2AServer) Dispatch(ctx context.Context, req RPCRequest) RPCResponse {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, rpcInvalidRequest, "invalid JSON-RPC version, expected 2.0")
	}

	switch req.Method {
	case "message/send":
		return s.handleMessageSend(ctx, req)
	case "tasks/get":
		return s.handleTasksGet(req)
	case "tasks/cancel":
		return s.handleTasksCancel(req)
	default:
		return errorResponse(req.ID, rpcMethodNotFound, "unknown method: "+req.Method)
	}
}

func (s *A2AServer) handleMessageSend(ctx context.Context, req RPCRequest) RPCResponse {
	var params messageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, rpcInvalidParams, "invalid params: "+err.Error())
	}
	if params.SessionID == "" {
		return errorResponse(req.ID, rpcInvalidParams, "session_id is required")
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	task := &Task{
		ID:        uuid.NewString(),
		SessionID: params.SessionID,
		Status:    TaskRunning,
		CreatedAt: time.Now(),
		cancel:    cancel,
	}
	s.tasks.put(task)

	go s.runTask(taskCtx, task, params.Message)

	return resultResponse(req.ID, newTaskView(task))
}

func (s *A2AServer) runTask(ctx context.Context, task *Task, message string) {
	start := time.Now()
	opts := agent.SendOptions{Cancel: ctx}
	if s.metrics != nil {
		base := s.engine.DefaultProgress
		opts.Progress = func(sessionID string, event agent.ProgressEvent) {
			if tc, ok := event.(agent.ToolCompleted); ok {
				outcome := map[bool]string{true: "success", false: "error"}[tc.Success]
				s.metrics.ToolCallsTotal.WithLabelValues(tc.Name, outcome).Inc()
			}
			if base != nil {
				base(sessionID, event)
			}
		}
	}
	resp, err := s.engine.SendMessage(ctx, task.SessionID, message, opts)
	if s.metrics != nil {
		s.metrics.TurnsTotal.Inc()
		s.metrics.TurnLatency.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		status := TaskFailed
		if agent.IsAgentError(err, agent.KindCancelled) {
			status = TaskCancelled
		} else if s.metrics != nil {
			var perr *providers.ProviderError
			if errors.As(err, &perr) {
				s.metrics.ProviderErrors.WithLabelValues(perr.Provider).Inc()
			}
		}
		s.tasks.update(task.ID, func(t *Task) {
			t.Status = status
			t.Error = err.Error()
		})
		s.logger.Warn("task failed", "task_id", task.ID, "session_id", task.SessionID, "error", err)
		return
	}

	s.tasks.update(task.ID, func(t *Task) {
		t.Status = TaskCompleted
		t.Result = resp.Content
	})
}

func (s *A2AServer) handleTasksGet(req RPCRequest) RPCResponse {
	var params taskParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, rpcInvalidParams, "invalid params: "+err.Error())
	}
	task, ok := s.tasks.get(params.TaskID)
	if !ok {
		return errorResponse(req.ID, rpcTaskNotFound, "task not found: "+params.TaskID)
	}
	return resultResponse(req.ID, newTaskView(task))
}

func (s *A2AServer) handleTasksCancel(req RPCRequest) RPCResponse {
	var params taskParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, rpcInvalidParams, "invalid params: "+err.Error())
	}
	task, ok := s.tasks.get(params.TaskID)
	if !ok {
		return errorResponse(req.ID, rpcTaskNotFound, "task not found: "+params.TaskID)
	}
	if task.cancel != nil {
		task.cancel()
	}
	return resultResponse(req.ID, newTaskView(task))
}
