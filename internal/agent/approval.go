package agent

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ApprovalPolicy controls how the broker resolves a request without
// contacting the adapter.
type ApprovalPolicy string

const (
	PolicyAsk         ApprovalPolicy = "ask"
	PolicyAutoSession ApprovalPolicy = "auto_session"
	PolicyAutoAlways  ApprovalPolicy = "auto_always"
)

// ApprovalScope describes how far an approval decision should be
// remembered.
type ApprovalScope string

const (
	ScopeOnce    ApprovalScope = "once"
	ScopeSession ApprovalScope = "session"
	ScopeAlways  ApprovalScope = "always"
)

// ApprovalRequest is the information shown to a human for confirmation.
// Input must already be redacted by the caller before this is published.
type ApprovalRequest struct {
	ID           string
	SessionID    string
	ToolName     string
	Description  string
	Input        json.RawMessage
	Capabilities []ToolCapability
	CreatedAt    time.Time
}

// ApprovalResponse is what an adapter sends back to resolve a pending
// request.
type ApprovalResponse struct {
	RequestID string
	Approved  bool
	Scope     ApprovalScope
}

// ApprovalCallback is supplied by the caller of SendMessage (or defaults to
// one wired to a channel adapter). It must resolve within the broker's
// timeout; returning false is treated as denial.
type ApprovalCallback func(req ApprovalRequest) bool

// DefaultApprovalTimeout is the recommended chat-surface window (120s;
// callers needing a longer window for batch workloads, e.g. 300s, set
// Broker.Timeout explicitly).
const DefaultApprovalTimeout = 120 * time.Second

type pendingApproval struct {
	request  ApprovalRequest
	resolved chan bool
}

// Broker implements the out-of-band approval protocol: per-session policy
// memoization, an always-set of pre-approved tool names, and a superseding
// rule that auto-denies a stale pending request when a new one for the
// same session arrives.
//
// Grounded on the shape of a prior approval checker that kept a
// mutex-guarded pending-request map; the decision algorithm here is a
// three-policy model (ask / auto-session / auto-always) rather than a static
// allow/deny list.
type Broker struct {
	mu        sync.Mutex
	policy    map[string]ApprovalPolicy   // sessionID -> policy
	always    map[string]map[string]bool  // sessionID -> tool name -> auto-approved
	pending   map[string]*pendingApproval // sessionID -> the one in-flight request
	Timeout   time.Duration
	OnPublish func(ApprovalRequest)
}

// NewBroker creates an approval broker with the default chat timeout.
func NewBroker() *Broker {
	return &Broker{
		policy:  make(map[string]ApprovalPolicy),
		always:  make(map[string]map[string]bool),
		pending: make(map[string]*pendingApproval),
		Timeout: DefaultApprovalTimeout,
	}
}

// Request runs the full approval protocol for one tool call and blocks
// until a decision, a timeout, or cancellation is reached.
func (b *Broker) Request(sessionID, toolName, description string, input json.RawMessage, caps []ToolCapability, callback ApprovalCallback, cancel <-chan struct{}) bool {
	if b.autoApproved(sessionID, toolName) {
		return true
	}

	req := ApprovalRequest{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		ToolName:     toolName,
		Description:  description,
		Input:        input,
		Capabilities: caps,
		CreatedAt:    time.Now(),
	}

	pending := &pendingApproval{request: req, resolved: make(chan bool, 1)}
	b.supersedePending(sessionID, pending)

	if b.OnPublish != nil {
		b.OnPublish(req)
	}

	if callback == nil {
		b.clearPending(sessionID, pending)
		return false
	}

	done := make(chan bool, 1)
	go func() {
		done <- callback(req)
	}()

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case approved := <-done:
		b.clearPending(sessionID, pending)
		return approved
	case approved := <-pending.resolved:
		// Superseded by a newer request for the same session.
		return approved
	case <-timer.C:
		b.clearPending(sessionID, pending)
		return false
	case <-cancel:
		b.clearPending(sessionID, pending)
		return false
	}
}

// Resolve is called by an adapter delivering a human decision out of band
// (as opposed to a synchronous callback). It applies the scope and wakes
// up any goroutine blocked on the matching pending request.
func (b *Broker) Resolve(sessionID string, resp ApprovalResponse) {
	b.mu.Lock()
	pending, ok := b.pending[sessionID]
	if !ok || pending.request.ID != resp.RequestID {
		b.mu.Unlock()
		return
	}
	delete(b.pending, sessionID)
	if resp.Approved {
		switch resp.Scope {
		case ScopeSession:
			b.allowTool(sessionID, pending.request.ToolName)
		case ScopeAlways:
			b.policy[sessionID] = PolicyAutoAlways
		}
	}
	b.mu.Unlock()
	select {
	case pending.resolved <- resp.Approved:
	default:
	}
}

func (b *Broker) autoApproved(sessionID, toolName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.policy[sessionID] == PolicyAutoAlways {
		return true
	}
	if set, ok := b.always[sessionID]; ok && set[toolName] {
		return true
	}
	return false
}

func (b *Broker) allowTool(sessionID, toolName string) {
	if b.always[sessionID] == nil {
		b.always[sessionID] = make(map[string]bool)
	}
	b.always[sessionID][toolName] = true
}

// supersedePending auto-denies any request already pending for this
// session before replacing it with next.
func (b *Broker) supersedePending(sessionID string, next *pendingApproval) {
	b.mu.Lock()
	prev := b.pending[sessionID]
	b.pending[sessionID] = next
	b.mu.Unlock()

	if prev != nil {
		select {
		case prev.resolved <- false:
		default:
		}
	}
}

func (b *Broker) clearPending(sessionID string, p *pendingApproval) {
	b.mu.Lock()
	if b.pending[sessionID] == p {
		delete(b.pending, sessionID)
	}
	b.mu.Unlock()
}

// PendingCount reports the number of sessions with an in-flight approval
// request. Used by tests asserting the pending map drains after a turn.
func (b *Broker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
