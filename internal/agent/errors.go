package agent

import (
	"errors"
	"fmt"
)

// AgentErrorKind tags the variant carried by an AgentError.
type AgentErrorKind string

const (
	KindSessionNotFound   AgentErrorKind = "session_not_found"
	KindToolLoopExhausted AgentErrorKind = "tool_loop_exhausted"
	KindCancelled         AgentErrorKind = "cancelled"
	KindCompactionFailed  AgentErrorKind = "compaction_failed"
	KindInternal          AgentErrorKind = "internal"
)

// AgentError is the one error type SendMessage ever returns. Every other
// failure mode (provider errors, tool errors, approval timeouts) is
// absorbed earlier — turned into a retry, a synthetic ToolResult, or
// wrapped here as KindInternal — so a caller only ever has one error shape
// to handle.
type AgentError struct {
	Kind    AgentErrorKind
	Message string
	Cause   error
}

func (e *AgentError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("agent: %s: %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("agent: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("agent: %s", e.Kind)
}

func (e *AgentError) Unwrap() error { return e.Cause }

func newAgentError(kind AgentErrorKind, msg string, cause error) *AgentError {
	return &AgentError{Kind: kind, Message: msg, Cause: cause}
}

// IsAgentError reports whether err is or wraps an AgentError of the given
// kind.
func IsAgentError(err error, kind AgentErrorKind) bool {
	var ae *AgentError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Kind == kind
}
