package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind categorizes why a provider request failed.
type ErrorKind string

const (
	KindAuth       ErrorKind = "auth"
	KindRateLimit  ErrorKind = "rate_limit"
	KindNetwork    ErrorKind = "network"
	KindBadRequest ErrorKind = "bad_request"
	KindServer     ErrorKind = "server"
	KindUnknown    ErrorKind = "unknown"
)

// Retryable returns true if the kind suggests retrying may succeed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimit, KindNetwork, KindServer:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from an LLM provider, carrying enough
// context for the engine's retry and classification logic.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Model    string
	Status   int
	Code     string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError classifies cause and wraps it as a ProviderError.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Kind:     KindUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Kind = ClassifyError(cause)
	}
	return err
}

// WithStatus adds an HTTP status code and reclassifies the error kind.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Kind = classifyStatusCode(status)
	return e
}

// WithCode adds a provider-specific error code, reclassifying if recognized.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if kind := classifyErrorCode(code); kind != KindUnknown {
		e.Kind = kind
	}
	return e
}

// WithMessage sets the error message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// ClassifyError inspects an error's text and returns the matching ErrorKind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"),
		strings.Contains(errStr, "context deadline"),
		strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "no such host"),
		strings.Contains(errStr, "eof"):
		return KindNetwork
	case strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "rate_limit"),
		strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "429"):
		return KindRateLimit
	case strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "invalid api key"),
		strings.Contains(errStr, "invalid_api_key"),
		strings.Contains(errStr, "authentication"),
		strings.Contains(errStr, "401"),
		strings.Contains(errStr, "403"):
		return KindAuth
	case strings.Contains(errStr, "invalid request"),
		strings.Contains(errStr, "invalid_request"),
		strings.Contains(errStr, "400"):
		return KindBadRequest
	case strings.Contains(errStr, "internal server"),
		strings.Contains(errStr, "server error"),
		strings.Contains(errStr, "500"),
		strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"),
		strings.Contains(errStr, "504"):
		return KindServer
	default:
		return KindUnknown
	}
}

// classifyStatusCode returns an ErrorKind based on HTTP status code.
func classifyStatusCode(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusBadRequest:
		return KindBadRequest
	case status >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}

// classifyErrorCode returns an ErrorKind based on provider-specific error codes.
func classifyErrorCode(code string) ErrorKind {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return KindRateLimit
	case "authentication_error", "invalid_api_key", "permission_error":
		return KindAuth
	case "invalid_request_error":
		return KindBadRequest
	case "server_error", "internal_error", "overloaded_error", "api_error":
		return KindServer
	default:
		return KindUnknown
	}
}

// IsProviderError reports whether err is (or wraps) a *ProviderError.
func IsProviderError(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr)
}

// GetProviderError extracts a *ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Kind.Retryable()
	}
	return ClassifyError(err).Retryable()
}
