package providers

import (
	"context"
	"time"
)

// backoffSchedule is the exponential retry schedule: 250ms, 1s, 4s.
var backoffSchedule = []time.Duration{
	250 * time.Millisecond,
	1 * time.Second,
	4 * time.Second,
}

// BaseProvider holds shared retry configuration for LLM providers.
type BaseProvider struct {
	name string
}

// NewBaseProvider creates a base provider identified by name.
func NewBaseProvider(name string) BaseProvider {
	return BaseProvider{name: name}
}

// Retry executes op, retrying with the exponential backoff schedule while
// isRetryable(err) holds, up to len(backoffSchedule) retries.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt <= len(backoffSchedule); attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return err
		}
		if attempt >= len(backoffSchedule) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffSchedule[attempt]):
		}
	}
	return lastErr
}
