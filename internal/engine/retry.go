package engine

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/slipway-io/slipway/internal/errors"
)

// DefaultNodeTimeout bounds one node's probe+apply round trip. Cache
// clusters are the slow path and get their own bound in the adapter.
const DefaultNodeTimeout = 10 * time.Minute

// RetryPolicy defines retry behavior for transient provider errors.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultProbePolicy is the probe retry bound: three attempts total,
// exponential backoff from a small base.
func DefaultProbePolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

func (p *RetryPolicy) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.MaxInterval = p.MaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// WithTimeout wraps a context with a per-node timeout.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultNodeTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// RetryTransient runs fn up to policy.MaxAttempts times, sleeping with
// exponential backoff between attempts. Only transient failures are
// retried; anything else returns immediately. When the attempts run out
// the last error is reclassified as a timeout.
func RetryTransient(ctx context.Context, policy *RetryPolicy, fn func() error) error {
	if policy == nil {
		policy = DefaultProbePolicy()
	}

	bo := policy.newBackOff()
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}
		if err := sleepWithContext(ctx, bo.NextBackOff()); err != nil {
			return err
		}
	}
	return apperrors.Recode(lastErr, apperrors.CodeTimeout, "retries exhausted")
}

func retryable(err error) bool {
	return apperrors.IsTransient(err) || IsTransientError(err)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d == backoff.Stop {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTransientError classifies raw errors that did not come through the
// typed error path, matching common cloud API throttling and network
// failure messages.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"throttl",
		"rate exceed",
		"too many requests",
		"request limit",
		"service unavailable",
		"internal server error",
		"connection reset",
		"connection refused",
		"timeout",
		"tls handshake",
		"i/o timeout",
		"temporary failure",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
