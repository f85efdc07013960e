package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"time"

	"insights-backend/internal/llm"
	"insights-backend/internal/shared/telemetry"
)

const (
	retryAttempts    = 3
	retryBackoffBase = 500 * time.Millisecond
)

// retryingClient wraps an llm.Client with bounded retries and exponential
// backoff for transient failures. Usage from every attempt is accumulated so
// token accounting reflects what was actually spent, not just the attempt
// that succeeded.
type retryingClient struct {
	inner llm.Client
}

// NewRetryingClient wraps client with transient-failure retries.
func NewRetryingClient(client llm.Client) llm.Client {
	return &retryingClient{inner: client}
}

func (c *retryingClient) ClassifySessions(ctx context.Context, input llm.ClassifyInput) (json.RawMessage, llm.Usage, error) {
	return c.call(ctx, "classify_sessions", func(ctx context.Context) (json.RawMessage, llm.Usage, error) {
		return c.inner.ClassifySessions(ctx, input)
	})
}

func (c *retryingClient) CanonicalizeLabels(ctx context.Context, input llm.CanonicalizeInput) (json.RawMessage, llm.Usage, error) {
	return c.call(ctx, "canonicalize_labels", func(ctx context.Context) (json.RawMessage, llm.Usage, error) {
		return c.inner.CanonicalizeLabels(ctx, input)
	})
}

func (c *retryingClient) GenerateSummary(ctx context.Context, input llm.SummaryInput) (json.RawMessage, llm.Usage, error) {
	return c.call(ctx, "generate_summary", func(ctx context.Context) (json.RawMessage, llm.Usage, error) {
		return c.inner.GenerateSummary(ctx, input)
	})
}

func (c *retryingClient) call(ctx context.Context, operation string, fn func(context.Context) (json.RawMessage, llm.Usage, error)) (json.RawMessage, llm.Usage, error) {
	var total llm.Usage
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		raw, usage, err := fn(ctx)
		total = total.Add(usage)
		if err == nil {
			return raw, total, nil
		}
		lastErr = err
		if !shouldRetry(err) || attempt == retryAttempts {
			break
		}
		backoff := retryBackoffBase << (attempt - 1)
		telemetry.Warn("llm call retrying", map[string]any{
			"requestId": requestIDFromContext(ctx),
			"operation": operation,
			"attempt":   attempt,
			"backoffMs": backoff.Milliseconds(),
			"error":     err.Error(),
		})
		select {
		case <-ctx.Done():
			return nil, total, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, total, lastErr
}

// shouldRetry reports whether an LLM call failure is plausibly transient.
// Context cancellation is never retried; a dead context stays dead.
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"timeout", "rate limited", "http status 5", "connection refused", "connection reset", "EOF"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
