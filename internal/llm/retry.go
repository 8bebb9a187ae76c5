package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
)

// retryPolicy is exponential backoff: baseDelay * 2^attempt, capped at maxDelay.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// defaultRetry is 3 attempts with 1s, 2s delays, capped at 10s.
var defaultRetry = retryPolicy{maxAttempts: 3, baseDelay: time.Second, maxDelay: 10 * time.Second}

func (p retryPolicy) delay(attempt int) time.Duration {
	d := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	return time.Duration(math.Min(d, float64(p.maxDelay)))
}

// withRetry calls fn until it succeeds, returns a non-retryable error or the
// attempts run out.
func withRetry[T any](ctx context.Context, p retryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		out, err = fn(ctx)
		if err == nil {
			return out, nil
		}
		if attempt == p.maxAttempts-1 || !isRetryableError(err) {
			break
		}
		select {
		case <-time.After(p.delay(attempt)):
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}
	return out, err
}

// isRetryableError reports whether err is worth another attempt: network
// failures, 429 and 5xx. Other 4xx errors (auth, validation) are final.
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var oaErr *openai.APIError
	if errors.As(err, &oaErr) {
		return retryableStatus(oaErr.HTTPStatusCode)
	}
	var oaReqErr *openai.RequestError
	if errors.As(err, &oaReqErr) {
		return retryableStatus(oaReqErr.HTTPStatusCode)
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return retryableStatus(anErr.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	for _, s := range []string{"connection refused", "connection reset", "timeout", "temporary failure", "EOF"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
