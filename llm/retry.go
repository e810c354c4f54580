package llm

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultMaxRetries = 6
	baseRetryDelay    = 2 * time.Second
	minRateLimitDelay = 5 * time.Second
)

// APIError is a non-2xx answer from the model server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("LLM API error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryPolicy spaces out repeated attempts: exponential from base, and
// for 429 answers at least rateLimitFloor doubled per attempt or the
// server's Retry-After, whichever is longer.
type retryPolicy struct {
	maxRetries     int
	base           time.Duration
	rateLimitFloor time.Duration
}

func (p retryPolicy) delay(attempt int, err error, header http.Header) time.Duration {
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode != http.StatusTooManyRequests {
		return p.base * time.Duration(1<<attempt)
	}
	wait := p.rateLimitFloor * time.Duration(1<<attempt)
	if header != nil {
		if s, err := strconv.Atoi(header.Get("Retry-After")); err == nil && s > 0 {
			if d := time.Duration(s) * time.Second; d > wait {
				wait = d
			}
		}
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
