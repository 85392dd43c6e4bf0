package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrTimeout is returned when the client deadline expires before the
	// provider finishes answering.
	ErrTimeout = errors.New("llmclient: provider timeout")

	// ErrEmptyResponse is returned when the provider answers 2xx without
	// usable content.
	ErrEmptyResponse = errors.New("llmclient: empty response from provider")
)

// ProviderError is a non-2xx answer from the provider.
type ProviderError struct {
	Status  int
	Type    string
	Message string
	Body    string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		if e.Type != "" {
			return fmt.Sprintf("llmclient: upstream %d: %s (%s)", e.Status, e.Message, e.Type)
		}
		return fmt.Sprintf("llmclient: upstream %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("llmclient: upstream %d: %s", e.Status, truncate(e.Body, 200))
}

var rateLimitMarkers = []string{"rate limit", "rate_limit", "ratelimit", "too many requests"}

// IsRateLimited reports whether err is a rate-limit class provider failure:
// HTTP 429 or an explicit rate-limit marker in the provider's error.
func IsRateLimited(err error) bool {
	var perr *ProviderError
	if !errors.As(err, &perr) {
		return false
	}
	if perr.Status == http.StatusTooManyRequests {
		return true
	}
	text := strings.ToLower(perr.Type + " " + perr.Message + " " + perr.Body)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// contextError maps a failure observed under the client's derived ctx.
// Deadline expiry becomes ErrTimeout; caller cancellation stays context.Canceled.
func contextError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("llmclient: request cancelled: %w", context.Canceled)
	}
	return err
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
