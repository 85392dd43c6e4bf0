package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"fitcoach-gateway/internal/metrics"
	"fitcoach-gateway/pkg/logging/logging"
)

// RetryPolicy bounds the retry loop around provider calls. Only rate-limit
// failures are retried; the delay before retry n (1-based) is
// min(BaseDelay * 2^(n-1), MaxDelay).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is three attempts with 1s, 2s waits, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// newBackOff returns a deterministic exponential schedule (no jitter, no
// elapsed-time cutoff). Attempts are bounded by WithMaxRetries in Retry.
func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Retry runs op until it succeeds, fails with a non-rate-limit error, or
// MaxAttempts is reached. The last error is returned unchanged.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	policy = policy.withDefaults()
	logger := logging.FromContext(ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) || !IsRateLimited(err) {
			if perm != nil {
				return err
			}
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		metrics.ProviderRetriesTotal.Inc()
		logger.Info("provider rate limited, backing off",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(policy.newBackOff(), uint64(policy.MaxAttempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(operation, b, notify)
	if err != nil && IsRateLimited(err) && attempt >= policy.MaxAttempts {
		logger.Warn("provider still rate limited after all attempts",
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
	}
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return contextError(ctx, err)
	}
	return err
}

// CompleteWithRetry wraps c.Complete in the rate-limit retry policy.
func CompleteWithRetry(ctx context.Context, c Client, req *CompletionRequest, policy RetryPolicy) (string, error) {
	var out string
	err := Retry(ctx, policy, func(ctx context.Context) error {
		text, err := c.Complete(ctx, req)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// CompleteStreamWithRetry retries a streaming call only while nothing has been
// forwarded to onDelta yet.
func CompleteStreamWithRetry(ctx context.Context, c Client, req *CompletionRequest, policy RetryPolicy, onDelta func(string)) (string, error) {
	delivered := false
	forward := func(delta string) {
		delivered = true
		if onDelta != nil {
			onDelta(delta)
		}
	}

	var out string
	err := Retry(ctx, policy, func(ctx context.Context) error {
		text, err := c.CompleteStream(ctx, req, forward)
		if err != nil {
			if delivered {
				// output already reached the caller; never restart
				return backoff.Permanent(err)
			}
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
