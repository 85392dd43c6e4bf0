package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type scriptedClient struct {
	calls  atomic.Int32
	errs   []error // error per call; nil entries succeed
	text   string
	deltas []string
}

func (s *scriptedClient) next() error {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) {
		return s.errs[n]
	}
	return nil
}

func (s *scriptedClient) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	if err := s.next(); err != nil {
		return "", err
	}
	return s.text, nil
}

func (s *scriptedClient) CompleteStream(ctx context.Context, req *CompletionRequest, onDelta func(string)) (string, error) {
	for _, d := range s.deltas {
		onDelta(d)
	}
	if err := s.next(); err != nil {
		return "", err
	}
	return s.text, nil
}

var fastPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func rateLimited() error { return &ProviderError{Status: 429, Message: "slow down"} }

func TestCompleteWithRetryRecoversFromRateLimit(t *testing.T) {
	t.Parallel()

	c := &scriptedClient{errs: []error{rateLimited(), rateLimited()}, text: "ok"}

	out, err := CompleteWithRetry(context.Background(), c, pingRequest(), fastPolicy)
	if err != nil {
		t.Fatalf("CompleteWithRetry: %v", err)
	}
	if out != "ok" {
		t.Fatalf("unexpected output: %q", out)
	}
	if got := c.calls.Load(); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestCompleteWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	c := &scriptedClient{errs: []error{rateLimited(), rateLimited(), rateLimited(), nil}}

	_, err := CompleteWithRetry(context.Background(), c, pingRequest(), fastPolicy)
	if !IsRateLimited(err) {
		t.Fatalf("expected last rate-limit error, got %v", err)
	}
	if got := c.calls.Load(); got != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", got)
	}
}

func TestCompleteWithRetryDoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()

	cases := []error{
		ErrTimeout,
		ErrEmptyResponse,
		&ProviderError{Status: 500, Message: "boom"},
		&ProviderError{Status: 401, Message: "bad key"},
	}
	for _, want := range cases {
		c := &scriptedClient{errs: []error{want}}

		_, err := CompleteWithRetry(context.Background(), c, pingRequest(), fastPolicy)
		if !errors.Is(err, want) {
			t.Fatalf("expected %v unchanged, got %v", want, err)
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			t.Fatalf("permanent wrapper leaked to caller: %v", err)
		}
		if got := c.calls.Load(); got != 1 {
			t.Fatalf("%v: expected a single call, got %d", want, got)
		}
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second}, func(context.Context) error {
		calls++
		cancel()
		return rateLimited()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestRetryPolicyDelaySequence(t *testing.T) {
	t.Parallel()

	b := DefaultRetryPolicy().newBackOff()
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Fatalf("delay %d: got %s, want %s", i+1, got, w)
		}
	}
}

func TestCompleteStreamWithRetryNoRestartAfterDelta(t *testing.T) {
	t.Parallel()

	c := &scriptedClient{
		errs:   []error{rateLimited(), nil},
		deltas: []string{"par"},
		text:   "partial",
	}

	var got []string
	_, err := CompleteStreamWithRetry(context.Background(), c, pingRequest(), fastPolicy, func(d string) {
		got = append(got, d)
	})
	if !IsRateLimited(err) {
		t.Fatalf("expected rate-limit error surfaced, got %v", err)
	}
	if c.calls.Load() != 1 {
		t.Fatalf("stream restarted after output was delivered")
	}
	if len(got) != 1 {
		t.Fatalf("unexpected deltas: %#v", got)
	}
}

func TestCompleteStreamWithRetryBeforeOutput(t *testing.T) {
	t.Parallel()

	c := &scriptedClient{errs: []error{rateLimited()}, text: "done"}

	out, err := CompleteStreamWithRetry(context.Background(), c, pingRequest(), fastPolicy, nil)
	if err != nil {
		t.Fatalf("CompleteStreamWithRetry: %v", err)
	}
	if out != "done" || c.calls.Load() != 2 {
		t.Fatalf("expected retry then success, got %q after %d calls", out, c.calls.Load())
	}
}
