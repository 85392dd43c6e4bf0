package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, url string, timeout time.Duration) Client {
	t.Helper()

	c, err := NewClient(Config{
		BaseURL: url,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		Timeout: timeout,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { closeClient(c) })
	return c
}

func pingRequest() *CompletionRequest {
	return &CompletionRequest{
		Messages:       []Message{{Role: RoleUser, Content: "ping"}},
		SystemPrompt:   "you are a coach",
		Temperature:    0.3,
		ResponseFormat: FormatJSON,
		MaxTokens:      50,
	}
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, zaptest.NewLogger(t))
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}
}

func TestCompleteSuccess(t *testing.T) {
	t.Parallel()

	var gotReq providerChatRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}

		gotAuth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}

		resp := providerChatResponse{
			ID:     "chatcmpl-1",
			Object: "chat.completion",
			Model:  "gpt-4o-mini",
			Choices: []providerChatChoice{
				{
					Message:      Message{Role: RoleAssistant, Content: `{"action":"create_workouts"}`},
					FinishReason: "stop",
				},
			},
			Usage: &providerUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Second)

	content, err := client.Complete(context.Background(), pingRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected Authorization header: %s", gotAuth)
	}
	if gotReq.Stream {
		t.Fatalf("single-shot request should not set stream=true")
	}
	if gotReq.Model != "gpt-4o-mini" {
		t.Fatalf("expected configured model, got %s", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 {
		t.Fatalf("expected system + user messages, got %#v", gotReq.Messages)
	}
	if gotReq.Messages[0].Role != RoleSystem || gotReq.Messages[0].Content != "you are a coach" {
		t.Fatalf("system prompt not prepended: %#v", gotReq.Messages[0])
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_object" {
		t.Fatalf("json format not requested: %#v", gotReq.ResponseFormat)
	}
	if content != `{"action":"create_workouts"}` {
		t.Fatalf("unexpected content: %s", content)
	}
}

func TestCompleteValidationError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("server should not be called for invalid request")
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Second)

	_, err := client.Complete(context.Background(), &CompletionRequest{ResponseFormat: FormatText})
	if err == nil || !strings.Contains(err.Error(), "invalid request") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCompleteRateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"Rate limit reached","type":"requests"}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Second)

	_, err := client.Complete(context.Background(), pingRequest())
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Status != http.StatusTooManyRequests || perr.Message != "Rate limit reached" {
		t.Fatalf("unexpected provider error: %#v", perr)
	}
	if !IsRateLimited(err) {
		t.Fatalf("429 should be classified as rate limited")
	}
}

func TestIsRateLimitedMarker(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want bool
	}{
		{&ProviderError{Status: 429}, true},
		{&ProviderError{Status: 400, Type: "rate_limit_exceeded"}, true},
		{&ProviderError{Status: 503, Body: "Too Many Requests, slow down"}, true},
		{&ProviderError{Status: 500, Message: "internal"}, false},
		{ErrTimeout, false},
		{fmt.Errorf("wrapped: %w", &ProviderError{Status: 429}), true},
	}
	for i, tc := range cases {
		if got := IsRateLimited(tc.err); got != tc.want {
			t.Fatalf("case %d: IsRateLimited(%v) = %v, want %v", i, tc.err, got, tc.want)
		}
	}
}

func TestCompleteEmptyResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"  "}}]}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Second)

	_, err := client.Complete(context.Background(), pingRequest())
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestCompleteTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 50*time.Millisecond)

	start := time.Now()
	_, err := client.Complete(context.Background(), pingRequest())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not enforced, took %s", time.Since(start))
	}
}

func TestCompleteCallerCancel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := client.Complete(ctx, pingRequest())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("caller cancellation must not be reported as timeout")
	}
}

func TestCompleteStream(t *testing.T) {
	t.Parallel()

	var gotReq providerChatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("unmarshal body: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Errorf("response writer does not support flushing")
			return
		}

		chunks := []string{
			`{"choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"hel"}}]}`,
			`{not json`,
			`{"choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		}

		fmt.Fprint(w, ": keep-alive\n\n")
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 5*time.Second)

	req := pingRequest()
	req.ResponseFormat = FormatText

	var deltas []string
	text, err := client.CompleteStream(context.Background(), req, func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}

	if !gotReq.Stream {
		t.Fatalf("stream requests must set stream=true")
	}
	if gotReq.ResponseFormat != nil {
		t.Fatalf("text format must not request json_object")
	}
	if text != "hello" {
		t.Fatalf("unexpected accumulated text: %q", text)
	}
	if strings.Join(deltas, "|") != "hel|lo" {
		t.Fatalf("unexpected deltas: %#v", deltas)
	}
}

func TestCompleteStreamEmpty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Second)

	_, err := client.CompleteStream(context.Background(), pingRequest(), nil)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestCompleteStreamStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Second)

	called := false
	_, err := client.CompleteStream(context.Background(), pingRequest(), func(string) { called = true })
	if !IsRateLimited(err) {
		t.Fatalf("expected rate-limit error, got %v", err)
	}
	if called {
		t.Fatalf("onDelta must not run when the provider rejects the call")
	}
}

func closeClient(c Client) {
	if closer, ok := c.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
