package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"

	"fitcoach-gateway/internal/assistant"
	"fitcoach-gateway/internal/auth"
	"fitcoach-gateway/internal/cache"
	"fitcoach-gateway/internal/llm"
	"fitcoach-gateway/internal/quota"
	"fitcoach-gateway/internal/relay"
)

const workoutJSON = `{"intent":"create","action":"create_workouts","workouts":[{"title":"Push","type":"strength","muscleGroup":"chest","difficulty":"intermediario","exercises":[{"name":"Bench press","sets":4}]}],"message":"Push day ready."}`

type mockLLMClient struct {
	calls atomic.Int32
	reply string
	err   error
}

func (m *mockLLMClient) Complete(ctx context.Context, req *llm.CompletionRequest) (string, error) {
	m.calls.Add(1)
	return m.reply, m.err
}

func (m *mockLLMClient) CompleteStream(ctx context.Context, req *llm.CompletionRequest, onDelta func(string)) (string, error) {
	m.calls.Add(1)
	if m.err != nil {
		return "", m.err
	}
	onDelta(m.reply)
	return m.reply, nil
}

type testEnv struct {
	router *chi.Mux
	llm    *mockLLMClient
	usage  *quota.MemoryUsageStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mem := cache.NewMemoryExactCache(time.Minute)
	t.Cleanup(func() { mem.Close() })

	fake := &mockLLMClient{reply: workoutJSON}
	usage := quota.NewMemoryUsageStore()
	gate := quota.NewGate(
		quota.NewStaticEntitlementStore([]quota.Entitlement{{SubjectID: "user-42", PlanTier: "pro", Status: quota.StatusActive}}),
		usage,
		quota.Config{DailyLimit: 20},
		zaptest.NewLogger(t),
	)
	svc := assistant.New(fake, cache.NewResponseCache(mem, "gpt-4o-mini", "vtest", time.Minute), gate,
		assistant.Config{Retry: llm.RetryPolicy{MaxAttempts: 1}}, zaptest.NewLogger(t))

	h := NewAssistantHandler(svc, relay.New(svc, gate))
	u := NewUsageHandler(gate)

	r := chi.NewRouter()
	// stands in for the authentication middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get("X-Test-Subject"); id != "" {
				r = r.WithContext(auth.WithSubject(r.Context(), auth.Subject{ID: id}))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Post("/v1/assistant/{kind}", h.Complete)
	r.Post("/v1/assistant/{kind}/stream", h.Stream)
	r.Get("/v1/usage", u.Usage)

	return &testEnv{router: r, llm: fake, usage: usage}
}

func (e *testEnv) do(method, path, subject, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req.Header.Set("X-Test-Subject", subject)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %q", rr.Body.String())
	}
	return out
}

func TestAssistantComplete(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/v1/assistant/workout", "user-42", `{"message":"push day please"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}

	body := decode(t, rr)
	if body["remainingQuota"] != float64(19) || body["message"] != "Push day ready." {
		t.Fatalf("unexpected body: %v", body)
	}
	result := body["result"].(map[string]any)
	workouts := result["workouts"].([]any)
	exercise := workouts[0].(map[string]any)["exercises"].([]any)[0].(map[string]any)
	if exercise["sets"] != float64(4) || exercise["reps"] != "8-12" || exercise["rest"] != float64(60) {
		t.Fatalf("defaults not applied: %v", exercise)
	}
}

func TestAssistantCompleteErrors(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name    string
		path    string
		subject string
		body    string
		status  int
		code    string
	}{
		{"unauthenticated", "/v1/assistant/workout", "", `{"message":"hi"}`, http.StatusUnauthorized, "unauthenticated"},
		{"no plan", "/v1/assistant/workout", "stranger", `{"message":"hi"}`, http.StatusForbidden, "subscription_required"},
		{"unknown kind", "/v1/assistant/sleep", "user-42", `{"message":"hi"}`, http.StatusBadRequest, "invalid_input"},
		{"bad json", "/v1/assistant/workout", "user-42", `{"message":`, http.StatusBadRequest, "invalid_input"},
		{"blank message", "/v1/assistant/nutrition", "user-42", `{"message":"  "}`, http.StatusBadRequest, "invalid_input"},
	}
	for _, tc := range cases {
		rr := env.do(http.MethodPost, tc.path, tc.subject, tc.body)
		if rr.Code != tc.status {
			t.Fatalf("%s: status %d, want %d (%s)", tc.name, rr.Code, tc.status, rr.Body.String())
		}
		if got := decode(t, rr)["error"]; got != tc.code {
			t.Fatalf("%s: error %v, want %s", tc.name, got, tc.code)
		}
	}
	if env.llm.calls.Load() != 0 {
		t.Fatalf("rejected requests reached the provider")
	}
}

func TestAssistantCompleteQuotaExceeded(t *testing.T) {
	env := newTestEnv(t)
	day := quota.DayBucket(time.Now())
	for i := 0; i < 20; i++ {
		_, _ = env.usage.Increment(context.Background(), "user-42", day)
	}

	rr := env.do(http.MethodPost, "/v1/assistant/workout", "user-42", `{"message":"push day"}`)

	body := decode(t, rr)
	if rr.Code != http.StatusTooManyRequests || body["error"] != "quota_exceeded" || body["limitReached"] != true {
		t.Fatalf("unexpected response %d: %v", rr.Code, body)
	}
	if env.llm.calls.Load() != 0 {
		t.Fatalf("provider called after quota was reached")
	}
}

func TestAssistantCompleteProviderTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.llm.err = llm.ErrTimeout

	rr := env.do(http.MethodPost, "/v1/assistant/workout", "user-42", `{"message":"push day"}`)

	if rr.Code != http.StatusInternalServerError || decode(t, rr)["error"] != "provider_timeout" {
		t.Fatalf("unexpected response %d: %s", rr.Code, rr.Body.String())
	}
	n, _ := env.usage.Count(context.Background(), "user-42", quota.DayBucket(time.Now()))
	if n != 0 {
		t.Fatalf("failed request consumed quota")
	}
}

func TestAssistantStream(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/v1/assistant/workout/stream", "user-42", `{"message":"push day"}`)

	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	got := rr.Body.String()
	order := []string{
		"event: status\ndata: {\"stage\":\"calling_ai\"}",
		"event: status\ndata: {\"stage\":\"parsing\"}",
		"event: complete\ndata: ",
	}
	pos := 0
	for _, frame := range order {
		i := strings.Index(got[pos:], frame)
		if i < 0 {
			t.Fatalf("missing %q in order; body:\n%s", frame, got)
		}
		pos += i + len(frame)
	}
	if strings.Contains(got, "event: chunk") {
		t.Fatalf("json requests must not stream chunks")
	}
}

func TestAssistantStreamBadBodyIsEvent(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/v1/assistant/workout/stream", "user-42", `nope`)

	if rr.Code != http.StatusOK {
		t.Fatalf("stream should have started, got %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Body.String(), "event: error\ndata: {\"error\":\"invalid_input\"") {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestAssistantStreamUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/v1/assistant/workout/stream", "", `{"message":"hi"}`)

	if rr.Code != http.StatusUnauthorized || decode(t, rr)["error"] != "unauthenticated" {
		t.Fatalf("unexpected response %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUsage(t *testing.T) {
	env := newTestEnv(t)
	_ = env.do(http.MethodPost, "/v1/assistant/workout", "user-42", `{"message":"push day"}`)

	rr := env.do(http.MethodGet, "/v1/usage", "user-42", "")
	body := decode(t, rr)
	if rr.Code != http.StatusOK || body["used"] != float64(1) || body["remaining"] != float64(19) || body["limit"] != float64(20) {
		t.Fatalf("unexpected usage %d: %v", rr.Code, body)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	ok := Health(map[string]Check{"redis": func(context.Context) error { return nil }})
	rr := httptest.NewRecorder()
	ok(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	down := Health(map[string]Check{"sqlite": func(context.Context) error { return errors.New("database is locked") }})
	rr = httptest.NewRecorder()
	down(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	failed := decode(t, rr)["failed"].(map[string]any)
	if failed["sqlite"] != "database is locked" {
		t.Fatalf("unexpected failure report: %v", failed)
	}
}
