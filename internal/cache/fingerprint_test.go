package cache

import (
	"strings"
	"testing"

	"fitcoach-gateway/internal/llm"
)

func workoutRequest(msg string) llm.CompletionRequest {
	return llm.CompletionRequest{
		Messages:       []llm.Message{{Role: llm.RoleUser, Content: msg}},
		SystemPrompt:   "Return a workout command as JSON.",
		ResponseFormat: llm.FormatJSON,
	}
}

func TestFingerprintStable(t *testing.T) {
	t.Parallel()

	a := Fingerprint(workoutRequest("Create a leg day, please!"))
	b := Fingerprint(workoutRequest("  create a LEG day please "))
	if a != b {
		t.Fatalf("case/punctuation/whitespace variants should share a fingerprint")
	}
	if len(a) != 64 {
		t.Fatalf("expected sha256 hex, got %q", a)
	}
}

func TestFingerprintDistinguishesInputs(t *testing.T) {
	t.Parallel()

	base := workoutRequest("create a leg day")

	other := workoutRequest("create a push day")
	if Fingerprint(base) == Fingerprint(other) {
		t.Fatalf("different messages must not collide")
	}

	text := base
	text.ResponseFormat = llm.FormatText
	if Fingerprint(base) == Fingerprint(text) {
		t.Fatalf("response format must be part of the fingerprint")
	}

	prompt := base
	prompt.SystemPrompt = "Return a meal log as JSON."
	if Fingerprint(base) == Fingerprint(prompt) {
		t.Fatalf("system prompt must be part of the fingerprint")
	}

	history := base
	history.Messages = append([]llm.Message{{Role: llm.RoleAssistant, Content: "hi"}}, base.Messages...)
	if Fingerprint(base) == Fingerprint(history) {
		t.Fatalf("conversation history must be part of the fingerprint")
	}
}

func TestFingerprintIgnoresTemperature(t *testing.T) {
	t.Parallel()

	a := workoutRequest("leg day")
	b := a
	b.Temperature = 1.2
	b.MaxTokens = 99
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("sampling parameters are not fingerprint input")
	}
}

func TestBuildKeyScopesByModelAndVersion(t *testing.T) {
	t.Parallel()

	req := workoutRequest("leg day")
	k1 := BuildKey("gpt-4o-mini", "v1", req).String()
	k2 := BuildKey("gpt-4o-mini", "v2", req).String()
	k3 := BuildKey("gpt-4o", "v1", req).String()

	if k1 == k2 || k1 == k3 {
		t.Fatalf("model or version change must invalidate keys: %s %s %s", k1, k2, k3)
	}
	if !strings.HasPrefix(k1, "exact:gpt-4o-mini:v1:") {
		t.Fatalf("unexpected key layout: %s", k1)
	}

	parts, ok := parseExactKey(k1)
	if !ok || parts.modelID != "gpt-4o-mini" || parts.versionID != "v1" || parts.hash != Fingerprint(req) {
		t.Fatalf("key does not parse back: %#v ok=%v", parts, ok)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"  Hello,   World!  ": "hello world",
		"a\n\tb":              "a b",
		"¿Qué?":               "qué",
		"":                    "",
	}
	for in, want := range cases {
		if got := normalize(in); got != want {
			t.Fatalf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
