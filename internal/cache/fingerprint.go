package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"fitcoach-gateway/internal/llm"
)

// Fingerprint hashes the parts of req that determine the model's answer:
// every message (role + content), the system prompt and the response format.
// The text is lower-cased, stripped of punctuation and whitespace-collapsed
// first, so inputs differing only in those respects share a fingerprint.
func Fingerprint(req llm.CompletionRequest) string {
	var sb strings.Builder
	for _, m := range req.Messages {
		sb.WriteString(m.Role)
		sb.WriteByte(' ')
		sb.WriteString(m.Content)
		sb.WriteByte(' ')
	}
	sb.WriteString(req.SystemPrompt)
	sb.WriteByte(' ')
	sb.WriteString(string(req.ResponseFormat))

	sum := sha256.Sum256([]byte(normalize(sb.String())))
	return hex.EncodeToString(sum[:])
}

// BuildKey scopes a fingerprint by model and gateway version so either
// change invalidates previous entries.
func BuildKey(modelID, versionID string, req llm.CompletionRequest) ExactCacheKey {
	return ExactCacheKey{
		ModelID:   strings.TrimSpace(modelID),
		VersionID: strings.TrimSpace(versionID),
		Hash:      Fingerprint(req),
	}
}

func normalize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsPunct(r):
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		}
		if space && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		space = false
		sb.WriteRune(r)
	}
	return sb.String()
}
