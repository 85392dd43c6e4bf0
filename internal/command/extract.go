package command

import (
	"encoding/json"
	"strings"
)

// extractObject decodes the first balanced {...} span in raw that parses as
// a JSON object. Braces inside JSON strings are ignored, so prose around the
// object and quoted braces within it are both tolerated. When a span fails to
// decode, scanning resumes at the next '{'.
func extractObject(raw string) (map[string]any, error) {
	var firstErr error
	for start := strings.IndexByte(raw, '{'); start >= 0; {
		span, ok := objectSpanAt(raw, start)
		if !ok {
			break
		}

		var doc map[string]any
		err := json.Unmarshal([]byte(span), &doc)
		if err == nil {
			return doc, nil
		}
		if firstErr == nil {
			firstErr = err
		}

		next := strings.IndexByte(raw[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}

	if firstErr != nil {
		return nil, &ValidationError{Reason: "invalid JSON: " + firstErr.Error()}
	}
	return nil, &ValidationError{Reason: "no JSON object found in model output"}
}

func firstObjectSpan(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	return objectSpanAt(raw, start)
}

// objectSpanAt returns the balanced span opening at raw[start].
func objectSpanAt(raw string, start int) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}
