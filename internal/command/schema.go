package command

import (
	"fmt"
	"math"
	"strings"
)

// field is one schema entry. A required field fails validation when absent
// or when check rejects it; an optional field falls back to its default.
type field struct {
	name      string
	required  bool
	check     func(any) bool
	reason    string
	fallback  func() any
	normalize func(any) any
	items     []field // element schema for arrays of objects
}

func required(name string, check func(any) bool, reason string) field {
	return field{name: name, required: true, check: check, reason: reason}
}

func optional(name string, check func(any) bool, def any) field {
	return field{name: name, check: check, fallback: func() any { return cloneDefault(def) }}
}

// then adds a normalization step applied to values that passed check.
func (f field) then(n func(any) any) field {
	f.normalize = n
	return f
}

// each declares f as an array whose elements are objects matching items.
func (f field) each(items ...field) field {
	f.items = items
	return f
}

// enforce applies fields to obj and returns the normalized object. Unknown
// keys are dropped. path is the location of obj, "" for the document root.
func enforce(fields []field, obj map[string]any, path string) (map[string]any, error) {
	out := make(map[string]any, len(fields))

	for _, f := range fields {
		at := joinPath(path, f.name)
		v, present := obj[f.name]

		if !present || v == nil || !f.check(v) {
			if f.required {
				reason := f.reason
				if !present || v == nil {
					reason = "is required"
				}
				return nil, &ValidationError{Field: f.name, Path: at, Reason: reason}
			}
			out[f.name] = f.fallback()
			continue
		}

		if f.items != nil {
			elems := v.([]any)
			normalized := make([]any, 0, len(elems))
			for i, el := range elems {
				elPath := fmt.Sprintf("%s[%d]", at, i)
				m, ok := el.(map[string]any)
				if !ok {
					return nil, &ValidationError{Field: f.name, Path: elPath, Reason: "must be an object"}
				}
				n, err := enforce(f.items, m, elPath)
				if err != nil {
					return nil, err
				}
				normalized = append(normalized, n)
			}
			v = normalized
		}

		if f.normalize != nil {
			v = f.normalize(v)
		}
		out[f.name] = v
	}

	return out, nil
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func cloneDefault(def any) any {
	if s, ok := def.([]any); ok {
		return append(make([]any, 0, len(s)), s...)
	}
	return def
}

// checks

func isArray(v any) bool {
	_, ok := v.([]any)
	return ok
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func nonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

func oneOf(values ...string) func(any) bool {
	return func(v any) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		for _, allowed := range values {
			if s == allowed {
				return true
			}
		}
		return false
	}
}

func positiveNumber(v any) bool {
	n, ok := v.(float64)
	return ok && n > 0 && !math.IsInf(n, 0)
}

// maxCount bounds integer fields so they always decode into an int.
const maxCount = math.MaxInt32

// positiveInt accepts numbers that stay positive after rounding.
func positiveInt(v any) bool {
	n, ok := v.(float64)
	return ok && math.Round(n) >= 1 && math.Round(n) <= maxCount
}

// nonNegativeInt accepts numbers that round into [0, maxCount].
func nonNegativeInt(v any) bool {
	n, ok := v.(float64)
	return ok && n >= 0 && math.Round(n) <= maxCount
}

func nonNegativeNumber(v any) bool {
	n, ok := v.(float64)
	return ok && n >= 0 && !math.IsInf(n, 0)
}

func unitInterval(v any) bool {
	n, ok := v.(float64)
	return ok && n >= 0 && n <= 1
}

// normalizers

func trimmed(v any) any {
	return strings.TrimSpace(v.(string))
}

func rounded(v any) any {
	return math.Round(v.(float64))
}

// nonEmptyStrings keeps trimmed non-empty strings, at most limit of them.
func nonEmptyStrings(limit int) func(any) any {
	return func(v any) any {
		out := make([]any, 0, limit)
		for _, el := range v.([]any) {
			s, ok := el.(string)
			if !ok {
				continue
			}
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			out = append(out, s)
			if len(out) == limit {
				break
			}
		}
		return out
	}
}
