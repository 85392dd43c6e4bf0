// Package command turns untrusted model output into typed domain commands.
//
// Every shape is described by a rule schema: each field is either required
// (a failed check rejects the whole command) or optional with a default (a
// failed check substitutes the default). One routine, enforce, applies every
// schema, so the hard/soft boundary lives in the schema tables only.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind names a command shape and selects its prompt and schema.
type Kind string

const (
	KindWorkout   Kind = "workout"
	KindNutrition Kind = "nutrition"
)

var ErrUnknownKind = errors.New("command: unknown kind")

// ParseKind validates a kind taken from user input (e.g. a URL segment).
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindWorkout, KindNutrition:
		return k, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownKind, s)
	}
}

// ParsedCommand is implemented by *WorkoutCommand and *NutritionCommand only.
type ParsedCommand interface {
	Kind() Kind
	// Summary is the user-facing message accompanying the command.
	Summary() string

	sealed()
}

// Parse extracts, validates and decodes raw model output as a command of kind.
func Parse(kind Kind, raw string) (ParsedCommand, error) {
	var (
		cmd ParsedCommand
		err error
	)
	switch kind {
	case KindWorkout:
		cmd, err = ParseWorkout(raw)
	case KindNutrition:
		cmd, err = ParseNutrition(raw)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

// decode runs the shared pipeline: extract the first JSON object, apply the
// schema, then decode the normalized document into out.
func decode(raw string, fields []field, out any) error {
	doc, err := extractObject(raw)
	if err != nil {
		return err
	}

	normalized, err := enforce(fields, doc, "")
	if err != nil {
		return err
	}

	// The schema already guarantees every field's shape; this only moves
	// the normalized map into typed structs.
	buf, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("command: re-encode normalized document: %w", err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("command: decode normalized document: %w", err)
	}
	return nil
}
