package assistant

import "fmt"

// InvalidInputError rejects a malformed user request before any cost is
// incurred.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("assistant: invalid %s: %s", e.Field, e.Reason)
}
