package command

import "fmt"

// ValidationError rejects a model output. Field is the offending field's
// name, Path its location in the document (e.g. "workouts[0].title").
type ValidationError struct {
	Field  string
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("command: %s: %s", e.Path, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("command: %s: %s", e.Field, e.Reason)
	default:
		return "command: " + e.Reason
	}
}
