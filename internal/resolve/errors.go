package resolve

import (
	"fmt"
	"strings"
)

// MissingInputError reports required parameters left unbound after all
// input layers were consulted.
type MissingInputError struct {
	Parameters []string
}

func (e *MissingInputError) Error() string {
	if e == nil || len(e.Parameters) == 0 {
		return "missing required inputs"
	}
	return "missing required inputs: " + strings.Join(e.Parameters, ", ")
}

// TypeMismatchError reports an input whose shape does not match the
// declared parameter type.
type TypeMismatchError struct {
	Parameter string
	Declared  string
	Supplied  string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("parameter %q declared as %s, got %s", e.Parameter, e.Declared, e.Supplied)
}
