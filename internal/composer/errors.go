package composer

import "fmt"

// UnknownCallableError reports a suite test bound to a callable version
// that does not exist in the project.
type UnknownCallableError struct {
	Name    string
	Version int
}

func (e *UnknownCallableError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("unknown callable %s v%d", e.Name, e.Version)
	}
	return fmt.Sprintf("unknown callable %s", e.Name)
}

// UnknownParameterError reports an override key that no declared parameter
// of the bound callable matches.
type UnknownParameterError struct {
	Callable  string
	Parameter string
}

func (e *UnknownParameterError) Error() string {
	return fmt.Sprintf("callable %s declares no parameter %q", e.Callable, e.Parameter)
}

// CrossProjectReferenceError reports a model or dataset reference outside
// the suite's project.
type CrossProjectReferenceError struct {
	Kind string
	Ref  string
}

func (e *CrossProjectReferenceError) Error() string {
	return fmt.Sprintf("%s %q is not visible in this project", e.Kind, e.Ref)
}
