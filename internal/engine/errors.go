package engine

import (
	"errors"
	"fmt"
	"net/http"
)

// dependencyUnavailableError signals a missing runtime dependency (e.g. llama.cpp
// not compiled in, or the completion server unreachable).
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string   { return e.msg }
func (e dependencyUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var d dependencyUnavailableError
	return errors.As(err, &d)
}

// ErrReleased is returned when a session is used after Reset.
var ErrReleased = errors.New("session released")

func foreignSession(s Session) error {
	return fmt.Errorf("session %T was not created by this engine", s)
}
