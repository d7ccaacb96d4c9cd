package manager

import (
	"errors"
	"fmt"
	"net/http"
)

// SessionLoadError reports that the session could not be (re)built. It is
// terminal: once returned, the manager refuses every later request.
type SessionLoadError struct {
	RunName string
	// Op is the step that failed: start, reset or recycle.
	Op  string
	Err error
}

func (e SessionLoadError) Error() string {
	return fmt.Sprintf("session %s failed for run %q: %v", e.Op, e.RunName, e.Err)
}

func (e SessionLoadError) Unwrap() error   { return e.Err }
func (e SessionLoadError) StatusCode() int { return http.StatusServiceUnavailable }

// IsSessionLoad reports whether err is (or wraps) a SessionLoadError.
func IsSessionLoad(err error) bool {
	var s SessionLoadError
	return errors.As(err, &s)
}

// unavailableError is returned while no session can serve: before Start or after Close.
type unavailableError struct{ msg string }

func (e unavailableError) Error() string   { return e.msg }
func (e unavailableError) StatusCode() int { return http.StatusServiceUnavailable }

var (
	ErrNotStarted error = unavailableError{msg: "session not started"}
	ErrClosed     error = unavailableError{msg: "session manager closed"}
)
