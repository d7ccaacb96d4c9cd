package server

import (
	"errors"
	"fmt"
	"net/http"
)

// GenerationError reports that the engine produced no output for one request.
// It is scoped to that request: the session stays in service.
type GenerationError struct {
	RunID string
	Err   error
}

func (e GenerationError) Error() string {
	return fmt.Sprintf("generation failed (session %s): %v", e.RunID, e.Err)
}

func (e GenerationError) Unwrap() error   { return e.Err }
func (e GenerationError) StatusCode() int { return http.StatusBadGateway }

// IsGeneration reports whether err is a GenerationError.
func IsGeneration(err error) bool {
	var g GenerationError
	return errors.As(err, &g)
}
