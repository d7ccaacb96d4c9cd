package selector

import (
	"errors"
	"fmt"
	"net/http"
)

// CandidateCountError reports a batch of unexpected size.
type CandidateCountError struct {
	Got  int
	Want int
}

func (e CandidateCountError) Error() string {
	return fmt.Sprintf("expected %d candidates, got %d", e.Want, e.Got)
}

func (e CandidateCountError) StatusCode() int { return http.StatusInternalServerError }

// IsCandidateCount reports whether err is a CandidateCountError.
func IsCandidateCount(err error) bool {
	var c CandidateCountError
	return errors.As(err, &c)
}
