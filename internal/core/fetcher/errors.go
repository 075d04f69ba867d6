package fetcher

import (
	"errors"
	"fmt"
)

var (
	ErrCountryNotFound     = errors.New("country not found")
	ErrUnknownLocationType = errors.New("unknown location type")
	ErrRetriesExhausted    = errors.New("retries exhausted")
)

// Reason classifies a failed attempt.
type Reason string

const (
	ReasonTimeout    Reason = "timeout"
	ReasonConnection Reason = "connection"
	ReasonStatus     Reason = "status"
	ReasonParse      Reason = "parse"
)

// AttemptError describes why a single request attempt failed.
type AttemptError struct {
	Attempt    int
	Reason     Reason
	StatusCode int
	Body       string
	Err        error
}

func (e *AttemptError) Error() string {
	switch e.Reason {
	case ReasonStatus:
		return fmt.Sprintf("attempt %d: upstream status %d: %s", e.Attempt, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("attempt %d: %s: %v", e.Attempt, e.Reason, e.Err)
	}
}

func (e *AttemptError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may help. Every status code is
// treated alike; only a body that fails to parse stops the loop.
func (e *AttemptError) Retryable() bool {
	return e.Reason != ReasonParse
}

// ExhaustedError is returned after max attempts all failed.
type ExhaustedError struct {
	Attempts int
	Last     *AttemptError
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrRetriesExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Last}
}
