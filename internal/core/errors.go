package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyRunning rejects a submission while the session has a query in flight.
	ErrAlreadyRunning = errors.New("a query is already running in this session")
	ErrUnknownSession = errors.New("unknown session")
	ErrCancelled      = errors.New("query cancelled by user")
	ErrClosed         = errors.New("query controller is shut down")
	ErrNotFound       = errors.New("not found")
)

// ValidationError is returned synchronously for malformed requests.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid query: " + e.Reason
}

// ExecutionError wraps a failure reported by the executor.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

type TimeoutExceeded struct {
	Limit time.Duration
}

func (e *TimeoutExceeded) Error() string {
	return fmt.Sprintf("query timed out after %g seconds", e.Limit.Seconds())
}

// StoreError marks a persistence failure. It is logged, never reported as a
// query failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
