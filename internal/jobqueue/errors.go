package jobqueue

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidArgs      = errors.New("invalid_job_args")
	ErrInvalidName      = errors.New("invalid_job_name")
	ErrHandlerNotFound  = errors.New("job_handler_not_found")
	ErrDuplicateHandler = errors.New("duplicate_job_handler")
)

// RetryableError is implemented by handler errors that ask the worker to run
// the job again. When the delay is not set the worker computes a backoff.
type RetryableError interface {
	error
	RetryDelay() (time.Duration, bool)
}

type deferError struct {
	after  time.Duration
	reason string
}

func (e *deferError) Error() string {
	return fmt.Sprintf("job deferred for %s: %s", e.after, e.reason)
}

func (e *deferError) RetryDelay() (time.Duration, bool) {
	return e.after, e.after > 0
}

// Defer asks the worker to retry the job after the given delay.
func Defer(after time.Duration, reason string) error {
	return &deferError{after: after, reason: reason}
}

// AsRetryable reports whether err asks for a retry and returns the requested delay.
func AsRetryable(err error) (time.Duration, bool, bool) {
	var r RetryableError
	if !errors.As(err, &r) {
		return 0, false, false
	}
	delay, ok := r.RetryDelay()
	return delay, ok, true
}

type postponeError struct {
	after  time.Duration
	reason string
}

func (e *postponeError) Error() string {
	return fmt.Sprintf("job postponed for %s: %s", e.after, e.reason)
}

// Postpone asks the worker to run the job again after the given delay
// without spending an attempt. Use it when the job never started its work.
func Postpone(after time.Duration, reason string) error {
	return &postponeError{after: after, reason: reason}
}

// AsPostponed reports whether err postpones the job and returns the delay.
func AsPostponed(err error) (time.Duration, bool) {
	var p *postponeError
	if !errors.As(err, &p) {
		return 0, false
	}
	return p.after, true
}
