package main

import (
	"errors"
	"fmt"
)

// Service error kinds. A ServiceError always wraps exactly one of these.
var (
	ErrTransientService = errors.New("transient service error")
	ErrFatalService     = errors.New("fatal service error")
	ErrRequestRejected  = errors.New("request rejected")
)

// DataError reports a missing or malformed input, reference or checkpoint dataset
type DataError struct {
	Source string
	Err    error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error in %s: %v", e.Source, e.Err)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func dataErrorf(source, format string, args ...interface{}) error {
	return &DataError{Source: source, Err: fmt.Errorf(format, args...)}
}

// ServiceError represents a failed exchange with the classification service
type ServiceError struct {
	Kind       error
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v (HTTP %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// CheckpointWriteError reports a failure to durably persist run progress
type CheckpointWriteError struct {
	Path string
	Err  error
}

func (e *CheckpointWriteError) Error() string {
	return fmt.Sprintf("writing checkpoint %s: %v", e.Path, e.Err)
}

func (e *CheckpointWriteError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientService)
}

// IsFatal reports whether err must abort the whole run
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatalService)
}

// Exit codes
const (
	exitOK          = 0
	exitFailure     = 1
	exitDataError   = 2
	exitFatal       = 3
	exitCheckpoint  = 4
	exitInterrupted = 130
)

// exitCode maps a run error to the process exit status
func exitCode(err error) int {
	var dataErr *DataError
	var cpErr *CheckpointWriteError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &cpErr):
		return exitCheckpoint
	case errors.As(err, &dataErr):
		return exitDataError
	case IsFatal(err):
		return exitFatal
	case errors.Is(err, errInterrupted):
		return exitInterrupted
	default:
		return exitFailure
	}
}

var errInterrupted = errors.New("interrupted")
