package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies step failures.
type ErrorKind int

const (
	// KindRecoverable failures are absorbed into a recovery handoff.
	KindRecoverable ErrorKind = iota
	// KindFatal failures abort the turn.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	default:
		return "recoverable"
	}
}

// StepError describes a failure inside a handler.
type StepError struct {
	Handler string
	Kind    ErrorKind
	Err     error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s step in %s: %v", e.Kind, e.Handler, e.Err)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error { return e.Err }

// Fatal wraps err as a fatal failure of handler.
func Fatal(handler string, err error) *StepError {
	return &StepError{Handler: handler, Kind: KindFatal, Err: err}
}

// Recoverable wraps err as a recoverable failure of handler.
func Recoverable(handler string, err error) *StepError {
	return &StepError{Handler: handler, Kind: KindRecoverable, Err: err}
}

// IsFatal reports whether err carries a fatal StepError.
func IsFatal(err error) bool {
	var se *StepError
	return errors.As(err, &se) && se.Kind == KindFatal
}
