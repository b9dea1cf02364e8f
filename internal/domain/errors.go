package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced during a turn.
type ErrorKind string

const (
	ErrClassificationDegraded ErrorKind = "ClassificationDegraded"
	ErrHistoryUnavailable     ErrorKind = "HistoryUnavailable"
	ErrUpstreamUnavailable    ErrorKind = "UpstreamUnavailable"
	ErrGenerationInterrupted  ErrorKind = "GenerationInterrupted"
	ErrTimeout                ErrorKind = "Timeout"
	ErrMalformedRequest       ErrorKind = "MalformedRequest"
)

// Fatal reports whether the kind ends the stream with an error event.
// Degraded classification and missing history are logged and absorbed.
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrClassificationDegraded, ErrHistoryUnavailable:
		return false
	}
	return true
}

// SafeMessage returns the caller-facing text for a failure kind.
func SafeMessage(k ErrorKind) string {
	switch k {
	case ErrUpstreamUnavailable:
		return "The service we rely on for this request is unavailable right now. Please try again shortly."
	case ErrGenerationInterrupted:
		return "The response was interrupted before it could finish. Please try again."
	case ErrTimeout:
		return "The request took too long to complete. Please try again."
	case ErrMalformedRequest:
		return "The request could not be understood."
	default:
		return "Something went wrong while handling your request."
	}
}

// Error is a typed failure carrying its kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps err as an *Error of the given kind.
func WrapError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
