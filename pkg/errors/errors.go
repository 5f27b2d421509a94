package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrScopeDisposed indicates that an operation reached a scope after it was cleared
	ErrScopeDisposed = errors.New("scope disposed")

	// ErrResourceExhausted indicates a fatal resource exhaustion (the runtime never retries it)
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrNoController indicates that no experiment controller is registered
	ErrNoController = errors.New("no experiment controller")

	// ErrExperimentNotFound indicates that a model does not declare the requested experiment
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrControllerClosed indicates that an operation reached a closed experiment controller
	ErrControllerClosed = errors.New("controller closed")

	// ErrExperimentFinished indicates that an experiment cannot step any further
	ErrExperimentFinished = errors.New("experiment finished")

	// ErrCancelledByUser indicates that the confirmation collaborator refused an operation
	ErrCancelledByUser = errors.New("cancelled by user")

	// ErrInvalidConfig indicates that a configuration value is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotConnected indicates that the notification publisher is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")

	// ErrPublishFailed indicates that an event could not be published
	ErrPublishFailed = errors.New("publish failed")
)

// Error represents a structured runtime error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsDisposed checks if an error reports a disposed scope
func IsDisposed(err error) bool {
	return errors.Is(err, ErrScopeDisposed)
}

// IsFatal checks if an error reports fatal resource exhaustion
func IsFatal(err error) bool {
	return errors.Is(err, ErrResourceExhausted)
}

// CodeOf returns the code of the first structured error in the chain, or "" if none
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
