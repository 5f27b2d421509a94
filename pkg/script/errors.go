package script

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// ErrorType categorizes script failures.
type ErrorType string

const (
	ErrorTypeSyntax   ErrorType = "syntax_error"
	ErrorTypeRuntime  ErrorType = "runtime_error"
	ErrorTypeTimeout  ErrorType = "timeout_error"
	ErrorTypeSecurity ErrorType = "security_error"
	ErrorTypeInternal ErrorType = "internal_error"
)

// Error is a structured script failure.
type Error struct {
	Type    ErrorType
	Script  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Script != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Type, e.Script, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var errSecurity = errors.New("operation not allowed")

func newSyntaxError(name string, err error) *Error {
	return &Error{Type: ErrorTypeSyntax, Script: name, Message: err.Error(), Err: err}
}

func newTimeoutError(name string, err error) *Error {
	if err == nil {
		err = context.DeadlineExceeded
	}
	return &Error{Type: ErrorTypeTimeout, Script: name, Message: "execution timeout", Err: err}
}

// wrapRunError converts an error returned by goja into an *Error. Go errors
// thrown from host functions are kept in the chain.
func wrapRunError(name string, err error) error {
	if err == nil {
		return nil
	}
	var serr *Error
	if errors.As(err, &serr) {
		return serr
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return newTimeoutError(name, nil)
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		e := &Error{Type: ErrorTypeRuntime, Script: name, Message: exc.Error(), Err: exc}
		if cause := exc.Unwrap(); cause != nil {
			e.Err = cause
			if errors.Is(cause, errSecurity) {
				e.Type = ErrorTypeSecurity
			}
		}
		if strings.Contains(strings.ToLower(e.Message), "syntaxerror") {
			e.Type = ErrorTypeSyntax
		}
		return e
	}

	return &Error{Type: ErrorTypeInternal, Script: name, Message: err.Error(), Err: err}
}
