package runtime

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"strings"
	"sync/atomic"

	talosErrors "github.com/wehubfusion/Talos/pkg/errors"
)

// ErrScopeDisposed is returned by operations reaching a cleared scope.
var ErrScopeDisposed = talosErrors.ErrScopeDisposed

// ErrorKind classifies runtime errors for reporting.
type ErrorKind int

const (
	KindRuntime ErrorKind = iota
	// KindFile errors are always returned, even when error reporting is disabled.
	KindFile
	// KindFatal errors come from resource exhaustion.
	KindFatal
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFatal:
		return "fatal"
	}
	return "runtime"
}

// Error code constants
const (
	ErrorCodeUnknown       = "UNKNOWN_ERROR"
	ErrorCodeRuntime       = "RUNTIME_ERROR"
	ErrorCodeWarning       = "WARNING"
	ErrorCodeFile          = "FILE_ERROR"
	ErrorCodeFatal         = "FATAL_ERROR"
	ErrorCodeDisposed      = "SCOPE_DISPOSED_ERROR"
	ErrorCodeTimeout       = "TIMEOUT_ERROR"
	ErrorCodeCancelled     = "CANCELLED_ERROR"
	ErrorCodeConfiguration = "CONFIGURATION_ERROR"
)

// RuntimeError is a failure raised while executing on behalf of an agent.
type RuntimeError struct {
	// AgentName is the name of the agent that was current when the failure occurred
	AgentName string

	// Phase is the operation that failed: init, step, execute or evaluate
	Phase string

	// Cause is the underlying failure
	Cause error

	// Warning marks errors that do not stop execution unless warnings are promoted
	Warning bool

	Kind ErrorKind

	reported atomic.Bool
}

// Error implements the error interface
func (e *RuntimeError) Error() string {
	label := "runtime error"
	if e.Warning {
		label = "warning"
	}
	switch {
	case e.AgentName != "" && e.Phase != "":
		return fmt.Sprintf("%s in %s during %s: %v", label, e.AgentName, e.Phase, e.Cause)
	case e.AgentName != "":
		return fmt.Sprintf("%s in %s: %v", label, e.AgentName, e.Cause)
	}
	return fmt.Sprintf("%s: %v", label, e.Cause)
}

// Unwrap returns the underlying failure
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// MarkReported records that the error was surfaced.
func (e *RuntimeError) MarkReported() {
	e.reported.Store(true)
}

// Reported reports whether the error was already surfaced.
func (e *RuntimeError) Reported() bool {
	return e.reported.Load()
}

// NewWarning creates a warning. Executables return it for conditions that
// should be shown without stopping the model.
func NewWarning(format string, args ...any) *RuntimeError {
	return &RuntimeError{Cause: fmt.Errorf(format, args...), Warning: true}
}

// NewFileError wraps a failure to access a file.
func NewFileError(err error) *RuntimeError {
	return &RuntimeError{Cause: err, Kind: KindFile}
}

// AsRuntimeError normalizes err into a *RuntimeError. An existing runtime
// error in the chain is reused, keeping its reported state, and receives the
// agent name and phase when it has none.
func AsRuntimeError(err error, agentName, phase string) *RuntimeError {
	var rerr *RuntimeError
	if stdErrors.As(err, &rerr) {
		if rerr.AgentName == "" {
			rerr.AgentName = agentName
		}
		if rerr.Phase == "" {
			rerr.Phase = phase
		}
		return rerr
	}
	rerr = &RuntimeError{AgentName: agentName, Phase: phase, Cause: err}
	switch {
	case talosErrors.IsFatal(err):
		rerr.Kind = KindFatal
	case stdErrors.Is(err, fs.ErrNotExist), stdErrors.Is(err, fs.ErrPermission):
		rerr.Kind = KindFile
	default:
		var pathErr *fs.PathError
		if stdErrors.As(err, &pathErr) {
			rerr.Kind = KindFile
		}
	}
	return rerr
}

// ErrorCode maps an error to a standardized error code
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	if talosErrors.IsDisposed(err) {
		return ErrorCodeDisposed
	}
	if talosErrors.IsFatal(err) {
		return ErrorCodeFatal
	}
	if stdErrors.Is(err, talosErrors.ErrInvalidConfig) {
		return ErrorCodeConfiguration
	}

	var rerr *RuntimeError
	if stdErrors.As(err, &rerr) {
		switch {
		case rerr.Kind == KindFatal:
			return ErrorCodeFatal
		case rerr.Kind == KindFile:
			return ErrorCodeFile
		case rerr.Warning:
			return ErrorCodeWarning
		}
	}

	if stdErrors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeTimeout
	}
	if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, talosErrors.ErrCancelledByUser) {
		return ErrorCodeCancelled
	}

	if code := talosErrors.CodeOf(err); code != "" {
		return code
	}

	// Check error message for common patterns
	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "timed out") {
		return ErrorCodeTimeout
	}

	if rerr != nil {
		return ErrorCodeRuntime
	}
	return ErrorCodeUnknown
}

// ErrorDetails extracts reporting context from an error
func ErrorDetails(err error) map[string]any {
	if err == nil {
		return nil
	}

	details := map[string]any{"error_code": ErrorCode(err)}

	var rerr *RuntimeError
	if stdErrors.As(err, &rerr) {
		if rerr.AgentName != "" {
			details["agent"] = rerr.AgentName
		}
		if rerr.Phase != "" {
			details["phase"] = rerr.Phase
		}
		details["kind"] = rerr.Kind.String()
		details["warning"] = rerr.Warning
	}

	var appErr *talosErrors.Error
	if stdErrors.As(err, &appErr) && appErr.Message != "" {
		details["error_message"] = appErr.Message
	}

	return details
}

// panicError converts a recovered value into an error, keeping error values
// so that sentinels stay detectable.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
