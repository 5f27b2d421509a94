package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"

	talosErrors "github.com/wehubfusion/Talos/pkg/errors"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"disposed", fmt.Errorf("step: %w", ErrScopeDisposed), ErrorCodeDisposed},
		{"fatal", talosErrors.ErrResourceExhausted, ErrorCodeFatal},
		{"config", fmt.Errorf("bad value: %w", talosErrors.ErrInvalidConfig), ErrorCodeConfiguration},
		{"warning", NewWarning("deprecated"), ErrorCodeWarning},
		{"file", NewFileError(fs.ErrPermission), ErrorCodeFile},
		{"timeout", context.DeadlineExceeded, ErrorCodeTimeout},
		{"cancelled", talosErrors.ErrCancelledByUser, ErrorCodeCancelled},
		{"structured", talosErrors.NewError("NATS_ERROR", "publish", nil), "NATS_ERROR"},
		{"runtime", AsRuntimeError(errors.New("boom"), "a", "step"), ErrorCodeRuntime},
		{"message", errors.New("operation timed out"), ErrorCodeTimeout},
		{"unknown", errors.New("boom"), ErrorCodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestAsRuntimeErrorReusesExistingError(t *testing.T) {
	original := NewWarning("careful")
	original.MarkReported()

	wrapped := fmt.Errorf("outer: %w", original)
	got := AsRuntimeError(wrapped, "agent", "step")

	assert.Same(t, original, got)
	assert.Equal(t, "agent", got.AgentName)
	assert.True(t, got.Reported())
}

func TestAsRuntimeErrorClassifiesKinds(t *testing.T) {
	assert.Equal(t, KindFile, AsRuntimeError(&fs.PathError{Op: "open", Path: "x", Err: errors.New("denied")}, "a", "").Kind)
	assert.Equal(t, KindFatal, AsRuntimeError(talosErrors.ErrResourceExhausted, "a", "").Kind)
	assert.Equal(t, KindRuntime, AsRuntimeError(errors.New("x"), "a", "").Kind)
}

func TestRuntimeErrorMessage(t *testing.T) {
	err := AsRuntimeError(errors.New("boom"), "wolf", "step")
	assert.Equal(t, "runtime error in wolf during step: boom", err.Error())
	assert.Equal(t, "warning: careful", NewWarning("careful").Error())
}

func TestErrorDetails(t *testing.T) {
	details := ErrorDetails(AsRuntimeError(errors.New("boom"), "wolf", "init"))
	assert.Equal(t, "wolf", details["agent"])
	assert.Equal(t, "init", details["phase"])
	assert.Equal(t, ErrorCodeRuntime, details["error_code"])
	assert.Nil(t, ErrorDetails(nil))
}
