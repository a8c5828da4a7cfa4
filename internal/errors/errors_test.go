package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// RPCError Tests
// -----------------------------------------------------------------------------

func TestRPCError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *RPCError
		want string
	}{
		{
			name: "method only",
			err:  NewRPCError("isRunning", nil),
			want: "rpc error [method=isRunning]: remote call failed",
		},
		{
			name: "with uuid and payload",
			err:  NewRPCError("isRunning", json.RawMessage(`{"reason":"no app"}`)).WithUUID("openfin-tests"),
			want: `rpc error [method=isRunning, uuid=openfin-tests]: remote call failed: {"reason":"no app"}`,
		},
		{
			name: "with cause",
			err:  NewRPCError("getChildWindows", nil).WithCause(ErrClosed),
			want: "rpc error [method=getChildWindows]: remote call failed: closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRPCError_Is(t *testing.T) {
	err := NewRPCError("isRunning", nil).WithCause(ErrClosed)
	wrapped := fmt.Errorf("query failed: %w", err)

	if !Is(wrapped, ErrRPCFailure) {
		t.Error("Is(ErrRPCFailure) = false, want true")
	}
	if !Is(wrapped, &RPCError{}) {
		t.Error("Is(RPCError{}) = false, want true")
	}
	if !Is(wrapped, ErrClosed) {
		t.Error("Is(ErrClosed) = false, want true")
	}
	if Is(wrapped, ErrTimeout) {
		t.Error("Is(ErrTimeout) = true, want false")
	}
	if IsRetryable(wrapped) {
		t.Error("IsRetryable() = true, want false")
	}

	var rpcErr *RPCError
	if !As(wrapped, &rpcErr) || rpcErr.Method != "isRunning" {
		t.Errorf("As() did not recover method, got %+v", rpcErr)
	}
}

// -----------------------------------------------------------------------------
// LaunchError Tests
// -----------------------------------------------------------------------------

func TestLaunchError(t *testing.T) {
	cause := errors.New("exec: not found")
	err := NewLaunchError("failed to start driver", cause).
		WithBinary("RunOpenFin.bat").
		WithArgs("--config=http://localhost:9070/app.json")

	want := "launch error [binary=RunOpenFin.bat, args=--config=http://localhost:9070/app.json]: failed to start driver: exec: not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrProcessLaunch) {
		t.Error("Is(ErrProcessLaunch) = false, want true")
	}
	if !Is(err, cause) {
		t.Error("Is(cause) = false, want true")
	}
	if !IsFatal(err) {
		t.Error("IsFatal() = false, want true")
	}
}

// -----------------------------------------------------------------------------
// Semantic Error Tests
// -----------------------------------------------------------------------------

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("event", "minimized")
	if got := err.Error(); got != "event 'minimized' not found" {
		t.Errorf("Error() = %q", got)
	}
	err = err.WithCause(ErrInvalidInput)
	if got := err.Error(); got != "event 'minimized' not found: invalid input" {
		t.Errorf("Error() with cause = %q", got)
	}
	if !Is(err, &NotFoundError{}) {
		t.Error("Is(NotFoundError{}) = false, want true")
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "message only",
			err:  NewValidationError("interval must be positive"),
			want: "validation error: interval must be positive",
		},
		{
			name: "with field and value",
			err:  NewValidationError("interval must be positive").WithField("interval").WithValue(0),
			want: "validation error [field=interval, value=0]: interval must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !Is(tt.err, ErrInvalidInput) {
				t.Error("Is(ErrInvalidInput) = false, want true")
			}
		})
	}
}

func TestTimeoutError(t *testing.T) {
	tests := []struct {
		name string
		err  *TimeoutError
		want string
	}{
		{
			name: "plain",
			err:  NewTimeoutError("app running", time.Second),
			want: "timeout error: app running (timeout: 1s)",
		},
		{
			name: "with values",
			err:  NewTimeoutError("app running", time.Second).WithValues(true, false),
			want: "timeout error: app running (timeout: 1s): expected true, observed false",
		},
		{
			name: "with cause",
			err:  NewTimeoutError("closed event", 500*time.Millisecond).WithCause(ErrCanceled),
			want: "timeout error: closed event (timeout: 500ms): operation canceled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !Is(tt.err, ErrTimeout) {
				t.Error("Is(ErrTimeout) = false, want true")
			}
			if !IsRetryable(tt.err) {
				t.Error("IsRetryable() = false, want true")
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		retryable  bool
		userFacing bool
		severity   Severity
	}{
		{"nil", nil, false, false, SeverityDebug},
		{"plain", errors.New("boom"), false, false, SeverityError},
		{"sentinel timeout", ErrTimeout, true, false, SeverityError},
		{"rpc", NewRPCError("isRunning", nil), false, true, SeverityError},
		{"launch", NewLaunchError("x", nil), false, true, SeverityCritical},
		{"timeout", NewTimeoutError("x", time.Second), true, true, SeverityWarning},
		{"wrapped validation", Wrap(NewValidationError("bad"), "config"), false, true, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if got := IsUserFacing(tt.err); got != tt.userFacing {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.userFacing)
			}
			if got := GetSeverity(tt.err); got != tt.severity {
				t.Errorf("GetSeverity() = %v, want %v", got, tt.severity)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}

	err := Wrapf(ErrNotAttached, "query %s", "openfin-tests")
	if got := err.Error(); got != "query openfin-tests: not attached" {
		t.Errorf("Wrapf() = %q", got)
	}
	if !Is(err, ErrNotAttached) {
		t.Error("Wrapf() lost the sentinel")
	}
}
