// Package errors provides centralized error definitions and error handling utilities
// for appharness. It defines the failure kinds the harness can report, semantic error
// types, constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent failures of a collaborator:
//   - RPCError: the container's remote-automation API reported a failure
//   - LaunchError: the container or its driver could not be launched
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: a condition did not hold before its deadline
//
// # Usage
//
//	err := errors.NewRPCError("isRunning", payload).WithUUID("openfin-tests")
//	if errors.Is(err, errors.ErrRPCFailure) { ... }
//
//	var timeout *errors.TimeoutError
//	if errors.As(err, &timeout) {
//	    fmt.Println(timeout.Expected, timeout.Observed)
//	}
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry
//   - UserFacing: errors safe to display in test output
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that abort the whole test session.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Container-related sentinel errors
var (
	// ErrRPCFailure indicates the remote-automation API invoked its failure callback.
	ErrRPCFailure = New("remote call failed")
	// ErrProcessLaunch indicates the container process or driver could not be launched.
	ErrProcessLaunch = New("process launch failed")
	// ErrDoubleResolution indicates a callback fired after its result was already set.
	// It is only ever logged.
	ErrDoubleResolution = New("result already resolved")
	// ErrNotAttached indicates an operation needs a runtime connection or tracker
	// attachment that does not exist yet.
	ErrNotAttached = New("not attached")
	// ErrAlreadyRunning indicates a start was requested while the application is
	// already starting or running.
	ErrAlreadyRunning = New("application already running")
	// ErrNotRunning indicates an operation needs an active driver session or
	// process and none exists.
	ErrNotRunning = New("application not running")
	// ErrInvalidTransition indicates a lifecycle operation was requested from a
	// state that does not allow it.
	ErrInvalidTransition = New("invalid lifecycle transition")
	// ErrClosed indicates the session or connection was already closed.
	ErrClosed = New("closed")
	// ErrUnsupported indicates the configured container does not support an operation.
	ErrUnsupported = New("unsupported operation")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// HarnessError is the base interface for all appharness errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type HarnessError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// in test output.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity {
	return e.severity
}

func (e *baseError) IsRetryable() bool {
	return e.retryable
}

func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// formatWithContext renders "prefix [k=v, ...]: message: cause".
func (e *baseError) formatWithContext(prefix string, parts []string) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// RPCError reports a failure acknowledgement from the container's remote API.
// The raw failure payload is kept so tests can print exactly what the
// container said.
//
// Example:
//
//	err := errors.NewRPCError("isRunning", json.RawMessage(`{"reason":"no app"}`))
//	err = err.WithUUID("openfin-tests")
//	fmt.Println(err) // rpc error [method=isRunning, uuid=openfin-tests]: remote call failed: {"reason":"no app"}
type RPCError struct {
	baseError
	Method  string
	UUID    string
	Payload json.RawMessage
}

// NewRPCError creates a new RPCError for the given method and failure payload.
func NewRPCError(method string, payload json.RawMessage) *RPCError {
	return &RPCError{
		baseError: baseError{
			message:    ErrRPCFailure.Error(),
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		Method:  method,
		Payload: payload,
	}
}

// WithUUID adds the application uuid the call targeted.
func (e *RPCError) WithUUID(uuid string) *RPCError {
	e.UUID = uuid
	return e
}

// WithCause attaches an underlying transport or decode error.
func (e *RPCError) WithCause(cause error) *RPCError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *RPCError) Error() string {
	var parts []string
	if e.Method != "" {
		parts = append(parts, fmt.Sprintf("method=%s", e.Method))
	}
	if e.UUID != "" {
		parts = append(parts, fmt.Sprintf("uuid=%s", e.UUID))
	}
	msg := e.formatWithContext("rpc error", parts)
	if len(e.Payload) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, string(e.Payload))
	}
	return msg
}

// Is checks if this error matches the target.
func (e *RPCError) Is(target error) bool {
	if _, ok := target.(*RPCError); ok {
		return true
	}
	if target == ErrRPCFailure {
		return true
	}
	return e.baseError.Is(target)
}

// LaunchError reports that an external process or driver session could not
// be started. Launch failures are fatal for the scenario that requested them.
//
// Example:
//
//	err := errors.NewLaunchError("failed to start driver", execErr)
//	err = err.WithBinary("RunOpenFin.bat").WithArgs("--config=http://localhost:9070/app.json")
type LaunchError struct {
	baseError
	Binary string
	Args   []string
}

// NewLaunchError creates a new LaunchError.
func NewLaunchError(message string, cause error) *LaunchError {
	return &LaunchError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityCritical,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithBinary records the executable or driver endpoint that failed.
func (e *LaunchError) WithBinary(binary string) *LaunchError {
	e.Binary = binary
	return e
}

// WithArgs records the launch arguments.
func (e *LaunchError) WithArgs(args ...string) *LaunchError {
	e.Args = args
	return e
}

// Error returns the formatted error message.
func (e *LaunchError) Error() string {
	var parts []string
	if e.Binary != "" {
		parts = append(parts, fmt.Sprintf("binary=%s", e.Binary))
	}
	if len(e.Args) > 0 {
		parts = append(parts, fmt.Sprintf("args=%s", strings.Join(e.Args, " ")))
	}
	return e.formatWithContext("launch error", parts)
}

// Is checks if this error matches the target.
func (e *LaunchError) Is(target error) bool {
	if _, ok := target.(*LaunchError); ok {
		return true
	}
	if target == ErrProcessLaunch {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("event", "minimized")
//	fmt.Println(err) // "event 'minimized' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("interval must be positive")
//	err = err.WithField("interval").WithValue(0)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.formatWithContext("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError reports that a condition did not reach its expected value
// before the deadline. Expected and Observed carry the values the test
// waited for and the last value actually sampled.
//
// Example:
//
//	err := errors.NewTimeoutError("app running", time.Second).WithValues(true, false)
//	fmt.Println(err) // "timeout error: app running (timeout: 1s): expected true, observed false"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
	Expected  any
	Observed  any
	hasValues bool
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithValues records the expected value and the last observed one.
func (e *TimeoutError) WithValues(expected, observed any) *TimeoutError {
	e.Expected = expected
	e.Observed = observed
	e.hasValues = true
	return e
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.hasValues {
		msg = fmt.Sprintf("%s: expected %v, observed %v", msg, e.Expected, e.Observed)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. RPC failures are never retryable: one remote
// call maps to exactly one outcome.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var harnessErr HarnessError
	if As(err, &harnessErr) {
		return harnessErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display in test output.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var harnessErr HarnessError
	if As(err, &harnessErr) {
		return harnessErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement HarnessError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var harnessErr HarnessError
	if As(err, &harnessErr) {
		return harnessErr.Severity()
	}

	return SeverityError
}

// IsFatal reports whether the error should abort the current scenario
// rather than merely fail one assertion.
func IsFatal(err error) bool {
	return GetSeverity(err) >= SeverityCritical
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this returns nil for a nil error.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to read manifest")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to query %s", uuid)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
