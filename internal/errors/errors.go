// Package errors provides structured error types for the debug orchestrator.
// Each error carries a stable code for programmatic handling and a hint that
// tells the caller how to recover.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Session errors
	CodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionBusy     ErrorCode = "SESSION_BUSY"
	CodeSessionEnded    ErrorCode = "SESSION_ENDED"
	CodeNoActiveSession ErrorCode = "NO_ACTIVE_SESSION"

	// Adapter errors
	CodeAdapterNotSupported  ErrorCode = "ADAPTER_NOT_SUPPORTED"
	CodeAdapterSpawnFailed   ErrorCode = "ADAPTER_SPAWN_FAILED"
	CodeAdapterConnectFailed ErrorCode = "ADAPTER_CONNECT_FAILED"

	// DAP protocol errors
	CodeDAPInitFailed    ErrorCode = "DAP_INIT_FAILED"
	CodeDAPLaunchFailed  ErrorCode = "DAP_LAUNCH_FAILED"
	CodeDAPTimeout       ErrorCode = "DAP_TIMEOUT"
	CodeDAPRequestFailed ErrorCode = "DAP_REQUEST_FAILED"

	// Parameter errors
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	CodeInvalidParameter ErrorCode = "INVALID_PARAMETER"

	// Permission errors
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// Configuration errors
	CodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Runtime errors
	CodeBreakpointFailed ErrorCode = "BREAKPOINT_FAILED"
	CodeStepFailed       ErrorCode = "STEP_FAILED"
)

// DebugError is a structured error type that includes a hint on how to
// recover from the failure.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message is a human-readable description of what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (e.g., the invalid value, expected format)
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}

	return sb.String()
}

// Unwrap returns the underlying error for error chaining
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// IsCode reports whether err is, or wraps, a DebugError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var de *DebugError
	if !stderrors.As(err, &de) {
		return false
	}
	return de.Code == code
}

// --- Session Errors ---

// SessionNotFound creates an error for a handle the registry does not know
func SessionNotFound(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionNotFound,
		Message: fmt.Sprintf("session '%s' not found", sessionID),
		Hint:    "Use list_sessions to see retained sessions, or start_debug_session to create a new one.",
		Details: map[string]interface{}{
			"sessionId": sessionID,
		},
	}
}

// SessionBusy creates an error when a debuggee is already live
func SessionBusy(activeID int) *DebugError {
	return &DebugError{
		Code:    CodeSessionBusy,
		Message: "a debug session is already active",
		Hint:    "Only one debuggee can run at a time. Use control_execution with action 'stop' before starting another.",
		Details: map[string]interface{}{
			"backendSessionId": activeID,
		},
	}
}

// SessionEnded creates an error for requests cut short by session teardown
func SessionEnded(operation string) *DebugError {
	return &DebugError{
		Code:    CodeSessionEnded,
		Message: fmt.Sprintf("%s aborted: session ended", operation),
		Hint:    "The debuggee terminated while the request was in flight. Use get_session_status for its final output and exit code.",
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NoActiveSession creates an error for control and inspection calls with no live debuggee
func NoActiveSession() *DebugError {
	return &DebugError{
		Code:    CodeNoActiveSession,
		Message: "no active debug session",
		Hint:    "Start a session with start_debug_session first. Terminated sessions can still be queried with get_session_status.",
	}
}

// --- Adapter Errors ---

// AdapterNotSupported creates an error for unsupported languages
func AdapterNotSupported(language string, supported []string) *DebugError {
	return &DebugError{
		Code:    CodeAdapterNotSupported,
		Message: fmt.Sprintf("no debug adapter available for language: %s", language),
		Hint:    fmt.Sprintf("Supported languages are: %s.", strings.Join(supported, ", ")),
		Details: map[string]interface{}{
			"requestedLanguage":  language,
			"supportedLanguages": supported,
		},
	}
}

// AdapterSpawnFailed creates an error when adapter spawn fails
func AdapterSpawnFailed(language string, err error) *DebugError {
	return &DebugError{
		Code:    CodeAdapterSpawnFailed,
		Message: fmt.Sprintf("failed to spawn debug adapter for %s: %v", language, err),
		Hint:    "Ensure the debug adapter is installed. For Go: install Delve (go install github.com/go-delve/delve/cmd/dlv@latest). For Python: install debugpy (pip install debugpy).",
		Cause:   err,
		Details: map[string]interface{}{
			"language": language,
		},
	}
}

// AdapterConnectFailed creates an error when connecting to adapter fails
func AdapterConnectFailed(address string, err error) *DebugError {
	return &DebugError{
		Code:    CodeAdapterConnectFailed,
		Message: fmt.Sprintf("failed to connect to debug adapter at %s: %v", address, err),
		Hint:    "The debug adapter may have failed to start or crashed. Check that the program path is correct and the file exists.",
		Cause:   err,
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// --- DAP Protocol Errors ---

// DAPInitFailed creates an error for DAP initialization failures
func DAPInitFailed(err error) *DebugError {
	return &DebugError{
		Code:    CodeDAPInitFailed,
		Message: fmt.Sprintf("debug adapter initialization failed: %v", err),
		Hint:    "The debug adapter may be incompatible or crashed during startup.",
		Cause:   err,
	}
}

// DAPLaunchFailed creates an error for launch failures
func DAPLaunchFailed(target string, err error) *DebugError {
	return &DebugError{
		Code:    CodeDAPLaunchFailed,
		Message: fmt.Sprintf("failed to launch %s: %v", target, err),
		Hint:    "Check that the target path or module name is correct. For compiled languages, ensure the program compiles without errors.",
		Cause:   err,
		Details: map[string]interface{}{
			"target": target,
		},
	}
}

// DAPTimeout creates an error for a bounded wait that hit its ceiling
func DAPTimeout(operation string, ceiling time.Duration) *DebugError {
	return &DebugError{
		Code:    CodeDAPTimeout,
		Message: fmt.Sprintf("%s timed out after %s", operation, ceiling),
		Hint:    "The program may be busy, stuck, or waiting for input. Try control_execution with action 'pause'.",
		Details: map[string]interface{}{
			"operation":      operation,
			"timeoutSeconds": ceiling.Seconds(),
		},
	}
}

// DAPRequestFailed creates an error for a request the adapter answered with success=false
func DAPRequestFailed(command, message string) *DebugError {
	return &DebugError{
		Code:    CodeDAPRequestFailed,
		Message: fmt.Sprintf("%s failed: %s", command, message),
		Details: map[string]interface{}{
			"command": command,
		},
	}
}

// --- Parameter Errors ---

// MissingParameter creates an error for missing required parameters
func MissingParameter(paramName, description string) *DebugError {
	return &DebugError{
		Code:    CodeMissingParameter,
		Message: fmt.Sprintf("required parameter '%s' is missing", paramName),
		Hint:    description,
		Details: map[string]interface{}{
			"parameter": paramName,
		},
	}
}

// InvalidParameter creates an error for invalid parameter values
func InvalidParameter(paramName string, value interface{}, expected string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidParameter,
		Message: fmt.Sprintf("invalid value for parameter '%s': %v", paramName, value),
		Hint:    fmt.Sprintf("Expected: %s", expected),
		Details: map[string]interface{}{
			"parameter": paramName,
			"value":     value,
			"expected":  expected,
		},
	}
}

// --- Permission Errors ---

// PermissionDenied creates an error for permission denied
func PermissionDenied(operation, mode string) *DebugError {
	var hint string
	switch operation {
	case "spawn":
		hint = "The server is configured to disallow spawning debug adapters. Enable 'allow_spawn' in the configuration."
	case "execute":
		hint = "Execution control is disabled. Enable 'allow_execute' in the configuration."
	case "evaluate":
		hint = "Expression evaluation is disabled in the current server mode."
	case "modify":
		hint = "Breakpoint changes are disabled in the current server mode. The server may be in read-only mode."
	default:
		hint = fmt.Sprintf("This operation is not allowed in '%s' mode.", mode)
	}

	return &DebugError{
		Code:    CodePermissionDenied,
		Message: fmt.Sprintf("%s is not allowed in current server mode", operation),
		Hint:    hint,
		Details: map[string]interface{}{
			"operation": operation,
			"mode":      mode,
		},
	}
}

// --- Configuration Errors ---

// ConfigInvalid creates an error for a launch request that cannot be resolved
func ConfigInvalid(field, reason string) *DebugError {
	return &DebugError{
		Code:    CodeConfigInvalid,
		Message: fmt.Sprintf("invalid launch configuration (%s): %s", field, reason),
		Hint:    "Provide exactly one of 'file' or 'module'. Breakpoints require a file target.",
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// --- Runtime Errors ---

// BreakpointFailed creates an error when the adapter rejects a setBreakpoints request
func BreakpointFailed(path string, err error) *DebugError {
	return &DebugError{
		Code:    CodeBreakpointFailed,
		Message: fmt.Sprintf("could not set breakpoints in %s: %v", path, err),
		Hint:    "Ensure the file path is correct and the lines contain executable code.",
		Cause:   err,
		Details: map[string]interface{}{
			"path": path,
		},
	}
}

// StepFailed creates an error for execution-control failures
func StepFailed(action string, err error) *DebugError {
	var hint string
	switch action {
	case "step_over", "step_into", "step_out":
		hint = "The program may have terminated or is not paused. Use get_session_status to check the current state."
	case "stop":
		hint = "The adapter did not acknowledge termination. The session will still be cleaned up when it exits."
	default:
		hint = "Use get_session_status to check the current program state."
	}

	return &DebugError{
		Code:    CodeStepFailed,
		Message: fmt.Sprintf("%s failed: %v", action, err),
		Hint:    hint,
		Cause:   err,
		Details: map[string]interface{}{
			"action": action,
		},
	}
}

// --- Helper for wrapping generic errors ---

// Wrap wraps a generic error with context
func Wrap(code ErrorCode, message string, hint string, err error) *DebugError {
	return &DebugError{
		Code:    code,
		Message: message,
		Hint:    hint,
		Cause:   err,
	}
}

// FromError creates a DebugError from a generic error, attempting to preserve any existing structure
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{
		Code:    "UNKNOWN_ERROR",
		Message: err.Error(),
		Hint:    "An unexpected error occurred. Please check the error message for details.",
		Cause:   err,
	}
}
