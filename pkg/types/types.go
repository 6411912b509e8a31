// Package types defines the data model shared by the orchestrator, the DAP
// runtime and the tool surface.
//
// This package provides type definitions for:
//   - Language: languages with a debug adapter (Go, Python)
//   - SessionStatus / ExecutionStatus: normalized lifecycle states
//   - LaunchRequest / LaunchConfig: what the caller asks for and what the adapter receives
//   - StackFrame, Scope, Variable, Breakpoint, EvaluateResult: inspection results
//   - StatusReport, ExecutionState, Inspection: composite responses
package types

import (
	"time"

	"github.com/samber/lo"
)

// Language represents a supported programming language
type Language string

const (
	LanguageGo     Language = "go"
	LanguagePython Language = "python"
)

// SessionStatus is the classifier's view of a retained session
type SessionStatus string

const (
	SessionStatusRunning    SessionStatus = "running"
	SessionStatusPaused     SessionStatus = "paused"
	SessionStatusTerminated SessionStatus = "terminated"
	SessionStatusExited     SessionStatus = "exited"
	SessionStatusNoSession  SessionStatus = "no_session"
)

// ExecutionStatus is the status reported after an execution-control action
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionPaused  ExecutionStatus = "paused"
	ExecutionStopped ExecutionStatus = "stopped"
	ExecutionExited  ExecutionStatus = "exited"
)

// Action is an execution-control verb
type Action string

const (
	ActionContinue Action = "continue"
	ActionStepOver Action = "step_over"
	ActionStepInto Action = "step_into"
	ActionStepOut  Action = "step_out"
	ActionPause    Action = "pause"
	ActionStop     Action = "stop"
)

// Actions lists every valid Action in presentation order.
var Actions = []Action{ActionContinue, ActionStepOver, ActionStepInto, ActionStepOut, ActionPause, ActionStop}

// Valid reports whether a names a known action.
func (a Action) Valid() bool {
	return lo.Contains(Actions, a)
}

// LaunchRequest is what a caller passes to start a debug session.
// Exactly one of File or Module must be set.
type LaunchRequest struct {
	File        string            `json:"file,omitempty"`
	Module      string            `json:"module,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	StopOnEntry bool              `json:"stopOnEntry,omitempty"`
	JustMyCode  bool              `json:"justMyCode"`
	RuntimePath string            `json:"runtimePath,omitempty"`
	Breakpoints []int             `json:"breakpoints,omitempty"`
}

// LaunchConfig is the resolved configuration handed to the DAP runtime
type LaunchConfig struct {
	Language    Language          `json:"language"`
	Program     string            `json:"program,omitempty"`
	Module      string            `json:"module,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	StopOnEntry bool              `json:"stopOnEntry"`
	JustMyCode  bool              `json:"justMyCode"`
	RuntimePath string            `json:"runtimePath,omitempty"`
	Console     string            `json:"console,omitempty"`
}

// Target returns the program path or module name, whichever is set.
func (c LaunchConfig) Target() string {
	if c.Module != "" {
		return c.Module
	}
	return c.Program
}

// LaunchResult is returned by a successful start
type LaunchResult struct {
	SessionID   string        `json:"sessionId"`
	Status      SessionStatus `json:"status"`
	PID         int           `json:"pid,omitempty"`
	File        string        `json:"file,omitempty"`
	Module      string        `json:"module,omitempty"`
	Breakpoints []Breakpoint  `json:"breakpoints,omitempty"`
}

// StackFrame represents a stack frame
type StackFrame struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

// Scope represents a variable scope
type Scope struct {
	Name               string `json:"name"`
	VariablesReference int    `json:"variablesReference"`
	Expensive          bool   `json:"expensive,omitempty"`
}

// Variable represents a variable
type Variable struct {
	Name               string `json:"name"`
	Value              string `json:"value"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variablesReference"`
}

// Breakpoint represents a breakpoint as acknowledged by the adapter
type Breakpoint struct {
	ID        int    `json:"id,omitempty"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Condition string `json:"condition,omitempty"`
	Verified  bool   `json:"verified"`
	Message   string `json:"message,omitempty"`
}

// EvaluateResult represents the result of evaluating an expression.
// A failed evaluation is reported through Error, not as a Go error.
type EvaluateResult struct {
	Result             string `json:"result"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variablesReference"`
	Error              string `json:"error,omitempty"`
}

// ExecutionState is the normalized state after an execution-control action
type ExecutionState struct {
	SessionID   string          `json:"sessionId"`
	Status      ExecutionStatus `json:"status"`
	ThreadID    int             `json:"threadId,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	StackFrames []StackFrame    `json:"stackFrames"`
}

// Inspection is a composite snapshot of the paused program
type Inspection struct {
	StackFrames []StackFrame          `json:"stackFrames"`
	Scopes      []Scope               `json:"scopes,omitempty"`
	Variables   map[string][]Variable `json:"variables,omitempty"`
	Evaluation  *EvaluateResult       `json:"evaluation,omitempty"`
}

// StatusReport is the classifier's answer for a session handle
type StatusReport struct {
	SessionID        string            `json:"sessionId"`
	Status           SessionStatus     `json:"status"`
	Message          string            `json:"message,omitempty"`
	File             string            `json:"file,omitempty"`
	Module           string            `json:"module,omitempty"`
	PID              int               `json:"pid,omitempty"`
	ExitCode         *int              `json:"exitCode,omitempty"`
	Terminated       bool              `json:"terminated"`
	Stdout           string            `json:"stdout"`
	Stderr           string            `json:"stderr"`
	StdoutLinesTotal int               `json:"stdoutLinesTotal"`
	StderrLinesTotal int               `json:"stderrLinesTotal"`
	StdoutTruncated  bool              `json:"stdoutTruncated"`
	StderrTruncated  bool              `json:"stderrTruncated"`
	UptimeSeconds    float64           `json:"uptimeSeconds,omitempty"`
	CrashReason      string            `json:"crashReason,omitempty"`
	DiagnosticInfo   []string          `json:"diagnosticInfo,omitempty"`
	LaunchArgs       []string          `json:"launchArgs,omitempty"`
	LaunchEnv        map[string]string `json:"launchEnv,omitempty"`
	LaunchCwd        string            `json:"launchCwd,omitempty"`
	StartTime        time.Time         `json:"startTime,omitempty"`
	TerminationTime  *time.Time        `json:"terminationTime,omitempty"`
}
