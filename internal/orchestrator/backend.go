package orchestrator

import (
	"context"

	"github.com/google/go-dap"

	internaldap "github.com/ctagard/dap-orchestrator/internal/dap"
	"github.com/ctagard/dap-orchestrator/pkg/types"
)

// Backend is the debug adapter runtime the orchestrator drives.
// internal/dap.Runtime is the production implementation.
type Backend interface {
	// Run launches a debuggee. The session becomes visible through Active.
	Run(ctx context.Context, cfg types.LaunchConfig) error

	Subscribe(key string, sink internaldap.EventSink)
	Unsubscribe(key string)

	// Active returns the live backend session, or nil.
	Active() *internaldap.SessionInfo
	// Changed is closed on the next change to what Active reports.
	Changed() <-chan struct{}

	SetBreakpoints(ctx context.Context, path string, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error)
	StackTrace(ctx context.Context, threadID int) ([]dap.StackFrame, error)
	Scopes(ctx context.Context, frameID int) ([]dap.Scope, error)
	Variables(ctx context.Context, ref int) ([]dap.Variable, error)
	Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error)

	Continue(ctx context.Context) error
	Next(ctx context.Context) error
	StepIn(ctx context.Context) error
	StepOut(ctx context.Context) error
	Pause(ctx context.Context) error
	Terminate(ctx context.Context) error
	CloseSession(ctx context.Context) error
}

var _ Backend = (*internaldap.Runtime)(nil)
