// Package orchestrator manages debug sessions on top of a shared DAP backend.
//
// One Orchestrator owns one Registry of session records and drives one
// Backend. It provides:
//   - Start: launch a debuggee, optionally paused at breakpoints
//   - Control: continue, step, pause or stop the live debuggee
//   - StackFrames, Scopes, Variables, Evaluate, Inspect: read program state
//   - SetBreakpoints: replace the breakpoints of a source file
//   - Status: classify a session, live or recently terminated
//
// Terminated sessions stay queryable for a retention window that depends on
// how they ended.
package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ctagard/dap-orchestrator/internal/config"
	internaldap "github.com/ctagard/dap-orchestrator/internal/dap"
	"github.com/ctagard/dap-orchestrator/internal/errors"
)

var (
	errWaitTimeout       = stderrors.New("wait ceiling reached")
	errSessionTerminated = stderrors.New("session terminated")
)

// Orchestrator is the entry point for every session operation
type Orchestrator struct {
	backend  Backend
	registry *Registry
	clock    clock.Clock
	timeouts config.TimeoutConfig
	tail     int
	log      *zap.Logger
}

// New creates an orchestrator over backend. clk drives retention and uptime;
// pass clock.New() outside tests.
func New(backend Backend, cfg *config.Config, clk clock.Clock, log *zap.Logger) *Orchestrator {
	retention := RetentionPolicy{
		CleanExit: cfg.Retention.CleanExit,
		Crash:     cfg.Retention.Crash,
	}
	return &Orchestrator{
		backend:  backend,
		registry: NewRegistry(clk, retention, log.Named("registry")),
		clock:    clk,
		timeouts: cfg.Timeouts,
		tail:     cfg.Output.TailLines,
		log:      log,
	}
}

// Sessions lists the handles of all retained sessions, oldest first
func (o *Orchestrator) Sessions() []string {
	return o.registry.Handles()
}

// LiveSession returns the handle of the live debuggee, if there is one.
func (o *Orchestrator) LiveSession() (string, bool) {
	info := o.backend.Active()
	if info == nil {
		return "", false
	}
	rec, ok := o.registry.Live(info.ID)
	if !ok {
		return "", false
	}
	return rec.Handle(), true
}

// Close drops all retained sessions and their timers. The backend is owned
// by the caller.
func (o *Orchestrator) Close() {
	o.registry.Close()
}

// live resolves handle against the backend's active session. An empty handle
// selects whatever is live.
func (o *Orchestrator) live(handle string) (*internaldap.SessionInfo, string, error) {
	info := o.backend.Active()
	if info == nil {
		return nil, "", errors.NoActiveSession()
	}
	if handle == "" {
		if rec, ok := o.registry.Live(info.ID); ok {
			handle = rec.Handle()
		}
		return info, handle, nil
	}
	rec, ok := o.registry.Get(handle)
	if !ok || rec.Terminated() || rec.BackendID() != info.ID {
		return nil, "", errors.NoActiveSession()
	}
	return info, handle, nil
}

// waitFor blocks until ready accepts the backend's active session. It gives
// up when rec terminates, the ceiling passes or ctx is done.
func (o *Orchestrator) waitFor(ctx context.Context, ceiling time.Duration, rec *Record, ready func(*internaldap.SessionInfo) bool) (*internaldap.SessionInfo, error) {
	timer := time.NewTimer(ceiling)
	defer timer.Stop()

	for {
		changed := o.backend.Changed()
		if info := o.backend.Active(); ready(info) {
			return info, nil
		}
		select {
		case <-changed:
		case <-rec.Done():
			return nil, errSessionTerminated
		case <-timer.C:
			return nil, errWaitTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// settle pauses for d so asynchronous backend events can land.
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requestError maps a backend failure for op onto the error taxonomy.
func requestError(op string, ceiling time.Duration, err error) error {
	var de *errors.DebugError
	if stderrors.As(err, &de) {
		return de
	}
	if stderrors.Is(err, internaldap.ErrClosed) {
		return errors.SessionEnded(op).WithCause(err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.DAPTimeout(op, ceiling).WithCause(err)
	}
	var re *internaldap.ResponseError
	if stderrors.As(err, &re) {
		return errors.DAPRequestFailed(re.Command, re.Message).WithCause(err)
	}
	return errors.Wrap(errors.CodeDAPRequestFailed, fmt.Sprintf("%s failed: %v", op, err), "", err)
}
