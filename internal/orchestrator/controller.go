package orchestrator

import (
	"context"
	stderrors "errors"
	"strings"

	"go.uber.org/zap"

	internaldap "github.com/ctagard/dap-orchestrator/internal/dap"
	"github.com/ctagard/dap-orchestrator/internal/errors"
	"github.com/ctagard/dap-orchestrator/pkg/types"
)

// Control applies an execution-control action to the live debuggee and
// reports the state it settled into.
func (o *Orchestrator) Control(ctx context.Context, handle string, action types.Action) (*types.ExecutionState, error) {
	if !action.Valid() {
		valid := make([]string, len(types.Actions))
		for i, a := range types.Actions {
			valid[i] = string(a)
		}
		return nil, errors.InvalidParameter("action", action, "one of: "+strings.Join(valid, ", "))
	}

	_, handle, err := o.live(handle)
	if err != nil {
		return nil, err
	}
	var rec *Record
	if handle != "" {
		rec, _ = o.registry.Get(handle)
	}

	rctx, cancel := context.WithTimeout(ctx, o.timeouts.Request)
	defer cancel()

	switch action {
	case types.ActionContinue:
		err = o.backend.Continue(rctx)
	case types.ActionStepOver:
		err = o.backend.Next(rctx)
	case types.ActionStepInto:
		err = o.backend.StepIn(rctx)
	case types.ActionStepOut:
		err = o.backend.StepOut(rctx)
	case types.ActionPause:
		err = o.backend.Pause(rctx)
	case types.ActionStop:
		err = o.stop(rctx)
	}
	if err != nil {
		if errors.IsCode(err, errors.CodeNoActiveSession) {
			return nil, err
		}
		return nil, errors.StepFailed(string(action), requestError(string(action), o.timeouts.Request, err))
	}
	o.log.Debug("execution control", zap.String("session", handle), zap.String("action", string(action)))

	if err := settle(ctx, o.timeouts.ControlSettle); err != nil {
		return nil, err
	}
	return o.executionState(ctx, handle, rec, action), nil
}

// stop terminates the debuggee and always closes the backend session, even
// when terminate fails. The record is finalized by the terminated event.
func (o *Orchestrator) stop(ctx context.Context) (err error) {
	defer func() {
		cerr := o.backend.CloseSession(ctx)
		if cerr != nil && !errors.IsCode(cerr, errors.CodeNoActiveSession) && !stderrors.Is(cerr, internaldap.ErrClosed) {
			err = stderrors.Join(err, cerr)
		}
	}()
	if err := o.backend.Terminate(ctx); err != nil && !stderrors.Is(err, internaldap.ErrClosed) {
		return err
	}
	return nil
}

func (o *Orchestrator) executionState(ctx context.Context, handle string, rec *Record, action types.Action) *types.ExecutionState {
	state := &types.ExecutionState{
		SessionID:   handle,
		StackFrames: []types.StackFrame{},
	}

	info := o.backend.Active()
	if rec != nil && info != nil && rec.BackendID() != info.ID {
		info = nil
	}

	switch {
	case action == types.ActionStop:
		state.Status = types.ExecutionStopped
	case info == nil:
		state.Status = types.ExecutionStopped
		if rec != nil && rec.Snapshot().ExitCode != nil {
			state.Status = types.ExecutionExited
		}
	case info.Paused():
		state.Status = types.ExecutionPaused
		state.ThreadID = info.StoppedThreadID
		state.Reason = info.StopReason
		frames, err := o.stackFrames(ctx, info)
		if err != nil {
			o.log.Debug("stack trace after control failed", zap.Error(err))
		} else {
			state.StackFrames = frames
		}
	default:
		state.Status = types.ExecutionRunning
	}
	return state
}
