package orchestrator

import (
	"context"
	stderrors "errors"

	"github.com/google/go-dap"
	"github.com/samber/lo"
	"go.uber.org/zap"

	internaldap "github.com/ctagard/dap-orchestrator/internal/dap"
	"github.com/ctagard/dap-orchestrator/internal/errors"
	"github.com/ctagard/dap-orchestrator/pkg/types"
)

// DefaultEvalContext is used when the caller does not name one
const DefaultEvalContext = "repl"

// StackFrames returns the call stack of the stopped thread. A debuggee that
// is running, or no longer live, has no frames.
func (o *Orchestrator) StackFrames(ctx context.Context, handle string) ([]types.StackFrame, error) {
	info, _, err := o.live(handle)
	if err != nil || !info.Paused() {
		return []types.StackFrame{}, nil
	}
	return o.stackFrames(ctx, info)
}

func (o *Orchestrator) stackFrames(ctx context.Context, info *internaldap.SessionInfo) ([]types.StackFrame, error) {
	rctx, cancel := context.WithTimeout(ctx, o.timeouts.Inspect)
	defer cancel()

	frames, err := o.backend.StackTrace(rctx, info.StoppedThreadID)
	if err != nil {
		return nil, requestError("stackTrace", o.timeouts.Inspect, err)
	}
	return lo.Map(frames, func(f dap.StackFrame, _ int) types.StackFrame {
		frame := types.StackFrame{
			ID:     f.Id,
			Name:   f.Name,
			Line:   f.Line,
			Column: f.Column,
		}
		if f.Source != nil {
			frame.File = f.Source.Path
		}
		return frame
	}), nil
}

// Scopes returns the scopes of a stack frame
func (o *Orchestrator) Scopes(ctx context.Context, frameID int) ([]types.Scope, error) {
	if o.backend.Active() == nil {
		return nil, errors.NoActiveSession()
	}

	rctx, cancel := context.WithTimeout(ctx, o.timeouts.Inspect)
	defer cancel()

	scopes, err := o.backend.Scopes(rctx, frameID)
	if err != nil {
		return nil, requestError("scopes", o.timeouts.Inspect, err)
	}
	return lo.Map(scopes, func(s dap.Scope, _ int) types.Scope {
		return types.Scope{
			Name:               s.Name,
			VariablesReference: s.VariablesReference,
			Expensive:          s.Expensive,
		}
	}), nil
}

// Variables expands a variables reference
func (o *Orchestrator) Variables(ctx context.Context, ref int) ([]types.Variable, error) {
	if o.backend.Active() == nil {
		return nil, errors.NoActiveSession()
	}

	rctx, cancel := context.WithTimeout(ctx, o.timeouts.Inspect)
	defer cancel()

	vars, err := o.backend.Variables(rctx, ref)
	if err != nil {
		return nil, requestError("variables", o.timeouts.Inspect, err)
	}
	return lo.Map(vars, func(v dap.Variable, _ int) types.Variable {
		return types.Variable{
			Name:               v.Name,
			Value:              v.Value,
			Type:               v.Type,
			VariablesReference: v.VariablesReference,
		}
	}), nil
}

// Evaluate evaluates expression in the given frame, or the top frame of the
// stopped thread when frameID is nil. An expression the debuggee rejects is
// reported in the result rather than as an error.
func (o *Orchestrator) Evaluate(ctx context.Context, expression string, frameID *int, evalContext string) (*types.EvaluateResult, error) {
	if expression == "" {
		return nil, errors.MissingParameter("expression", "the expression to evaluate")
	}
	info := o.backend.Active()
	if info == nil {
		return nil, errors.NoActiveSession()
	}
	if evalContext == "" {
		evalContext = DefaultEvalContext
	}

	frame := 0
	if frameID != nil {
		frame = *frameID
	} else if info.Paused() {
		frames, err := o.stackFrames(ctx, info)
		if err != nil {
			return nil, err
		}
		if len(frames) > 0 {
			frame = frames[0].ID
		}
	}

	rctx, cancel := context.WithTimeout(ctx, o.timeouts.Inspect)
	defer cancel()

	body, err := o.backend.Evaluate(rctx, expression, frame, evalContext)
	if err != nil {
		var re *internaldap.ResponseError
		if stderrors.As(err, &re) {
			return &types.EvaluateResult{Error: re.Message}, nil
		}
		return nil, requestError("evaluate", o.timeouts.Inspect, err)
	}
	return &types.EvaluateResult{
		Result:             body.Result,
		Type:               body.Type,
		VariablesReference: body.VariablesReference,
	}, nil
}

// Expand returns the children of ref, which must belong to the session named
// by handle. An empty handle selects whatever is live.
func (o *Orchestrator) Expand(ctx context.Context, handle string, ref int) ([]types.Variable, error) {
	if _, _, err := o.live(handle); err != nil {
		return nil, err
	}
	return o.Variables(ctx, ref)
}

// Inspect gathers frames, the scopes and variables of one frame, and an
// optional evaluation in a single call. frameID defaults to the top frame.
// A non-empty handle must name the live session.
func (o *Orchestrator) Inspect(ctx context.Context, handle string, frameID *int, expression string) (*types.Inspection, error) {
	if handle != "" {
		if _, _, err := o.live(handle); err != nil {
			return nil, err
		}
	}
	frames, err := o.StackFrames(ctx, handle)
	if err != nil {
		return nil, err
	}
	result := &types.Inspection{StackFrames: frames}

	if frameID == nil && len(frames) > 0 {
		frameID = &frames[0].ID
	}
	if frameID != nil {
		scopes, err := o.Scopes(ctx, *frameID)
		if err != nil {
			return nil, err
		}
		result.Scopes = scopes
		result.Variables = make(map[string][]types.Variable, len(scopes))

		for _, scope := range scopes {
			if scope.VariablesReference == 0 || scope.Expensive {
				continue
			}
			vars, err := o.Variables(ctx, scope.VariablesReference)
			if errors.IsCode(err, errors.CodeSessionEnded) {
				return nil, err
			}
			if err != nil {
				o.log.Debug("skipping scope", zap.String("scope", scope.Name), zap.Error(err))
				continue
			}
			result.Variables[scope.Name] = vars
		}
	}

	if expression != "" {
		eval, err := o.Evaluate(ctx, expression, frameID, "")
		if err != nil {
			return nil, err
		}
		result.Evaluation = eval
	}
	return result, nil
}
