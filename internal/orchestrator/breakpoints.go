package orchestrator

import (
	"context"
	"path/filepath"

	"github.com/google/go-dap"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ctagard/dap-orchestrator/internal/errors"
	"github.com/ctagard/dap-orchestrator/pkg/types"
)

// SetBreakpoints replaces every breakpoint in file with the given lines.
// conditions is keyed by line and may be nil.
func (o *Orchestrator) SetBreakpoints(ctx context.Context, file string, lines []int, conditions map[int]string) ([]types.Breakpoint, error) {
	if file == "" {
		return nil, errors.MissingParameter("file", "path to the source file")
	}
	for _, line := range lines {
		if line <= 0 {
			return nil, errors.InvalidParameter("lines", line, "positive line numbers")
		}
	}
	if o.backend.Active() == nil {
		return nil, errors.NoActiveSession()
	}

	path, err := filepath.Abs(file)
	if err != nil {
		return nil, errors.InvalidParameter("file", file, "a valid file path")
	}
	return o.applyBreakpoints(ctx, path, lines, conditions)
}

func (o *Orchestrator) applyBreakpoints(ctx context.Context, path string, lines []int, conditions map[int]string) ([]types.Breakpoint, error) {
	requested := lo.Map(lines, func(line int, _ int) dap.SourceBreakpoint {
		return dap.SourceBreakpoint{Line: line, Condition: conditions[line]}
	})

	rctx, cancel := context.WithTimeout(ctx, o.timeouts.Request)
	defer cancel()

	acked, err := o.backend.SetBreakpoints(rctx, path, requested)
	if err != nil {
		return nil, errors.BreakpointFailed(path, requestError("setBreakpoints", o.timeouts.Request, err))
	}

	result := make([]types.Breakpoint, len(lines))
	for i, line := range lines {
		bp := types.Breakpoint{File: path, Line: line, Condition: conditions[line]}
		if i < len(acked) {
			bp.ID = acked[i].Id
			bp.Verified = acked[i].Verified
			bp.Message = acked[i].Message
			if acked[i].Line > 0 {
				bp.Line = acked[i].Line
			}
		}
		result[i] = bp
	}

	verified := lo.CountBy(result, func(bp types.Breakpoint) bool { return bp.Verified })
	o.log.Debug("breakpoints set",
		zap.String("file", path),
		zap.Int("requested", len(lines)),
		zap.Int("verified", verified))
	return result, nil
}
