package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ctagard/dap-orchestrator/internal/errors"
	"github.com/ctagard/dap-orchestrator/pkg/types"
)

func (s *Server) handleStartDebugSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := types.LaunchRequest{
		StopOnEntry: request.GetBool("stopOnEntry", false),
		JustMyCode:  request.GetBool("justMyCode", false),
	}
	req.File, _ = request.RequireString("file")
	req.Module, _ = request.RequireString("module")
	req.Cwd, _ = request.RequireString("cwd")
	req.RuntimePath, _ = request.RequireString("pythonPath")

	if err := decodeParam(request, "args", "JSON array of strings", &req.Args); err != nil {
		return s.errorResult("start_debug_session", err), nil
	}
	if err := decodeParam(request, "env", "JSON object of strings", &req.Env); err != nil {
		return s.errorResult("start_debug_session", err), nil
	}
	if err := decodeParam(request, "breakpoints", "JSON array of line numbers", &req.Breakpoints); err != nil {
		return s.errorResult("start_debug_session", err), nil
	}

	result, err := s.orch.Start(ctx, req)
	if err != nil {
		return s.errorResult("start_debug_session", err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleControlExecution(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := request.RequireString("action")
	if err != nil {
		return s.errorResult("control_execution", errors.MissingParameter("action",
			"Specify one of: continue, step_over, step_into, step_out, pause, stop.")), nil
	}
	sessionID, _ := request.RequireString("sessionId")
	if err := s.knownSession(sessionID); err != nil {
		return s.errorResult("control_execution", err), nil
	}

	state, err := s.orch.Control(ctx, sessionID, types.Action(action))
	if err != nil {
		return s.errorResult("control_execution", err), nil
	}
	return jsonResult(state)
}

func (s *Server) handleInspectState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := request.RequireString("sessionId")
	if err := s.knownSession(sessionID); err != nil {
		return s.errorResult("inspect_state", err), nil
	}

	if ref, err := request.RequireFloat("variablesReference"); err == nil {
		vars, err := s.orch.Expand(ctx, sessionID, int(ref))
		if err != nil {
			return s.errorResult("inspect_state", err), nil
		}
		return jsonResult(map[string]interface{}{
			"variablesReference": int(ref),
			"variables":          vars,
		})
	}

	expression, _ := request.RequireString("expression")
	evalContext, _ := request.RequireString("context")
	if expression != "" && !s.config.CanExecute() {
		return s.errorResult("inspect_state", errors.PermissionDenied("evaluate", string(s.config.Mode))), nil
	}

	var frameID *int
	if id, err := request.RequireFloat("frameId"); err == nil {
		frameID = lo.ToPtr(int(id))
	}

	// A non-default context is evaluated separately so the composite
	// snapshot keeps its own defaults.
	inspected := expression
	if evalContext != "" {
		inspected = ""
	}

	inspection, err := s.orch.Inspect(ctx, sessionID, frameID, inspected)
	if err != nil {
		return s.errorResult("inspect_state", err), nil
	}
	if expression != "" && evalContext != "" {
		inspection.Evaluation, err = s.orch.Evaluate(ctx, expression, frameID, evalContext)
		if err != nil {
			return s.errorResult("inspect_state", err), nil
		}
	}
	return jsonResult(inspection)
}

// breakpointSpec is one entry of the set_breakpoints array
type breakpointSpec struct {
	Line      int    `json:"line"`
	Condition string `json:"condition,omitempty"`
}

func (s *Server) handleSetBreakpoints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	file, err := request.RequireString("file")
	if err != nil {
		return s.errorResult("set_breakpoints", errors.MissingParameter("file",
			"Specify the source file the breakpoints belong to.")), nil
	}
	if _, err := request.RequireString("breakpoints"); err != nil {
		return s.errorResult("set_breakpoints", errors.MissingParameter("breakpoints",
			"Pass a JSON array of {line, condition?} objects, or [] to clear the file.")), nil
	}

	var specs []breakpointSpec
	if err := decodeParam(request, "breakpoints", "JSON array of {line, condition?} objects", &specs); err != nil {
		return s.errorResult("set_breakpoints", err), nil
	}

	lines := lo.Map(specs, func(bp breakpointSpec, _ int) int { return bp.Line })
	conditions := lo.FilterSliceToMap(specs, func(bp breakpointSpec) (int, string, bool) {
		return bp.Line, bp.Condition, bp.Condition != ""
	})

	bps, err := s.orch.SetBreakpoints(ctx, file, lines, conditions)
	if err != nil {
		return s.errorResult("set_breakpoints", err), nil
	}
	return jsonResult(map[string]interface{}{
		"file":        file,
		"breakpoints": bps,
	})
}

func (s *Server) handleGetSessionStatus(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return s.errorResult("get_session_status", errors.MissingParameter("sessionId",
			"Use the sessionId returned by start_debug_session, or call list_sessions.")), nil
	}
	return jsonResult(s.orch.Status(sessionID))
}

// sessionSummary is one row of list_sessions
type sessionSummary struct {
	SessionID string              `json:"sessionId"`
	Status    types.SessionStatus `json:"status"`
	File      string              `json:"file,omitempty"`
	Module    string              `json:"module,omitempty"`
	PID       int                 `json:"pid,omitempty"`
	ExitCode  *int                `json:"exitCode,omitempty"`
}

func (s *Server) handleListSessions(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summaries := lo.Map(s.orch.Sessions(), func(handle string, _ int) sessionSummary {
		report := s.orch.Status(handle)
		return sessionSummary{
			SessionID: handle,
			Status:    report.Status,
			File:      report.File,
			Module:    report.Module,
			PID:       report.PID,
			ExitCode:  report.ExitCode,
		}
	})

	result := map[string]interface{}{
		"sessions": summaries,
		"count":    len(summaries),
	}
	if live, ok := s.orch.LiveSession(); ok {
		result["liveSession"] = live
	}
	return jsonResult(result)
}

// knownSession rejects handles the registry never issued or has already
// purged. An empty handle means the live session.
func (s *Server) knownSession(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if s.orch.Status(sessionID).Status == types.SessionStatusNoSession {
		return errors.SessionNotFound(sessionID)
	}
	return nil
}

// decodeParam unmarshals an optional JSON-encoded string parameter into dst.
// An absent or empty parameter leaves dst untouched.
func decodeParam(request mcp.CallToolRequest, name, expected string, dst interface{}) error {
	raw, err := request.RequireString(name)
	if err != nil || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return errors.InvalidParameter(name, raw, expected)
	}
	return nil
}

func (s *Server) errorResult(tool string, err error) *mcp.CallToolResult {
	de := errors.FromError(err)
	s.log.Debug("tool failed", zap.String("tool", tool), zap.String("code", string(de.Code)), zap.Error(err))
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", de.Code, de.Error()))
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
