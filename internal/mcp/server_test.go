package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ctagard/dap-orchestrator/internal/config"
	"github.com/ctagard/dap-orchestrator/internal/dap"
	"github.com/ctagard/dap-orchestrator/internal/orchestrator"
	"github.com/ctagard/dap-orchestrator/pkg/types"
)

// failingOpener refuses to start any adapter
type failingOpener struct{}

func (failingOpener) Open(context.Context, types.LaunchConfig) (*dap.Connection, error) {
	return nil, stderrors.New("debugpy not installed")
}

func newTestServer(t *testing.T, mode config.CapabilityMode) *Server {
	t.Helper()
	log := zaptest.NewLogger(t)
	cfg := config.DefaultConfig()
	cfg.Mode = mode

	rt := dap.NewRuntime(failingOpener{}, time.Second, log)
	orch := orchestrator.New(rt, cfg, clock.NewMock(), log)
	t.Cleanup(func() {
		orch.Close()
		_ = rt.Close()
	})
	return NewServer(orch, cfg, "test", log)
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]interface{}) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args

	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "unexpected content %T", res.Content[0])
	return text.Text, res.IsError
}

// TestNewServer_ToolsByMode verifies capability gating of the tool surface.
func TestNewServer_ToolsByMode(t *testing.T) {
	full := newTestServer(t, config.ModeFull)
	assert.Equal(t, []string{
		"get_session_status", "list_sessions", "inspect_state",
		"start_debug_session", "control_execution", "set_breakpoints",
	}, full.Tools())

	readonly := newTestServer(t, config.ModeReadOnly)
	assert.Equal(t, []string{"get_session_status", "list_sessions", "inspect_state"}, readonly.Tools())
}

// TestHandleGetSessionStatus verifies unknown handles report no_session.
func TestHandleGetSessionStatus(t *testing.T) {
	s := newTestServer(t, config.ModeFull)

	text, isErr := call(t, s.handleGetSessionStatus, map[string]interface{}{"sessionId": "nope"})
	require.False(t, isErr, text)

	var report types.StatusReport
	require.NoError(t, json.Unmarshal([]byte(text), &report))
	assert.Equal(t, types.SessionStatusNoSession, report.Status)
	assert.Equal(t, "nope", report.SessionID)
	assert.Contains(t, report.Message, "never existed or has been purged")

	text, isErr = call(t, s.handleGetSessionStatus, map[string]interface{}{})
	assert.True(t, isErr)
	assert.Contains(t, text, "MISSING_PARAMETER")
}

// TestHandleListSessions_Empty verifies an idle server lists nothing.
func TestHandleListSessions_Empty(t *testing.T) {
	s := newTestServer(t, config.ModeFull)

	text, isErr := call(t, s.handleListSessions, nil)
	require.False(t, isErr, text)
	assert.JSONEq(t, `{"sessions":[],"count":0}`, text)
}

// TestHandleControlExecution verifies action validation and the session checks.
func TestHandleControlExecution(t *testing.T) {
	s := newTestServer(t, config.ModeFull)

	text, isErr := call(t, s.handleControlExecution, map[string]interface{}{})
	assert.True(t, isErr)
	assert.Contains(t, text, "MISSING_PARAMETER")

	text, isErr = call(t, s.handleControlExecution, map[string]interface{}{"action": "rewind"})
	assert.True(t, isErr)
	assert.Contains(t, text, "INVALID_PARAMETER")

	text, isErr = call(t, s.handleControlExecution, map[string]interface{}{"action": "continue"})
	assert.True(t, isErr)
	assert.Contains(t, text, "NO_ACTIVE_SESSION")

	text, isErr = call(t, s.handleControlExecution, map[string]interface{}{"action": "stop", "sessionId": "gone"})
	assert.True(t, isErr)
	assert.Contains(t, text, "SESSION_NOT_FOUND")
}

// TestHandleStartDebugSession_BadParams verifies malformed JSON parameters are rejected.
func TestHandleStartDebugSession_BadParams(t *testing.T) {
	s := newTestServer(t, config.ModeFull)

	text, isErr := call(t, s.handleStartDebugSession, map[string]interface{}{
		"file":        "app.py",
		"breakpoints": "[12, oops]",
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "INVALID_PARAMETER")
	assert.Contains(t, text, "breakpoints")

	text, isErr = call(t, s.handleStartDebugSession, map[string]interface{}{
		"file":   "app.py",
		"module": "app",
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "CONFIG_INVALID")
}

// TestHandleStartDebugSession_LaunchFailure verifies a failed launch leaves nothing behind.
func TestHandleStartDebugSession_LaunchFailure(t *testing.T) {
	s := newTestServer(t, config.ModeFull)

	text, isErr := call(t, s.handleStartDebugSession, map[string]interface{}{
		"file": "app.py",
		"args": `["--port", "8080"]`,
		"env":  `{"DEBUG": "1"}`,
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "DAP_LAUNCH_FAILED")
	assert.Contains(t, text, "debugpy not installed")

	assert.Empty(t, s.orch.Sessions())
}

// TestHandleSetBreakpoints verifies parameter checks run before the session check.
func TestHandleSetBreakpoints(t *testing.T) {
	s := newTestServer(t, config.ModeFull)

	text, isErr := call(t, s.handleSetBreakpoints, map[string]interface{}{"file": "app.py"})
	assert.True(t, isErr)
	assert.Contains(t, text, "MISSING_PARAMETER")

	text, isErr = call(t, s.handleSetBreakpoints, map[string]interface{}{
		"file":        "app.py",
		"breakpoints": `[{"line": 0}]`,
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "INVALID_PARAMETER")

	text, isErr = call(t, s.handleSetBreakpoints, map[string]interface{}{
		"file":        "app.py",
		"breakpoints": `[{"line": 3, "condition": "i > 2"}]`,
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "NO_ACTIVE_SESSION")
}

// TestHandleInspectState_NoSession verifies inspection of an idle server.
func TestHandleInspectState_NoSession(t *testing.T) {
	s := newTestServer(t, config.ModeFull)

	text, isErr := call(t, s.handleInspectState, map[string]interface{}{"variablesReference": float64(7)})
	assert.True(t, isErr)
	assert.Contains(t, text, "NO_ACTIVE_SESSION")

	text, isErr = call(t, s.handleInspectState, map[string]interface{}{
		"sessionId":          "gone",
		"variablesReference": float64(7),
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "SESSION_NOT_FOUND")
}

// TestHandleInspectState_ReadOnlyEvaluate verifies readonly mode refuses evaluation.
func TestHandleInspectState_ReadOnlyEvaluate(t *testing.T) {
	s := newTestServer(t, config.ModeReadOnly)

	text, isErr := call(t, s.handleInspectState, map[string]interface{}{"expression": "os.remove('x')"})
	assert.True(t, isErr)
	assert.Contains(t, text, "PERMISSION_DENIED")

	text, isErr = call(t, s.handleInspectState, map[string]interface{}{})
	require.False(t, isErr, text)
	assert.JSONEq(t, `{"stackFrames":[]}`, text)
}
