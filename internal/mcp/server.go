// Package mcp exposes the debug session orchestrator as Model Context
// Protocol tools.
//
// Session tools (always available):
//   - get_session_status: classify a session, live or recently terminated
//   - list_sessions: list retained sessions
//   - inspect_state: stack frames, scopes, variables and evaluation
//
// Gated by capability mode:
//   - start_debug_session: launch a debuggee (allow_spawn)
//   - control_execution: continue, step, pause or stop (allow_execute)
//   - set_breakpoints: replace the breakpoints of a file (allow_modify)
package mcp

import (
	"context"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ctagard/dap-orchestrator/internal/config"
	"github.com/ctagard/dap-orchestrator/internal/orchestrator"
)

// Server wraps the MCP server around an orchestrator
type Server struct {
	mcpServer *server.MCPServer
	orch      *orchestrator.Orchestrator
	config    *config.Config
	log       *zap.Logger
	tools     []string
}

// NewServer creates the MCP server and registers the tools allowed by cfg.
func NewServer(orch *orchestrator.Orchestrator, cfg *config.Config, version string, log *zap.Logger) *Server {
	mcpServer := server.NewMCPServer(
		"dap-orchestrator",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer: mcpServer,
		orch:      orch,
		config:    cfg,
		log:       log,
	}
	s.registerTools()
	s.log.Info("tools registered", zap.Strings("tools", s.tools), zap.String("mode", string(cfg.Mode)))

	return s
}

func (s *Server) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
	s.tools = append(s.tools, tool.Name)
}

// Tools returns the registered tool names in registration order
func (s *Server) Tools() []string {
	return append([]string(nil), s.tools...)
}

// Serve speaks MCP as newline-delimited JSON-RPC over in and out until ctx
// is cancelled or in reaches EOF.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(zap.NewStdLog(s.log))
	return stdio.Listen(ctx, in, out)
}
