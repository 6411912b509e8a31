package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the session tools, then the ones the capability
// mode allows.
func (s *Server) registerTools() {
	s.registerGetSessionStatus()
	s.registerListSessions()
	s.registerInspectState()

	if s.config.CanSpawn() {
		s.registerStartDebugSession()
	}
	if s.config.CanExecute() {
		s.registerControlExecution()
	}
	if s.config.CanModify() {
		s.registerSetBreakpoints()
	}
}

func (s *Server) registerStartDebugSession() {
	tool := mcp.NewTool("start_debug_session",
		mcp.WithDescription("Launch a program under the debugger and return its sessionId. Give exactly one of 'file' (a .py or .go source file) or 'module' (a Python module name). "+
			"With 'breakpoints' the program runs until the first breakpoint is hit; add stopOnEntry=true to stay paused at the entry point instead. "+
			"Only one debuggee runs at a time."),
		mcp.WithString("file",
			mcp.Description("Path to the script or Go source file to debug. Relative paths are resolved against the server's working directory."),
		),
		mcp.WithString("module",
			mcp.Description("Python module to run, as with 'python -m'. Breakpoints are not accepted with a module target."),
		),
		mcp.WithString("args",
			mcp.Description("JSON array of program arguments: [\"--port\", \"8080\"]"),
		),
		mcp.WithString("env",
			mcp.Description("JSON object of extra environment variables: {\"DEBUG\": \"1\"}"),
		),
		mcp.WithString("cwd",
			mcp.Description("Working directory for the program"),
		),
		mcp.WithString("breakpoints",
			mcp.Description("JSON array of line numbers in 'file' to break at: [12, 40]"),
		),
		mcp.WithBoolean("stopOnEntry",
			mcp.Description("Pause at the entry point (default: false, forced on when breakpoints are given)"),
		),
		mcp.WithBoolean("justMyCode",
			mcp.Description("Python only: skip library frames while stepping (default: false)"),
		),
		mcp.WithString("pythonPath",
			mcp.Description("Python interpreter to run the program with, e.g. '/path/to/venv/bin/python'"),
		),
	)
	s.addTool(tool, s.handleStartDebugSession)
}

func (s *Server) registerControlExecution() {
	tool := mcp.NewTool("control_execution",
		mcp.WithDescription("Drive the live debuggee. Returns the resulting state: running, paused (with thread, reason and stack frames), stopped or exited."),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("One of: continue, step_over, step_into, step_out, pause, stop"),
		),
		mcp.WithString("sessionId",
			mcp.Description("Session to control (default: the live session)"),
		),
	)
	s.addTool(tool, s.handleControlExecution)
}

func (s *Server) registerInspectState() {
	tool := mcp.NewTool("inspect_state",
		mcp.WithDescription("Read the paused program: stack frames, scopes and their variables, plus an optional expression evaluation. "+
			"Pass variablesReference to expand one structured variable instead."),
		mcp.WithString("sessionId",
			mcp.Description("Session to inspect (default: the live session)"),
		),
		mcp.WithNumber("frameId",
			mcp.Description("Stack frame to inspect (default: top frame)"),
		),
		mcp.WithString("expression",
			mcp.Description("Expression to evaluate in the selected frame, e.g. 'len(items)'. Refused in readonly mode."),
		),
		mcp.WithString("context",
			mcp.Description("Evaluation context: 'repl', 'watch' or 'hover' (default: 'repl')"),
		),
		mcp.WithNumber("variablesReference",
			mcp.Description("Expand the children of this variables reference (from a previous inspect_state result)"),
		),
	)
	s.addTool(tool, s.handleInspectState)
}

func (s *Server) registerSetBreakpoints() {
	tool := mcp.NewTool("set_breakpoints",
		mcp.WithDescription("Set breakpoints in a source file of the live session. This REPLACES all breakpoints in the file; pass an empty array to clear them."),
		mcp.WithString("file",
			mcp.Required(),
			mcp.Description("The source file path"),
		),
		mcp.WithString("breakpoints",
			mcp.Required(),
			mcp.Description("JSON array of breakpoints: [{\"line\": 12}, {\"line\": 40, \"condition\": \"i > 3\"}]"),
		),
	)
	s.addTool(tool, s.handleSetBreakpoints)
}

func (s *Server) registerGetSessionStatus() {
	tool := mcp.NewTool("get_session_status",
		mcp.WithDescription("Report a session's status (running, paused, exited, terminated or no_session) with its pid, exit code, output tails, uptime and crash reason. "+
			"Terminated sessions stay queryable for a short retention window."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID returned by start_debug_session"),
		),
	)
	s.addTool(tool, s.handleGetSessionStatus)
}

func (s *Server) registerListSessions() {
	tool := mcp.NewTool("list_sessions",
		mcp.WithDescription("List all retained debug sessions, oldest first, and which one is live"),
	)
	s.addTool(tool, s.handleListSessions)
}
