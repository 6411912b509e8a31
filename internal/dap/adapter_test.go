package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"

	"github.com/google/go-dap"
	"go.uber.org/zap"

	"github.com/ctagard/dap-orchestrator/pkg/types"
)

// fakeAdapter is a scripted debug adapter on the far end of a net.Pipe.
type fakeAdapter struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	mu       sync.Mutex
	commands []string
	override func(a *fakeAdapter, req dap.RequestMessage) bool

	stopOnEntry bool
}

func newFakeAdapter(t *testing.T) (*fakeAdapter, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	a := &fakeAdapter{conn: server, reader: bufio.NewReader(server)}
	go a.serve()
	t.Cleanup(func() { _ = server.Close() })
	return a, client
}

func (a *fakeAdapter) setOverride(fn func(a *fakeAdapter, req dap.RequestMessage) bool) {
	a.mu.Lock()
	a.override = fn
	a.mu.Unlock()
}

func (a *fakeAdapter) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.commands...)
}

func (a *fakeAdapter) serve() {
	for {
		msg, err := dap.ReadProtocolMessage(a.reader)
		if err != nil {
			return
		}
		req, ok := msg.(dap.RequestMessage)
		if !ok {
			continue
		}

		a.mu.Lock()
		a.commands = append(a.commands, req.GetRequest().Command)
		override := a.override
		a.mu.Unlock()

		if override != nil && override(a, req) {
			continue
		}
		a.respond(req)
	}
}

func (a *fakeAdapter) send(msg dap.Message) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = dap.WriteProtocolMessage(a.conn, msg)
}

func okResponse(req dap.RequestMessage) dap.Response {
	r := req.GetRequest()
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		Command:         r.Command,
		RequestSeq:      r.Seq,
		Success:         true,
	}
}

func errorResponse(req dap.RequestMessage, message string) *dap.ErrorResponse {
	resp := okResponse(req)
	resp.Success = false
	resp.Message = message
	return &dap.ErrorResponse{Response: resp}
}

func newEvent(name string) dap.Event {
	return dap.Event{ProtocolMessage: dap.ProtocolMessage{Type: "event"}, Event: name}
}

func (a *fakeAdapter) respond(req dap.RequestMessage) {
	switch r := req.(type) {
	case *dap.InitializeRequest:
		a.send(&dap.InitializeResponse{
			Response: okResponse(req),
			Body:     dap.Capabilities{SupportsConfigurationDoneRequest: true, SupportsTerminateRequest: true},
		})
		a.send(&dap.InitializedEvent{Event: newEvent("initialized")})
	case *dap.LaunchRequest:
		var args map[string]interface{}
		_ = json.Unmarshal(r.Arguments, &args)
		a.stopOnEntry, _ = args["stopOnEntry"].(bool)
		a.send(&dap.LaunchResponse{Response: okResponse(req)})
	case *dap.ConfigurationDoneRequest:
		a.send(&dap.ConfigurationDoneResponse{Response: okResponse(req)})
		a.send(&dap.ProcessEvent{Event: newEvent("process"), Body: dap.ProcessEventBody{Name: "script.py", SystemProcessId: 555}})
		if a.stopOnEntry {
			a.send(&dap.StoppedEvent{Event: newEvent("stopped"), Body: dap.StoppedEventBody{Reason: "entry", ThreadId: 1}})
		}
	case *dap.ThreadsRequest:
		a.send(&dap.ThreadsResponse{
			Response: okResponse(req),
			Body:     dap.ThreadsResponseBody{Threads: []dap.Thread{{Id: 1, Name: "MainThread"}}},
		})
	case *dap.ContinueRequest:
		a.send(&dap.ContinueResponse{Response: okResponse(req)})
	case *dap.NextRequest:
		a.send(&dap.NextResponse{Response: okResponse(req)})
	case *dap.PauseRequest:
		a.send(&dap.PauseResponse{Response: okResponse(req)})
		a.send(&dap.StoppedEvent{Event: newEvent("stopped"), Body: dap.StoppedEventBody{Reason: "pause", ThreadId: r.Arguments.ThreadId}})
	case *dap.StackTraceRequest:
		a.send(&dap.StackTraceResponse{
			Response: okResponse(req),
			Body: dap.StackTraceResponseBody{
				StackFrames: []dap.StackFrame{{Id: 1000, Name: "<module>", Line: 6, Source: &dap.Source{Path: "/tmp/script.py"}}},
				TotalFrames: 1,
			},
		})
	case *dap.ScopesRequest:
		a.send(&dap.ScopesResponse{
			Response: okResponse(req),
			Body:     dap.ScopesResponseBody{Scopes: []dap.Scope{{Name: "Locals", VariablesReference: 1}}},
		})
	case *dap.VariablesRequest:
		a.send(&dap.VariablesResponse{
			Response: okResponse(req),
			Body:     dap.VariablesResponseBody{Variables: []dap.Variable{{Name: "x", Value: "1", Type: "int"}}},
		})
	case *dap.EvaluateRequest:
		if r.Arguments.Expression != "x + y" {
			a.send(errorResponse(req, "name '"+r.Arguments.Expression+"' is not defined"))
			return
		}
		a.send(&dap.EvaluateResponse{Response: okResponse(req), Body: dap.EvaluateResponseBody{Result: "3", Type: "int"}})
	case *dap.SetBreakpointsRequest:
		bps := make([]dap.Breakpoint, len(r.Arguments.Breakpoints))
		for i, bp := range r.Arguments.Breakpoints {
			bps[i] = dap.Breakpoint{Id: i + 1, Verified: true, Line: bp.Line}
		}
		a.send(&dap.SetBreakpointsResponse{Response: okResponse(req), Body: dap.SetBreakpointsResponseBody{Breakpoints: bps}})
	case *dap.TerminateRequest:
		a.send(&dap.TerminateResponse{Response: okResponse(req)})
		a.send(&dap.ExitedEvent{Event: newEvent("exited"), Body: dap.ExitedEventBody{ExitCode: 0}})
		a.send(&dap.TerminatedEvent{Event: newEvent("terminated")})
	case *dap.DisconnectRequest:
		a.send(&dap.DisconnectResponse{Response: okResponse(req)})
	}
}

// pipeOpener hands the runtime a client on an already connected pipe.
type pipeOpener struct {
	conn net.Conn
	log  *zap.Logger
	err  error
}

func (o *pipeOpener) Open(_ context.Context, cfg types.LaunchConfig) (*Connection, error) {
	if o.err != nil {
		return nil, o.err
	}
	return &Connection{
		Client: NewClient(NewTransport(o.conn), o.log),
		LaunchArgs: map[string]interface{}{
			"program":     cfg.Program,
			"stopOnEntry": cfg.StopOnEntry,
		},
	}, nil
}

// recordingSink captures the events delivered to it.
type recordingSink struct {
	mu         sync.Mutex
	pid        int
	exitCode   *int
	stops      []string
	outputs    []string
	terminated int
}

func (s *recordingSink) OnProcess(body dap.ProcessEventBody) {
	s.mu.Lock()
	s.pid = body.SystemProcessId
	s.mu.Unlock()
}

func (s *recordingSink) OnOutput(body dap.OutputEventBody) {
	s.mu.Lock()
	s.outputs = append(s.outputs, body.Category+": "+body.Output)
	s.mu.Unlock()
}

func (s *recordingSink) OnExited(body dap.ExitedEventBody) {
	s.mu.Lock()
	code := body.ExitCode
	s.exitCode = &code
	s.mu.Unlock()
}

func (s *recordingSink) OnStopped(body dap.StoppedEventBody) {
	s.mu.Lock()
	s.stops = append(s.stops, body.Reason)
	s.mu.Unlock()
}

func (s *recordingSink) OnContinued(dap.ContinuedEventBody) {}

func (s *recordingSink) OnTerminated() {
	s.mu.Lock()
	s.terminated++
	s.mu.Unlock()
}

func (s *recordingSink) Terminated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

func (s *recordingSink) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

func (s *recordingSink) Outputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.outputs...)
}
