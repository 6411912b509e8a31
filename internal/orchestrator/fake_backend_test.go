package orchestrator

import (
	"context"
	"sync"

	"github.com/google/go-dap"
	"github.com/samber/lo"

	internaldap "github.com/ctagard/dap-orchestrator/internal/dap"
	"github.com/ctagard/dap-orchestrator/internal/errors"
	"github.com/ctagard/dap-orchestrator/pkg/types"
)

// fakeBackend is a scripted Backend. Hooks run without the lock held and
// may call the emit helpers to simulate adapter events.
type fakeBackend struct {
	mu      sync.Mutex
	sinks   map[string]internaldap.EventSink
	active  *internaldap.SessionInfo
	changed chan struct{}
	ended   chan struct{}
	nextID  int
	calls   []string

	runErr      error
	launched    []types.LaunchConfig
	breakpoints map[string][]dap.SourceBreakpoint
	frames      []dap.StackFrame
	scopes      []dap.Scope
	variables   map[int][]dap.Variable
	evaluate    func(expression string, frameID int) (*dap.EvaluateResponseBody, error)
	blockVars   bool

	onRun      func(f *fakeBackend, cfg types.LaunchConfig)
	onContinue func(f *fakeBackend)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sinks:       make(map[string]internaldap.EventSink),
		changed:     make(chan struct{}),
		breakpoints: make(map[string][]dap.SourceBreakpoint),
		variables:   make(map[int][]dap.Variable),
	}
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) notifyLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

func (f *fakeBackend) each(fn func(internaldap.EventSink)) {
	f.mu.Lock()
	sinks := lo.Values(f.sinks)
	f.mu.Unlock()
	for _, s := range sinks {
		fn(s)
	}
}

// start makes a session active, optionally stopped on entry.
func (f *fakeBackend) start(pid int, stopped bool) {
	f.mu.Lock()
	f.nextID++
	f.active = &internaldap.SessionInfo{ID: f.nextID, ProcessID: 4242}
	if stopped {
		f.active.StoppedThreadID = 1
		f.active.StopReason = "entry"
	}
	f.ended = make(chan struct{})
	f.notifyLocked()
	f.mu.Unlock()

	if pid > 0 {
		f.each(func(s internaldap.EventSink) { s.OnProcess(dap.ProcessEventBody{SystemProcessId: pid}) })
	}
}

func (f *fakeBackend) stop(thread int, reason string) {
	f.mu.Lock()
	if f.active != nil {
		f.active.StoppedThreadID = thread
		f.active.StopReason = reason
		f.notifyLocked()
	}
	f.mu.Unlock()
	f.each(func(s internaldap.EventSink) {
		s.OnStopped(dap.StoppedEventBody{Reason: reason, ThreadId: thread})
	})
}

func (f *fakeBackend) output(category, text string) {
	f.each(func(s internaldap.EventSink) {
		s.OnOutput(dap.OutputEventBody{Category: category, Output: text})
	})
}

func (f *fakeBackend) exit(code int) {
	f.each(func(s internaldap.EventSink) { s.OnExited(dap.ExitedEventBody{ExitCode: code}) })
}

// terminate ends the active session and delivers the terminated event.
func (f *fakeBackend) terminate() {
	f.mu.Lock()
	if f.active == nil {
		f.mu.Unlock()
		return
	}
	f.active = nil
	close(f.ended)
	f.notifyLocked()
	f.mu.Unlock()
	f.each(func(s internaldap.EventSink) { s.OnTerminated() })
}

func (f *fakeBackend) Run(_ context.Context, cfg types.LaunchConfig) error {
	f.record("run")
	f.mu.Lock()
	f.launched = append(f.launched, cfg)
	err, hook := f.runErr, f.onRun
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(f, cfg)
	} else {
		f.start(1001, cfg.StopOnEntry)
	}
	return nil
}

func (f *fakeBackend) Subscribe(key string, sink internaldap.EventSink) {
	f.mu.Lock()
	f.sinks[key] = sink
	f.mu.Unlock()
}

func (f *fakeBackend) Unsubscribe(key string) {
	f.mu.Lock()
	delete(f.sinks, key)
	f.mu.Unlock()
}

func (f *fakeBackend) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sinks)
}

func (f *fakeBackend) Active() *internaldap.SessionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil
	}
	info := *f.active
	return &info
}

func (f *fakeBackend) Changed() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changed
}

func (f *fakeBackend) requireActive() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return errors.NoActiveSession()
	}
	return nil
}

func (f *fakeBackend) SetBreakpoints(_ context.Context, path string, bps []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	f.record("setBreakpoints")
	if err := f.requireActive(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.breakpoints[path] = bps
	f.mu.Unlock()
	return lo.Map(bps, func(bp dap.SourceBreakpoint, i int) dap.Breakpoint {
		return dap.Breakpoint{Id: i + 1, Verified: true, Line: bp.Line}
	}), nil
}

func (f *fakeBackend) Breakpoints(path string) []dap.SourceBreakpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.breakpoints[path]
}

func (f *fakeBackend) StackTrace(_ context.Context, _ int) ([]dap.StackFrame, error) {
	f.record("stackTrace")
	if err := f.requireActive(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames, nil
}

func (f *fakeBackend) Scopes(_ context.Context, _ int) ([]dap.Scope, error) {
	f.record("scopes")
	if err := f.requireActive(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scopes, nil
}

func (f *fakeBackend) Variables(ctx context.Context, ref int) ([]dap.Variable, error) {
	f.record("variables")
	f.mu.Lock()
	block, ended := f.blockVars, f.ended
	f.mu.Unlock()
	if block {
		select {
		case <-ended:
			return nil, internaldap.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.requireActive(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.variables[ref], nil
}

func (f *fakeBackend) Evaluate(_ context.Context, expression string, frameID int, _ string) (*dap.EvaluateResponseBody, error) {
	f.record("evaluate")
	if err := f.requireActive(); err != nil {
		return nil, err
	}
	return f.evaluate(expression, frameID)
}

func (f *fakeBackend) resume(call string) error {
	f.record(call)
	f.mu.Lock()
	if f.active == nil {
		f.mu.Unlock()
		return errors.NoActiveSession()
	}
	f.active.StoppedThreadID = 0
	f.active.StopReason = ""
	f.notifyLocked()
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Continue(context.Context) error {
	if err := f.resume("continue"); err != nil {
		return err
	}
	f.mu.Lock()
	hook := f.onContinue
	f.mu.Unlock()
	if hook != nil {
		hook(f)
	}
	return nil
}

func (f *fakeBackend) Next(context.Context) error    { return f.resume("next") }
func (f *fakeBackend) StepIn(context.Context) error  { return f.resume("stepIn") }
func (f *fakeBackend) StepOut(context.Context) error { return f.resume("stepOut") }

func (f *fakeBackend) Pause(context.Context) error {
	f.record("pause")
	if err := f.requireActive(); err != nil {
		return err
	}
	f.stop(1, "pause")
	return nil
}

func (f *fakeBackend) Terminate(context.Context) error {
	f.record("terminate")
	if err := f.requireActive(); err != nil {
		return err
	}
	f.exit(0)
	f.terminate()
	return nil
}

func (f *fakeBackend) CloseSession(context.Context) error {
	f.record("close")
	if err := f.requireActive(); err != nil {
		return err
	}
	f.terminate()
	return nil
}
