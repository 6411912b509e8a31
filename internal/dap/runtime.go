package dap

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/samber/lo"
	"go.uber.org/zap"

	debugerrors "github.com/ctagard/dap-orchestrator/internal/errors"
	"github.com/ctagard/dap-orchestrator/pkg/types"
)

const clientID = "dap-orchestrator"

// Connection is a connected debug adapter together with the launch arguments
// it expects.
type Connection struct {
	Client     *Client
	Process    *exec.Cmd // nil when the adapter was not spawned by us
	LaunchArgs map[string]interface{}
}

// Opener starts a debug adapter suitable for cfg and connects to it
type Opener interface {
	Open(ctx context.Context, cfg types.LaunchConfig) (*Connection, error)
}

type backendSession struct {
	id            int
	conn          *Connection
	ready         bool
	ended         bool
	stoppedThread int
	stopReason    string
	teardownOnce  sync.Once
}

// Runtime owns the single shared adapter connection. At most one backend
// session is active at a time. Events of the active session are fanned out to
// every subscribed EventSink.
type Runtime struct {
	opener         Opener
	requestTimeout time.Duration
	log            *zap.Logger

	mu      sync.Mutex
	active  *backendSession
	nextID  int
	sinks   map[string]EventSink
	changed chan struct{}
	closed  bool

	wg sync.WaitGroup
}

// NewRuntime creates a runtime that spawns adapters through opener.
// requestTimeout bounds the initialize/launch handshake and teardown requests.
func NewRuntime(opener Opener, requestTimeout time.Duration, log *zap.Logger) *Runtime {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runtime{
		opener:         opener,
		requestTimeout: requestTimeout,
		log:            log,
		sinks:          make(map[string]EventSink),
		changed:        make(chan struct{}),
	}
}

// Subscribe registers sink under key. Registering before Run guarantees the
// sink sees the session's first events.
func (r *Runtime) Subscribe(key string, sink EventSink) {
	r.mu.Lock()
	r.sinks[key] = sink
	r.mu.Unlock()
}

// Unsubscribe removes the sink registered under key. It is safe to call from
// inside a sink callback and on keys that are not registered.
func (r *Runtime) Unsubscribe(key string) {
	r.mu.Lock()
	delete(r.sinks, key)
	r.mu.Unlock()
}

// Changed returns a channel that is closed the next time the active session
// appears, disappears, stops or resumes. Fetch it before checking Active to
// avoid missing a transition.
func (r *Runtime) Changed() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changed
}

func (r *Runtime) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// Active returns a snapshot of the active backend session, or nil.
func (r *Runtime) Active() *SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.active
	if sess == nil || !sess.ready {
		return nil
	}
	info := &SessionInfo{
		ID:              sess.id,
		StoppedThreadID: sess.stoppedThread,
		StopReason:      sess.stopReason,
	}
	if sess.conn != nil && sess.conn.Process != nil && sess.conn.Process.Process != nil {
		info.ProcessID = sess.conn.Process.Process.Pid
	}
	return info
}

// Run spawns an adapter for cfg and performs the initialize, launch and
// configurationDone handshake. It returns once the session is active; the
// launch response is awaited in the background.
func (r *Runtime) Run(ctx context.Context, cfg types.LaunchConfig) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.active != nil {
		id := r.active.id
		r.mu.Unlock()
		return debugerrors.SessionBusy(id)
	}
	r.nextID++
	sess := &backendSession{id: r.nextID}
	r.active = sess
	r.mu.Unlock()

	log := r.log.With(zap.Int("backendSession", sess.id), zap.String("target", cfg.Target()))

	conn, err := r.opener.Open(ctx, cfg)
	if err != nil {
		r.mu.Lock()
		if r.active == sess {
			r.active = nil
		}
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	sess.conn = conn
	r.mu.Unlock()

	client := conn.Client
	client.SetEventHandler(func(msg dap.Message) { r.handleEvent(sess, msg) })

	r.wg.Add(1)
	go r.watch(sess)

	fail := func(err error) error {
		log.Warn("launch handshake failed", zap.Error(err))
		r.endSession(sess, false)
		return err
	}

	hctx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	if _, err := client.Initialize(hctx, clientID, clientID); err != nil {
		return fail(debugerrors.DAPInitFailed(err))
	}

	pending, err := client.LaunchAsync(conn.LaunchArgs)
	if err != nil {
		return fail(debugerrors.DAPLaunchFailed(cfg.Target(), err))
	}

	if err := client.WaitInitialized(hctx); err != nil {
		return fail(debugerrors.DAPInitFailed(err))
	}

	r.mu.Lock()
	sess.ready = !sess.ended
	r.notifyLocked()
	r.mu.Unlock()

	if err := client.ConfigurationDone(hctx); err != nil {
		return fail(debugerrors.DAPLaunchFailed(cfg.Target(), err))
	}

	r.wg.Add(1)
	go r.awaitLaunch(sess, pending, log)

	log.Info("backend session started")
	return nil
}

func (r *Runtime) awaitLaunch(sess *backendSession, pending *PendingResponse, log *zap.Logger) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), r.requestTimeout)
	defer cancel()

	err := pending.Wait(ctx)
	if err == nil || errors.Is(err, ErrClosed) {
		return
	}

	log.Warn("adapter rejected launch", zap.Error(err))
	r.dispatch(sess, func(s EventSink) {
		s.OnOutput(dap.OutputEventBody{Category: "console", Output: fmt.Sprintf("adapter rejected launch: %v\n", err)})
	})
	r.endSession(sess, true)
}

// watch ends the session when the adapter connection goes away without a
// terminated event.
func (r *Runtime) watch(sess *backendSession) {
	defer r.wg.Done()
	<-sess.conn.Client.Done()
	r.endSession(sess, true)
}

func (r *Runtime) handleEvent(sess *backendSession, msg dap.Message) {
	switch m := msg.(type) {
	case *dap.ProcessEvent:
		r.dispatch(sess, func(s EventSink) { s.OnProcess(m.Body) })
	case *dap.OutputEvent:
		r.dispatch(sess, func(s EventSink) { s.OnOutput(m.Body) })
	case *dap.ExitedEvent:
		r.dispatch(sess, func(s EventSink) { s.OnExited(m.Body) })
	case *dap.StoppedEvent:
		r.mu.Lock()
		sess.stoppedThread = m.Body.ThreadId
		sess.stopReason = m.Body.Reason
		r.notifyLocked()
		r.mu.Unlock()
		r.dispatch(sess, func(s EventSink) { s.OnStopped(m.Body) })
	case *dap.ContinuedEvent:
		r.mu.Lock()
		sess.stoppedThread = 0
		sess.stopReason = ""
		r.notifyLocked()
		r.mu.Unlock()
		r.dispatch(sess, func(s EventSink) { s.OnContinued(m.Body) })
	case *dap.TerminatedEvent:
		r.endSession(sess, true)
	}
}

// dispatch calls fn for every subscribed sink, outside the lock so sinks may
// unsubscribe themselves. Events of an ended session are dropped.
func (r *Runtime) dispatch(sess *backendSession, fn func(EventSink)) {
	r.mu.Lock()
	if sess.ended {
		r.mu.Unlock()
		return
	}
	sinks := lo.Values(r.sinks)
	r.mu.Unlock()

	for _, s := range sinks {
		fn(s)
	}
}

// endSession marks sess ended exactly once, delivers OnTerminated when
// notify is set, and tears the adapter down in the background.
func (r *Runtime) endSession(sess *backendSession, notify bool) {
	r.mu.Lock()
	if sess.ended {
		r.mu.Unlock()
		return
	}
	sinks := lo.Values(r.sinks)
	conn := sess.conn
	sess.ended = true
	sess.ready = false
	if r.active == sess {
		r.active = nil
	}
	r.notifyLocked()
	r.mu.Unlock()

	// Callers blocked on the ended session are released now rather than
	// after the disconnect below gives up.
	if conn != nil {
		conn.Client.Abort()
	}

	if notify {
		for _, s := range sinks {
			s.OnTerminated()
		}
	}

	// Never close the client from its own read goroutine.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.teardown(sess, true)
	}()
}

func (r *Runtime) teardown(sess *backendSession, disconnect bool) {
	sess.teardownOnce.Do(func() {
		conn := sess.conn
		if conn == nil {
			return
		}
		log := r.log.With(zap.Int("backendSession", sess.id))

		if disconnect {
			ctx, cancel := context.WithTimeout(context.Background(), r.requestTimeout)
			if err := conn.Client.Disconnect(ctx, true); err != nil && !errors.Is(err, ErrClosed) {
				log.Debug("disconnect during teardown failed", zap.Error(err))
			}
			cancel()
		}
		if err := conn.Client.Close(); err != nil {
			log.Debug("closing adapter connection failed", zap.Error(err))
		}
		if conn.Process != nil && conn.Process.Process != nil {
			if err := killProcessGroup(conn.Process.Process.Pid, conn.Process); err != nil {
				log.Warn("failed to kill adapter process", zap.Error(err))
			}
		}
		log.Debug("backend session torn down")
	})
}

// current returns the active, ready session
func (r *Runtime) current() (*backendSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil || !r.active.ready {
		return nil, debugerrors.NoActiveSession()
	}
	return r.active, nil
}

// resume clears the stopped thread before sending a request that resumes
// execution, and restores it if the request fails. Clearing first keeps a
// fast stopped event from being overwritten.
func (r *Runtime) resume(ctx context.Context, send func(*Client, context.Context, int) error) error {
	sess, err := r.current()
	if err != nil {
		return err
	}
	thread, err := r.targetThread(ctx, sess)
	if err != nil {
		return err
	}

	r.mu.Lock()
	prevThread, prevReason := sess.stoppedThread, sess.stopReason
	sess.stoppedThread, sess.stopReason = 0, ""
	r.notifyLocked()
	r.mu.Unlock()

	if err := send(sess.conn.Client, ctx, thread); err != nil {
		r.mu.Lock()
		if sess.stoppedThread == 0 {
			sess.stoppedThread, sess.stopReason = prevThread, prevReason
			r.notifyLocked()
		}
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Runtime) targetThread(ctx context.Context, sess *backendSession) (int, error) {
	r.mu.Lock()
	thread := sess.stoppedThread
	r.mu.Unlock()
	if thread != 0 {
		return thread, nil
	}

	threads, err := sess.conn.Client.Threads(ctx)
	if err != nil {
		return 0, err
	}
	if len(threads) == 0 {
		return 0, fmt.Errorf("no threads available")
	}
	return threads[0].Id, nil
}

// Continue resumes the stopped thread
func (r *Runtime) Continue(ctx context.Context) error {
	return r.resume(ctx, (*Client).Continue)
}

// Next steps over the current line
func (r *Runtime) Next(ctx context.Context) error {
	return r.resume(ctx, (*Client).Next)
}

// StepIn steps into the call on the current line
func (r *Runtime) StepIn(ctx context.Context) error {
	return r.resume(ctx, (*Client).StepIn)
}

// StepOut runs until the current function returns
func (r *Runtime) StepOut(ctx context.Context) error {
	return r.resume(ctx, (*Client).StepOut)
}

// Pause interrupts the running debuggee
func (r *Runtime) Pause(ctx context.Context) error {
	sess, err := r.current()
	if err != nil {
		return err
	}
	thread, err := r.targetThread(ctx, sess)
	if err != nil {
		return err
	}
	return sess.conn.Client.Pause(ctx, thread)
}

// Terminate asks the adapter to end the debuggee. Adapters without the
// terminate request are disconnected with terminateDebuggee set instead.
func (r *Runtime) Terminate(ctx context.Context) error {
	sess, err := r.current()
	if err != nil {
		return err
	}
	client := sess.conn.Client
	if !client.Capabilities().SupportsTerminateRequest {
		r.log.Debug("adapter lacks terminate request, disconnecting", zap.Int("backendSession", sess.id))
		return client.Disconnect(ctx, true)
	}
	return client.Terminate(ctx)
}

// CloseSession disconnects from the adapter and tears the session down. The
// session's sinks observe OnTerminated, synthesized if the adapter did not
// send one.
func (r *Runtime) CloseSession(ctx context.Context) error {
	sess, err := r.current()
	if err != nil {
		return err
	}

	err = sess.conn.Client.Disconnect(ctx, true)
	if errors.Is(err, ErrClosed) {
		err = nil
	}
	r.teardown(sess, false)
	return err
}

// StackTrace returns the frames of a thread, innermost first
func (r *Runtime) StackTrace(ctx context.Context, threadID int) ([]dap.StackFrame, error) {
	sess, err := r.current()
	if err != nil {
		return nil, err
	}
	return sess.conn.Client.StackTrace(ctx, threadID, 0, 0)
}

// Scopes returns the scopes of a frame
func (r *Runtime) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	sess, err := r.current()
	if err != nil {
		return nil, err
	}
	return sess.conn.Client.Scopes(ctx, frameID)
}

// Variables expands a variables reference
func (r *Runtime) Variables(ctx context.Context, ref int) ([]dap.Variable, error) {
	sess, err := r.current()
	if err != nil {
		return nil, err
	}
	return sess.conn.Client.Variables(ctx, ref)
}

// Evaluate evaluates expression in the given frame
func (r *Runtime) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error) {
	sess, err := r.current()
	if err != nil {
		return nil, err
	}
	return sess.conn.Client.Evaluate(ctx, expression, frameID, evalContext)
}

// SetBreakpoints replaces the breakpoints of a source file
func (r *Runtime) SetBreakpoints(ctx context.Context, path string, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	sess, err := r.current()
	if err != nil {
		return nil, err
	}
	return sess.conn.Client.SetBreakpoints(ctx, dap.Source{Path: path}, breakpoints)
}

// Close tears down the active session, if any, and waits for background work.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sess := r.active
	r.mu.Unlock()

	if sess != nil {
		r.endSession(sess, true)
	}
	r.wg.Wait()
	return nil
}
