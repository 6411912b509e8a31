package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/go-dap"
	"go.uber.org/zap"
)

// ErrClosed is returned for requests that were pending, or issued, after the
// client shut down or lost its connection to the adapter.
var ErrClosed = errors.New("dap client closed")

// ResponseError is returned when the adapter answers a request with success=false.
type ResponseError struct {
	Command string
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Command, e.Message)
}

// Client provides a high-level API for DAP operations
type Client struct {
	transport *Transport
	log       *zap.Logger

	// Response handling
	pendingRequests map[int]chan dap.Message
	mu              sync.Mutex

	// Event handling
	eventHandler func(dap.Message)
	handlerMu    sync.RWMutex

	// Capabilities from initialize response
	capabilities dap.Capabilities

	// Initialization synchronization
	initialized     chan struct{}
	initializedOnce sync.Once

	// Context for shutdown; cancelled by Close or when the read loop gives up
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a new DAP client with the given transport
func NewClient(transport *Transport, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport:       transport,
		log:             log,
		pendingRequests: make(map[int]chan dap.Message),
		initialized:     make(chan struct{}),
		ctx:             ctx,
		cancel:          cancel,
	}

	// Start the message reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	return c
}

// SetEventHandler sets the handler for DAP events. The handler runs on the
// read goroutine, so events are delivered one at a time in arrival order.
func (c *Client) SetEventHandler(handler func(dap.Message)) {
	c.handlerMu.Lock()
	c.eventHandler = handler
	c.handlerMu.Unlock()
}

// Done is closed once the client can no longer exchange messages.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// readLoop continuously reads messages from the transport
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer c.cancel()

	consecutiveErrors := 0
	const maxConsecutiveErrors = 5

	for {
		msg, err := c.transport.Receive()
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}

			consecutiveErrors++
			c.log.Warn("DAP transport error",
				zap.Int("attempt", consecutiveErrors),
				zap.Int("max", maxConsecutiveErrors),
				zap.Error(err))

			// A closed connection will not recover; neither will a persistent decode failure.
			if errors.Is(err, errTransportClosed) || consecutiveErrors >= maxConsecutiveErrors {
				c.log.Warn("DAP transport: stopping read loop")
				return
			}
			continue
		}

		consecutiveErrors = 0
		c.handleMessage(msg)
	}
}

// handleMessage routes incoming messages to the appropriate handler
func (c *Client) handleMessage(msg dap.Message) {
	if resp, ok := msg.(dap.ResponseMessage); ok {
		requestSeq := resp.GetResponse().RequestSeq
		c.mu.Lock()
		ch, ok := c.pendingRequests[requestSeq]
		delete(c.pendingRequests, requestSeq)
		c.mu.Unlock()
		if ok {
			ch <- msg
		} else {
			c.log.Debug("dropping response with no pending request",
				zap.Int("requestSeq", requestSeq),
				zap.String("command", resp.GetResponse().Command))
		}
		return
	}

	if _, ok := msg.(*dap.InitializedEvent); ok {
		c.initializedOnce.Do(func() {
			close(c.initialized)
		})
	}

	c.handlerMu.RLock()
	handler := c.eventHandler
	c.handlerMu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

// send registers a response channel for req and writes it to the transport
func (c *Client) send(req dap.RequestMessage) (int, chan dap.Message, error) {
	select {
	case <-c.ctx.Done():
		return 0, nil, ErrClosed
	default:
	}

	seq := c.transport.NextSeq()
	req.GetRequest().Seq = seq

	// Buffered so the read loop never blocks on an abandoned request
	respCh := make(chan dap.Message, 1)
	c.mu.Lock()
	c.pendingRequests[seq] = respCh
	c.mu.Unlock()

	if err := c.transport.Send(req); err != nil {
		c.forget(seq)
		return 0, nil, err
	}
	return seq, respCh, nil
}

func (c *Client) forget(seq int) {
	c.mu.Lock()
	delete(c.pendingRequests, seq)
	c.mu.Unlock()
}

// await waits for the response to a request sent with send
func (c *Client) await(ctx context.Context, command string, seq int, respCh chan dap.Message) (dap.Message, error) {
	select {
	case resp := <-respCh:
		if resp == nil {
			return nil, fmt.Errorf("%s: %w", command, ErrClosed)
		}
		if errResp, ok := resp.(*dap.ErrorResponse); ok {
			return nil, &ResponseError{Command: command, Message: errorMessage(errResp)}
		}
		if r, ok := resp.(dap.ResponseMessage); ok && !r.GetResponse().Success {
			return nil, &ResponseError{Command: command, Message: r.GetResponse().Message}
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(seq)
		return nil, fmt.Errorf("%s: %w", command, ctx.Err())
	case <-c.ctx.Done():
		c.forget(seq)
		return nil, fmt.Errorf("%s: %w", command, ErrClosed)
	}
}

// sendRequest sends a request and waits for the response until ctx is done
func (c *Client) sendRequest(ctx context.Context, req dap.RequestMessage) (dap.Message, error) {
	seq, respCh, err := c.send(req)
	if err != nil {
		return nil, err
	}
	return c.await(ctx, req.GetRequest().Command, seq, respCh)
}

// call sends req and asserts the response type
func call[T dap.ResponseMessage](ctx context.Context, c *Client, req dap.RequestMessage) (T, error) {
	var zero T
	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return zero, err
	}
	typed, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response type: %T", resp)
	}
	return typed, nil
}

func errorMessage(resp *dap.ErrorResponse) string {
	if resp.Message != "" {
		return resp.Message
	}
	if resp.Body.Error != nil && resp.Body.Error.Format != "" {
		return resp.Body.Error.Format
	}
	return "unknown error"
}

func newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}

// Initialize sends the initialize request
func (c *Client) Initialize(ctx context.Context, clientID, clientName string) (*dap.InitializeResponse, error) {
	req := &dap.InitializeRequest{
		Request: newRequest("initialize"),
		Arguments: dap.InitializeRequestArguments{
			ClientID:                     clientID,
			ClientName:                   clientName,
			AdapterID:                    clientID,
			Locale:                       "en-US",
			LinesStartAt1:                true,
			ColumnsStartAt1:              true,
			PathFormat:                   "path",
			SupportsVariableType:         true,
			SupportsVariablePaging:       true,
			SupportsRunInTerminalRequest: false,
		},
	}

	resp, err := call[*dap.InitializeResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.capabilities = resp.Body
	c.mu.Unlock()
	return resp, nil
}

// WaitInitialized waits for the initialized event
func (c *Client) WaitInitialized(ctx context.Context) error {
	select {
	case <-c.initialized:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for initialized event: %w", ctx.Err())
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// PendingResponse is a request whose response has not been awaited yet
type PendingResponse struct {
	client  *Client
	command string
	seq     int
	ch      chan dap.Message
}

// Wait blocks until the response arrives, ctx is done, or the client closes
func (p *PendingResponse) Wait(ctx context.Context) error {
	_, err := p.client.await(ctx, p.command, p.seq, p.ch)
	return err
}

// LaunchAsync sends a launch request without waiting for the response.
// Adapters such as debugpy only answer launch after configurationDone.
func (c *Client) LaunchAsync(args map[string]interface{}) (*PendingResponse, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal launch args: %w", err)
	}

	req := &dap.LaunchRequest{
		Request:   newRequest("launch"),
		Arguments: argsJSON,
	}

	seq, ch, err := c.send(req)
	if err != nil {
		return nil, err
	}
	return &PendingResponse{client: c, command: "launch", seq: seq, ch: ch}, nil
}

// ConfigurationDone signals that configuration is complete
func (c *Client) ConfigurationDone(ctx context.Context) error {
	req := &dap.ConfigurationDoneRequest{Request: newRequest("configurationDone")}
	_, err := call[*dap.ConfigurationDoneResponse](ctx, c, req)
	return err
}

// Terminate asks the adapter to end the debuggee gracefully
func (c *Client) Terminate(ctx context.Context) error {
	req := &dap.TerminateRequest{
		Request:   newRequest("terminate"),
		Arguments: &dap.TerminateArguments{},
	}
	_, err := call[*dap.TerminateResponse](ctx, c, req)
	return err
}

// Disconnect ends the debug session
func (c *Client) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	req := &dap.DisconnectRequest{
		Request: newRequest("disconnect"),
		Arguments: &dap.DisconnectArguments{
			TerminateDebuggee: terminateDebuggee,
		},
	}
	_, err := call[*dap.DisconnectResponse](ctx, c, req)
	return err
}

// Threads lists the debuggee's threads
func (c *Client) Threads(ctx context.Context) ([]dap.Thread, error) {
	req := &dap.ThreadsRequest{Request: newRequest("threads")}
	resp, err := call[*dap.ThreadsResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Threads, nil
}

// StackTrace gets the stack trace for a thread
func (c *Client) StackTrace(ctx context.Context, threadID, startFrame, levels int) ([]dap.StackFrame, error) {
	req := &dap.StackTraceRequest{
		Request: newRequest("stackTrace"),
		Arguments: dap.StackTraceArguments{
			ThreadId:   threadID,
			StartFrame: startFrame,
			Levels:     levels,
		},
	}
	resp, err := call[*dap.StackTraceResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.StackFrames, nil
}

// Scopes gets the scopes for a stack frame
func (c *Client) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	req := &dap.ScopesRequest{
		Request:   newRequest("scopes"),
		Arguments: dap.ScopesArguments{FrameId: frameID},
	}
	resp, err := call[*dap.ScopesResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Scopes, nil
}

// Variables gets variables for a reference
func (c *Client) Variables(ctx context.Context, variablesRef int) ([]dap.Variable, error) {
	req := &dap.VariablesRequest{
		Request:   newRequest("variables"),
		Arguments: dap.VariablesArguments{VariablesReference: variablesRef},
	}
	resp, err := call[*dap.VariablesResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Variables, nil
}

// Evaluate evaluates an expression in the context of a frame (0 for global)
func (c *Client) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error) {
	req := &dap.EvaluateRequest{
		Request: newRequest("evaluate"),
		Arguments: dap.EvaluateArguments{
			Expression: expression,
			FrameId:    frameID,
			Context:    evalContext,
		},
	}
	resp, err := call[*dap.EvaluateResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return &resp.Body, nil
}

// SetBreakpoints replaces all breakpoints in a source file
func (c *Client) SetBreakpoints(ctx context.Context, source dap.Source, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	req := &dap.SetBreakpointsRequest{
		Request: newRequest("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      source,
			Breakpoints: breakpoints,
		},
	}
	resp, err := call[*dap.SetBreakpointsResponse](ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Body.Breakpoints, nil
}

// Continue resumes execution of a thread
func (c *Client) Continue(ctx context.Context, threadID int) error {
	req := &dap.ContinueRequest{
		Request:   newRequest("continue"),
		Arguments: dap.ContinueArguments{ThreadId: threadID},
	}
	_, err := call[*dap.ContinueResponse](ctx, c, req)
	return err
}

// Next steps over the current line
func (c *Client) Next(ctx context.Context, threadID int) error {
	req := &dap.NextRequest{
		Request:   newRequest("next"),
		Arguments: dap.NextArguments{ThreadId: threadID},
	}
	_, err := call[*dap.NextResponse](ctx, c, req)
	return err
}

// StepIn steps into a function call
func (c *Client) StepIn(ctx context.Context, threadID int) error {
	req := &dap.StepInRequest{
		Request:   newRequest("stepIn"),
		Arguments: dap.StepInArguments{ThreadId: threadID},
	}
	_, err := call[*dap.StepInResponse](ctx, c, req)
	return err
}

// StepOut steps out of the current function
func (c *Client) StepOut(ctx context.Context, threadID int) error {
	req := &dap.StepOutRequest{
		Request:   newRequest("stepOut"),
		Arguments: dap.StepOutArguments{ThreadId: threadID},
	}
	_, err := call[*dap.StepOutResponse](ctx, c, req)
	return err
}

// Pause pauses execution of a thread
func (c *Client) Pause(ctx context.Context, threadID int) error {
	req := &dap.PauseRequest{
		Request:   newRequest("pause"),
		Arguments: dap.PauseArguments{ThreadId: threadID},
	}
	_, err := call[*dap.PauseResponse](ctx, c, req)
	return err
}

// Capabilities returns the capabilities from the initialize response
func (c *Client) Capabilities() dap.Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capabilities
}

// Abort fails every request awaiting a response with ErrClosed. The
// connection stays open, so later requests still go through.
func (c *Client) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for seq, ch := range c.pendingRequests {
		delete(c.pendingRequests, seq)
		ch <- nil
	}
}

// Close shuts down the client. Pending requests fail with ErrClosed.
func (c *Client) Close() error {
	c.cancel()
	err := c.transport.Close()
	c.wg.Wait()
	return err
}
