package dap

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T) (*Client, *fakeAdapter) {
	t.Helper()
	adapter, conn := newFakeAdapter(t)
	client := NewClient(NewTransport(conn), zaptest.NewLogger(t))
	t.Cleanup(func() { _ = client.Close() })
	return client, adapter
}

// TestClient_RequestResponse verifies responses are matched to their requests.
func TestClient_RequestResponse(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	resp, err := client.Initialize(ctx, "test", "test")
	require.NoError(t, err)
	assert.True(t, resp.Body.SupportsConfigurationDoneRequest)
	assert.True(t, client.Capabilities().SupportsTerminateRequest)
	require.NoError(t, client.WaitInitialized(ctx))

	frames, err := client.StackTrace(ctx, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, 6, frames[0].Line)

	body, err := client.Evaluate(ctx, "x + y", 1000, "repl")
	require.NoError(t, err)
	assert.Equal(t, "3", body.Result)

	bps, err := client.SetBreakpoints(ctx, dap.Source{Path: "/tmp/script.py"}, []dap.SourceBreakpoint{{Line: 3}, {Line: 9}})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 9}, lo.Map(bps, func(bp dap.Breakpoint, _ int) int { return bp.Line }))
}

// TestClient_ErrorResponse verifies failed responses become ResponseErrors.
func TestClient_ErrorResponse(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.Evaluate(context.Background(), "q", 0, "repl")
	require.Error(t, err)

	var re *ResponseError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "evaluate", re.Command)
	assert.Equal(t, "name 'q' is not defined", re.Message)
	assert.Equal(t, "evaluate failed: name 'q' is not defined", err.Error())
}

// TestClient_RequestDeadline verifies an unanswered request honors its context.
func TestClient_RequestDeadline(t *testing.T) {
	client, adapter := newTestClient(t)
	adapter.setOverride(func(_ *fakeAdapter, req dap.RequestMessage) bool {
		return req.GetRequest().Command == "variables"
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Variables(ctx, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// TestClient_CloseFailsPending verifies in-flight requests resolve with ErrClosed.
func TestClient_CloseFailsPending(t *testing.T) {
	client, adapter := newTestClient(t)
	adapter.setOverride(func(_ *fakeAdapter, req dap.RequestMessage) bool {
		return req.GetRequest().Command == "variables"
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Variables(context.Background(), 1)
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		return lo.Contains(adapter.Commands(), "variables")
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Close())

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("pending request not released by Close")
	}

	_, err := client.Threads(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
}

// TestClient_AbortFailsPending verifies Abort releases in-flight requests
// while the connection stays usable.
func TestClient_AbortFailsPending(t *testing.T) {
	client, adapter := newTestClient(t)
	adapter.setOverride(func(_ *fakeAdapter, req dap.RequestMessage) bool {
		return req.GetRequest().Command == "variables"
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Variables(context.Background(), 1)
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		return lo.Contains(adapter.Commands(), "variables")
	}, time.Second, 5*time.Millisecond)

	client.Abort()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("pending request not released by Abort")
	}

	threads, err := client.Threads(context.Background())
	require.NoError(t, err)
	assert.Len(t, threads, 1)
}

// TestClient_ConnectionLoss verifies the client reports Done when the adapter hangs up.
func TestClient_ConnectionLoss(t *testing.T) {
	client, adapter := newTestClient(t)

	require.NoError(t, adapter.conn.Close())

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("client did not notice the closed connection")
	}
}

// TestClient_EventsInOrder verifies events reach the handler in arrival order.
func TestClient_EventsInOrder(t *testing.T) {
	client, adapter := newTestClient(t)

	got := make(chan string, 3)
	client.SetEventHandler(func(msg dap.Message) {
		if out, ok := msg.(*dap.OutputEvent); ok {
			got <- out.Body.Output
		}
	})

	for _, text := range []string{"a", "b", "c"} {
		adapter.send(&dap.OutputEvent{Event: newEvent("output"), Body: dap.OutputEventBody{Category: "stdout", Output: text}})
	}

	for _, want := range []string{"a", "b", "c"} {
		select {
		case text := <-got:
			assert.Equal(t, want, text)
		case <-time.After(time.Second):
			t.Fatalf("missing event %q", want)
		}
	}
}

// TestTransport_ClosedConnection verifies a hung-up peer is reported as closed.
func TestTransport_ClosedConnection(t *testing.T) {
	server, client := net.Pipe()
	transport := NewTransport(client)
	require.NoError(t, server.Close())

	_, err := transport.Receive()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errTransportClosed))
}
