// Package dap is the debug runtime the orchestrator talks to.
//
// It is built on the Debug Adapter Protocol wire types from go-dap and provides:
//   - Transport: framed message exchange over a TCP connection to an adapter
//   - Client: request/response correlation, context-bounded requests, event delivery
//   - Runtime: the single shared adapter connection, holding at most one active
//     backend session and fanning its events out to per-session EventSinks
//
// The protocol is described at: https://microsoft.github.io/debug-adapter-protocol/
package dap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
)

var errTransportClosed = errors.New("transport closed")

// Transport handles communication with a DAP server
type Transport struct {
	conn   io.ReadWriteCloser
	reader *bufio.Reader
	writer *bufio.Writer
	mu     sync.Mutex
	seq    int
}

// NewTransport wraps an established connection to an adapter
func NewTransport(conn io.ReadWriteCloser) *Transport {
	return &Transport{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		seq:    1,
	}
}

// NewTCPTransport creates a transport connected to a TCP address
func NewTCPTransport(address string) (*Transport, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DAP server at %s: %w", address, err)
	}
	return NewTransport(conn), nil
}

// NextSeq returns the next sequence number
func (t *Transport) NextSeq() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	seq := t.seq
	t.seq++
	return seq
}

// Send sends a DAP message
func (t *Transport) Send(msg dap.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := dap.WriteProtocolMessage(t.writer, msg); err != nil {
		return fmt.Errorf("failed to write DAP message: %w", err)
	}

	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush DAP message: %w", err)
	}

	return nil
}

// Receive receives a DAP message
func (t *Transport) Receive() (dap.Message, error) {
	msg, err := dap.ReadProtocolMessage(t.reader)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
			errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
			return nil, fmt.Errorf("%w: %v", errTransportClosed, err)
		}
		return nil, fmt.Errorf("failed to read DAP message: %w", err)
	}
	return msg, nil
}

// Close closes the transport
func (t *Transport) Close() error {
	return t.conn.Close()
}
