package dap

import "github.com/google/go-dap"

// EventSink receives the lifecycle events of one debug session.
//
// Methods are called from the client's read goroutine, one at a time and in
// the order the adapter emitted them. Implementations must not block and must
// not call back into the Client synchronously.
type EventSink interface {
	OnProcess(body dap.ProcessEventBody)
	OnOutput(body dap.OutputEventBody)
	OnExited(body dap.ExitedEventBody)
	OnStopped(body dap.StoppedEventBody)
	OnContinued(body dap.ContinuedEventBody)
	OnTerminated()
}

// SessionInfo is a snapshot of the active backend session
type SessionInfo struct {
	ID              int
	StoppedThreadID int // 0 while running
	StopReason      string
	ProcessID       int // pid of the adapter process, 0 if unknown
}

// Paused reports whether a thread is currently stopped.
func (s SessionInfo) Paused() bool {
	return s.StoppedThreadID != 0
}
