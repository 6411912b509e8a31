package orchestrator

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/go-dap"
	"go.uber.org/zap"

	internaldap "github.com/ctagard/dap-orchestrator/internal/dap"
)

// recordSink feeds backend events for one session into its Record.
type recordSink struct {
	rec         *Record
	registry    *Registry
	clock       clock.Clock
	unsubscribe func()
	log         *zap.Logger

	closed atomic.Bool
	once   sync.Once
}

var _ internaldap.EventSink = (*recordSink)(nil)

func newRecordSink(rec *Record, registry *Registry, clk clock.Clock, unsubscribe func(), log *zap.Logger) *recordSink {
	return &recordSink{
		rec:         rec,
		registry:    registry,
		clock:       clk,
		unsubscribe: unsubscribe,
		log:         log,
	}
}

func (s *recordSink) OnProcess(body dap.ProcessEventBody) {
	if s.closed.Load() {
		return
	}
	if s.rec.SetPID(body.SystemProcessId) {
		s.log.Debug("debuggee pid captured", zap.Int("pid", body.SystemProcessId))
	}
}

func (s *recordSink) OnOutput(body dap.OutputEventBody) {
	if s.closed.Load() {
		return
	}
	switch body.Category {
	case "stdout":
		s.rec.AppendStdout(body.Output)
	case "stderr":
		s.rec.AppendStderr(body.Output)
	case "telemetry":
	default:
		category := body.Category
		if category == "" {
			category = "console"
		}
		s.rec.AddDiagnostic(fmt.Sprintf("[%s] %s", category, strings.TrimRight(body.Output, "\r\n")))
	}
}

func (s *recordSink) OnExited(body dap.ExitedEventBody) {
	if s.closed.Load() {
		return
	}
	if !s.rec.SetExitCode(body.ExitCode) {
		s.log.Debug("duplicate exited event ignored", zap.Int("exit_code", body.ExitCode))
		return
	}
	s.log.Info("debuggee exited", zap.Int("exit_code", body.ExitCode))
}

func (s *recordSink) OnStopped(body dap.StoppedEventBody) {
	if s.closed.Load() {
		return
	}
	line := fmt.Sprintf("stopped: thread=%d reason=%s", body.ThreadId, body.Reason)
	if body.Description != "" {
		line += " description=" + body.Description
	}
	s.rec.AddDiagnostic(line)
}

func (s *recordSink) OnContinued(body dap.ContinuedEventBody) {
	if s.closed.Load() {
		return
	}
	s.rec.AddDiagnostic(fmt.Sprintf("continued: thread=%d all_threads=%t", body.ThreadId, body.AllThreadsContinued))
}

// OnTerminated marks the record terminated, detaches the sink and arms the
// retention timer, exactly once.
func (s *recordSink) OnTerminated() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.rec.MarkTerminated(s.clock.Now())
		s.unsubscribe()
		s.registry.SchedulePurge(s.rec)
		s.log.Info("debug session terminated")
	})
}
