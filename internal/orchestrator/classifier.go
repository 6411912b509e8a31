package orchestrator

import (
	"fmt"
	"strings"
	"time"

	internaldap "github.com/ctagard/dap-orchestrator/internal/dap"
	"github.com/ctagard/dap-orchestrator/pkg/types"
)

// startupWindow separates a failed startup from a later, unexplained end
const startupWindow = 2 * time.Second

// Status classifies a session. Unknown and expired handles yield a
// no_session report rather than an error.
func (o *Orchestrator) Status(handle string) *types.StatusReport {
	rec, ok := o.registry.Get(handle)
	if !ok {
		retention := o.registry.Retention()
		return &types.StatusReport{
			SessionID: handle,
			Status:    types.SessionStatusNoSession,
			Message: fmt.Sprintf("no session with this id: it never existed or has been purged. "+
				"Terminated sessions are retained for %s after a clean exit and %s after a crash.",
				retention.CleanExit, retention.Crash),
		}
	}

	snap := rec.Snapshot()
	now := o.clock.Now()
	uptime := now.Sub(snap.StartTime)

	report := &types.StatusReport{
		SessionID:      handle,
		Status:         classify(snap, o.backend.Active()),
		File:           snap.Meta.File,
		Module:         snap.Meta.Module,
		PID:            snap.PID,
		ExitCode:       snap.ExitCode,
		Terminated:     snap.Terminated,
		UptimeSeconds:  uptime.Seconds(),
		DiagnosticInfo: snap.Diagnostics,
		LaunchArgs:     snap.Meta.Args,
		LaunchEnv:      snap.Meta.Env,
		LaunchCwd:      snap.Meta.Cwd,
		StartTime:      snap.StartTime,
	}
	report.Stdout, report.StdoutLinesTotal, report.StdoutTruncated = tail(snap.Stdout, o.tail)
	report.Stderr, report.StderrLinesTotal, report.StderrTruncated = tail(snap.Stderr, o.tail)

	if snap.Terminated {
		t := snap.TerminationTime
		report.TerminationTime = &t
	}
	if report.Status == types.SessionStatusTerminated || report.Status == types.SessionStatusExited {
		report.CrashReason = crashReason(snap.ExitCode, uptime)
	}
	return report
}

// classify derives a session status. The live backend session wins; after
// that the terminated event, then a bare exit code.
func classify(snap Snapshot, active *internaldap.SessionInfo) types.SessionStatus {
	if active != nil && snap.BackendID != 0 && active.ID == snap.BackendID {
		if active.Paused() {
			return types.SessionStatusPaused
		}
		return types.SessionStatusRunning
	}
	if snap.Terminated {
		return types.SessionStatusTerminated
	}
	if snap.ExitCode != nil {
		return types.SessionStatusExited
	}
	return types.SessionStatusTerminated
}

func crashReason(exitCode *int, uptime time.Duration) string {
	switch {
	case exitCode != nil && *exitCode != 0:
		return fmt.Sprintf("Process exited with code %d", *exitCode)
	case exitCode != nil:
		return "Process exited cleanly"
	case uptime < startupWindow:
		return "terminated during startup"
	default:
		return "terminated unexpectedly"
	}
}

// tail returns the last n lines of text along with its total line count.
// n <= 0 keeps everything.
func tail(text string, n int) (string, int, bool) {
	if text == "" {
		return "", 0, false
	}
	total := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		total++
	}
	if n <= 0 || total <= n {
		return text, total, false
	}

	// Walk back over n line breaks, ignoring a trailing one.
	end := len(text)
	if strings.HasSuffix(text, "\n") {
		end--
	}
	cut := end
	for i := 0; i < n; i++ {
		cut = strings.LastIndexByte(text[:cut], '\n')
	}
	return text[cut+1:], total, true
}
