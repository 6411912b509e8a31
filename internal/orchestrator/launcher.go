package orchestrator

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	internaldap "github.com/ctagard/dap-orchestrator/internal/dap"
	"github.com/ctagard/dap-orchestrator/internal/errors"
	"github.com/ctagard/dap-orchestrator/pkg/types"
)

// languageByExt maps a source file extension to its debug adapter language
var languageByExt = map[string]types.Language{
	".py": types.LanguagePython,
	".go": types.LanguageGo,
}

// resolveLaunch validates req and turns it into the config the backend runs.
func resolveLaunch(req types.LaunchRequest) (types.LaunchConfig, error) {
	var cfg types.LaunchConfig

	switch {
	case req.File != "" && req.Module != "":
		return cfg, errors.ConfigInvalid("file", "file and module are mutually exclusive; pass exactly one")
	case req.File == "" && req.Module == "":
		return cfg, errors.ConfigInvalid("file", "either file or module is required")
	case req.Module != "" && len(req.Breakpoints) > 0:
		return cfg, errors.ConfigInvalid("breakpoints", "breakpoints need a file target; set them with set_breakpoints once the module is running")
	}

	cfg = types.LaunchConfig{
		Module:      req.Module,
		Args:        req.Args,
		Env:         req.Env,
		Cwd:         req.Cwd,
		StopOnEntry: req.StopOnEntry || len(req.Breakpoints) > 0,
		JustMyCode:  req.JustMyCode,
		RuntimePath: req.RuntimePath,
	}

	if req.Module != "" {
		cfg.Language = types.LanguagePython
		return cfg, nil
	}

	lang, ok := languageByExt[strings.ToLower(filepath.Ext(req.File))]
	if !ok {
		return cfg, errors.ConfigInvalid("file", "unsupported file type "+filepath.Ext(req.File)+": expected .py or .go")
	}
	program, err := filepath.Abs(req.File)
	if err != nil {
		return cfg, errors.ConfigInvalid("file", err.Error())
	}
	cfg.Language = lang
	cfg.Program = program
	return cfg, nil
}

// Start launches a debuggee and returns its session handle.
//
// With breakpoints, the debuggee is held at entry until they are registered,
// then resumed unless the caller asked to stop on entry. A failed launch
// leaves no session behind.
func (o *Orchestrator) Start(ctx context.Context, req types.LaunchRequest) (_ *types.LaunchResult, err error) {
	cfg, err := resolveLaunch(req)
	if err != nil {
		return nil, err
	}

	handle := uuid.NewString()
	log := o.log.With(zap.String("session", handle), zap.String("target", cfg.Target()))

	rec := o.registry.Create(handle, LaunchMeta{
		Language: cfg.Language,
		File:     cfg.Program,
		Module:   cfg.Module,
		Args:     cfg.Args,
		Env:      cfg.Env,
		Cwd:      cfg.Cwd,
	})
	sink := newRecordSink(rec, o.registry, o.clock, func() { o.backend.Unsubscribe(handle) }, log)
	o.backend.Subscribe(handle, sink)

	launched := false
	defer func() {
		if err == nil {
			return
		}
		o.backend.Unsubscribe(handle)
		o.registry.Remove(handle)
		if launched {
			o.abandon(rec, log)
		}
		log.Warn("launch failed", zap.Error(err))
	}()

	if err := o.backend.Run(ctx, cfg); err != nil {
		var de *errors.DebugError
		if stderrors.As(err, &de) {
			return nil, de
		}
		return nil, errors.DAPLaunchFailed(cfg.Target(), err)
	}
	launched = true

	withBreakpoints := len(req.Breakpoints) > 0
	info, err := o.waitFor(ctx, o.timeouts.Launch, rec, func(info *internaldap.SessionInfo) bool {
		return info != nil && (!withBreakpoints || info.Paused())
	})
	switch {
	case stderrors.Is(err, errSessionTerminated):
		// Ended before it was ever observed live; the record keeps its output.
		log.Info("debuggee terminated during launch")
		return o.launchResult(rec, nil), nil
	case stderrors.Is(err, errWaitTimeout):
		op := "waiting for the debug session to start"
		if withBreakpoints {
			op = "waiting for the debuggee to stop on entry"
		}
		return nil, errors.DAPTimeout(op, o.timeouts.Launch)
	case err != nil:
		return nil, requestError("launch", o.timeouts.Launch, err)
	}
	rec.SetBackendID(info.ID)

	var breakpoints []types.Breakpoint
	if withBreakpoints {
		breakpoints, err = o.applyBreakpoints(ctx, cfg.Program, req.Breakpoints, nil)
		if err != nil {
			return nil, err
		}
		if !req.StopOnEntry {
			if err := settle(ctx, o.timeouts.BreakpointSettle); err != nil {
				return nil, err
			}
			rctx, cancel := context.WithTimeout(ctx, o.timeouts.Request)
			err := o.backend.Continue(rctx)
			cancel()
			if err != nil {
				return nil, errors.StepFailed(string(types.ActionContinue), requestError("continue", o.timeouts.Request, err))
			}
		}
	}

	o.awaitPID(ctx, rec, log)

	log.Info("debug session started",
		zap.String("language", string(cfg.Language)),
		zap.Int("breakpoints", len(breakpoints)))
	return o.launchResult(rec, breakpoints), nil
}

// awaitPID waits for the adapter to report the debuggee pid, falling back to
// the pid of the adapter process.
func (o *Orchestrator) awaitPID(ctx context.Context, rec *Record, log *zap.Logger) {
	timer := time.NewTimer(o.timeouts.Launch)
	defer timer.Stop()

	select {
	case <-rec.PIDReady():
		return
	case <-rec.Done():
		return
	case <-timer.C:
	case <-ctx.Done():
	}

	if info := o.backend.Active(); info != nil && info.ProcessID > 0 && rec.SetPID(info.ProcessID) {
		rec.AddDiagnostic("pid not reported by the adapter; using the adapter process pid")
		log.Debug("using adapter pid", zap.Int("pid", info.ProcessID))
	}
}

// abandon tears down a backend session whose launch did not complete
func (o *Orchestrator) abandon(rec *Record, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeouts.Request)
	defer cancel()

	if info := o.backend.Active(); info == nil || (rec.BackendID() != 0 && info.ID != rec.BackendID()) {
		return
	}
	if err := o.stop(ctx); err != nil && !errors.IsCode(err, errors.CodeNoActiveSession) {
		log.Warn("cleanup after failed launch", zap.Error(err))
	}
}

func (o *Orchestrator) launchResult(rec *Record, breakpoints []types.Breakpoint) *types.LaunchResult {
	report := o.Status(rec.Handle())
	return &types.LaunchResult{
		SessionID:   rec.Handle(),
		Status:      report.Status,
		PID:         report.PID,
		File:        report.File,
		Module:      report.Module,
		Breakpoints: breakpoints,
	}
}
