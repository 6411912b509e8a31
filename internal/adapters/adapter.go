// Package adapters spawns language-specific debug adapters and builds the
// launch arguments each one expects.
//
// Supported adapters:
//   - Go (via Delve, `dlv dap`)
//   - Python (via debugpy, `python -m debugpy.adapter`)
//
// Registry implements dap.Opener, so the runtime can ask for a connected
// adapter without knowing which debugger backs a language.
package adapters

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ctagard/dap-orchestrator/internal/config"
	"github.com/ctagard/dap-orchestrator/internal/dap"
	debugerrors "github.com/ctagard/dap-orchestrator/internal/errors"
	"github.com/ctagard/dap-orchestrator/pkg/types"
)

const connectRetryInterval = 200 * time.Millisecond

// Adapter defines the interface for language-specific debug adapters
type Adapter interface {
	// Language returns the language this adapter supports
	Language() types.Language

	// Spawn starts a debug adapter process and returns the TCP address it listens on
	Spawn(cfg types.LaunchConfig) (address string, cmd *exec.Cmd, err error)

	// BuildLaunchArgs builds the launch request arguments for the debug adapter
	BuildLaunchArgs(cfg types.LaunchConfig) map[string]interface{}
}

// Registry holds all registered adapters
type Registry struct {
	adapters       map[types.Language]Adapter
	connectTimeout time.Duration
	log            *zap.Logger
}

// NewRegistry creates a new adapter registry with all supported adapters
func NewRegistry(cfg *config.Config, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		adapters:       make(map[types.Language]Adapter),
		connectTimeout: cfg.Timeouts.AdapterConnect,
		log:            log,
	}

	r.Register(NewDelveAdapter(cfg.Adapters.Go))
	r.Register(NewDebugpyAdapter(cfg.Adapters.Python))

	return r
}

// Get returns the adapter for a language
func (r *Registry) Get(lang types.Language) (Adapter, error) {
	adapter, ok := r.adapters[lang]
	if !ok {
		return nil, debugerrors.AdapterNotSupported(string(lang), r.Languages())
	}
	return adapter, nil
}

// Register registers an adapter for its language, overriding any existing adapter
func (r *Registry) Register(adapter Adapter) {
	r.adapters[adapter.Language()] = adapter
}

// Languages returns the registered languages in sorted order
func (r *Registry) Languages() []string {
	langs := lo.Map(lo.Keys(r.adapters), func(l types.Language, _ int) string { return string(l) })
	sort.Strings(langs)
	return langs
}

// Open spawns the adapter for cfg.Language and connects to it
func (r *Registry) Open(ctx context.Context, cfg types.LaunchConfig) (*dap.Connection, error) {
	adapter, err := r.Get(cfg.Language)
	if err != nil {
		return nil, err
	}

	address, cmd, err := adapter.Spawn(cfg)
	if err != nil {
		return nil, debugerrors.AdapterSpawnFailed(string(cfg.Language), err)
	}

	// Reap the adapter whenever it exits
	go func() { _ = cmd.Wait() }()

	log := r.log.With(zap.String("language", string(cfg.Language)), zap.String("address", address))
	log.Debug("spawned debug adapter", zap.Int("pid", cmd.Process.Pid))

	cctx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()

	client, err := Connect(cctx, address, log)
	if err != nil {
		if killErr := cmd.Process.Kill(); killErr != nil {
			log.Debug("failed to kill unreachable adapter", zap.Error(killErr))
		}
		return nil, debugerrors.AdapterConnectFailed(address, err)
	}

	return &dap.Connection{
		Client:     client,
		Process:    cmd,
		LaunchArgs: adapter.BuildLaunchArgs(cfg),
	}, nil
}

// Connect dials address until it succeeds or ctx is done, then returns a DAP client
func Connect(ctx context.Context, address string, log *zap.Logger) (*dap.Client, error) {
	ticker := time.NewTicker(connectRetryInterval)
	defer ticker.Stop()

	for {
		transport, err := dap.NewTCPTransport(address)
		if err == nil {
			return dap.NewClient(transport, log), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()

	addr := listener.Addr().(*net.TCPAddr)
	return addr.Port, nil
}

// envList converts a launch environment into KEY=VALUE pairs in key order
func envList(env map[string]string) []string {
	keys := lo.Keys(env)
	sort.Strings(keys)
	return lo.Map(keys, func(k string, _ int) string { return k + "=" + env[k] })
}
