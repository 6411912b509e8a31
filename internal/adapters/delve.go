package adapters

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/ctagard/dap-orchestrator/internal/config"
	"github.com/ctagard/dap-orchestrator/pkg/types"
)

// DelveAdapter implements the Adapter interface for Go/Delve
type DelveAdapter struct {
	dlvPath    string
	buildFlags string
}

// NewDelveAdapter creates a new Delve adapter
func NewDelveAdapter(cfg config.DelveConfig) *DelveAdapter {
	dlvPath := cfg.DlvPath
	if dlvPath == "" {
		dlvPath = "dlv"
	}

	return &DelveAdapter{
		dlvPath:    dlvPath,
		buildFlags: cfg.BuildFlags,
	}
}

// Language returns the language this adapter supports
func (d *DelveAdapter) Language() types.Language {
	return types.LanguageGo
}

// Spawn starts a Delve debug adapter process. A launch runtime path selects
// the dlv binary.
func (d *DelveAdapter) Spawn(cfg types.LaunchConfig) (string, *exec.Cmd, error) {
	port, err := findAvailablePort()
	if err != nil {
		return "", nil, fmt.Errorf("failed to find available port: %w", err)
	}

	address := fmt.Sprintf("127.0.0.1:%d", port)

	dlvPath := d.dlvPath
	if cfg.RuntimePath != "" {
		dlvPath = cfg.RuntimePath
	}

	cmd := exec.Command(dlvPath, "dap", "--listen", address)
	cmd.Env = append(os.Environ(), envList(cfg.Env)...)
	cmd.Stdin = nil
	cmd.Stderr = os.Stderr
	setProcAttr(cmd)

	if cfg.Cwd != "" {
		cmd.Dir = cfg.Cwd
	}

	if err := cmd.Start(); err != nil {
		return "", nil, fmt.Errorf("failed to start dlv: %w", err)
	}

	return address, cmd, nil
}

// BuildLaunchArgs builds the launch arguments for Delve
func (d *DelveAdapter) BuildLaunchArgs(cfg types.LaunchConfig) map[string]interface{} {
	launchArgs := map[string]interface{}{
		"request":     "launch",
		"mode":        "debug",
		"program":     cfg.Program,
		"stopOnEntry": cfg.StopOnEntry,
	}

	if len(cfg.Args) > 0 {
		launchArgs["args"] = cfg.Args
	}
	if cfg.Cwd != "" {
		launchArgs["cwd"] = cfg.Cwd
	}
	if len(cfg.Env) > 0 {
		launchArgs["env"] = cfg.Env
	}
	if d.buildFlags != "" {
		launchArgs["buildFlags"] = d.buildFlags
	}

	return launchArgs
}
