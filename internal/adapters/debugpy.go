package adapters

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ctagard/dap-orchestrator/internal/config"
	"github.com/ctagard/dap-orchestrator/pkg/types"
)

// DebugpyAdapter implements the Adapter interface for Python/debugpy
type DebugpyAdapter struct {
	pythonPath string
}

// NewDebugpyAdapter creates a new debugpy adapter
func NewDebugpyAdapter(cfg config.DebugpyConfig) *DebugpyAdapter {
	pythonPath := cfg.Path
	if pythonPath == "" {
		pythonPath = "python3"
	}

	return &DebugpyAdapter{
		pythonPath: pythonPath,
	}
}

// Language returns the language this adapter supports
func (d *DebugpyAdapter) Language() types.Language {
	return types.LanguagePython
}

// interpreter returns the runtime path of the launch, or the configured default
func (d *DebugpyAdapter) interpreter(cfg types.LaunchConfig) string {
	if cfg.RuntimePath != "" {
		return cfg.RuntimePath
	}
	return d.pythonPath
}

// detectVenvRoot checks if pythonPath is inside a venv and returns the root directory.
// Returns empty string if not a venv or venv cannot be detected.
func detectVenvRoot(pythonPath string) string {
	// /path/to/venv/bin/python -> /path/to/venv
	venvRoot := filepath.Dir(filepath.Dir(pythonPath))

	if _, err := os.Stat(filepath.Join(venvRoot, "pyvenv.cfg")); err == nil {
		return venvRoot
	}
	return ""
}

// Spawn starts a debugpy debug adapter process
func (d *DebugpyAdapter) Spawn(cfg types.LaunchConfig) (string, *exec.Cmd, error) {
	port, err := findAvailablePort()
	if err != nil {
		return "", nil, fmt.Errorf("failed to find available port: %w", err)
	}

	address := fmt.Sprintf("127.0.0.1:%d", port)
	pythonPath := d.interpreter(cfg)

	cmd := exec.Command(pythonPath,
		"-m", "debugpy.adapter",
		"--host", "127.0.0.1",
		"--port", fmt.Sprintf("%d", port),
	)
	cmd.Env = os.Environ()
	// Stdin stays disconnected: stdout/stdin belong to the MCP transport.
	cmd.Stdin = nil
	cmd.Stderr = os.Stderr
	setProcAttr(cmd)

	if venvRoot := detectVenvRoot(pythonPath); venvRoot != "" {
		cmd.Env = append(cmd.Env, "VIRTUAL_ENV="+venvRoot)
		binDir := filepath.Dir(pythonPath)
		for i, env := range cmd.Env {
			if strings.HasPrefix(env, "PATH=") {
				cmd.Env[i] = "PATH=" + binDir + string(os.PathListSeparator) + env[5:]
				break
			}
		}
	}

	// Launch environment overrides auto-detected values
	cmd.Env = append(cmd.Env, envList(cfg.Env)...)

	if cfg.Cwd != "" {
		cmd.Dir = cfg.Cwd
	}

	if err := cmd.Start(); err != nil {
		return "", nil, fmt.Errorf("failed to start debugpy: %w", err)
	}

	return address, cmd, nil
}

// BuildLaunchArgs builds the launch arguments for debugpy
func (d *DebugpyAdapter) BuildLaunchArgs(cfg types.LaunchConfig) map[string]interface{} {
	console := cfg.Console
	if console == "" {
		// Output must arrive as output events to be captured
		console = "internalConsole"
	}

	launchArgs := map[string]interface{}{
		"type":        "python",
		"request":     "launch",
		"console":     console,
		"stopOnEntry": cfg.StopOnEntry,
		"justMyCode":  cfg.JustMyCode,
	}

	if cfg.Module != "" {
		launchArgs["module"] = cfg.Module
	} else {
		launchArgs["program"] = cfg.Program
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
	if cfg.RuntimePath != "" {
		launchArgs["python"] = cfg.RuntimePath
	}

	return launchArgs
}
