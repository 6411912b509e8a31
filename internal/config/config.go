// Package config provides configuration management for the debug orchestrator.
//
// Configuration controls:
//   - Capability mode (readonly vs full): determines which tools are available
//   - Permission flags: control spawn, modify, and execute operations
//   - Language-specific adapter settings: interpreter and debugger paths
//   - Retention windows for terminated sessions
//   - Ceilings for every bounded wait
//
// Values come from defaults, an optional config file, and DAP_ORCHESTRATOR_*
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CapabilityMode defines the level of debugging capabilities exposed
type CapabilityMode string

const (
	ModeReadOnly CapabilityMode = "readonly" // Status and inspection tools only
	ModeFull     CapabilityMode = "full"     // All tools enabled
)

// EnvPrefix is the prefix for environment overrides, e.g. DAP_ORCHESTRATOR_MODE.
const EnvPrefix = "DAP_ORCHESTRATOR"

// Config holds the server configuration
type Config struct {
	// Capability levels
	Mode         CapabilityMode `mapstructure:"mode"`
	AllowSpawn   bool           `mapstructure:"allow_spawn"`
	AllowModify  bool           `mapstructure:"allow_modify"`
	AllowExecute bool           `mapstructure:"allow_execute"`

	// Language-specific adapter configs
	Adapters AdapterConfigs `mapstructure:"adapters"`

	Retention RetentionConfig `mapstructure:"retention"`
	Timeouts  TimeoutConfig   `mapstructure:"timeouts"`
	Output    OutputConfig    `mapstructure:"output"`
	Log       LogConfig       `mapstructure:"log"`
}

// AdapterConfigs holds configuration for each language adapter
type AdapterConfigs struct {
	Go     DelveConfig   `mapstructure:"go"`
	Python DebugpyConfig `mapstructure:"python"`
}

// DelveConfig holds Delve-specific configuration
type DelveConfig struct {
	DlvPath    string `mapstructure:"dlv_path"`
	BuildFlags string `mapstructure:"build_flags"`
}

// DebugpyConfig holds debugpy-specific configuration
type DebugpyConfig struct {
	Path string `mapstructure:"path"`
}

// RetentionConfig sets how long terminated sessions stay queryable
type RetentionConfig struct {
	CleanExit time.Duration `mapstructure:"clean_exit"`
	Crash     time.Duration `mapstructure:"crash"`
}

// TimeoutConfig holds the ceiling of every bounded wait
type TimeoutConfig struct {
	Launch           time.Duration `mapstructure:"launch"`            // readiness after run, and stop-on-entry
	BreakpointSettle time.Duration `mapstructure:"breakpoint_settle"` // pause between setBreakpoints and resume
	ControlSettle    time.Duration `mapstructure:"control_settle"`    // pause after continue/step/pause/stop
	Inspect          time.Duration `mapstructure:"inspect"`           // stackTrace, scopes, variables, evaluate
	Request          time.Duration `mapstructure:"request"`           // any other adapter request
	AdapterConnect   time.Duration `mapstructure:"adapter_connect"`   // dialing a freshly spawned adapter
}

// OutputConfig bounds the output returned by status queries
type OutputConfig struct {
	TailLines int `mapstructure:"tail_lines"` // 0 returns everything
}

// LogConfig selects the zap logger level and encoding
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode:         ModeFull,
		AllowSpawn:   true,
		AllowModify:  true,
		AllowExecute: true,
		Adapters: AdapterConfigs{
			Go: DelveConfig{
				DlvPath: "dlv",
			},
			Python: DebugpyConfig{
				Path: "python3",
			},
		},
		Retention: RetentionConfig{
			CleanExit: 30 * time.Second,
			Crash:     300 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Launch:           3 * time.Second,
			BreakpointSettle: 500 * time.Millisecond,
			ControlSettle:    200 * time.Millisecond,
			Inspect:          500 * time.Millisecond,
			Request:          10 * time.Second,
			AdapterConnect:   10 * time.Second,
		},
		Output: OutputConfig{
			TailLines: 200,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from the default search path and the environment.
// A missing config file is not an error.
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("dap-orchestrator")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "dap-orchestrator"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromFile reads configuration from an explicit path
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("mode", string(d.Mode))
	v.SetDefault("allow_spawn", d.AllowSpawn)
	v.SetDefault("allow_modify", d.AllowModify)
	v.SetDefault("allow_execute", d.AllowExecute)

	v.SetDefault("adapters.go.dlv_path", d.Adapters.Go.DlvPath)
	v.SetDefault("adapters.go.build_flags", d.Adapters.Go.BuildFlags)
	v.SetDefault("adapters.python.path", d.Adapters.Python.Path)

	v.SetDefault("retention.clean_exit", d.Retention.CleanExit)
	v.SetDefault("retention.crash", d.Retention.Crash)

	v.SetDefault("timeouts.launch", d.Timeouts.Launch)
	v.SetDefault("timeouts.breakpoint_settle", d.Timeouts.BreakpointSettle)
	v.SetDefault("timeouts.control_settle", d.Timeouts.ControlSettle)
	v.SetDefault("timeouts.inspect", d.Timeouts.Inspect)
	v.SetDefault("timeouts.request", d.Timeouts.Request)
	v.SetDefault("timeouts.adapter_connect", d.Timeouts.AdapterConnect)

	v.SetDefault("output.tail_lines", d.Output.TailLines)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the orchestrator cannot run with
func (c *Config) Validate() error {
	if c.Mode != ModeReadOnly && c.Mode != ModeFull {
		return fmt.Errorf("invalid mode %q: expected %q or %q", c.Mode, ModeReadOnly, ModeFull)
	}

	ceilings := map[string]time.Duration{
		"retention.clean_exit":     c.Retention.CleanExit,
		"retention.crash":          c.Retention.Crash,
		"timeouts.launch":          c.Timeouts.Launch,
		"timeouts.inspect":         c.Timeouts.Inspect,
		"timeouts.request":         c.Timeouts.Request,
		"timeouts.adapter_connect": c.Timeouts.AdapterConnect,
	}
	for key, d := range ceilings {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}

	if c.Timeouts.BreakpointSettle < 0 || c.Timeouts.ControlSettle < 0 {
		return fmt.Errorf("settle delays must not be negative")
	}
	if c.Output.TailLines < 0 {
		return fmt.Errorf("output.tail_lines must not be negative, got %d", c.Output.TailLines)
	}
	return nil
}

// CanSpawn returns true if spawning new debug adapters is allowed
func (c *Config) CanSpawn() bool {
	return c.Mode == ModeFull && c.AllowSpawn
}

// CanModify returns true if breakpoint changes are allowed
func (c *Config) CanModify() bool {
	return c.Mode == ModeFull && c.AllowModify
}

// CanExecute returns true if execution control and evaluation are allowed
func (c *Config) CanExecute() bool {
	return c.Mode == ModeFull && c.AllowExecute
}
