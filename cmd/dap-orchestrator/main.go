package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ctagard/dap-orchestrator/internal/adapters"
	"github.com/ctagard/dap-orchestrator/internal/config"
	"github.com/ctagard/dap-orchestrator/internal/dap"
	"github.com/ctagard/dap-orchestrator/internal/logging"
	"github.com/ctagard/dap-orchestrator/internal/mcp"
	"github.com/ctagard/dap-orchestrator/internal/orchestrator"
)

var version = "0.2.0"

const description = `Debug session orchestrator over the Debug Adapter Protocol, served as MCP tools on stdio.

Supported languages: Python (debugpy) and Go (Delve).

Configuration is read from dap-orchestrator.yaml in the working directory or
~/.config/dap-orchestrator/, and from DAP_ORCHESTRATOR_* environment variables.`

// CLI holds the command line flags
type CLI struct {
	Config   string           `help:"Path to a YAML configuration file." type:"path"`
	Mode     string           `help:"Capability mode: readonly or full (overrides the config file)."`
	LogLevel string           `help:"Log level: debug, info, warn or error (overrides the config file)." name:"log-level"`
	Version  kong.VersionFlag `help:"Show version and exit."`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("dap-orchestrator"),
		kong.Description(description),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true, Summary: true}),
		kong.Vars{"version": version},
	)

	if err := run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "dap-orchestrator: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cli CLI) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cli.Config != "" {
		cfg, err = config.LoadFromFile(cli.Config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if cli.Mode != "" {
		cfg.Mode = config.CapabilityMode(cli.Mode)
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	return cfg, cfg.Validate()
}

func run(cli CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	registry := adapters.NewRegistry(cfg, log.Named("adapters"))
	rt := dap.NewRuntime(registry, cfg.Timeouts.Request, log.Named("dap"))
	orch := orchestrator.New(rt, cfg, clock.New(), log.Named("orchestrator"))
	shutdown := func() {
		orch.Close()
		if err := rt.Close(); err != nil {
			log.Warn("runtime close failed", zap.Error(err))
		}
	}

	server := mcp.NewServer(orch, cfg, version, log.Named("mcp"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer shutdown()

	log.Info("server starting",
		zap.String("version", version),
		zap.String("mode", string(cfg.Mode)),
		zap.Strings("languages", registry.Languages()),
	)
	err = server.Serve(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info("shutting down")
	return nil
}
