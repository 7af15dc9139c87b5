// Package main runs an OSCQuery server configured from a file, the environment and
// command-line flags.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/scalarwaves/oscquery"
	"github.com/scalarwaves/oscquery/config"
)

// Build information
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "oscquery"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// run blocks until ctx is done or startup fails.
func run(ctx context.Context, args []string, getenv func(string) string, out io.Writer) error {
	cli, err := parseFlags(args, getenv)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(out, "%s version %s\n", appName, Version)
		return nil
	}
	if cli.ShowHelp {
		printHelp(out)
		return nil
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	logger := setupLogger(out, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cli.Validate {
		logger.Info("Configuration is valid", "config_path", cli.ConfigPath, "nodes", len(cfg.Nodes))
		return nil
	}

	logger.Info("Starting OSCQuery server",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath)
	logger.Debug("Effective configuration", "config", cfg.String())

	srv, err := oscquery.NewServer(cfg, oscquery.Deps{Logger: logger})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	if err := srv.Stop(cfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("OSCQuery shutdown complete")
	return nil
}

// loadConfig layers flags over the file and the environment, then validates.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(false)
	cfg, err := loader.LoadFile(cli.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = cli.ShutdownTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
