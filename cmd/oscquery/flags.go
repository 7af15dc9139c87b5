package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// CLIConfig holds command-line configuration. Empty strings and zero durations leave
// the configuration file's value in place.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func newFlagSet(cfg *CLIConfig, getenv func(string) string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVarP(&cfg.ConfigPath, "config", "c",
		getenv("OSCQUERY_CONFIG"),
		"Path to a YAML or JSON configuration file (env: OSCQUERY_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level",
		getenv("OSCQUERY_LOG_LEVEL"),
		"Log level: debug, info, warn, error (env: OSCQUERY_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format",
		getenv("OSCQUERY_LOG_FORMAT"),
		"Log format: json, text (env: OSCQUERY_LOG_FORMAT)")
	fs.BoolVar(&cfg.Debug, "debug",
		envBool(getenv, "OSCQUERY_DEBUG"),
		"Shorthand for --log-level=debug (env: OSCQUERY_DEBUG)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		envDuration(getenv, "OSCQUERY_SHUTDOWN_TIMEOUT"),
		"Graceful shutdown timeout (env: OSCQUERY_SHUTDOWN_TIMEOUT)")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version information")
	fs.BoolVarP(&cfg.ShowHelp, "help", "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	return fs
}

func parseFlags(args []string, getenv func(string) string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := newFlagSet(cfg, getenv)
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			cfg.ShowHelp = true
			return cfg, nil
		}
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, validateFlags(cfg)
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}
	return nil
}

func printHelp(w io.Writer) {
	var cfg CLIConfig
	fs := newFlagSet(&cfg, func(string) string { return "" })
	_, _ = fmt.Fprintf(w, `%s - OSCQuery server

Usage: %s [options]

Options:
%s
Examples:
  # Run with a node tree from a file
  %s --config=/etc/oscquery/config.yaml

  # Run with debug logging
  %s --debug --log-format=text

  # Validate configuration only
  %s --config=config.yaml --validate

Every configuration key can also be set through OSCQUERY_* environment variables,
for example OSCQUERY_HTTP_BIND=0.0.0.0:3000.

Version: %s
Build: %s
`, appName, appName, fs.FlagUsages(), appName, appName, appName, Version, BuildTime)
}

func envBool(getenv func(string) string, key string) bool {
	if v := getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return false
}

func envDuration(getenv func(string) string, key string) time.Duration {
	if v := getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return 0
}
