package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const testConfigYAML = `
name: cli-test
http:
  bind: 127.0.0.1:0
osc:
  bind: 127.0.0.1:0
websocket:
  bind: ""
log:
  level: warn
shutdown_timeout: 1s
nodes:
  - path: /synth/freq
    type: f
    value: 440
    min: 20
    max: 20000
`

func TestParseFlagsEnvFallback(t *testing.T) {
	env := map[string]string{
		"OSCQUERY_LOG_LEVEL":        "warn",
		"OSCQUERY_SHUTDOWN_TIMEOUT": "3s",
	}
	cli, err := parseFlags(nil, func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, "warn", cli.LogLevel)
	assert.Equal(t, 3*time.Second, cli.ShutdownTimeout)

	cli, err = parseFlags([]string{"--log-level=error"}, func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, "error", cli.LogLevel, "flags win over the environment")
}

func TestParseFlagsDebugOverridesLevel(t *testing.T) {
	cli, err := parseFlags([]string{"--log-level=error", "--debug"}, noEnv)
	require.NoError(t, err)
	assert.Equal(t, "debug", cli.LogLevel)
}

func TestParseFlagsRejects(t *testing.T) {
	for name, args := range map[string][]string{
		"level":    {"--log-level=loud"},
		"format":   {"--log-format=xml"},
		"missing":  {"--config=/does/not/exist.yaml"},
		"unknown":  {"--frobnicate"},
		"trailing": {"serve"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseFlags(args, noEnv)
			assert.Error(t, err)
		})
	}
}

func TestRunVersionAndHelp(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--version"}, noEnv, &out))
	assert.Equal(t, "oscquery version "+Version+"\n", out.String())

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"-h"}, noEnv, &out))
	assert.Contains(t, out.String(), "--shutdown-timeout")
}

func TestRunValidate(t *testing.T) {
	path := writeConfig(t, testConfigYAML)
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-c", path, "--validate", "--log-level=info"}, noEnv, &out))
	assert.Contains(t, out.String(), "Configuration is valid")
}

func TestRunRejectsBadConfig(t *testing.T) {
	path := writeConfig(t, "nodes:\n  - path: bad\n    type: f\n")
	err := run(context.Background(), []string{"--config", path, "--validate"}, noEnv, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	path := writeConfig(t, testConfigYAML)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var out bytes.Buffer
	go func() { done <- run(ctx, []string{"--config", path}, noEnv, &out) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestSetupLoggerFormat(t *testing.T) {
	var out bytes.Buffer
	setupLogger(&out, "info", "json").Info("hello")
	assert.Contains(t, out.String(), `"service":"oscquery"`)

	out.Reset()
	setupLogger(&out, "warn", "text").Info("hidden")
	assert.Empty(t, out.String())
}
