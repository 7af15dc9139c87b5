package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalarwaves/oscquery/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func envLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	return l
}

func TestDefaults(t *testing.T) {
	cfg, err := envLoader(nil).LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "oscquery", cfg.Name)
	assert.Equal(t, "127.0.0.1:3000", cfg.HTTP.Bind)
	assert.Equal(t, "127.0.0.1:0", cfg.OSC.Bind)
	assert.Equal(t, "127.0.0.1:0", cfg.WebSocket.Bind)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.NATS.Enabled())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "server.yaml", `
name: synth
http:
  bind: 0.0.0.0:8080
  cors: true
websocket:
  bind: ""
destinations: ["127.0.0.1:9000"]
nats:
  url: nats://localhost:4222
  prefix: studio
log:
  level: debug
shutdown_timeout: 2s
nodes:
  - path: /synth/freq
    type: f
    value: 440
    min: 20
    max: 20000
    clip: both
    unit: Hz
`)
	cfg, err := envLoader(nil).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "synth", cfg.Name)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Bind)
	assert.True(t, cfg.HTTP.CORS)
	assert.Equal(t, "127.0.0.1:0", cfg.OSC.Bind, "untouched sections keep defaults")
	assert.Empty(t, cfg.WebSocket.Bind)
	assert.Equal(t, "/", cfg.WebSocket.Path)
	assert.Equal(t, []string{"127.0.0.1:9000"}, cfg.Destinations)
	assert.True(t, cfg.NATS.Enabled())
	assert.Equal(t, "studio", cfg.NATS.Prefix)
	assert.Equal(t, 5*time.Second, cfg.NATS.ConnectTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 2*time.Second, cfg.ShutdownTimeout)
	require.Len(t, cfg.Nodes, 1)
	assert.Equal(t, "Hz", cfg.Nodes[0].Unit)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "server.json", `{"name": "json-box", "osc": {"bind": "127.0.0.1:9001"}, "metrics": {"enabled": false}}`)
	cfg, err := envLoader(nil).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "json-box", cfg.Name)
	assert.Equal(t, "127.0.0.1:9001", cfg.OSC.Bind)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLayersOverrideInOrder(t *testing.T) {
	base := writeFile(t, "base.yaml", "name: base\nlog:\n  level: warn\n")
	override := writeFile(t, "override.yaml", "name: override\n")

	l := envLoader(nil)
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "override", cfg.Name)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "server.yaml", "name: from-file\nlog:\n  format: json\n")
	cfg, err := envLoader(map[string]string{
		"OSCQUERY_NAME":             "from-env",
		"OSCQUERY_OSC_BIND":         "127.0.0.1:7000",
		"OSCQUERY_DESTINATIONS":     "127.0.0.1:1, 127.0.0.1:2,",
		"OSCQUERY_METRICS_ENABLED":  "false",
		"OSCQUERY_SHUTDOWN_TIMEOUT": "750ms",
		"OSCQUERY_NATS_TOKEN":       "secret",
	}).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Name)
	assert.Equal(t, "127.0.0.1:7000", cfg.OSC.Bind)
	assert.Equal(t, []string{"127.0.0.1:1", "127.0.0.1:2"}, cfg.Destinations)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 750*time.Millisecond, cfg.ShutdownTimeout)
	assert.Equal(t, "json", cfg.Log.Format, "file value kept without an override")
	assert.NotContains(t, cfg.String(), "secret")
}

func TestBadEnvValues(t *testing.T) {
	_, err := envLoader(map[string]string{"OSCQUERY_METRICS_ENABLED": "maybe"}).LoadFile("")
	assert.True(t, errors.IsInvalid(err))

	_, err = envLoader(map[string]string{"OSCQUERY_NAME": "a\x00b"}).LoadFile("")
	assert.True(t, errors.IsInvalid(err))
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty name", func(c *Config) { c.Name = " " }},
		{"missing http bind", func(c *Config) { c.HTTP.Bind = "" }},
		{"bad osc bind", func(c *Config) { c.OSC.Bind = "nowhere" }},
		{"bad ws path", func(c *Config) { c.WebSocket.Path = "ws" }},
		{"bad destination", func(c *Config) { c.Destinations = []string{"localhost"} }},
		{"bad nats scheme", func(c *Config) { c.NATS.URL = "http://localhost:4222" }},
		{"wildcard prefix", func(c *Config) { c.NATS.URL = "nats://x:4222"; c.NATS.Prefix = "a.*" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"negative timeout", func(c *Config) { c.ShutdownTimeout = -time.Second }},
		{"bad node", func(c *Config) { c.Nodes = []NodeConfig{{Path: "/x", ParamConfig: ParamConfig{Type: "q"}}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}

func TestValidationCanBeDisabled(t *testing.T) {
	path := writeFile(t, "server.yaml", "log:\n  level: loud\n")
	l := envLoader(nil)
	l.EnableValidation(false)
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "loud", cfg.Log.Level)
}

func TestFileErrors(t *testing.T) {
	_, err := envLoader(nil).LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsInvalid(err))

	_, err = envLoader(nil).LoadFile(writeFile(t, "server.toml", "name = 'x'"))
	assert.Error(t, err)

	_, err = envLoader(nil).LoadFile(writeFile(t, "server.yaml", "nmae: typo\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = envLoader(nil).LoadFile(t.TempDir() + "/")
	assert.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse([]byte("  \n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
