// Package config loads the server configuration: built-in defaults, then a YAML or JSON
// file, then OSCQUERY_* environment overrides, then validation. It also builds the
// declarative initial tree described by the nodes section.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scalarwaves/oscquery/errors"
)

// Config is the complete server configuration.
type Config struct {
	Name            string          `yaml:"name" json:"name"`
	HTTP            HTTPConfig      `yaml:"http" json:"http"`
	OSC             OSCConfig       `yaml:"osc" json:"osc"`
	WebSocket       WebSocketConfig `yaml:"websocket" json:"websocket"`
	Destinations    []string        `yaml:"destinations" json:"destinations,omitempty"`
	Metrics         MetricsConfig   `yaml:"metrics" json:"metrics"`
	NATS            NATSConfig      `yaml:"nats" json:"nats"`
	Log             LogConfig       `yaml:"log" json:"log"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	Nodes           []NodeConfig    `yaml:"nodes" json:"nodes,omitempty"`
}

// HTTPConfig configures the query listener.
type HTTPConfig struct {
	Bind string `yaml:"bind" json:"bind"`
	CORS bool   `yaml:"cors" json:"cors"`
}

// OSCConfig configures the UDP socket.
type OSCConfig struct {
	Bind           string `yaml:"bind" json:"bind"`
	ReadBufferSize int    `yaml:"read_buffer_size" json:"read_buffer_size,omitempty"`
}

// WebSocketConfig configures the push channel. An empty Bind serves WebSocket upgrades
// on the HTTP listener instead of a port of its own.
type WebSocketConfig struct {
	Bind         string        `yaml:"bind" json:"bind"`
	Path         string        `yaml:"path" json:"path,omitempty"`
	QueueSize    int           `yaml:"queue_size" json:"queue_size,omitempty"`
	PingInterval time.Duration `yaml:"ping_interval" json:"ping_interval,omitempty"`
}

// MetricsConfig toggles Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// NATSConfig configures the optional mirror. An empty URL disables it.
type NATSConfig struct {
	URL            string        `yaml:"url" json:"url,omitempty"`
	Prefix         string        `yaml:"prefix" json:"prefix,omitempty"`
	Token          string        `yaml:"token" json:"-"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout,omitempty"`
}

// Enabled reports whether the mirror should run.
func (n NATSConfig) Enabled() bool { return n.URL != "" }

// LogConfig selects the log level and handler format.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Name:            "oscquery",
		HTTP:            HTTPConfig{Bind: "127.0.0.1:3000"},
		OSC:             OSCConfig{Bind: "127.0.0.1:0"},
		WebSocket:       WebSocketConfig{Bind: "127.0.0.1:0", Path: "/"},
		Metrics:         MetricsConfig{Enabled: true},
		NATS:            NATSConfig{Prefix: "oscquery", ConnectTimeout: 5 * time.Second},
		Log:             LogConfig{Level: "info", Format: "text"},
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks every section and the node list.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("name is required")
	}
	if err := validateBind("http.bind", c.HTTP.Bind, false); err != nil {
		return err
	}
	if err := validateBind("osc.bind", c.OSC.Bind, false); err != nil {
		return err
	}
	if err := validateBind("websocket.bind", c.WebSocket.Bind, true); err != nil {
		return err
	}
	if c.WebSocket.Path != "" && !strings.HasPrefix(c.WebSocket.Path, "/") {
		return invalid("websocket.path must start with /")
	}
	for _, d := range c.Destinations {
		if _, err := net.ResolveUDPAddr("udp", d); err != nil {
			return invalid(fmt.Sprintf("destination %q: %v", d, err))
		}
	}
	if c.NATS.Enabled() {
		if !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
			return invalid("nats.url must use nats:// or tls://")
		}
		if c.NATS.Prefix == "" || strings.ContainsAny(c.NATS.Prefix, "*> ") {
			return invalid("nats.prefix must be a literal subject")
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return invalid(fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	if c.ShutdownTimeout < 0 {
		return invalid("shutdown_timeout must not be negative")
	}
	if _, err := ParseNodes(c.Nodes); err != nil {
		return err
	}
	return nil
}

func validateBind(field, addr string, optional bool) error {
	if addr == "" {
		if optional {
			return nil
		}
		return invalid(field + " is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return invalid(fmt.Sprintf("%s %q: %v", field, addr, err))
	}
	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Config", "Validate", "check configuration")
}

// String renders the configuration as YAML with secrets omitted.
func (c *Config) String() string {
	redacted := *c
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "[REDACTED]"
	}
	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
