package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scalarwaves/oscquery/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OSCQUERY"

// Loader layers defaults, files and the environment into a Config.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader returns a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  EnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer appends a file. Later layers override earlier ones key by key.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation toggles validation of the merged result.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads defaults, path (when not empty) and the environment.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = nil
	if path != "" {
		l.layers = []string{path}
	}
	return l.Load()
}

// Load merges every layer over the defaults, applies the environment and validates.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		data, err := safeReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "read "+path)
		}
		if err := decodeInto(cfg, data); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "decode "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Parse decodes YAML or JSON over the defaults without touching the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := decodeInto(cfg, data); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Parse", "decode")
	}
	return cfg, nil
}

// decodeInto overlays data onto cfg. yaml.v3 reads JSON as well since JSON is a subset
// of YAML. Keys absent from data leave cfg untouched; unknown keys are an error.
func decodeInto(cfg *Config, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	return nil
}

func (l *Loader) env(name string) (string, bool, error) {
	key := l.envPrefix + "_" + name
	val, ok := l.lookupEnv(key)
	if !ok || val == "" {
		return "", false, nil
	}
	if err := validateEnvVar(key, val); err != nil {
		return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "check "+key)
	}
	return val, true, nil
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{"NAME", &cfg.Name},
		{"HTTP_BIND", &cfg.HTTP.Bind},
		{"OSC_BIND", &cfg.OSC.Bind},
		{"WS_BIND", &cfg.WebSocket.Bind},
		{"WS_PATH", &cfg.WebSocket.Path},
		{"NATS_URL", &cfg.NATS.URL},
		{"NATS_PREFIX", &cfg.NATS.Prefix},
		{"NATS_TOKEN", &cfg.NATS.Token},
		{"LOG_LEVEL", &cfg.Log.Level},
		{"LOG_FORMAT", &cfg.Log.Format},
	}
	for _, s := range strs {
		val, ok, err := l.env(s.name)
		if err != nil {
			return err
		}
		if ok {
			*s.dst = val
		}
	}

	if val, ok, err := l.env("DESTINATIONS"); err != nil {
		return err
	} else if ok {
		cfg.Destinations = nil
		for _, d := range strings.Split(val, ",") {
			if d = strings.TrimSpace(d); d != "" {
				cfg.Destinations = append(cfg.Destinations, d)
			}
		}
	}

	if val, ok, err := l.env("METRICS_ENABLED"); err != nil {
		return err
	} else if ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+l.envPrefix+"_METRICS_ENABLED")
		}
		cfg.Metrics.Enabled = b
	}

	if val, ok, err := l.env("SHUTDOWN_TIMEOUT"); err != nil {
		return err
	} else if ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%s_SHUTDOWN_TIMEOUT: %w", l.envPrefix, err), "Loader", "applyEnvOverrides", "parse duration")
		}
		cfg.ShutdownTimeout = d
	}
	return nil
}
