// Package mirror publishes tree activity to NATS so other services can observe it
// without speaking OSC. Value changes go to <prefix>.value.<path> as raw OSC packets;
// structural events go to <prefix>.event as the same JSON command packet the
// WebSocket transport sends. Nothing is read back.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scalarwaves/oscquery/component"
	"github.com/scalarwaves/oscquery/errors"
	"github.com/scalarwaves/oscquery/metric"
	"github.com/scalarwaves/oscquery/osc"
	"github.com/scalarwaves/oscquery/root"
	"github.com/scalarwaves/oscquery/transport/websocket"
)

// Conn is the part of a NATS connection the publisher needs. *Client implements it.
type Conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
}

// Config holds the mirror settings.
type Config struct {
	URL string
	// Prefix is the subject prefix. Defaults to "oscquery".
	Prefix string
	// ConnectTimeout bounds the initial connection. Defaults to 5s.
	ConnectTimeout time.Duration
	Token          string
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = "oscquery"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	return c
}

// Deps holds the runtime dependencies of a Publisher.
type Deps struct {
	Name            string
	Config          Config
	Root            *root.Root
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	// Conn overrides the connection built from Config.URL.
	Conn Conn
}

// Metrics holds the mirror-specific counters.
type Metrics struct {
	published     *prometheus.CounterVec
	publishErrors prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry, name string, logger *slog.Logger) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oscquery",
			Subsystem: "mirror",
			Name:      "published_total",
			Help:      "Messages published to NATS, by event kind",
		}, []string{"kind"}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oscquery",
			Subsystem: "mirror",
			Name:      "publish_errors_total",
			Help:      "Failed NATS publishes",
		}),
	}
	if err := registry.RegisterCounterVec(name, "published", m.published); err != nil {
		logger.Warn("Could not register metric", "metric", "published", "error", err)
	}
	if err := registry.RegisterCounter(name, "publish_errors", m.publishErrors); err != nil {
		logger.Warn("Could not register metric", "metric", "publish_errors", "error", err)
	}
	return m
}

// Publisher is a root.Sink that forwards every event to NATS.
type Publisher struct {
	name    string
	cfg     Config
	root    *root.Root
	logger  *slog.Logger
	core    *metric.Metrics
	metrics *Metrics
	flow    component.FlowCounter

	mu         sync.Mutex
	conn       Conn
	client     *Client // set when the publisher owns the connection
	removeSink func()
	running    atomic.Bool
}

var (
	_ component.Lifecycle = (*Publisher)(nil)
	_ root.Sink           = (*Publisher)(nil)
)

// New creates an unstarted publisher.
func New(deps Deps) *Publisher {
	name := deps.Name
	if name == "" {
		name = "nats-mirror"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", name)
	}
	return &Publisher{
		name:    name,
		cfg:     deps.Config.withDefaults(),
		root:    deps.Root,
		logger:  logger,
		core:    deps.MetricsRegistry.CoreMetrics(),
		metrics: newMetrics(deps.MetricsRegistry, name, logger),
		conn:    deps.Conn,
	}
}

// Meta returns component metadata
func (p *Publisher) Meta() component.Metadata {
	return component.Metadata{
		Name:        p.name,
		Type:        "mirror",
		Description: fmt.Sprintf("NATS mirror on %s.>", p.cfg.Prefix),
		Version:     "1.0.0",
	}
}

// Health is healthy while running and connected.
func (p *Publisher) Health() component.HealthStatus {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	h := p.flow.Health(p.running.Load() && conn != nil && conn.IsConnected())
	if p.running.Load() && !h.Healthy && h.LastError == "" {
		h.LastError = "NATS connection unavailable"
	}
	return h
}

// DataFlow returns publish rates.
func (p *Publisher) DataFlow() component.FlowMetrics {
	return p.flow.Flow()
}

// Initialize validates the configuration and builds the NATS client.
func (p *Publisher) Initialize() error {
	if p.root == nil {
		return errors.WrapInvalid(fmt.Errorf("nil root"), "mirror", "Initialize", "root validation")
	}
	if !validSubjectPrefix(p.cfg.Prefix) {
		return errors.WrapInvalid(fmt.Errorf("%w: subject prefix %q", errors.ErrInvalidConfig, p.cfg.Prefix),
			"mirror", "Initialize", "prefix validation")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return nil
	}
	opts := []ClientOption{
		WithName(p.name),
		WithLogger(p.logger),
		WithStatusCallback(p.core.RecordNATSStatus),
	}
	if p.cfg.Token != "" {
		opts = append(opts, WithToken(p.cfg.Token))
	}
	client, err := NewClient(p.cfg.URL, opts...)
	if err != nil {
		return err
	}
	p.client, p.conn = client, client
	return nil
}

// Start connects, when the publisher owns its connection, and subscribes to the tree.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "mirror", "Start", "state check")
	}
	if p.conn == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "mirror", "Start", "not initialized")
	}
	if p.client != nil {
		connectCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		err := p.client.Connect(connectCtx)
		cancel()
		if err != nil {
			p.core.RecordNATSStatus(false)
			return err
		}
	}

	p.flow.Reset()
	p.running.Store(true)
	p.removeSink = p.root.AddSink(p)
	p.logger.Info("NATS mirror started", "prefix", p.cfg.Prefix)
	return nil
}

// Stop unsubscribes from the tree and drains an owned connection.
func (p *Publisher) Stop(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return nil
	}
	p.running.Store(false)
	if p.removeSink != nil {
		p.removeSink()
		p.removeSink = nil
	}
	if p.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := p.client.Close(ctx)
	p.core.RecordNATSStatus(false)
	return err
}

// Notify implements root.Sink.
func (p *Publisher) Notify(ev root.Event) {
	if !p.running.Load() {
		return
	}
	subject, data, err := p.encode(ev)
	if err != nil {
		p.logger.Debug("Dropped unencodable event", "path", ev.Path, "error", err)
		return
	}

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if err := conn.Publish(subject, data); err != nil {
		p.flow.Error(err)
		if p.metrics != nil {
			p.metrics.publishErrors.Inc()
		}
		p.logger.Debug("NATS publish failed", "subject", subject, "error", err)
		return
	}
	p.flow.Record(len(data))
	if p.metrics != nil {
		p.metrics.published.WithLabelValues(ev.Kind.String()).Inc()
	}
}

func (p *Publisher) encode(ev root.Event) (subject string, data []byte, err error) {
	if ev.Kind == root.EventValue {
		if ev.Message == nil {
			return "", nil, fmt.Errorf("value event without message")
		}
		data, err = osc.Encode(ev.Message)
		return ValueSubject(p.cfg.Prefix, ev.Path), data, err
	}
	data, err = json.Marshal(websocket.CommandPacket{Command: ev.Kind.Command(), Data: ev.Path})
	return EventSubject(p.cfg.Prefix), data, err
}

// ValueSubject maps a tree path onto the value subject, one token per path segment.
// Characters NATS reserves in tokens are replaced with '_'.
func ValueSubject(prefix, path string) string {
	segs := osc.Segments(path)
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(".value")
	for _, seg := range segs {
		b.WriteByte('.')
		b.WriteString(subjectToken(seg))
	}
	return b.String()
}

// EventSubject is the subject for structural events.
func EventSubject(prefix string) string { return prefix + ".event" }

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

func subjectToken(s string) string { return tokenReplacer.Replace(s) }

func validSubjectPrefix(prefix string) bool {
	if prefix == "" || strings.ContainsAny(prefix, "*> \t") {
		return false
	}
	for _, tok := range strings.Split(prefix, ".") {
		if tok == "" {
			return false
		}
	}
	return true
}
