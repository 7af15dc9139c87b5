// Package udp is the OSC-over-UDP transport: a receive loop that dispatches inbound
// packets against the tree, and a sender that delivers value notifications to the
// configured destinations.
package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scalarwaves/oscquery/component"
	"github.com/scalarwaves/oscquery/errors"
	"github.com/scalarwaves/oscquery/metric"
	"github.com/scalarwaves/oscquery/osc"
	"github.com/scalarwaves/oscquery/root"
)

const transportLabel = "udp"

// readTick bounds how long the receive loop blocks before re-checking for shutdown.
const readTick = 100 * time.Millisecond

// Metrics holds the UDP-specific counters. Packet and decode counts live in the core
// metrics.
type Metrics struct {
	bytesReceived prometheus.Counter
	bytesSent     prometheus.Counter
	sendErrors    prometheus.Counter
	socketErrors  prometheus.Counter
}

// newMetrics creates and registers UDP metrics. A nil registry yields nil metrics.
func newMetrics(registry *metric.MetricsRegistry, name string, logger *slog.Logger) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oscquery",
			Subsystem: "udp",
			Name:      "bytes_received_total",
			Help:      "Bytes received on the OSC socket",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oscquery",
			Subsystem: "udp",
			Name:      "bytes_sent_total",
			Help:      "Bytes sent to OSC destinations",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oscquery",
			Subsystem: "udp",
			Name:      "send_errors_total",
			Help:      "Failed sends to OSC destinations",
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oscquery",
			Subsystem: "udp",
			Name:      "socket_errors_total",
			Help:      "Socket read errors other than deadline ticks",
		}),
	}

	for metricName, c := range map[string]prometheus.Counter{
		"bytes_received": m.bytesReceived,
		"bytes_sent":     m.bytesSent,
		"send_errors":    m.sendErrors,
		"socket_errors":  m.socketErrors,
	} {
		if err := registry.RegisterCounter(name, metricName, c); err != nil {
			logger.Warn("Could not register metric", "metric", metricName, "error", err)
		}
	}
	return m
}

// Config holds the socket settings.
type Config struct {
	// Bind is the UDP listen address, e.g. "0.0.0.0:9000". Port 0 picks a free port.
	Bind string
	// ReadBufferSize is the OS receive buffer to request. Zero keeps the default.
	ReadBufferSize int
}

// Deps holds the runtime dependencies of a Transport.
type Deps struct {
	Name            string
	Config          Config
	Root            *root.Root
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Transport receives OSC packets over UDP and sends value notifications to the
// destinations registered on the Root.
type Transport struct {
	name   string
	cfg    Config
	root   *root.Root
	logger *slog.Logger

	core    *metric.Metrics
	metrics *Metrics
	flow    component.FlowCounter

	mu         sync.RWMutex
	conn       *net.UDPConn
	removeSink func()
	shutdown   chan struct{}
	done       chan struct{}
	running    atomic.Bool
}

var (
	_ component.Lifecycle = (*Transport)(nil)
	_ root.Sink           = (*Transport)(nil)
)

// New creates an unstarted transport.
func New(deps Deps) *Transport {
	name := deps.Name
	if name == "" {
		name = "udp"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", name)
	}
	return &Transport{
		name:    name,
		cfg:     deps.Config,
		root:    deps.Root,
		logger:  logger,
		core:    deps.MetricsRegistry.CoreMetrics(),
		metrics: newMetrics(deps.MetricsRegistry, name, logger),
	}
}

// Meta returns the component metadata
func (t *Transport) Meta() component.Metadata {
	return component.Metadata{
		Name:        t.name,
		Type:        "transport",
		Description: fmt.Sprintf("OSC over UDP on %s", t.cfg.Bind),
		Version:     "1.0.0",
	}
}

// Health reports healthy while the socket is open.
func (t *Transport) Health() component.HealthStatus {
	t.mu.RLock()
	connected := t.conn != nil
	t.mu.RUnlock()
	return t.flow.Health(t.running.Load() && connected)
}

// DataFlow returns inbound traffic rates.
func (t *Transport) DataFlow() component.FlowMetrics {
	return t.flow.Flow()
}

// Initialize validates the configuration.
func (t *Transport) Initialize() error {
	if t.root == nil {
		return errors.WrapInvalid(fmt.Errorf("nil root"), "udp", "Initialize", "root validation")
	}
	if _, err := net.ResolveUDPAddr("udp", t.cfg.Bind); err != nil {
		return errors.WrapInvalid(err, "udp", "Initialize", "bind address validation")
	}
	return nil
}

// Start binds the socket, registers the transport as a notification sink and starts the
// receive loop. Bind failures are fatal.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "udp", "Start", "state check")
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "udp", "Start", "context check")
	}

	addr, err := net.ResolveUDPAddr("udp", t.cfg.Bind)
	if err != nil {
		return errors.WrapInvalid(err, "udp", "Start", "resolve bind address")
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errors.WrapFatal(err, "udp", "Start", "socket binding")
	}
	if t.cfg.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(t.cfg.ReadBufferSize); err != nil {
			// Some systems cap the buffer size.
			t.logger.Warn("Could not set UDP buffer size", "buffer_size", t.cfg.ReadBufferSize, "error", err)
		}
	}

	t.conn = conn
	t.shutdown = make(chan struct{})
	t.done = make(chan struct{})
	t.flow.Reset()
	t.running.Store(true)
	t.removeSink = t.root.AddSink(t)

	go func(conn *net.UDPConn, shutdown, done chan struct{}) {
		defer close(done)
		t.readLoop(ctx, conn, shutdown)
	}(conn, t.shutdown, t.done)

	t.logger.Info("OSC transport listening", "addr", conn.LocalAddr().String())
	return nil
}

// Stop closes the socket and waits up to timeout for the receive loop to exit.
func (t *Transport) Stop(timeout time.Duration) error {
	t.mu.Lock()
	if !t.running.Load() {
		t.mu.Unlock()
		return nil
	}
	t.running.Store(false)
	if t.removeSink != nil {
		t.removeSink()
		t.removeSink = nil
	}
	close(t.shutdown)
	conn := t.conn
	_ = conn.Close()
	done := t.done
	t.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout), "udp", "Stop", "graceful shutdown")
	}

	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	return nil
}

// LocalAddr returns the bound address, or nil before Start.
func (t *Transport) LocalAddr() *net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr().(*net.UDPAddr)
}

func (t *Transport) readLoop(ctx context.Context, conn *net.UDPConn, shutdown <-chan struct{}) {
	buf := make([]byte, 65536)

	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTick))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.IsTransient(err) {
				continue
			}
			select {
			case <-shutdown:
				return
			default:
			}
			t.flow.Error(err)
			if t.metrics != nil {
				t.metrics.socketErrors.Inc()
			}
			if errors.IsFatal(err) {
				t.logger.Warn("OSC receive loop stopped", "error", err)
				return
			}
			continue
		}

		t.flow.Record(n)
		t.core.RecordPacket(transportLabel)
		if t.metrics != nil {
			t.metrics.bytesReceived.Add(float64(n))
		}

		pkt, err := osc.Decode(buf[:n])
		if err != nil {
			t.core.RecordDecodeFailure(transportLabel)
			t.logger.Debug("Dropped undecodable packet", "from", from.String(), "error", err)
			continue
		}
		// Decode copies everything it keeps, so buf can be reused.
		t.root.HandleOSCPacket(pkt, from, nil)
	}
}

// Send encodes p and writes it to addr from the transport's socket.
func (t *Transport) Send(p osc.Packet, addr *net.UDPAddr) error {
	data, err := osc.Encode(p)
	if err != nil {
		return errors.Wrap(err, "udp", "Send", "encode packet")
	}
	return t.write(data, addr)
}

func (t *Transport) write(data []byte, addr *net.UDPAddr) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "udp", "Send", "state check")
	}

	n, err := conn.WriteToUDP(data, addr)
	if err != nil {
		if t.metrics != nil {
			t.metrics.sendErrors.Inc()
		}
		return errors.WrapTransient(err, "udp", "Send", "write to "+addr.String())
	}
	if t.metrics != nil {
		t.metrics.bytesSent.Add(float64(n))
	}
	return nil
}

// Notify implements root.Sink. Value events are sent to every destination; structural
// events have no OSC representation and are ignored.
func (t *Transport) Notify(ev root.Event) {
	if ev.Kind != root.EventValue || ev.Message == nil {
		return
	}
	dests := t.root.Destinations().List()
	if len(dests) == 0 {
		return
	}
	data, err := osc.Encode(ev.Message)
	if err != nil {
		t.logger.Debug("Dropped unencodable notification", "path", ev.Path, "error", err)
		return
	}
	for _, addr := range dests {
		if err := t.write(data, addr); err != nil {
			t.flow.Error(err)
			t.logger.Debug("Send to destination failed", "dest", addr.String(), "error", err)
		}
	}
}
