// Package websocket is the live push channel of the server. Each connection carries
// binary frames holding OSC packets, which are dispatched like UDP traffic, and JSON text
// frames holding LISTEN/IGNORE commands that manage the connection's subscriptions.
// Notifications from the tree are delivered only to connections whose subscriptions
// match.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scalarwaves/oscquery/component"
	"github.com/scalarwaves/oscquery/errors"
	"github.com/scalarwaves/oscquery/metric"
	"github.com/scalarwaves/oscquery/osc"
	"github.com/scalarwaves/oscquery/root"
)

const (
	transportLabel = "websocket"
	binaryMessage  = gws.BinaryMessage
	textMessage    = gws.TextMessage
)

// Config holds the WebSocket server settings.
type Config struct {
	// Bind is the listen address. Empty means no listener of its own: the transport is
	// then only reachable through ServeHTTP, typically mounted on the query server.
	Bind string
	// Path is the upgrade endpoint on the transport's own listener. Defaults to "/".
	Path string
	// QueueSize bounds each connection's outbound queue. The oldest notification is
	// dropped when it is full. Defaults to 256.
	QueueSize int
	// WriteTimeout bounds a single frame write. Defaults to 10s.
	WriteTimeout time.Duration
	// PingInterval is how often the server pings idle clients. Defaults to 30s.
	PingInterval time.Duration
	// ReadTimeout closes connections that send nothing, not even a pong, for this long.
	// Defaults to twice PingInterval.
	ReadTimeout time.Duration
	// MaxMessageSize limits inbound frames. Defaults to 64 KiB.
	MaxMessageSize int64
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 2 * c.PingInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 << 10
	}
	return c
}

// Deps holds the runtime dependencies of a Transport.
type Deps struct {
	Name            string
	Config          Config
	Root            *root.Root
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Metrics holds the WebSocket-specific counters.
type Metrics struct {
	connections    prometheus.Counter
	disconnections *prometheus.CounterVec
	sendDrops      prometheus.Counter
	bytesSent      prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry, name string, logger *slog.Logger) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oscquery",
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "WebSocket connections accepted",
		}),
		disconnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oscquery",
			Subsystem: "ws",
			Name:      "disconnections_total",
			Help:      "WebSocket connections closed, by reason",
		}, []string{"reason"}),
		sendDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oscquery",
			Subsystem: "ws",
			Name:      "send_drops_total",
			Help:      "Notifications dropped from full connection queues",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oscquery",
			Subsystem: "ws",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to WebSocket clients",
		}),
	}
	register := func(metricName string, err error) {
		if err != nil {
			logger.Warn("Could not register metric", "metric", metricName, "error", err)
		}
	}
	register("connections", registry.RegisterCounter(name, "connections", m.connections))
	register("disconnections", registry.RegisterCounterVec(name, "disconnections", m.disconnections))
	register("send_drops", registry.RegisterCounter(name, "send_drops", m.sendDrops))
	register("bytes_sent", registry.RegisterCounter(name, "bytes_sent", m.bytesSent))
	return m
}

// Transport accepts WebSocket connections and fans notifications out to them.
type Transport struct {
	name   string
	cfg    Config
	root   *root.Root
	logger *slog.Logger

	core    *metric.Metrics
	metrics *Metrics
	flow    component.FlowCounter

	upgrader gws.Upgrader

	clientsMu sync.RWMutex
	clients   map[string]*client
	accepting bool // guarded by clientsMu; false once Stop begins

	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	server      *http.Server
	listener    net.Listener
	removeSink  func()
	wg          sync.WaitGroup
	running     atomic.Bool
}

var (
	_ component.Lifecycle = (*Transport)(nil)
	_ root.Sink           = (*Transport)(nil)
	_ http.Handler        = (*Transport)(nil)
)

// New creates an unstarted transport.
func New(deps Deps) *Transport {
	name := deps.Name
	if name == "" {
		name = "websocket"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", name)
	}
	return &Transport{
		name:    name,
		cfg:     deps.Config.withDefaults(),
		root:    deps.Root,
		logger:  logger,
		core:    deps.MetricsRegistry.CoreMetrics(),
		metrics: newMetrics(deps.MetricsRegistry, name, logger),
		upgrader: gws.Upgrader{
			// OSCQuery clients are browsers and tools on other origins.
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		clients: make(map[string]*client),
	}
}

// Meta returns the component metadata
func (t *Transport) Meta() component.Metadata {
	where := "shared listener"
	if t.cfg.Bind != "" {
		where = t.cfg.Bind + t.cfg.Path
	}
	return component.Metadata{
		Name:        t.name,
		Type:        "transport",
		Description: fmt.Sprintf("OSCQuery WebSocket on %s", where),
		Version:     "1.0.0",
	}
}

// Health reports healthy while running.
func (t *Transport) Health() component.HealthStatus {
	return t.flow.Health(t.running.Load())
}

// DataFlow returns outbound traffic rates.
func (t *Transport) DataFlow() component.FlowMetrics {
	return t.flow.Flow()
}

// Initialize validates the configuration.
func (t *Transport) Initialize() error {
	if t.root == nil {
		return errors.WrapInvalid(fmt.Errorf("nil root"), "websocket", "Initialize", "root validation")
	}
	if t.cfg.Bind != "" {
		if _, _, err := net.SplitHostPort(t.cfg.Bind); err != nil {
			return errors.WrapInvalid(err, "websocket", "Initialize", "bind address validation")
		}
	}
	return nil
}

// Start binds the listener, when one is configured, and registers the transport as a
// notification sink.
func (t *Transport) Start(ctx context.Context) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if t.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "websocket", "Start", "state check")
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "websocket", "Start", "context check")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.Bind != "" {
		ln, err := net.Listen("tcp", t.cfg.Bind)
		if err != nil {
			return errors.WrapFatal(err, "websocket", "Start", "listen on "+t.cfg.Bind)
		}
		mux := http.NewServeMux()
		mux.Handle(t.cfg.Path, t)
		t.listener = ln
		t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		t.wg.Add(1)
		go func(srv *http.Server) {
			defer t.wg.Done()
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				t.flow.Error(err)
				t.logger.Error("WebSocket server failed", "error", err)
			}
		}(t.server)
		t.logger.Info("WebSocket transport listening", "addr", ln.Addr().String(), "path", t.cfg.Path)
	}

	t.flow.Reset()
	t.clientsMu.Lock()
	t.accepting = true
	t.clientsMu.Unlock()
	t.running.Store(true)
	t.removeSink = t.root.AddSink(t)
	return nil
}

// Stop closes the listener and every connection, then waits up to timeout for the
// connection goroutines to exit.
func (t *Transport) Stop(timeout time.Duration) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if !t.running.Load() {
		return nil
	}
	t.running.Store(false)
	// No client registers after this, so every wg.Add precedes the Wait below.
	t.clientsMu.Lock()
	t.accepting = false
	t.clientsMu.Unlock()

	t.mu.Lock()
	if t.removeSink != nil {
		t.removeSink()
		t.removeSink = nil
	}
	server := t.server
	t.server, t.listener = nil, nil
	t.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := server.Shutdown(shutdownCtx); err != nil {
			t.logger.Warn("HTTP server shutdown error", "error", err)
		}
		cancel()
	}

	// Hijacked connections are not closed by Shutdown.
	for _, c := range t.snapshotClients() {
		t.closeClient(c, gws.CloseGoingAway, "shutdown")
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout), "websocket", "Stop", "graceful shutdown")
	}
}

// Addr returns the transport's own listener address, or nil when it has none.
func (t *Transport) Addr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Clients returns the number of open connections.
func (t *Transport) Clients() int {
	t.clientsMu.RLock()
	defer t.clientsMu.RUnlock()
	return len(t.clients)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !t.running.Load() {
		http.Error(w, "websocket transport not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		t.flow.Error(err)
		return
	}

	c := newClient(uuid.NewString(), conn, t.cfg.QueueSize)
	if !t.register(c) {
		// Stop ran while upgrading.
		_ = conn.WriteControl(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	t.logger.Info("WebSocket client connected", "conn", c.id, "remote", conn.RemoteAddr().String())

	go t.writeLoop(c)
	go t.readLoop(c)
}

// register adds c to the client set and accounts for its two goroutines. It reports
// false once Stop has begun.
func (t *Transport) register(c *client) bool {
	t.clientsMu.Lock()
	defer t.clientsMu.Unlock()
	if !t.accepting {
		return false
	}
	t.clients[c.id] = c
	c.registered = true
	c.state.Store(int32(StateOpen))
	t.wg.Add(2)

	t.core.AddWSClients(1)
	if t.metrics != nil {
		t.metrics.connections.Inc()
	}
	return true
}

func (t *Transport) snapshotClients() []*client {
	t.clientsMu.RLock()
	defer t.clientsMu.RUnlock()
	out := make([]*client, 0, len(t.clients))
	for _, c := range t.clients {
		out = append(out, c)
	}
	return out
}

// readLoop runs until the peer closes, the connection fails or the transport stops.
// Pings are echoed from the ping handler while ReadMessage blocks.
func (t *Transport) readLoop(c *client) {
	defer t.wg.Done()
	reason := "closed"
	defer func() { t.closeClient(c, gws.CloseNormalClosure, reason) }()

	conn := c.conn
	conn.SetReadLimit(t.cfg.MaxMessageSize)
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout)) }
	extend()

	conn.SetPingHandler(func(appData string) error {
		extend()
		err := conn.WriteControl(gws.PongMessage, []byte(appData), time.Now().Add(t.cfg.WriteTimeout))
		if err == gws.ErrCloseSent || errors.IsTransient(err) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			reason = t.readFailure(c, err)
			return
		}
		extend()

		switch messageType {
		case binaryMessage:
			t.handleBinary(c, data)
		case textMessage:
			t.handleText(c, data)
		}
	}
}

func (t *Transport) readFailure(c *client, err error) string {
	if c.closed.Load() {
		return "shutdown"
	}
	if gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway, gws.CloseNoStatusReceived) {
		return "client_close"
	}
	if errors.IsTransient(err) {
		// gorilla cannot resume after a read timeout; the peer went silent.
		t.logger.Debug("WebSocket client timed out", "conn", c.id)
		return "timeout"
	}
	t.flow.Error(err)
	t.logger.Debug("WebSocket read failed", "conn", c.id, "error", err)
	return "error"
}

func (t *Transport) handleBinary(c *client, data []byte) {
	t.core.RecordPacket(transportLabel)
	pkt, err := osc.Decode(data)
	if err != nil {
		t.core.RecordDecodeFailure(transportLabel)
		t.logger.Debug("Dropped undecodable OSC frame", "conn", c.id, "error", err)
		return
	}
	t.root.HandleOSCPacket(pkt, c.conn.RemoteAddr(), nil)
}

func (t *Transport) handleText(c *client, data []byte) {
	cmd, err := ParseCommand(data)
	if err != nil {
		t.core.RecordDecodeFailure(transportLabel)
		t.logger.Debug("Ignored malformed command", "conn", c.id, "error", err)
		return
	}
	t.core.RecordWSCommand(cmd.Command)

	subs := t.root.Subscriptions()
	switch cmd.Command {
	case CommandListen:
		if subs.Listen(c.id, cmd.Data) {
			t.logger.Debug("Listening", "conn", c.id, "path", cmd.Data)
		}
	case CommandIgnore:
		if subs.Ignore(c.id, cmd.Data) {
			t.logger.Debug("Ignoring", "conn", c.id, "path", cmd.Data)
		}
	}
}

// writeLoop is the only goroutine that writes data frames to c.
func (t *Transport) writeLoop(c *client) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case n := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(n.messageType, n.data); err != nil {
				t.flow.Error(err)
				t.closeClient(c, gws.CloseInternalServerErr, "write_error")
				return
			}
			t.flow.Record(len(n.data))
			if t.metrics != nil {
				t.metrics.bytesSent.Add(float64(len(n.data)))
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(gws.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout)); err != nil {
				t.closeClient(c, gws.CloseGoingAway, "ping_failed")
				return
			}
		}
	}
}

// closeClient is safe to call any number of times from any goroutine.
func (t *Transport) closeClient(c *client, code int, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.state.Store(int32(StateClosing))

		t.clientsMu.Lock()
		counted := c.registered
		c.registered = false
		delete(t.clients, c.id)
		t.clientsMu.Unlock()
		t.root.Subscriptions().Drop(c.id)

		_ = c.conn.WriteControl(gws.CloseMessage, gws.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
		_ = c.conn.Close()
		close(c.done)
		c.state.Store(int32(StateClosed))

		if counted {
			t.core.AddWSClients(-1)
			if t.metrics != nil {
				t.metrics.disconnections.WithLabelValues(reason).Inc()
			}
		}
		t.logger.Info("WebSocket client disconnected", "conn", c.id, "reason", reason)
	})
}

// Notify implements root.Sink. The event is encoded once and queued on every
// connection whose subscriptions match; a full queue drops its oldest entry.
func (t *Transport) Notify(ev root.Event) {
	if ev.Kind == root.EventValue && ev.Message == nil {
		return
	}
	subs := t.root.Subscriptions()

	var targets []*client
	for _, c := range t.snapshotClients() {
		if subs.Wants(c.id, ev) {
			targets = append(targets, c)
		}
	}
	if len(targets) == 0 {
		return
	}

	n, err := encodeEvent(ev)
	if err != nil {
		t.logger.Debug("Dropped unencodable notification", "path", ev.Path, "error", err)
		return
	}
	for _, c := range targets {
		if c.enqueue(n) && t.metrics != nil {
			t.metrics.sendDrops.Inc()
		}
	}
}
