// Package query serves the read-only HTTP side of OSCQuery: the JSON namespace document
// for any path, single-attribute queries, HOST_INFO, plus the /health and /metrics
// operational endpoints. WebSocket upgrade requests on the same port are handed to the
// configured upgrade handler.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scalarwaves/oscquery/component"
	"github.com/scalarwaves/oscquery/errors"
	"github.com/scalarwaves/oscquery/health"
	"github.com/scalarwaves/oscquery/metric"
	"github.com/scalarwaves/oscquery/root"
)

// Config holds the HTTP listener settings.
type Config struct {
	Bind string
	// HealthPath and MetricsPath default to /health and /metrics. They shadow tree nodes
	// of the same name.
	HealthPath  string
	MetricsPath string
	// EnableCORS adds permissive CORS headers for browser clients.
	EnableCORS bool
	// ReadHeaderTimeout defaults to 10s.
	ReadHeaderTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HealthPath == "" {
		c.HealthPath = "/health"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	return c
}

// Deps holds the runtime dependencies of a Transport.
type Deps struct {
	Name            string
	Config          Config
	Root            *root.Root
	Checker         *health.Checker
	MetricsRegistry *metric.MetricsRegistry
	// Upgrade serves WebSocket upgrade requests. nil rejects them with 400.
	Upgrade http.Handler
	// HostInfo fills in HOST_INFO at request time. Zero ports fall back to this
	// listener's port for WS and are omitted for OSC.
	HostInfo func() HostInfo
	Logger   *slog.Logger
}

// Metrics holds the query-specific counters.
type Metrics struct {
	requests *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry, name string, logger *slog.Logger) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oscquery",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Query requests served, by status code",
		}, []string{"code"}),
	}
	if err := registry.RegisterCounterVec(name, "requests", m.requests); err != nil {
		logger.Warn("Could not register metric", "metric", "requests", "error", err)
	}
	return m
}

// Transport is the HTTP query server.
type Transport struct {
	name     string
	cfg      Config
	root     *root.Root
	checker  *health.Checker
	registry *metric.MetricsRegistry
	upgrade  http.Handler
	hostInfo func() HostInfo
	logger   *slog.Logger
	metrics  *Metrics
	flow     component.FlowCounter

	handler http.Handler

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
	running  atomic.Bool
}

var _ component.Lifecycle = (*Transport)(nil)

// New creates an unstarted transport.
func New(deps Deps) *Transport {
	name := deps.Name
	if name == "" {
		name = "query"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", name)
	}
	t := &Transport{
		name:     name,
		cfg:      deps.Config.withDefaults(),
		root:     deps.Root,
		checker:  deps.Checker,
		registry: deps.MetricsRegistry,
		upgrade:  deps.Upgrade,
		hostInfo: deps.HostInfo,
		logger:   logger,
		metrics:  newMetrics(deps.MetricsRegistry, name, logger),
	}

	mux := http.NewServeMux()
	if t.checker != nil {
		mux.Handle(t.cfg.HealthPath, t.checker)
	}
	if t.registry != nil {
		mux.Handle(t.cfg.MetricsPath, t.registry.Handler())
	}
	mux.HandleFunc("/", t.serveQuery)
	t.handler = mux
	return t
}

// Meta returns component metadata
func (t *Transport) Meta() component.Metadata {
	return component.Metadata{
		Name:        t.name,
		Type:        "transport",
		Description: fmt.Sprintf("OSCQuery HTTP on %s", t.cfg.Bind),
		Version:     "1.0.0",
	}
}

// Health reports healthy while running.
func (t *Transport) Health() component.HealthStatus {
	return t.flow.Health(t.running.Load())
}

// DataFlow returns response rates.
func (t *Transport) DataFlow() component.FlowMetrics {
	return t.flow.Flow()
}

// Initialize validates the configuration.
func (t *Transport) Initialize() error {
	if t.root == nil {
		return errors.WrapInvalid(fmt.Errorf("nil root"), "query", "Initialize", "root validation")
	}
	if _, _, err := net.SplitHostPort(t.cfg.Bind); err != nil {
		return errors.WrapInvalid(err, "query", "Initialize", "bind address validation")
	}
	return nil
}

// Start binds the listener and serves until Stop.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "query", "Start", "state check")
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "query", "Start", "context check")
	}

	ln, err := net.Listen("tcp", t.cfg.Bind)
	if err != nil {
		return errors.WrapFatal(err, "query", "Start", "listen on "+t.cfg.Bind)
	}
	t.listener = ln
	t.server = &http.Server{Handler: t, ReadHeaderTimeout: t.cfg.ReadHeaderTimeout}
	t.done = make(chan struct{})
	t.flow.Reset()
	t.running.Store(true)

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.flow.Error(err)
			t.logger.Error("HTTP server failed", "error", err)
		}
	}(t.server, t.done)

	t.logger.Info("Query server listening", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the server down, waiting up to timeout for in-flight requests.
func (t *Transport) Stop(timeout time.Duration) error {
	t.mu.Lock()
	if !t.running.Load() {
		t.mu.Unlock()
		return nil
	}
	t.running.Store(false)
	server, done := t.server, t.done
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := server.Shutdown(ctx)
	<-done

	t.mu.Lock()
	if t.server == server {
		t.server, t.listener = nil, nil
	}
	t.mu.Unlock()
	if err != nil {
		return errors.WrapTransient(err, "query", "Stop", "graceful shutdown")
	}
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (t *Transport) Addr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// ServeHTTP routes WebSocket upgrades to the upgrade handler and everything else to
// the query mux.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if gws.IsWebSocketUpgrade(r) {
		if t.upgrade == nil {
			t.writeError(w, http.StatusBadRequest, "websocket not available")
			return
		}
		t.upgrade.ServeHTTP(w, r)
		return
	}

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)
	if t.cfg.EnableCORS {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
	t.handler.ServeHTTP(w, r)
}

func (t *Transport) serveQuery(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		t.writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}

	path := r.URL.Path
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	attr := queryAttribute(r.URL.RawQuery)

	if attr == AttrHostInfo {
		t.writeJSON(w, http.StatusOK, t.buildHostInfo())
		return
	}
	if attr != "" && !knownAttribute(attr) {
		t.writeError(w, http.StatusBadRequest, "unknown attribute "+attr)
		return
	}

	snap, ok := t.root.Snapshot(path)
	if !ok {
		t.writeError(w, http.StatusNotFound, "no such path")
		return
	}
	doc := FromSnapshot(snap)
	if attr == "" {
		t.writeJSON(w, http.StatusOK, doc)
		return
	}
	v, ok := attribute(doc, attr)
	if !ok {
		t.record(http.StatusNoContent, 0)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	t.writeJSON(w, http.StatusOK, map[string]any{attr: v})
}

// queryAttribute returns the upper-cased attribute name of "?VALUE" or "?VALUE=...".
func queryAttribute(raw string) string {
	if raw == "" {
		return ""
	}
	if i := strings.IndexAny(raw, "=&"); i >= 0 {
		raw = raw[:i]
	}
	return strings.ToUpper(raw)
}

func (t *Transport) buildHostInfo() HostInfo {
	var info HostInfo
	if t.hostInfo != nil {
		info = t.hostInfo()
	}
	if info.Name == "" {
		info.Name = t.name
	}
	info.OSCTransport = "UDP"
	if info.WSPort == 0 && t.upgrade != nil {
		if tcp, ok := t.Addr().(*net.TCPAddr); ok {
			info.WSIP = tcp.IP.String()
			info.WSPort = tcp.Port
		}
	}
	info.Extensions = Extensions()
	return info
}

func (t *Transport) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		t.logger.Warn("Could not encode response", "error", err)
		t.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	t.record(status, len(data))
}

func (t *Transport) writeError(w http.ResponseWriter, status int, message string) {
	data, _ := json.Marshal(map[string]any{"error": message, "status": status})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	t.record(status, len(data))
}

func (t *Transport) record(status, n int) {
	t.flow.Record(n)
	if t.metrics != nil {
		t.metrics.requests.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}
