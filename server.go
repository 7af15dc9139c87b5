package oscquery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scalarwaves/oscquery/component"
	"github.com/scalarwaves/oscquery/config"
	"github.com/scalarwaves/oscquery/errors"
	"github.com/scalarwaves/oscquery/health"
	"github.com/scalarwaves/oscquery/metric"
	"github.com/scalarwaves/oscquery/mirror"
	"github.com/scalarwaves/oscquery/node"
	"github.com/scalarwaves/oscquery/root"
	"github.com/scalarwaves/oscquery/transport/query"
	"github.com/scalarwaves/oscquery/transport/udp"
	"github.com/scalarwaves/oscquery/transport/websocket"
)

// Deps holds the optional collaborators of a Server.
type Deps struct {
	Logger *slog.Logger
	// MetricsRegistry replaces the registry the server would create when metrics are
	// enabled.
	MetricsRegistry *metric.MetricsRegistry
}

// Server wires a Root to the UDP, WebSocket and HTTP transports and, when configured,
// the NATS mirror.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	root     *root.Root
	checker  *health.Checker

	osc    *udp.Transport
	ws     *websocket.Transport
	http   *query.Transport
	mirror *mirror.Publisher

	mu      sync.Mutex
	started []component.Lifecycle
	running bool
}

// NewServer builds and initializes every component and the declared initial tree.
// Nothing is bound until Start.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := deps.MetricsRegistry
	if registry == nil && cfg.Metrics.Enabled {
		registry = metric.NewMetricsRegistry()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		checker:  health.NewChecker(cfg.Name),
	}
	s.root = root.New(root.Config{
		Description: cfg.Name,
		Metrics:     registry.CoreMetrics(),
		Logger:      logger.With("component", "root"),
	})

	s.osc = udp.New(udp.Deps{
		Name:            "osc",
		Config:          udp.Config{Bind: cfg.OSC.Bind, ReadBufferSize: cfg.OSC.ReadBufferSize},
		Root:            s.root,
		MetricsRegistry: registry,
		Logger:          logger.With("component", "osc"),
	})
	s.ws = websocket.New(websocket.Deps{
		Name: "websocket",
		Config: websocket.Config{
			Bind:         cfg.WebSocket.Bind,
			Path:         cfg.WebSocket.Path,
			QueueSize:    cfg.WebSocket.QueueSize,
			PingInterval: cfg.WebSocket.PingInterval,
		},
		Root:            s.root,
		MetricsRegistry: registry,
		Logger:          logger.With("component", "websocket"),
	})

	queryDeps := query.Deps{
		Name:            "query",
		Config:          query.Config{Bind: cfg.HTTP.Bind, EnableCORS: cfg.HTTP.CORS},
		Root:            s.root,
		Checker:         s.checker,
		MetricsRegistry: registry,
		HostInfo:        s.hostInfo,
		Logger:          logger.With("component", "query"),
	}
	if cfg.WebSocket.Bind == "" {
		queryDeps.Upgrade = s.ws
	}
	s.http = query.New(queryDeps)

	if cfg.NATS.Enabled() {
		s.mirror = mirror.New(mirror.Deps{
			Name: "nats-mirror",
			Config: mirror.Config{
				URL:            cfg.NATS.URL,
				Prefix:         cfg.NATS.Prefix,
				ConnectTimeout: cfg.NATS.ConnectTimeout,
				Token:          cfg.NATS.Token,
			},
			Root:            s.root,
			MetricsRegistry: registry,
			Logger:          logger.With("component", "nats-mirror"),
		})
	}

	for _, c := range s.components() {
		if err := c.Initialize(); err != nil {
			return nil, errors.Wrap(err, "Server", "NewServer", "initialize "+c.Meta().Name)
		}
		s.checker.Register(c.Meta().Name, c)
	}

	for _, d := range cfg.Destinations {
		if _, err := s.AddDestination(d); err != nil {
			return nil, err
		}
	}
	if _, err := config.Build(s.root, cfg.Nodes); err != nil {
		return nil, errors.Wrap(err, "Server", "NewServer", "build initial tree")
	}
	return s, nil
}

// components lists every lifecycle component in start order. The query server comes
// last so it never accepts requests for a transport that is not up yet.
func (s *Server) components() []component.Lifecycle {
	out := []component.Lifecycle{s.osc, s.ws}
	if s.mirror != nil {
		out = append(out, s.mirror)
	}
	return append(out, s.http)
}

// Start binds every listener. Transports other than the query server start in
// parallel. On failure everything already started is stopped again.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "state check")
	}

	comps := s.components()
	parallel, last := comps[:len(comps)-1], comps[len(comps)-1]

	var (
		startedMu sync.Mutex
		started   []component.Lifecycle
	)
	// Components keep ctx for their lifetime; the errgroup only collects start errors.
	var g errgroup.Group
	for _, c := range parallel {
		c := c
		g.Go(func() error {
			if err := c.Start(ctx); err != nil {
				return errors.Wrap(err, "Server", "Start", "start "+c.Meta().Name)
			}
			startedMu.Lock()
			started = append(started, c)
			startedMu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		if err = last.Start(ctx); err == nil {
			started = append(started, last)
		} else {
			err = errors.Wrap(err, "Server", "Start", "start "+last.Meta().Name)
		}
	}
	if err != nil {
		stopAll(started, s.cfg.ShutdownTimeout, s.logger)
		return err
	}

	s.started = started
	s.running = true
	s.logger.Info("OSCQuery server started",
		"name", s.cfg.Name,
		"http", addrString(s.HTTPAddr()),
		"osc", addrString(s.OSCAddr()),
		"ws", addrString(s.WSAddr()))
	return nil
}

// Stop stops every component in reverse start order, giving each up to timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	err := stopAll(s.started, timeout, s.logger)
	s.started = nil
	s.logger.Info("OSCQuery server stopped", "name", s.cfg.Name)
	return err
}

func stopAll(comps []component.Lifecycle, timeout time.Duration, logger *slog.Logger) error {
	var errs []error
	for i := len(comps) - 1; i >= 0; i-- {
		if err := comps[i].Stop(timeout); err != nil {
			logger.Warn("Component stop failed", "component", comps[i].Meta().Name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Root returns the tree and its registries.
func (s *Server) Root() *root.Root { return s.root }

// MetricsRegistry returns the registry, nil when metrics are disabled.
func (s *Server) MetricsRegistry() *metric.MetricsRegistry { return s.registry }

// Health aggregates the health of every component.
func (s *Server) Health() health.Status { return s.checker.Check() }

// HTTPAddr returns the query listener address, nil before Start.
func (s *Server) HTTPAddr() net.Addr { return s.http.Addr() }

// OSCAddr returns the UDP socket address, nil before Start.
func (s *Server) OSCAddr() net.Addr {
	if a := s.osc.LocalAddr(); a != nil {
		return a
	}
	return nil
}

// WSAddr returns the address WebSocket clients connect to: the transport's own
// listener, or the HTTP listener when upgrades are served there.
func (s *Server) WSAddr() net.Addr {
	if s.cfg.WebSocket.Bind == "" {
		return s.HTTPAddr()
	}
	return s.ws.Addr()
}

// AddNode adds n below parent, or below the root when parent is nil.
func (s *Server) AddNode(n *node.Node, parent *node.Handle) (node.Handle, error) {
	return s.root.AddNode(n, parent)
}

// RmNode removes the node and its subtree.
func (s *Server) RmNode(h node.Handle) error { return s.root.RmNode(h) }

// Trigger sends the current value at path to every listener and OSC destination.
func (s *Server) Trigger(path string) bool { return s.root.Trigger(path) }

// PathChanged tells listeners that the node at path changed in some way other than
// its value.
func (s *Server) PathChanged(path string) bool { return s.root.PathChanged(path) }

// AddDestination resolves addr and adds it to the OSC destinations.
func (s *Server) AddDestination(addr string) (*net.UDPAddr, error) {
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Server", "AddDestination", "resolve "+addr)
	}
	s.root.Destinations().Add(a)
	return a, nil
}

// RemoveDestination removes a destination added earlier. It reports whether it was
// present.
func (s *Server) RemoveDestination(addr string) (bool, error) {
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return false, errors.WrapInvalid(err, "Server", "RemoveDestination", "resolve "+addr)
	}
	return s.root.Destinations().Remove(a), nil
}

func (s *Server) hostInfo() query.HostInfo {
	info := query.HostInfo{Name: s.cfg.Name}
	if a, ok := s.OSCAddr().(*net.UDPAddr); ok {
		info.OSCIP, info.OSCPort = a.IP.String(), a.Port
	}
	if a, ok := s.WSAddr().(*net.TCPAddr); ok {
		info.WSIP, info.WSPort = a.IP.String(), a.Port
	}
	return info
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return fmt.Sprint(a)
}
