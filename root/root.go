// Package root is the synchronization boundary of the server: one tree behind one
// reader-writer lock, plus the subscription and destination registries the transports
// share.
//
// Structural changes take the write lock. Resolution, reads, writes to values and
// packet dispatch take the read lock. Notifications are fanned out to sinks only after
// the lock has been released, so a slow transport never stalls the tree.
package root

import (
	"log/slog"
	"net"
	"sync"

	"github.com/scalarwaves/oscquery/errors"
	"github.com/scalarwaves/oscquery/metric"
	"github.com/scalarwaves/oscquery/node"
	"github.com/scalarwaves/oscquery/osc"
)

// Config holds the optional collaborators of a Root.
type Config struct {
	// Description is the root container's description.
	Description string
	Metrics     *metric.Metrics
	Logger      *slog.Logger
}

// Root owns the tree and the transport registries for the life of the process.
type Root struct {
	mu    sync.RWMutex
	graph *node.Graph

	subs  *Subscriptions
	dests *Destinations

	sinkMu sync.RWMutex
	sinks  map[int]Sink
	nextID int

	metrics *metric.Metrics
	logger  *slog.Logger
}

var _ node.Mutator = (*Root)(nil)

// New creates a Root holding an empty tree.
func New(cfg Config) *Root {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "root")
	}
	r := &Root{
		graph:   node.NewGraph(cfg.Description),
		subs:    NewSubscriptions(),
		dests:   NewDestinations(),
		sinks:   make(map[int]Sink),
		metrics: cfg.Metrics,
		logger:  logger,
	}
	r.metrics.SetGraphNodes(r.graph.Len())
	return r
}

// Subscriptions returns the WebSocket subscription registry.
func (r *Root) Subscriptions() *Subscriptions { return r.subs }

// Destinations returns the OSC destination registry.
func (r *Root) Destinations() *Destinations { return r.dests }

// AddSink registers s for notifications and returns a function that unregisters it.
func (r *Root) AddSink(s Sink) (remove func()) {
	r.sinkMu.Lock()
	id := r.nextID
	r.nextID++
	r.sinks[id] = s
	r.sinkMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.sinkMu.Lock()
			delete(r.sinks, id)
			r.sinkMu.Unlock()
		})
	}
}

// AddNode inserts n under parent, or under the root when parent is nil, and notifies
// PATH_ADDED.
func (r *Root) AddNode(n *node.Node, parent *node.Handle) (node.Handle, error) {
	r.mu.Lock()
	h, err := r.graph.AddNode(n, parent)
	var path string
	if err == nil {
		ref, _ := r.graph.Get(h)
		path = ref.Path
		r.metrics.SetGraphNodes(r.graph.Len())
	}
	r.mu.Unlock()

	if err != nil {
		return node.Handle{}, errors.Wrap(err, "Root", "AddNode", "insert node")
	}
	r.logger.Debug("node added", "path", path, "kind", n.Kind().String())
	r.Notify(Event{Kind: EventAdded, Path: path})
	return h, nil
}

// RmNode removes the subtree at h and notifies PATH_REMOVED for its root. A second call
// with the same handle fails with ErrInvalidHandle.
func (r *Root) RmNode(h node.Handle) error {
	r.mu.Lock()
	removed, err := r.graph.RmNode(h)
	if err == nil {
		r.metrics.SetGraphNodes(r.graph.Len())
	}
	r.mu.Unlock()

	if err != nil {
		return errors.Wrap(err, "Root", "RmNode", "remove node")
	}
	// removed is deepest first; the subtree root is last.
	path := removed[len(removed)-1]
	r.logger.Debug("node removed", "path", path, "nodes", len(removed))
	r.Notify(Event{Kind: EventRemoved, Path: path})
	return nil
}

// Resolve looks up an exact path. The returned node stays usable after the lock is
// released; its handle may go stale.
func (r *Root) Resolve(path string) (node.Ref, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph.Resolve(path)
}

// Len returns the number of live nodes.
func (r *Root) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph.Len()
}

// Snapshot copies the subtree at path under the read lock.
func (r *Root) Snapshot(path string) (node.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph.Snapshot(path)
}

// TriggerPath reads the current values at path into an OSC message addressed to path.
// It reports false when the path is unknown or not readable. Delivery is up to the
// caller; see Trigger.
func (r *Root) TriggerPath(path string) (*osc.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.graph.Resolve(path)
	if !ok {
		return nil, false
	}
	return ref.Node.Message(ref.Path)
}

// Trigger is TriggerPath followed by a value notification to every sink.
func (r *Root) Trigger(path string) bool {
	msg, ok := r.TriggerPath(path)
	if !ok {
		return false
	}
	r.metrics.RecordTrigger()
	r.Notify(Event{Kind: EventValue, Path: msg.Address, Message: msg})
	return true
}

// PathChanged notifies PATH_CHANGED for an existing path.
func (r *Root) PathChanged(path string) bool {
	ref, ok := r.Resolve(path)
	if !ok {
		return false
	}
	r.Notify(Event{Kind: EventChanged, Path: ref.Path})
	return true
}

// Notify fans ev out to every sink. It must not be called with the tree lock held.
func (r *Root) Notify(ev Event) {
	r.sinkMu.RLock()
	sinks := make([]Sink, 0, len(r.sinks))
	for _, s := range r.sinks {
		sinks = append(sinks, s)
	}
	r.sinkMu.RUnlock()

	r.metrics.RecordNotification(ev.Kind.String())
	for _, s := range sinks {
		s.Notify(ev)
	}
}

// HandleOSCPacket dispatches every message in p against the tree. Bundles are flattened;
// a message inside a bundle carries the bundle's time tag, otherwise at. Unknown
// addresses and writes to read-only nodes are dropped silently.
//
// Once the read lock is released, a value notification is sent for every node written,
// then any AfterFuncs returned by write handlers run in order.
func (r *Root) HandleOSCPacket(p osc.Packet, from net.Addr, at *osc.TimeTag) {
	var (
		events []Event
		after  []node.AfterFunc
	)

	r.mu.RLock()
	osc.Walk(p, func(msg *osc.Message, bundleTime *osc.TimeTag) {
		t := at
		if bundleTime != nil {
			t = bundleTime
		}

		refs := r.graph.Match(msg.Address)
		if len(refs) == 0 {
			r.metrics.RecordDispatch(metric.DispatchUnmatched)
			return
		}
		for _, ref := range refs {
			n := ref.Node
			if !n.Writable() {
				if n.Kind() == node.KindContainer {
					r.metrics.RecordDispatch(metric.DispatchUnmatched)
				} else {
					r.metrics.RecordDispatch(metric.DispatchReadOnly)
				}
				continue
			}

			_, fn := n.Apply(msg.Arguments, from, t)
			r.metrics.RecordDispatch(metric.DispatchApplied)
			if fn != nil {
				after = append(after, fn)
			}

			// Readable nodes report their stored, clipped value. Write-only nodes echo
			// what was written.
			out, ok := n.Message(ref.Path)
			if !ok {
				out = osc.NewMessage(ref.Path, msg.Arguments...)
			}
			events = append(events, Event{Kind: EventValue, Path: ref.Path, Message: out})
		}
	})
	r.mu.RUnlock()

	for _, ev := range events {
		r.Notify(ev)
	}
	for _, fn := range after {
		fn(r)
	}
}
