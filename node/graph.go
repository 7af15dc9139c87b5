package node

import (
	"fmt"
	"strings"

	"github.com/scalarwaves/oscquery/errors"
	"github.com/scalarwaves/oscquery/osc"
)

// Handle is an opaque reference to a node in a Graph. It is valid from the AddNode that
// returned it until that node, or one of its ancestors, is removed. The zero Handle
// never refers to anything.
type Handle struct {
	index      uint32
	generation uint32
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h == Handle{} }

func (h Handle) String() string { return fmt.Sprintf("node#%d.%d", h.index, h.generation) }

// Ref is a resolved node: its handle, full path and the node itself. A Ref is only
// meaningful while the caller still holds the lock it was resolved under.
type Ref struct {
	Handle Handle
	Path   string
	Node   *Node
}

type slot struct {
	node       *Node
	generation uint32
	live       bool
	parent     uint32
	path       string
	children   []uint32
	byName     map[string]uint32
}

const rootIndex = 0

// Graph stores nodes in a slot arena addressed by index and generation. Removing a node
// bumps the generation of its slot, so stale handles fail instead of aliasing a reused
// slot.
type Graph struct {
	slots []slot
	free  []uint32
	live  int
}

// NewGraph returns a graph holding only an unnamed root container at "/".
func NewGraph(description string) *Graph {
	root := &Node{kind: KindContainer, description: description}
	return &Graph{
		slots: []slot{{node: root, generation: 1, live: true, path: "/", byName: map[string]uint32{}}},
		live:  1,
	}
}

// Root returns the handle of the root container. The root can be used as a parent but
// cannot be removed.
func (g *Graph) Root() Handle {
	return Handle{index: rootIndex, generation: g.slots[rootIndex].generation}
}

// Len returns the number of live nodes, including the root.
func (g *Graph) Len() int { return g.live }

func (g *Graph) lookup(h Handle) (*slot, bool) {
	if h.generation == 0 || int(h.index) >= len(g.slots) {
		return nil, false
	}
	s := &g.slots[h.index]
	if !s.live || s.generation != h.generation {
		return nil, false
	}
	return s, true
}

// Valid reports whether h still refers to a live node.
func (g *Graph) Valid(h Handle) bool {
	_, ok := g.lookup(h)
	return ok
}

// AddNode inserts n as the last child of parent, or of the root when parent is nil. The
// tree is unchanged on error.
func (g *Graph) AddNode(n *Node, parent *Handle) (Handle, error) {
	if n == nil {
		return Handle{}, errors.WrapInvalid(errors.ErrInvalidName, "Graph", "AddNode", "check node (nil)")
	}
	p := g.Root()
	if parent != nil {
		p = *parent
	}
	ps, ok := g.lookup(p)
	if !ok {
		return Handle{}, errors.WrapInvalid(errors.ErrInvalidHandle, "Graph", "AddNode", "resolve parent "+p.String())
	}
	if ps.node.kind != KindContainer {
		return Handle{}, errors.WrapInvalid(errors.ErrNotAContainer, "Graph", "AddNode", "resolve parent "+ps.path)
	}
	if _, taken := ps.byName[n.name]; taken {
		return Handle{}, errors.WrapInvalid(errors.ErrNameCollision, "Graph", "AddNode", "insert child "+quote(n.name))
	}

	path := joinPath(ps.path, n.name)
	idx := g.alloc()
	// alloc may grow the slice, so re-fetch the parent.
	ps = &g.slots[p.index]

	s := &g.slots[idx]
	s.node = n
	s.live = true
	s.parent = p.index
	s.path = path
	s.children = nil
	s.byName = nil
	if n.kind == KindContainer {
		s.byName = map[string]uint32{}
	}

	ps.children = append(ps.children, idx)
	ps.byName[n.name] = idx
	g.live++

	return Handle{index: idx, generation: s.generation}, nil
}

func (g *Graph) alloc() uint32 {
	if n := len(g.free); n > 0 {
		idx := g.free[n-1]
		g.free = g.free[:n-1]
		return idx
	}
	g.slots = append(g.slots, slot{generation: 1})
	return uint32(len(g.slots) - 1)
}

// RmNode detaches the subtree rooted at h and invalidates every handle inside it. It
// returns the removed paths, deepest first.
func (g *Graph) RmNode(h Handle) ([]string, error) {
	s, ok := g.lookup(h)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidHandle, "Graph", "RmNode", "resolve "+h.String())
	}
	if h.index == rootIndex {
		return nil, errors.WrapInvalid(errors.ErrInvalidHandle, "Graph", "RmNode", "remove root")
	}

	ps := &g.slots[s.parent]
	delete(ps.byName, s.node.name)
	for i, c := range ps.children {
		if c == h.index {
			ps.children = append(ps.children[:i], ps.children[i+1:]...)
			break
		}
	}

	var removed []string
	g.release(h.index, &removed)
	return removed, nil
}

func (g *Graph) release(idx uint32, removed *[]string) {
	s := &g.slots[idx]
	for _, c := range s.children {
		g.release(c, removed)
	}
	*removed = append(*removed, s.path)

	s.live = false
	s.generation++
	if s.generation == 0 {
		// Skip the zero generation reserved for the zero Handle.
		s.generation = 1
	}
	s.node = nil
	s.children = nil
	s.byName = nil
	s.path = ""
	g.free = append(g.free, idx)
	g.live--
}

// Get returns the node behind h.
func (g *Graph) Get(h Handle) (Ref, bool) {
	s, ok := g.lookup(h)
	if !ok {
		return Ref{}, false
	}
	return Ref{Handle: h, Path: s.path, Node: s.node}, true
}

// Resolve looks up an exact path. Trailing slashes are ignored.
func (g *Graph) Resolve(path string) (Ref, bool) {
	if !strings.HasPrefix(path, "/") {
		return Ref{}, false
	}
	idx := uint32(rootIndex)
	for _, seg := range osc.Segments(path) {
		s := &g.slots[idx]
		next, ok := s.byName[seg]
		if !ok {
			return Ref{}, false
		}
		idx = next
	}
	return g.ref(idx), true
}

// Match resolves an OSC address pattern segment by segment and returns every matching
// node in tree order. An address without pattern characters behaves like Resolve.
func (g *Graph) Match(pattern string) []Ref {
	if !osc.HasPattern(pattern) {
		if r, ok := g.Resolve(pattern); ok {
			return []Ref{r}
		}
		return nil
	}
	if !strings.HasPrefix(pattern, "/") {
		return nil
	}

	frontier := []uint32{rootIndex}
	for _, seg := range osc.Segments(pattern) {
		var next []uint32
		for _, idx := range frontier {
			s := &g.slots[idx]
			if !osc.HasPattern(seg) {
				if c, ok := s.byName[seg]; ok {
					next = append(next, c)
				}
				continue
			}
			for _, c := range s.children {
				if osc.MatchSegment(seg, g.slots[c].node.name) {
					next = append(next, c)
				}
			}
		}
		if len(next) == 0 {
			return nil
		}
		frontier = next
	}

	refs := make([]Ref, 0, len(frontier))
	for _, idx := range frontier {
		refs = append(refs, g.ref(idx))
	}
	return refs
}

func (g *Graph) ref(idx uint32) Ref {
	s := &g.slots[idx]
	return Ref{Handle: Handle{index: idx, generation: s.generation}, Path: s.path, Node: s.node}
}

// Children returns the direct children of h in insertion order.
func (g *Graph) Children(h Handle) []Ref {
	s, ok := g.lookup(h)
	if !ok {
		return nil
	}
	refs := make([]Ref, 0, len(s.children))
	for _, c := range s.children {
		refs = append(refs, g.ref(c))
	}
	return refs
}

// Walk visits every live node depth first, parents before children. Returning false from
// fn skips the node's subtree.
func (g *Graph) Walk(fn func(Ref) bool) {
	g.walk(rootIndex, fn)
}

func (g *Graph) walk(idx uint32, fn func(Ref) bool) {
	if !fn(g.ref(idx)) {
		return
	}
	for _, c := range g.slots[idx].children {
		g.walk(c, fn)
	}
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}
