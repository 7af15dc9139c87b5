package root

import (
	"slices"
	"sync"
)

// AllPaths subscribes a connection to every notification.
const AllPaths = "/"

// Subscriptions records which paths each connection listens to. It is synchronized on
// its own and never touches the tree lock.
type Subscriptions struct {
	mu    sync.RWMutex
	conns map[string]map[string]struct{}
}

// NewSubscriptions returns an empty registry.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{conns: make(map[string]map[string]struct{})}
}

// Listen subscribes conn to path. It reports false when the subscription already
// existed.
func (s *Subscriptions) Listen(conn, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, ok := s.conns[conn]
	if !ok {
		paths = make(map[string]struct{})
		s.conns[conn] = paths
	}
	if _, dup := paths[path]; dup {
		return false
	}
	paths[path] = struct{}{}
	return true
}

// Ignore removes a subscription. It reports false when there was none.
func (s *Subscriptions) Ignore(conn, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, ok := s.conns[conn]
	if !ok {
		return false
	}
	if _, ok := paths[path]; !ok {
		return false
	}
	delete(paths, path)
	if len(paths) == 0 {
		delete(s.conns, conn)
	}
	return true
}

// Drop removes every subscription of conn.
func (s *Subscriptions) Drop(conn string) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Paths returns the sorted paths conn listens to.
func (s *Subscriptions) Paths(conn string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.conns[conn]))
	for p := range s.conns[conn] {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Wants reports whether conn should receive ev. Value events go to listeners of the
// exact path. Structural events also reach listeners of any ancestor or descendant, so
// a removal of /a is seen by a listener of /a/b. AllPaths receives everything.
func (s *Subscriptions) Wants(conn string, ev Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := s.conns[conn]
	if len(paths) == 0 {
		return false
	}
	if _, all := paths[AllPaths]; all {
		return true
	}
	if _, exact := paths[ev.Path]; exact {
		return true
	}
	if !ev.Kind.Structural() {
		return false
	}
	for p := range paths {
		if related(p, ev.Path) {
			return true
		}
	}
	return false
}

// Len returns the number of connections with at least one subscription.
func (s *Subscriptions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}
