package root

import (
	"net"
	"slices"
	"sync"
)

// Destinations is the set of OSC peers that receive value notifications over UDP.
type Destinations struct {
	mu    sync.RWMutex
	addrs map[string]*net.UDPAddr
}

// NewDestinations returns an empty set.
func NewDestinations() *Destinations {
	return &Destinations{addrs: make(map[string]*net.UDPAddr)}
}

// Add inserts addr. It reports false if it was already present.
func (d *Destinations) Add(addr *net.UDPAddr) bool {
	key := addr.String()
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.addrs[key]; ok {
		return false
	}
	d.addrs[key] = addr
	return true
}

// Remove deletes addr. It reports false if it was not present.
func (d *Destinations) Remove(addr *net.UDPAddr) bool {
	key := addr.String()
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.addrs[key]; !ok {
		return false
	}
	delete(d.addrs, key)
	return true
}

// List returns a copy of the current set ordered by address string.
func (d *Destinations) List() []*net.UDPAddr {
	d.mu.RLock()
	keys := make([]string, 0, len(d.addrs))
	for k := range d.addrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]*net.UDPAddr, 0, len(keys))
	for _, k := range keys {
		out = append(out, d.addrs[k])
	}
	d.mu.RUnlock()
	return out
}

// Len returns the number of destinations.
func (d *Destinations) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.addrs)
}
