package root

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionsListenIgnore(t *testing.T) {
	s := NewSubscriptions()

	assert.True(t, s.Listen("c1", "/foo/bar"))
	assert.False(t, s.Listen("c1", "/foo/bar"), "duplicate LISTEN is idempotent")
	assert.Equal(t, []string{"/foo/bar"}, s.Paths("c1"))

	assert.False(t, s.Ignore("c1", "/other"))
	assert.True(t, s.Ignore("c1", "/foo/bar"))
	assert.False(t, s.Ignore("c1", "/foo/bar"))
	assert.Empty(t, s.Paths("c1"))
	assert.Equal(t, 0, s.Len())
}

func TestSubscriptionsWants(t *testing.T) {
	s := NewSubscriptions()
	s.Listen("bar", "/foo/bar")
	s.Listen("other", "/other")
	s.Listen("all", AllPaths)
	s.Listen("parent", "/foo")

	value := Event{Kind: EventValue, Path: "/foo/bar"}
	assert.True(t, s.Wants("bar", value))
	assert.False(t, s.Wants("other", value))
	assert.True(t, s.Wants("all", value))
	assert.False(t, s.Wants("parent", value), "value events match exact paths only")
	assert.False(t, s.Wants("nobody", value))

	removed := Event{Kind: EventRemoved, Path: "/foo"}
	assert.True(t, s.Wants("bar", removed), "listener below a removed subtree hears about it")
	assert.True(t, s.Wants("parent", removed))
	assert.False(t, s.Wants("other", removed))

	added := Event{Kind: EventAdded, Path: "/foo/bar/baz"}
	assert.True(t, s.Wants("bar", added))
	assert.False(t, s.Wants("other", added))

	// Prefix without a segment boundary is unrelated.
	assert.False(t, s.Wants("bar", Event{Kind: EventAdded, Path: "/foo/barn"}))
}

func TestSubscriptionsDropConcurrent(t *testing.T) {
	s := NewSubscriptions()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Listen("c", "/x")
				s.Wants("c", Event{Path: "/x"})
				s.Drop("c")
				s.Drop("c")
			}
		}()
	}
	wg.Wait()
	s.Drop("c")
	assert.Equal(t, 0, s.Len())
}

func TestDestinations(t *testing.T) {
	d := NewDestinations()
	a := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9001}
	b := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}

	assert.True(t, d.Add(a))
	assert.False(t, d.Add(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9001}))
	assert.True(t, d.Add(b))
	assert.Equal(t, []*net.UDPAddr{b, a}, d.List())

	assert.True(t, d.Remove(a))
	assert.False(t, d.Remove(a))
	assert.Equal(t, 1, d.Len())
}
