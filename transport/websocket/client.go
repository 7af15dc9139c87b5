package websocket

import (
	"sync"
	"sync/atomic"

	gws "github.com/gorilla/websocket"
)

// ConnState is the lifecycle state of a connection.
type ConnState int32

const (
	StateAccepted ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type client struct {
	id   string
	conn *gws.Conn

	send chan notification
	done chan struct{}

	state     atomic.Int32
	closed    atomic.Bool
	closeOnce sync.Once

	registered bool // guarded by Transport.clientsMu
}

func newClient(id string, conn *gws.Conn, queueSize int) *client {
	return &client{
		id:   id,
		conn: conn,
		send: make(chan notification, queueSize),
		done: make(chan struct{}),
	}
}

// enqueue queues n without blocking, evicting the oldest entries while the queue is
// full. It reports whether anything was dropped. send is never closed, so a racing
// close only means the entry is never written.
func (c *client) enqueue(n notification) (dropped bool) {
	if c.closed.Load() {
		return false
	}
	for {
		select {
		case c.send <- n:
			return dropped
		default:
		}
		select {
		case <-c.send:
			dropped = true
		default:
		}
	}
}
