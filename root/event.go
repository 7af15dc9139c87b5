package root

import (
	"strings"

	"github.com/scalarwaves/oscquery/osc"
)

// EventKind classifies a notification.
type EventKind int

const (
	// EventValue carries the current value of a path as an OSC message.
	EventValue EventKind = iota
	// EventAdded reports a new node.
	EventAdded
	// EventRemoved reports a removed subtree. Path is the subtree root.
	EventRemoved
	// EventRenamed is reserved; the tree does not support renames.
	EventRenamed
	// EventChanged reports that a node's metadata changed.
	EventChanged
)

func (k EventKind) String() string {
	switch k {
	case EventValue:
		return "value"
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventRenamed:
		return "renamed"
	case EventChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// Command returns the WebSocket command name for a structural event, or "" for
// EventValue.
func (k EventKind) Command() string {
	switch k {
	case EventAdded:
		return "PATH_ADDED"
	case EventRemoved:
		return "PATH_REMOVED"
	case EventRenamed:
		return "PATH_RENAMED"
	case EventChanged:
		return "PATH_CHANGED"
	default:
		return ""
	}
}

// Structural reports whether the event describes the tree rather than a value.
func (k EventKind) Structural() bool { return k != EventValue }

// Event is a change notification fanned out to every Sink.
type Event struct {
	Kind    EventKind
	Path    string
	Message *osc.Message // set for EventValue only
}

// Sink receives notifications. Notify is called without the tree lock held but on the
// goroutine that caused the change, so implementations must not block for long.
type Sink interface {
	Notify(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Notify calls f.
func (f SinkFunc) Notify(ev Event) { f(ev) }

// related reports whether a and b are equal or one is an ancestor of the other.
func related(a, b string) bool {
	return a == b || isAncestor(a, b) || isAncestor(b, a)
}

func isAncestor(anc, path string) bool {
	if anc == "/" {
		return true
	}
	return strings.HasPrefix(path, anc) && len(path) > len(anc) && path[len(anc)] == '/'
}
