// Package node defines the address-space tree: container and parameter nodes, write
// handlers, and the arena-backed Graph that owns them.
//
// A Graph is not safe for concurrent use. Package root wraps one behind a single
// reader-writer lock.
package node

import (
	"net"
	"strings"

	"github.com/scalarwaves/oscquery/errors"
	"github.com/scalarwaves/oscquery/osc"
	"github.com/scalarwaves/oscquery/value"
)

// Kind identifies what a node is.
type Kind int

const (
	// KindContainer nodes only group children.
	KindContainer Kind = iota
	// KindGet nodes expose read-only parameters.
	KindGet
	// KindSet nodes expose write-only parameters.
	KindSet
	// KindGetSet nodes expose readable and writable parameters.
	KindGetSet
)

func (k Kind) String() string {
	switch k {
	case KindContainer:
		return "container"
	case KindGet:
		return "get"
	case KindSet:
		return "set"
	case KindGetSet:
		return "getset"
	default:
		return "unknown"
	}
}

// Access returns the OSCQuery access mode implied by the kind.
func (k Kind) Access() value.Access {
	switch k {
	case KindGet:
		return value.AccessGet
	case KindSet:
		return value.AccessSet
	case KindGetSet:
		return value.AccessGetSet
	default:
		return value.AccessNone
	}
}

// Mutator is the part of the tree API handed to an AfterFunc once the dispatch that
// produced it no longer holds the tree lock.
type Mutator interface {
	AddNode(n *Node, parent *Handle) (Handle, error)
	RmNode(h Handle) error
	// Trigger re-sends the current value at path; PathChanged reports a metadata change.
	Trigger(path string) bool
	PathChanged(path string) bool
}

// AfterFunc is returned by a Handler to act on the tree in response to a write. It runs
// after dispatch of the whole packet has finished.
type AfterFunc func(m Mutator)

// Handler is invoked for every message written to a Set or GetSet node, after the
// arguments have been applied to the node's params. from is the sender's address and at
// the enclosing bundle's time tag; either may be nil. The returned AfterFunc may be nil.
//
// Handlers run while the tree is read-locked. They must not call any method of the
// owning Root, not even read-only ones such as Resolve or Trigger: a second read lock on
// the same goroutine deadlocks once a writer is waiting. Return an AfterFunc instead.
type Handler func(args []any, from net.Addr, at *osc.TimeTag) AfterFunc

// Node is a single element of the tree. Nodes carry no position: the Graph records where
// each one lives.
type Node struct {
	name        string
	description string
	kind        Kind
	params      []value.Param
	handler     Handler
}

// NewContainer returns a container node.
func NewContainer(name, description string) (*Node, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return &Node{name: name, description: description, kind: KindContainer}, nil
}

// NewGet returns a read-only parameter node. Every param must be readable.
func NewGet(name, description string, params ...value.Param) (*Node, error) {
	return newLeaf(KindGet, name, description, nil, params)
}

// NewSet returns a write-only parameter node. Every param must be writable. A Set node
// with no params passes every message straight to its handler.
func NewSet(name, description string, handler Handler, params ...value.Param) (*Node, error) {
	return newLeaf(KindSet, name, description, handler, params)
}

// NewGetSet returns a readable and writable parameter node. Every param must be
// read-write.
func NewGetSet(name, description string, handler Handler, params ...value.Param) (*Node, error) {
	return newLeaf(KindGetSet, name, description, handler, params)
}

func newLeaf(kind Kind, name, description string, handler Handler, params []value.Param) (*Node, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if kind != KindSet && len(params) == 0 {
		return nil, errors.WrapInvalid(errors.ErrAccessMismatch, "Node", "New"+kindTitle(kind), "check params (none given)")
	}
	for _, p := range params {
		if !accepts(kind, p.Access()) {
			return nil, errors.WrapInvalid(errors.ErrAccessMismatch, "Node", "New"+kindTitle(kind),
				"check "+p.Access().String()+" param")
		}
	}
	return &Node{
		name:        name,
		description: description,
		kind:        kind,
		params:      append([]value.Param(nil), params...),
		handler:     handler,
	}, nil
}

func accepts(kind Kind, a value.Access) bool {
	switch kind {
	case KindGet:
		return a.Readable()
	case KindSet:
		return a.Writable()
	case KindGetSet:
		return a == value.AccessGetSet
	}
	return false
}

func kindTitle(k Kind) string {
	switch k {
	case KindGet:
		return "Get"
	case KindSet:
		return "Set"
	case KindGetSet:
		return "GetSet"
	}
	return "Container"
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, "/#*?[]{}, ") {
		return errors.WrapInvalid(errors.ErrInvalidName, "Node", "validateName", "check name "+quote(name))
	}
	return nil
}

func quote(s string) string { return "\"" + s + "\"" }

// Name returns the node's path segment.
func (n *Node) Name() string { return n.name }

// Description returns the human readable description, possibly empty.
func (n *Node) Description() string { return n.description }

// Kind returns the node kind.
func (n *Node) Kind() Kind { return n.kind }

// Params returns the node's params in argument order.
func (n *Node) Params() []value.Param { return n.params }

// Writable reports whether inbound messages are applied to this node.
func (n *Node) Writable() bool { return n.kind.Access().Writable() }

// Readable reports whether the node's current values can be read.
func (n *Node) Readable() bool { return n.kind.Access().Readable() }

// TypeTags returns the OSC type tag string of the node's params without the leading
// comma, e.g. "ifs". Containers return "".
func (n *Node) TypeTags() string {
	var b strings.Builder
	for _, p := range n.params {
		b.WriteByte(p.TypeTag())
	}
	return b.String()
}

// Apply writes args positionally to the node's params and then calls the handler. An
// argument whose type does not match its param is dropped, as are extra arguments and
// Nil, Infinitum or Blob arguments. It reports whether at least one param changed.
//
// Apply on a node that is not writable is a no-op.
func (n *Node) Apply(args []any, from net.Addr, at *osc.TimeTag) (changed bool, after AfterFunc) {
	if !n.Writable() {
		return false, nil
	}
	for i, arg := range args {
		if i >= len(n.params) {
			break
		}
		if n.params[i].SetArg(arg) {
			changed = true
		}
	}
	if n.handler != nil {
		after = n.handler(args, from, at)
	}
	return changed, after
}

// Message reads the node's current values into a message for address. ok is false when
// the node is not readable.
func (n *Node) Message(address string) (msg *osc.Message, ok bool) {
	if !n.Readable() {
		return nil, false
	}
	msg = osc.NewMessage(address)
	for _, p := range n.params {
		if arg, ok := p.Arg(); ok {
			msg.Append(arg)
		}
	}
	return msg, true
}
