package value

import (
	"sync/atomic"

	"github.com/scalarwaves/oscquery/osc"
)

// Scalar is the set of types a Value can hold. Each maps 1:1 onto an OSC argument type.
type Scalar interface {
	int32 | float32 | string | osc.TimeTag | int64 | float64 | osc.Char | osc.MIDI | bool
}

// Getter supplies the current value.
type Getter[T Scalar] interface {
	Get() T
}

// Setter receives writes after clipping.
type Setter[T Scalar] interface {
	Set(v T)
}

// GetterSetter is both.
type GetterSetter[T Scalar] interface {
	Getter[T]
	Setter[T]
}

// Cell is an atomically updatable shared value. Reads never block writers.
type Cell[T Scalar] struct {
	p atomic.Pointer[T]
}

// NewCell returns a cell holding v.
func NewCell[T Scalar](v T) *Cell[T] {
	c := &Cell[T]{}
	c.p.Store(&v)
	return c
}

// Get returns the current value, or the zero value for an empty cell.
func (c *Cell[T]) Get() T {
	if p := c.p.Load(); p != nil {
		return *p
	}
	var zero T
	return zero
}

// Set stores v.
func (c *Cell[T]) Set(v T) {
	c.p.Store(&v)
}

// Funcs adapts a pair of callbacks. Either may be nil when the value is built with an
// access mode that does not need it. The callbacks own their own synchronization.
type Funcs[T Scalar] struct {
	Load  func() T
	Store func(T)
}

// Get calls Load.
func (f Funcs[T]) Get() T {
	if f.Load == nil {
		var zero T
		return zero
	}
	return f.Load()
}

// Set calls Store.
func (f Funcs[T]) Set(v T) {
	if f.Store != nil {
		f.Store(v)
	}
}

// Discard is a write-only sink for values whose effect lives entirely in a node's
// write handler.
type Discard[T Scalar] struct{}

// Set drops v.
func (Discard[T]) Set(T) {}
