package value

// Param is the type-erased view of a Value used by nodes, the dispatcher and the query
// projection. Arguments are OSC argument values as produced and consumed by package osc.
type Param interface {
	// TypeTag is the OSC type tag of the value ('T' for bool).
	TypeTag() byte
	Access() Access
	Unit() string
	ClipMode() ClipMode
	// Range returns the configured bounds as OSC argument values, nil when unset.
	Range() (lo, hi any)
	// Arg reads the current value as an OSC argument. ok is false when not readable.
	Arg() (arg any, ok bool)
	// SetArg clips and stores an OSC argument. It reports false, leaving the value
	// unchanged, when the value is not writable or the argument has the wrong type.
	SetArg(arg any) bool
}

// Value is a typed parameter with a fixed access mode.
type Value[T Scalar] struct {
	access Access
	get    func() T
	set    func(T)
	lo, hi *T
	clip   ClipMode
	unit   string
	codec  *codec[T]
}

var _ Param = (*Value[int32])(nil)

// Get returns the current value. ok is false for write-only values.
func (v *Value[T]) Get() (val T, ok bool) {
	if !v.access.Readable() || v.get == nil {
		return val, false
	}
	return v.get(), true
}

// Set applies the clip policy and stores the result. It reports false for read-only
// values; the dispatcher never routes writes to them.
func (v *Value[T]) Set(val T) bool {
	if !v.access.Writable() || v.set == nil {
		return false
	}
	v.set(v.codec.clamp(val, v.lo, v.hi, v.clip))
	return true
}

// Clamp returns val with the clip policy applied, without storing it.
func (v *Value[T]) Clamp(val T) T {
	return v.codec.clamp(val, v.lo, v.hi, v.clip)
}

// TypeTag implements Param.
func (v *Value[T]) TypeTag() byte { return v.codec.tag }

// Access implements Param.
func (v *Value[T]) Access() Access { return v.access }

// Unit implements Param.
func (v *Value[T]) Unit() string { return v.unit }

// ClipMode implements Param.
func (v *Value[T]) ClipMode() ClipMode { return v.clip }

// Range implements Param.
func (v *Value[T]) Range() (lo, hi any) {
	if v.lo != nil {
		lo = v.codec.toArg(*v.lo)
	}
	if v.hi != nil {
		hi = v.codec.toArg(*v.hi)
	}
	return lo, hi
}

// Arg implements Param.
func (v *Value[T]) Arg() (any, bool) {
	val, ok := v.Get()
	if !ok {
		return nil, false
	}
	return v.codec.toArg(val), true
}

// SetArg implements Param.
func (v *Value[T]) SetArg(arg any) bool {
	if !v.access.Writable() {
		return false
	}
	val, ok := v.codec.fromArg(arg)
	if !ok {
		return false
	}
	return v.Set(val)
}

// Builder configures a Value before it is frozen by Build.
type Builder[T Scalar] struct {
	v Value[T]
}

// NewGet starts a read-only value backed by src.
func NewGet[T Scalar](src Getter[T]) *Builder[T] {
	return &Builder[T]{v: Value[T]{access: AccessGet, get: src.Get, codec: codecFor[T]()}}
}

// NewSet starts a write-only value backed by dst.
func NewSet[T Scalar](dst Setter[T]) *Builder[T] {
	return &Builder[T]{v: Value[T]{access: AccessSet, set: dst.Set, codec: codecFor[T]()}}
}

// NewGetSet starts a readable and writable value backed by rw.
func NewGetSet[T Scalar](rw GetterSetter[T]) *Builder[T] {
	return &Builder[T]{v: Value[T]{access: AccessGetSet, get: rw.Get, set: rw.Set, codec: codecFor[T]()}}
}

// WithUnit sets the unit label, e.g. "speed.mph".
func (b *Builder[T]) WithUnit(unit string) *Builder[T] {
	b.v.unit = unit
	return b
}

// WithRange sets both bounds.
func (b *Builder[T]) WithRange(lo, hi T) *Builder[T] {
	b.v.lo, b.v.hi = &lo, &hi
	return b
}

// WithMin sets the lower bound only.
func (b *Builder[T]) WithMin(lo T) *Builder[T] {
	b.v.lo = &lo
	return b
}

// WithMax sets the upper bound only.
func (b *Builder[T]) WithMax(hi T) *Builder[T] {
	b.v.hi = &hi
	return b
}

// WithClipMode sets the clip policy applied on every write.
func (b *Builder[T]) WithClipMode(mode ClipMode) *Builder[T] {
	b.v.clip = mode
	return b
}

// Build returns the configured value. The builder may be reused; each call returns an
// independent Value sharing the same backing store.
func (b *Builder[T]) Build() *Value[T] {
	v := b.v
	return &v
}
