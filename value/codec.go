package value

import (
	"cmp"

	"github.com/scalarwaves/oscquery/osc"
)

// codec binds a Scalar type to its OSC tag, argument conversion and clamp rule.
type codec[T Scalar] struct {
	tag     byte
	toArg   func(T) any
	fromArg func(any) (T, bool)
	clamp   func(v T, lo, hi *T, mode ClipMode) T
}

type ordered interface {
	Scalar
	cmp.Ordered
}

func codecFor[T Scalar]() *codec[T] {
	var zero T
	var c any
	switch any(zero).(type) {
	case int32:
		c = orderedCodec[int32]('i')
	case float32:
		c = orderedCodec[float32]('f')
	case string:
		c = orderedCodec[string]('s')
	case int64:
		c = orderedCodec[int64]('h')
	case float64:
		c = orderedCodec[float64]('d')
	case osc.Char:
		c = orderedCodec[osc.Char]('c')
	case osc.TimeTag:
		c = &codec[osc.TimeTag]{
			tag:     't',
			toArg:   func(v osc.TimeTag) any { return v },
			fromArg: assertArg[osc.TimeTag],
			clamp:   clampTimeTag,
		}
	case osc.MIDI:
		c = &codec[osc.MIDI]{
			tag:     'm',
			toArg:   func(v osc.MIDI) any { return v },
			fromArg: assertArg[osc.MIDI],
			clamp:   clampMIDI,
		}
	case bool:
		c = &codec[bool]{
			tag:     'T',
			toArg:   func(v bool) any { return v },
			fromArg: assertArg[bool],
			clamp:   func(v bool, _, _ *bool, _ ClipMode) bool { return v },
		}
	}
	return c.(*codec[T])
}

func orderedCodec[T ordered](tag byte) *codec[T] {
	return &codec[T]{
		tag:     tag,
		toArg:   func(v T) any { return v },
		fromArg: assertArg[T],
		clamp:   clampOrdered[T],
	}
}

func assertArg[T Scalar](arg any) (T, bool) {
	v, ok := arg.(T)
	return v, ok
}

func clampOrdered[T cmp.Ordered](v T, lo, hi *T, mode ClipMode) T {
	if lo != nil && mode.clampsLow() && v < *lo {
		return *lo
	}
	if hi != nil && mode.clampsHigh() && v > *hi {
		return *hi
	}
	return v
}

func compareTimeTag(a, b osc.TimeTag) int {
	if c := cmp.Compare(a.Seconds, b.Seconds); c != 0 {
		return c
	}
	return cmp.Compare(a.Fraction, b.Fraction)
}

func clampTimeTag(v osc.TimeTag, lo, hi *osc.TimeTag, mode ClipMode) osc.TimeTag {
	if lo != nil && mode.clampsLow() && compareTimeTag(v, *lo) < 0 {
		return *lo
	}
	if hi != nil && mode.clampsHigh() && compareTimeTag(v, *hi) > 0 {
		return *hi
	}
	return v
}

// clampMIDI clamps each of the four bytes independently.
func clampMIDI(v osc.MIDI, lo, hi *osc.MIDI, mode ClipMode) osc.MIDI {
	part := func(x uint8, l, h func(osc.MIDI) uint8) uint8 {
		var lp, hp *uint8
		if lo != nil {
			b := l(*lo)
			lp = &b
		}
		if hi != nil {
			b := h(*hi)
			hp = &b
		}
		return clampOrdered(x, lp, hp, mode)
	}
	port := func(m osc.MIDI) uint8 { return m.Port }
	status := func(m osc.MIDI) uint8 { return m.Status }
	data1 := func(m osc.MIDI) uint8 { return m.Data1 }
	data2 := func(m osc.MIDI) uint8 { return m.Data2 }
	return osc.MIDI{
		Port:   part(v.Port, port, port),
		Status: part(v.Status, status, status),
		Data1:  part(v.Data1, data1, data1),
		Data2:  part(v.Data2, data2, data2),
	}
}
