package value

import (
	"sync"
	"testing"

	"github.com/scalarwaves/oscquery/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessModes(t *testing.T) {
	assert.True(t, AccessGet.Readable())
	assert.False(t, AccessGet.Writable())
	assert.False(t, AccessSet.Readable())
	assert.True(t, AccessSet.Writable())
	assert.True(t, AccessGetSet.Readable())
	assert.True(t, AccessGetSet.Writable())
	assert.False(t, AccessNone.Readable())

	for _, a := range []Access{AccessNone, AccessGet, AccessSet, AccessGetSet} {
		parsed, ok := ParseAccess(a.String())
		require.True(t, ok)
		assert.Equal(t, a, parsed)
	}
	_, ok := ParseAccess("bogus")
	assert.False(t, ok)
}

func TestClipModes(t *testing.T) {
	tests := []struct {
		mode ClipMode
		in   int32
		want int32
	}{
		{ClipNone, 15, 15},
		{ClipNone, -5, -5},
		{ClipLow, -5, 0},
		{ClipLow, 15, 15},
		{ClipHigh, 15, 10},
		{ClipHigh, -5, -5},
		{ClipBoth, 15, 10},
		{ClipBoth, -5, 0},
		{ClipBoth, 7, 7},
	}
	for _, tc := range tests {
		t.Run(tc.mode.String(), func(t *testing.T) {
			cell := NewCell[int32](0)
			v := NewGetSet[int32](cell).WithRange(0, 10).WithClipMode(tc.mode).Build()
			require.True(t, v.Set(tc.in))
			got, ok := v.Get()
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClipWithSingleBound(t *testing.T) {
	cell := NewCell[float64](0)
	v := NewGetSet[float64](cell).WithMax(1.0).WithClipMode(ClipBoth).Build()
	v.Set(-100)
	assert.Equal(t, -100.0, cell.Get(), "no lower bound configured")
	v.Set(2)
	assert.Equal(t, 1.0, cell.Get())
}

func TestClipMIDIPerComponent(t *testing.T) {
	cell := NewCell(osc.MIDI{})
	v := NewGetSet[osc.MIDI](cell).
		WithRange(osc.MIDI{Port: 0, Status: 0x80, Data1: 10, Data2: 0}, osc.MIDI{Port: 3, Status: 0x9f, Data1: 100, Data2: 64}).
		WithClipMode(ClipBoth).
		Build()

	v.Set(osc.MIDI{Port: 9, Status: 0x10, Data1: 50, Data2: 127})
	assert.Equal(t, osc.MIDI{Port: 3, Status: 0x80, Data1: 50, Data2: 64}, cell.Get())
}

func TestClipTimeTag(t *testing.T) {
	cell := NewCell(osc.TimeTag{})
	v := NewGetSet[osc.TimeTag](cell).
		WithRange(osc.TimeTag{Seconds: 10}, osc.TimeTag{Seconds: 20, Fraction: 5}).
		WithClipMode(ClipBoth).
		Build()

	v.Set(osc.TimeTag{Seconds: 20, Fraction: 9})
	assert.Equal(t, osc.TimeTag{Seconds: 20, Fraction: 5}, cell.Get())
	v.Set(osc.TimeTag{Seconds: 9, Fraction: 999})
	assert.Equal(t, osc.TimeTag{Seconds: 10}, cell.Get())
}

func TestGetOnlyRejectsWrites(t *testing.T) {
	cell := NewCell[int32](5)
	v := NewGet[int32](cell).Build()

	assert.False(t, v.Set(9))
	assert.False(t, v.SetArg(int32(9)))
	assert.Equal(t, int32(5), cell.Get())

	arg, ok := v.Arg()
	require.True(t, ok)
	assert.Equal(t, int32(5), arg)
}

func TestSetOnlyIsNotReadable(t *testing.T) {
	var got []string
	v := NewSet[string](Funcs[string]{Store: func(s string) { got = append(got, s) }}).Build()

	_, ok := v.Get()
	assert.False(t, ok)
	_, ok = v.Arg()
	assert.False(t, ok)

	assert.True(t, v.SetArg("hello"))
	assert.Equal(t, []string{"hello"}, got)
}

func TestSetArgTypeMismatch(t *testing.T) {
	cell := NewCell[float32](1)
	v := NewGetSet[float32](cell).Build()

	assert.False(t, v.SetArg(int32(3)), "ints are not coerced to floats")
	assert.False(t, v.SetArg("3"))
	assert.Equal(t, float32(1), cell.Get())
	assert.True(t, v.SetArg(float32(3)))
	assert.Equal(t, float32(3), cell.Get())
}

// Every Scalar type survives a trip through OSC arguments and the wire.
func TestRoundTripAllTypes(t *testing.T) {
	check := func(t *testing.T, p Param, in any) {
		t.Helper()
		require.True(t, p.SetArg(in))
		arg, ok := p.Arg()
		require.True(t, ok)

		data, err := osc.Encode(osc.NewMessage("/v", arg))
		require.NoError(t, err)
		pkt, err := osc.Decode(data)
		require.NoError(t, err)
		decoded := pkt.(*osc.Message).Arguments[0]
		assert.Equal(t, in, decoded)

		require.True(t, p.SetArg(decoded))
		again, _ := p.Arg()
		assert.Equal(t, in, again)
	}

	t.Run("int32", func(t *testing.T) { check(t, NewGetSet[int32](NewCell[int32](0)).Build(), int32(-7)) })
	t.Run("float32", func(t *testing.T) { check(t, NewGetSet[float32](NewCell[float32](0)).Build(), float32(0.25)) })
	t.Run("string", func(t *testing.T) { check(t, NewGetSet[string](NewCell("")).Build(), "héllo") })
	t.Run("time", func(t *testing.T) {
		check(t, NewGetSet[osc.TimeTag](NewCell(osc.TimeTag{})).Build(), osc.TimeTag{Seconds: 1, Fraction: 2})
	})
	t.Run("int64", func(t *testing.T) { check(t, NewGetSet[int64](NewCell[int64](0)).Build(), int64(1)<<40) })
	t.Run("float64", func(t *testing.T) { check(t, NewGetSet[float64](NewCell[float64](0)).Build(), 2.5e100) })
	t.Run("char", func(t *testing.T) { check(t, NewGetSet[osc.Char](NewCell[osc.Char](0)).Build(), osc.Char('z')) })
	t.Run("midi", func(t *testing.T) {
		check(t, NewGetSet[osc.MIDI](NewCell(osc.MIDI{})).Build(), osc.MIDI{Port: 1, Status: 2, Data1: 3, Data2: 4})
	})
	t.Run("bool", func(t *testing.T) {
		p := NewGetSet[bool](NewCell(false)).Build()
		check(t, p, true)
		check(t, p, false)
	})
}

func TestRoundTripRespectsClip(t *testing.T) {
	v := NewGetSet[int32](NewCell[int32](0)).WithRange(0, 10).WithClipMode(ClipBoth).Build()
	require.True(t, v.SetArg(int32(15)))
	arg, _ := v.Arg()
	assert.Equal(t, int32(10), arg)
}

func TestParamMetadata(t *testing.T) {
	v := NewGetSet[int32](NewCell[int32](2084)).
		WithUnit("speed.mph").
		WithRange(0, 5000).
		WithClipMode(ClipHigh).
		Build()

	var p Param = v
	assert.Equal(t, byte('i'), p.TypeTag())
	assert.Equal(t, AccessGetSet, p.Access())
	assert.Equal(t, "speed.mph", p.Unit())
	assert.Equal(t, ClipHigh, p.ClipMode())
	lo, hi := p.Range()
	assert.Equal(t, int32(0), lo)
	assert.Equal(t, int32(5000), hi)

	b := NewGet[bool](NewCell(true)).Build()
	assert.Equal(t, byte('T'), b.TypeTag())
	lo, hi = b.Range()
	assert.Nil(t, lo)
	assert.Nil(t, hi)
}

func TestCellConcurrentAccess(t *testing.T) {
	cell := NewCell[int64](0)
	v := NewGetSet[int64](cell).WithRange(0, 1000).WithClipMode(ClipBoth).Build()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int64) {
			defer wg.Done()
			for j := int64(0); j < 500; j++ {
				v.Set(n*1000 + j)
			}
		}(int64(i))
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				got, _ := v.Get()
				assert.GreaterOrEqual(t, got, int64(0))
				assert.LessOrEqual(t, got, int64(1000))
			}
		}()
	}
	wg.Wait()
}

func TestDiscardAndFuncsZero(t *testing.T) {
	v := NewSet[int32](Discard[int32]{}).Build()
	assert.True(t, v.Set(1))

	var f Funcs[int32]
	assert.Equal(t, int32(0), f.Get())
	f.Set(3)
}
