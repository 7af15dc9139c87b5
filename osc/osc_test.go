package osc

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/scalarwaves/oscquery/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := NewMessage("/foo/bar",
		int32(-42),
		float32(3.5),
		"hello",
		Blob{1, 2, 3},
		int64(math.MaxInt64),
		TimeTag{Seconds: 10, Fraction: 20},
		float64(-1.25),
		Char('x'),
		MIDI{Port: 1, Status: 0x90, Data1: 60, Data2: 127},
		true,
		false,
		Nil{},
		Infinitum{},
	)

	data, err := Encode(msg)
	require.NoError(t, err)
	assert.Zero(t, len(data)%4, "encoded size must be 4-aligned")

	p, err := Decode(data)
	require.NoError(t, err)
	got, ok := p.(*Message)
	require.True(t, ok)
	assert.Equal(t, msg, got)

	tags, err := got.TypeTags()
	require.NoError(t, err)
	assert.Equal(t, ",ifsbhtdcmTFNI", tags)
}

func TestEncodeKnownBytes(t *testing.T) {
	data, err := Encode(NewMessage("/a", int32(1)))
	require.NoError(t, err)
	assert.Equal(t, []byte{
		'/', 'a', 0, 0,
		',', 'i', 0, 0,
		0, 0, 0, 1,
	}, data)

	// String of exactly four bytes still needs a terminator word.
	data, err = Encode(NewMessage("/abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte{'/', 'a', 'b', 'c', 0, 0, 0, 0, ',', 0, 0, 0}, data)
}

func TestBundleRoundTripAndWalk(t *testing.T) {
	inner := &Bundle{Time: TimeTag{Seconds: 2}, Elements: []Packet{NewMessage("/c", "x")}}
	b := &Bundle{
		Time:     Immediately,
		Elements: []Packet{NewMessage("/a", int32(1)), inner, NewMessage("/b")},
	}

	data, err := Encode(b)
	require.NoError(t, err)
	p, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, b, p)

	var seen []string
	var times []TimeTag
	Walk(p, func(m *Message, at *TimeTag) {
		seen = append(seen, m.Address)
		require.NotNil(t, at)
		times = append(times, *at)
	})
	assert.Equal(t, []string{"/a", "/c", "/b"}, seen)
	assert.Equal(t, []TimeTag{Immediately, {Seconds: 2}, Immediately}, times)

	Walk(NewMessage("/bare"), func(_ *Message, at *TimeTag) {
		assert.Nil(t, at)
	})
}

func TestDecodeMalformed(t *testing.T) {
	good, err := Encode(NewMessage("/foo", int32(7), "str"))
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":          {},
		"unaligned":      {'/', 'a', 0},
		"bad start":      {'x', 0, 0, 0},
		"no terminator":  {'/', 'a', 'b', 'c'},
		"bad tag string": {'/', 'a', 0, 0, 'i', 0, 0, 0},
		"truncated arg":  good[:len(good)-8],
		"unknown tag":    {'/', 'a', 0, 0, ',', 'Q', 0, 0},
		"bad bundle":     {'#', 'b', 'u', 'n', 'd', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 64},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrDecodeFailure)
		})
	}
}

func TestDecodeNestingLimit(t *testing.T) {
	var p Packet = NewMessage("/deep")
	for i := 0; i < maxBundleDepth+1; i++ {
		p = &Bundle{Time: Immediately, Elements: []Packet{p}}
	}
	data, err := Encode(p)
	require.NoError(t, err)
	_, err = Decode(data)
	assert.ErrorIs(t, err, errors.ErrDecodeFailure)
}

func TestEncodeUnsupportedArgument(t *testing.T) {
	_, err := Encode(NewMessage("/x", struct{}{}))
	assert.ErrorIs(t, err, errors.ErrUnknownType)
}

func TestMatchSegment(t *testing.T) {
	tests := []struct {
		pattern, name string
		want          bool
	}{
		{"bar", "bar", true},
		{"bar", "baz", false},
		{"ba?", "baz", true},
		{"ba?", "ba", false},
		{"*", "anything", true},
		{"*", "", true},
		{"b*r", "bar", true},
		{"b*r", "bxxxr", true},
		{"b*r", "bxxx", false},
		{"**x", "abx", true},
		{"[abc]ar", "bar", true},
		{"[abc]ar", "dar", false},
		{"[a-c]ar", "car", true},
		{"[!a-c]ar", "car", false},
		{"[!a-c]ar", "far", true},
		{"{foo,bar}", "bar", true},
		{"{foo,bar}", "baz", false},
		{"x{foo,bar}y", "xfooy", true},
		{"[abc", "a", false},
		{"{foo", "foo", false},
		{"", "", true},
		{"", "a", false},
		{"*?", "", false},
		{"*?", "a", true},
		{"{a,ab}c", "abc", true},
		{"*{x,y}*", "axb", true},
		{"*[0-9]", "chan7", true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, MatchSegment(tc.pattern, tc.name), "%q vs %q", tc.pattern, tc.name)
	}
}

func TestMatchSegmentBacktrackingIsBounded(t *testing.T) {
	name := "oscillator_frequency_a"
	for _, k := range []int{8, 20, 200} {
		pattern := strings.Repeat("*?", k) + "Z"
		start := time.Now()
		assert.False(t, MatchSegment(pattern, name))
		assert.Less(t, time.Since(start), 50*time.Millisecond, "k=%d", k)
	}

	long := strings.Repeat("a", 4096)
	start := time.Now()
	assert.False(t, MatchSegment(strings.Repeat("*a", 512)+"b", long))
	assert.True(t, MatchSegment(strings.Repeat("*a", 512), long))
	assert.Less(t, time.Since(start), time.Second)
}

func TestAddressHelpers(t *testing.T) {
	assert.True(t, ValidAddress("/"))
	assert.True(t, ValidAddress("/foo/bar"))
	assert.False(t, ValidAddress("foo"))
	assert.False(t, ValidAddress("/foo/"))
	assert.False(t, ValidAddress("/foo//bar"))

	assert.Nil(t, Segments("/"))
	assert.Equal(t, []string{"foo", "bar"}, Segments("/foo/bar"))

	assert.True(t, HasPattern("/foo/*"))
	assert.False(t, HasPattern("/foo/bar"))
}
