package root

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/scalarwaves/oscquery/errors"
	"github.com/scalarwaves/oscquery/metric"
	"github.com/scalarwaves/oscquery/node"
	"github.com/scalarwaves/oscquery/osc"
	"github.com/scalarwaves/oscquery/value"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func mustContainer(t *testing.T, name string) *node.Node {
	t.Helper()
	n, err := node.NewContainer(name, "")
	require.NoError(t, err)
	return n
}

func TestAddRemoveNotify(t *testing.T) {
	r := New(Config{})
	rec := &recorder{}
	r.AddSink(rec)

	h, err := r.AddNode(mustContainer(t, "foo"), nil)
	require.NoError(t, err)
	require.NoError(t, r.RmNode(h))

	err = r.RmNode(h)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidHandle)

	assert.Equal(t, []Event{
		{Kind: EventAdded, Path: "/foo"},
		{Kind: EventRemoved, Path: "/foo"},
	}, rec.all())
}

func TestCollisionIsReported(t *testing.T) {
	r := New(Config{})
	_, err := r.AddNode(mustContainer(t, "foo"), nil)
	require.NoError(t, err)
	_, err = r.AddNode(mustContainer(t, "foo"), nil)
	assert.ErrorIs(t, err, errors.ErrNameCollision)
	assert.Equal(t, 2, r.Len())
}

func TestConcurrentAddsUnderOneParent(t *testing.T) {
	r := New(Config{})
	parent, err := r.AddNode(mustContainer(t, "parent"), nil)
	require.NoError(t, err)

	const n = 64
	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("child%02d", i)
		g.Go(func() error {
			c, err := node.NewContainer(name, "")
			if err != nil {
				return err
			}
			_, err = r.AddNode(c, &parent)
			return err
		})
	}
	require.NoError(t, g.Wait())

	snap, ok := r.Snapshot("/parent")
	require.True(t, ok)
	assert.Len(t, snap.Children, n)
}

func TestGetOnlyDropsWrites(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	r := New(Config{Metrics: registry.CoreMetrics()})
	rec := &recorder{}
	r.AddSink(rec)

	cell := value.NewCell[int32](42)
	ro, err := node.NewGet("ro", "", value.NewGet[int32](cell).Build())
	require.NoError(t, err)
	_, err = r.AddNode(ro, nil)
	require.NoError(t, err)

	r.HandleOSCPacket(osc.NewMessage("/ro", int32(7)), nil, nil)

	assert.Equal(t, int32(42), cell.Get())
	for _, ev := range rec.all() {
		assert.NotEqual(t, EventValue, ev.Kind)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().DispatchMessages.WithLabelValues(metric.DispatchReadOnly)))
}

func TestHandleOSCPacketAppliesAndNotifies(t *testing.T) {
	r := New(Config{})
	rec := &recorder{}
	r.AddSink(rec)

	var (
		gotFrom net.Addr
		gotAt   *osc.TimeTag
	)
	cell := value.NewCell[int32](0)
	gs, err := node.NewGetSet("x", "", func(args []any, from net.Addr, at *osc.TimeTag) node.AfterFunc {
		gotFrom, gotAt = from, at
		return nil
	}, value.NewGetSet[int32](cell).WithRange(0, 10).WithClipMode(value.ClipBoth).Build())
	require.NoError(t, err)
	_, err = r.AddNode(gs, nil)
	require.NoError(t, err)

	from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7000}
	tt := osc.TimeTag{Seconds: 5, Fraction: 6}
	r.HandleOSCPacket(&osc.Bundle{Time: tt, Elements: []osc.Packet{osc.NewMessage("/x", int32(15))}}, from, nil)

	assert.Equal(t, int32(10), cell.Get())
	assert.Equal(t, from, gotFrom)
	require.NotNil(t, gotAt)
	assert.Equal(t, tt, *gotAt)

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventValue, events[1].Kind)
	assert.Equal(t, "/x", events[1].Path)
	assert.Equal(t, []any{int32(10)}, events[1].Message.Arguments, "readable nodes report the clipped value")
}

func TestSetOnlyEchoesWrite(t *testing.T) {
	r := New(Config{})
	rec := &recorder{}
	r.AddSink(rec)

	var got []string
	n, err := node.NewSet("say", "", nil, value.NewSet[string](value.Funcs[string]{
		Store: func(s string) { got = append(got, s) },
	}).Build())
	require.NoError(t, err)
	_, err = r.AddNode(n, nil)
	require.NoError(t, err)

	r.HandleOSCPacket(osc.NewMessage("/say", "hi"), nil, nil)
	assert.Equal(t, []string{"hi"}, got)

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, "/say", events[1].Message.Address)
	assert.Equal(t, []any{"hi"}, events[1].Message.Arguments)
}

func TestWildcardDispatch(t *testing.T) {
	r := New(Config{})
	bank, err := r.AddNode(mustContainer(t, "bank"), nil)
	require.NoError(t, err)

	cells := make([]*value.Cell[float32], 3)
	for i := range cells {
		cells[i] = value.NewCell[float32](0)
		n, err := node.NewGetSet(fmt.Sprintf("v%d", i), "", nil, value.NewGetSet[float32](cells[i]).Build())
		require.NoError(t, err)
		_, err = r.AddNode(n, &bank)
		require.NoError(t, err)
	}

	r.HandleOSCPacket(osc.NewMessage("/bank/v[01]", float32(0.5)), nil, nil)
	assert.Equal(t, float32(0.5), cells[0].Get())
	assert.Equal(t, float32(0.5), cells[1].Get())
	assert.Equal(t, float32(0), cells[2].Get())

	r.HandleOSCPacket(osc.NewMessage("/bank/*", float32(1)), nil, nil)
	for _, c := range cells {
		assert.Equal(t, float32(1), c.Get())
	}
}

// A write handler can grow the tree without deadlocking on the read lock held during
// dispatch.
func TestAfterFuncMutatesTree(t *testing.T) {
	r := New(Config{})
	rec := &recorder{}
	r.AddSink(rec)

	var added []node.Handle
	adder, err := node.NewSet("add", "", func(args []any, _ net.Addr, _ *osc.TimeTag) node.AfterFunc {
		name, _ := args[0].(string)
		return func(m node.Mutator) {
			c, err := node.NewContainer(name, "")
			if err != nil {
				return
			}
			if h, err := m.AddNode(c, nil); err == nil {
				added = append(added, h)
			}
		}
	})
	require.NoError(t, err)
	_, err = r.AddNode(adder, nil)
	require.NoError(t, err)

	r.HandleOSCPacket(osc.NewMessage("/add", "fresh"), nil, nil)

	require.Len(t, added, 1)
	_, ok := r.Resolve("/fresh")
	assert.True(t, ok)

	events := rec.all()
	last := events[len(events)-1]
	assert.Equal(t, Event{Kind: EventAdded, Path: "/fresh"}, last)
}

func TestAfterFuncTriggersOtherPaths(t *testing.T) {
	r := New(Config{})
	rec := &recorder{}

	level := value.NewCell[int32](3)
	ln, err := node.NewGet("level", "", value.NewGet[int32](level).Build())
	require.NoError(t, err)
	_, err = r.AddNode(ln, nil)
	require.NoError(t, err)

	poll, err := node.NewSet("poll", "", func(_ []any, _ net.Addr, _ *osc.TimeTag) node.AfterFunc {
		return func(m node.Mutator) {
			m.Trigger("/level")
			m.PathChanged("/level")
		}
	})
	require.NoError(t, err)
	_, err = r.AddNode(poll, nil)
	require.NoError(t, err)
	r.AddSink(rec)

	done := make(chan struct{})
	go func() {
		r.HandleOSCPacket(osc.NewMessage("/poll"), nil, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not finish")
	}

	events := rec.all()
	require.Len(t, events, 3)
	assert.Equal(t, "/poll", events[0].Path)
	assert.Equal(t, EventValue, events[1].Kind)
	assert.Equal(t, []any{int32(3)}, events[1].Message.Arguments)
	assert.Equal(t, Event{Kind: EventChanged, Path: "/level"}, events[2])
}

func TestTriggerPath(t *testing.T) {
	r := New(Config{})
	rec := &recorder{}
	r.AddSink(rec)

	n, err := node.NewGet("multi", "",
		value.NewGet[int32](value.NewCell[int32](1)).Build(),
		value.NewGet[string](value.NewCell("two")).Build(),
		value.NewGet[bool](value.NewCell(true)).Build(),
	)
	require.NoError(t, err)
	_, err = r.AddNode(n, nil)
	require.NoError(t, err)

	msg, ok := r.TriggerPath("/multi")
	require.True(t, ok)
	assert.Equal(t, "/multi", msg.Address)
	assert.Equal(t, []any{int32(1), "two", true}, msg.Arguments)

	_, ok = r.TriggerPath("/missing")
	assert.False(t, ok)
	_, ok = r.TriggerPath("/")
	assert.False(t, ok, "containers have no value")

	before := len(rec.all())
	_, _ = r.TriggerPath("/multi")
	assert.Len(t, rec.all(), before, "TriggerPath does not deliver")

	assert.True(t, r.Trigger("/multi"))
	events := rec.all()
	assert.Equal(t, EventValue, events[len(events)-1].Kind)
}

func TestPathChanged(t *testing.T) {
	r := New(Config{})
	rec := &recorder{}
	_, err := r.AddNode(mustContainer(t, "foo"), nil)
	require.NoError(t, err)
	r.AddSink(rec)

	assert.True(t, r.PathChanged("/foo"))
	assert.False(t, r.PathChanged("/nope"))
	assert.Equal(t, []Event{{Kind: EventChanged, Path: "/foo"}}, rec.all())
}

func TestRemoveSink(t *testing.T) {
	r := New(Config{})
	rec := &recorder{}
	remove := r.AddSink(rec)
	remove()
	remove()

	_, err := r.AddNode(mustContainer(t, "foo"), nil)
	require.NoError(t, err)
	assert.Empty(t, rec.all())
}

// Readers dispatching while a writer reshapes the tree must not race.
func TestConcurrentDispatchAndMutation(t *testing.T) {
	r := New(Config{})
	cell := value.NewCell[int32](0)
	n, err := node.NewGetSet("v", "", nil, value.NewGetSet[int32](cell).Build())
	require.NoError(t, err)
	_, err = r.AddNode(n, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.HandleOSCPacket(osc.NewMessage("/v", int32(j)), nil, nil)
				r.TriggerPath("/v")
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			h, err := r.AddNode(mustContainer(t, fmt.Sprintf("tmp%d", j)), nil)
			if assert.NoError(t, err) {
				assert.NoError(t, r.RmNode(h))
			}
		}
	}()
	wg.Wait()
	assert.Equal(t, 2, r.Len())
}
