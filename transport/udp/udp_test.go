package udp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalarwaves/oscquery/component"
	"github.com/scalarwaves/oscquery/errors"
	"github.com/scalarwaves/oscquery/metric"
	"github.com/scalarwaves/oscquery/node"
	"github.com/scalarwaves/oscquery/osc"
	"github.com/scalarwaves/oscquery/root"
	"github.com/scalarwaves/oscquery/value"
)

func startTransport(t *testing.T, r *root.Root, registry *metric.MetricsRegistry) *Transport {
	t.Helper()
	tr := New(Deps{Config: Config{Bind: "127.0.0.1:0"}, Root: r, MetricsRegistry: registry})
	require.NoError(t, tr.Initialize())
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(func() { _ = tr.Stop(time.Second) })
	return tr
}

func listenPeer(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendPacket(t *testing.T, from *net.UDPConn, to *net.UDPAddr, p osc.Packet) {
	t.Helper()
	data, err := osc.Encode(p)
	require.NoError(t, err)
	_, err = from.WriteToUDP(data, to)
	require.NoError(t, err)
}

func receivePacket(t *testing.T, conn *net.UDPConn) *osc.Message {
	t.Helper()
	buf := make([]byte, 2048)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	pkt, err := osc.Decode(buf[:n])
	require.NoError(t, err)
	msg, ok := pkt.(*osc.Message)
	require.True(t, ok)
	return msg
}

func TestInboundSetAppliesValue(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	r := root.New(root.Config{Metrics: registry.CoreMetrics()})
	cell := value.NewCell[float32](0)
	n, err := node.NewGetSet("level", "", nil, value.NewGetSet[float32](cell).Build())
	require.NoError(t, err)
	_, err = r.AddNode(n, nil)
	require.NoError(t, err)

	tr := startTransport(t, r, registry)
	peer := listenPeer(t)

	sendPacket(t, peer, tr.LocalAddr(), osc.NewMessage("/level", float32(0.75)))

	assert.Eventually(t, func() bool { return cell.Get() == 0.75 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().OSCPackets.WithLabelValues("udp")))
}

func TestMalformedPacketIsDropped(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	r := root.New(root.Config{Metrics: registry.CoreMetrics()})
	tr := startTransport(t, r, registry)
	peer := listenPeer(t)

	_, err := peer.WriteToUDP([]byte("garbage!"), tr.LocalAddr())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(registry.CoreMetrics().DecodeFailures.WithLabelValues("udp")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, tr.Health().Healthy, "decode failures do not affect health")
}

func TestTriggerReachesDestinations(t *testing.T) {
	r := root.New(root.Config{})
	n, err := node.NewGet("temp", "", value.NewGet[int32](value.NewCell[int32](21)).Build())
	require.NoError(t, err)
	_, err = r.AddNode(n, nil)
	require.NoError(t, err)

	startTransport(t, r, nil)
	peer := listenPeer(t)
	r.Destinations().Add(peer.LocalAddr().(*net.UDPAddr))

	require.True(t, r.Trigger("/temp"))
	msg := receivePacket(t, peer)
	assert.Equal(t, "/temp", msg.Address)
	assert.Equal(t, []any{int32(21)}, msg.Arguments)
}

func TestEchoToDestinationsAfterInboundWrite(t *testing.T) {
	r := root.New(root.Config{})
	cell := value.NewCell[int32](0)
	n, err := node.NewGetSet("x", "", nil, value.NewGetSet[int32](cell).WithRange(0, 10).WithClipMode(value.ClipBoth).Build())
	require.NoError(t, err)
	_, err = r.AddNode(n, nil)
	require.NoError(t, err)

	tr := startTransport(t, r, nil)
	sender := listenPeer(t)
	listener := listenPeer(t)
	r.Destinations().Add(listener.LocalAddr().(*net.UDPAddr))

	sendPacket(t, sender, tr.LocalAddr(), osc.NewMessage("/x", int32(99)))
	msg := receivePacket(t, listener)
	assert.Equal(t, []any{int32(10)}, msg.Arguments)
}

func TestLifecycle(t *testing.T) {
	r := root.New(root.Config{})
	tr := New(Deps{Config: Config{Bind: "127.0.0.1:0"}, Root: r})

	assert.False(t, tr.Health().Healthy)
	assert.Nil(t, tr.LocalAddr())
	err := tr.Send(osc.NewMessage("/x"), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1})
	assert.ErrorIs(t, err, errors.ErrNotStarted)

	require.NoError(t, tr.Start(context.Background()))
	assert.True(t, tr.Health().Healthy)
	assert.ErrorIs(t, tr.Start(context.Background()), errors.ErrAlreadyStarted)

	require.NoError(t, tr.Stop(time.Second))
	require.NoError(t, tr.Stop(time.Second), "second stop is a no-op")
	assert.False(t, tr.Health().Healthy)
	assert.Equal(t, "transport", tr.Meta().Type)
}

func TestInitializeValidates(t *testing.T) {
	assert.Error(t, New(Deps{Config: Config{Bind: "127.0.0.1:0"}}).Initialize())
	err := New(Deps{Config: Config{Bind: "not an address"}, Root: root.New(root.Config{})}).Initialize()
	assert.True(t, errors.IsInvalid(err))
}

func TestBindFailureIsFatal(t *testing.T) {
	taken := listenPeer(t)
	tr := New(Deps{Config: Config{Bind: taken.LocalAddr().String()}, Root: root.New(root.Config{})})
	err := tr.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestLifecycleContract(t *testing.T) {
	component.StandardLifecycleTests(t, func() component.Lifecycle {
		return New(Deps{Config: Config{Bind: "127.0.0.1:0"}, Root: root.New(root.Config{})})
	})
}
