package gossip

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var loopback = netip.MustParseAddr("127.0.0.1")

func TestUDPTransportExchange(t *testing.T) {
	ctx := context.Background()
	a, err := ListenUDP(ctx, loopback, 0)
	require.NoError(t, err)
	defer a.Close()
	b, err := ListenUDP(ctx, loopback, 0)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, loopback, a.LocalAddr().Addr())
	assert.NotZero(t, a.LocalAddr().Port())

	require.NoError(t, a.Send([]byte("hello"), b.LocalAddr()))

	buf := make([]byte, 64)
	n, from, err := b.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, a.LocalAddr(), from)
}

func TestUDPTransportReceiveAfterClose(t *testing.T) {
	tr, err := ListenUDP(context.Background(), loopback, 0)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, _, err := tr.Receive(make([]byte, 16))
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, tr.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Receive did not return after Close")
	}
}

func TestListenUDPBindError(t *testing.T) {
	held, err := ListenUDP(context.Background(), loopback, 0)
	require.NoError(t, err)
	defer held.Close()

	_, err = ListenUDP(context.Background(), loopback, held.LocalAddr().Port())
	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	assert.Equal(t, held.LocalAddr(), bindErr.Addr)
	assert.Contains(t, err.Error(), "gossip: bind 127.0.0.1:")
}

func TestNetworkBroadcastReachesEveryEndpoint(t *testing.T) {
	bcast := netip.MustParseAddrPort("10.1.255.255:65056")
	n := NewNetwork(bcast)
	ip := netip.MustParseAddr("10.1.0.1")

	a, err := n.Attach(ip, 0)
	require.NoError(t, err)
	defer a.Close()
	b, err := n.Attach(ip, 0)
	require.NoError(t, err)
	defer b.Close()
	assert.NotEqual(t, a.LocalAddr(), b.LocalAddr())

	require.NoError(t, a.Send([]byte("hi"), bcast))
	for _, tr := range []*ChannelTransport{a, b} {
		buf := make([]byte, 8)
		n, from, err := tr.Receive(buf)
		require.NoError(t, err)
		assert.Equal(t, "hi", string(buf[:n]))
		assert.Equal(t, a.LocalAddr(), from)
	}
}

func TestNetworkUnicastAndClose(t *testing.T) {
	n := NewNetwork(DefaultBroadcast)
	ip := netip.MustParseAddr("10.1.0.1")

	a, err := n.Attach(ip, 5000)
	require.NoError(t, err)
	_, err = n.Attach(ip, 5000)
	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)

	// Unknown destinations are dropped silently, like UDP.
	assert.NoError(t, a.Send([]byte("lost"), netip.MustParseAddrPort("10.9.9.9:1")))

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	_, _, err = a.Receive(make([]byte, 8))
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.ErrorIs(t, a.Send([]byte("x"), a.LocalAddr()), net.ErrClosed)

	// The address is free again once closed.
	again, err := n.Attach(ip, 5000)
	require.NoError(t, err)
	again.Close()
}
