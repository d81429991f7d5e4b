package gossip

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newHandlerNode(t *testing.T, clock *fakeClock) *Gossiper {
	t.Helper()
	g, err := New(Config{
		ID:     "self",
		Addr:   netip.MustParseAddr("127.0.0.1"),
		Load:   func() int { return 2 },
		Logger: zaptest.NewLogger(t),
		Now:    clock.Now,
	})
	require.NoError(t, err)
	return g
}

func drainOutbound(g *Gossiper) []outbound {
	var out []outbound
	for {
		select {
		case o := <-g.outbound:
			out = append(out, o)
		default:
			return out
		}
	}
}

func TestApplyIgnoresOwnMessages(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	g := newHandlerNode(t, clock)
	ctx := context.Background()

	g.apply(ctx, g.log, inbound{msg: NewJoin("self", nil), from: addrA})
	g.apply(ctx, g.log, inbound{msg: NewCheck("self", nil), from: addrA})

	assert.Zero(t, g.members.Len())
	_, ok := g.Member("self")
	assert.False(t, ok)
	assert.Empty(t, drainOutbound(g))
}

func TestApplyRepliesOnceToNewJoin(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	g := newHandlerNode(t, clock)
	ctx := context.Background()

	g.apply(ctx, g.log, inbound{msg: NewJoin("y", nil), from: addrA})

	out := drainOutbound(g)
	require.Len(t, out, 1)
	assert.Equal(t, addrA, out[0].to, "reply is unicast to the sender")
	assert.Equal(t, Action{Kind: Join, ID: "self"}, out[0].msg.Action)
	require.NotNil(t, out[0].msg.Load)
	assert.Equal(t, 2, out[0].msg.Load.Tasks)

	clock.Advance(time.Second)
	g.apply(ctx, g.log, inbound{msg: NewJoin("y", nil), from: addrB})
	assert.Empty(t, drainOutbound(g), "known peers are not answered again")

	m, ok := g.Member("y")
	require.True(t, ok)
	assert.Equal(t, addrA, m.Addr)
	assert.Equal(t, clock.now, m.LastSeen)
}

func TestApplyCheckRegistersWithoutReply(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	g := newHandlerNode(t, clock)
	ctx := context.Background()

	g.apply(ctx, g.log, inbound{msg: NewCheck("z", &Load{Tasks: 7}), from: addrB})

	assert.Empty(t, drainOutbound(g))
	m, ok := g.Member("z")
	require.True(t, ok)
	assert.Equal(t, addrB, m.Addr)
	assert.Equal(t, 7, m.Load.Tasks)

	// A later Join from a peer we already know through Check gets no reply.
	g.apply(ctx, g.log, inbound{msg: NewJoin("z", nil), from: addrB})
	assert.Empty(t, drainOutbound(g))
}

func TestApplyDoesNotBlockOnFullQueueAfterCancel(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	g, err := New(Config{
		ID:        "self",
		Addr:      netip.MustParseAddr("127.0.0.1"),
		Load:      func() int { return 0 },
		QueueSize: 1,
		Now:       clock.Now,
	})
	require.NoError(t, err)
	g.outbound <- outbound{msg: NewCheck("self", nil)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.apply(ctx, g.log, inbound{msg: NewJoin("y", nil), from: addrA})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("apply blocked on a full queue with a cancelled context")
	}
	_, ok := g.Member("y")
	assert.True(t, ok)
}

func TestBeatBroadcastsCheckAndSweeps(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	g := newHandlerNode(t, clock)
	ctx := context.Background()

	g.members.Observe("old", addrA, clock.now.Add(-DefaultThreshold-time.Second), nil)
	g.members.Observe("new", addrB, clock.now, nil)

	g.beat(ctx, g.log)

	out := drainOutbound(g)
	require.Len(t, out, 1)
	assert.False(t, out[0].to.IsValid(), "heartbeat is broadcast")
	assert.Equal(t, Action{Kind: Check, ID: "self"}, out[0].msg.Action)

	_, ok := g.Member("old")
	assert.False(t, ok)
	_, ok = g.Member("new")
	assert.True(t, ok)
}
