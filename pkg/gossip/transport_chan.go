package gossip

import (
	"errors"
	"net"
	"net/netip"
	"sync"
)

const (
	chanInboxSize      = 256
	firstEphemeralPort = 40000
)

type datagram struct {
	from netip.AddrPort
	b    []byte
}

// Network is an in-process datagram network. Every attached endpoint
// receives datagrams sent to the broadcast address, as if all of them were
// bound to the rendezvous port. Delivery is lossy like UDP: a full inbox or
// an unknown destination drops the datagram.
type Network struct {
	broadcast netip.AddrPort

	mu        sync.RWMutex
	endpoints map[netip.AddrPort]*ChannelTransport
	nextPort  uint16
}

func NewNetwork(broadcast netip.AddrPort) *Network {
	return &Network{
		broadcast: broadcast,
		endpoints: make(map[netip.AddrPort]*ChannelTransport),
		nextPort:  firstEphemeralPort,
	}
}

// Attach binds a new endpoint. Port 0 picks a free port.
func (n *Network) Attach(addr netip.Addr, port uint16) (*ChannelTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if port == 0 {
		for {
			port = n.nextPort
			n.nextPort++
			if _, used := n.endpoints[netip.AddrPortFrom(addr, port)]; !used {
				break
			}
		}
	}
	ap := netip.AddrPortFrom(addr, port)
	if _, used := n.endpoints[ap]; used {
		return nil, &BindError{Addr: ap, Err: errors.New("address already in use")}
	}
	t := &ChannelTransport{
		network: n,
		addr:    ap,
		inbox:   make(chan datagram, chanInboxSize),
		closed:  make(chan struct{}),
	}
	n.endpoints[ap] = t
	return t, nil
}

func (n *Network) detach(ap netip.AddrPort) {
	n.mu.Lock()
	delete(n.endpoints, ap)
	n.mu.Unlock()
}

func (n *Network) route(from, to netip.AddrPort, b []byte) {
	n.mu.RLock()
	var dst []*ChannelTransport
	if to == n.broadcast {
		dst = make([]*ChannelTransport, 0, len(n.endpoints))
		for _, t := range n.endpoints {
			dst = append(dst, t)
		}
	} else if t, ok := n.endpoints[to]; ok {
		dst = []*ChannelTransport{t}
	}
	n.mu.RUnlock()

	for _, t := range dst {
		t.deliver(datagram{from: from, b: append([]byte(nil), b...)})
	}
}

// ChannelTransport is one endpoint of a Network.
type ChannelTransport struct {
	network *Network
	addr    netip.AddrPort
	inbox   chan datagram
	closed  chan struct{}
	once    sync.Once
}

var _ Transport = (*ChannelTransport)(nil)

func (t *ChannelTransport) deliver(d datagram) {
	select {
	case <-t.closed:
	case t.inbox <- d:
	default:
	}
}

func (t *ChannelTransport) Send(b []byte, to netip.AddrPort) error {
	select {
	case <-t.closed:
		return net.ErrClosed
	default:
	}
	t.network.route(t.addr, to, b)
	return nil
}

func (t *ChannelTransport) Receive(buf []byte) (int, netip.AddrPort, error) {
	select {
	case <-t.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	case d := <-t.inbox:
		return copy(buf, d.b), d.from, nil
	}
}

func (t *ChannelTransport) LocalAddr() netip.AddrPort { return t.addr }

func (t *ChannelTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.network.detach(t.addr)
	})
	return nil
}
