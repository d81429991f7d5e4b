package gossip

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// Transport moves datagrams. Send is best effort with no retry. Receive
// blocks until a datagram arrives and returns net.ErrClosed once the
// transport is closed. Implementations: UDPTransport, ChannelTransport.
type Transport interface {
	Send(b []byte, to netip.AddrPort) error
	Receive(buf []byte) (int, netip.AddrPort, error)
	LocalAddr() netip.AddrPort
	Close() error
}

// BindError reports a transport that could not be opened or configured.
type BindError struct {
	Addr netip.AddrPort
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("gossip: bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// UDPTransport is a broadcast-enabled UDP socket.
type UDPTransport struct {
	conn *net.UDPConn
}

var _ Transport = (*UDPTransport)(nil)

// ListenUDP binds addr:port and enables SO_BROADCAST. Port 0 picks an
// ephemeral port; LocalAddr reports the resolved one.
func ListenUDP(ctx context.Context, addr netip.Addr, port uint16) (*UDPTransport, error) {
	addr = addr.Unmap()
	ap := netip.AddrPortFrom(addr, port)
	network := "udp"
	if addr.Is4() {
		network = "udp4"
	}

	lc := net.ListenConfig{Control: enableBroadcast}
	pc, err := lc.ListenPacket(ctx, network, ap.String())
	if err != nil {
		return nil, &BindError{Addr: ap, Err: err}
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, &BindError{Addr: ap, Err: fmt.Errorf("unexpected packet conn %T", pc)}
	}
	return &UDPTransport{conn: conn}, nil
}

func (t *UDPTransport) Send(b []byte, to netip.AddrPort) error {
	_, err := t.conn.WriteToUDPAddrPort(b, to)
	return err
}

func (t *UDPTransport) Receive(buf []byte) (int, netip.AddrPort, error) {
	n, from, err := t.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), nil
}

func (t *UDPTransport) LocalAddr() netip.AddrPort {
	ap := t.conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
