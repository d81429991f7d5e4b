package gossip

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/ryandielhenn/escalon/internal/telemetry"
)

// listen reads datagrams and hands decoded messages to the handler. It does
// not look at message contents; self-originated messages are filtered by the
// handler. Malformed datagrams are counted and skipped.
func (g *Gossiper) listen(ctx context.Context) error {
	log := g.log.Named("listener")
	buf := make([]byte, MaxDatagramSize)
	for {
		n, from, err := g.transport.Receive(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) && ctx.Err() != nil {
				return nil
			}
			log.Error("receive failed", zap.Error(err))
			return fmt.Errorf("gossip: receive: %w", err)
		}

		msg, err := Decode(buf[:n])
		if err != nil {
			log.Debug("dropping datagram", zap.Stringer("from", from), zap.Error(err))
			telemetry.MessagesDropped.WithLabelValues(telemetry.DropDecode).Inc()
			continue
		}
		telemetry.MessagesReceived.WithLabelValues(msg.Action.Kind.String()).Inc()

		select {
		case g.inbound <- inbound{msg: msg, from: from}:
		case <-ctx.Done():
			// Shutting down: keep draining the socket until Stop closes it.
		}
	}
}
