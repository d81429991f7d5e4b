package gossip

import (
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/ryandielhenn/escalon/internal/telemetry"
)

// dispatch drains the outbound queue in FIFO order until Stop closes it.
// Encode and send failures drop only the message at hand; a transport closed
// underneath a live node is fatal.
func (g *Gossiper) dispatch() error {
	log := g.log.Named("dispatcher")
	for item := range g.outbound {
		kind := item.msg.Action.Kind.String()
		b, err := Encode(item.msg)
		if err != nil {
			log.Error("dropping message", zap.String("action", kind), zap.Error(err))
			telemetry.MessagesDropped.WithLabelValues(telemetry.DropEncode).Inc()
			continue
		}

		to, mode := item.to, "unicast"
		if !to.IsValid() {
			to, mode = g.cfg.Broadcast, "broadcast"
		}
		if err := g.transport.Send(b, to); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("gossip: send: %w", err)
			}
			log.Warn("send failed",
				zap.String("action", kind), zap.Stringer("to", to), zap.Error(err))
			telemetry.MessagesDropped.WithLabelValues(telemetry.DropSend).Inc()
			continue
		}
		telemetry.MessagesSent.WithLabelValues(kind, mode).Inc()
		if ce := log.Check(zap.DebugLevel, "sent"); ce != nil {
			ce.Write(zap.String("action", kind), zap.Stringer("to", to))
		}
	}
	return nil
}
