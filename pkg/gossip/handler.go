package gossip

import (
	"context"

	"go.uber.org/zap"

	"github.com/ryandielhenn/escalon/internal/telemetry"
)

// handle applies inbound messages to the member list one at a time.
func (g *Gossiper) handle(ctx context.Context) error {
	log := g.log.Named("handler")
	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-g.inbound:
			g.apply(ctx, log, in)
		}
	}
}

// apply implements both transition rules. Join and Check from a peer refresh
// (or create) its entry; a Join that creates the entry is answered with a
// unicast Join so the new peer learns about us before our next heartbeat.
// Messages carrying our own id are our broadcasts coming back and are ignored.
func (g *Gossiper) apply(ctx context.Context, log *zap.Logger, in inbound) {
	id := in.msg.Action.ID
	if id == g.cfg.ID {
		telemetry.MessagesDropped.WithLabelValues(telemetry.DropSelf).Inc()
		return
	}

	// Absence is decided inside the same critical section as the upsert.
	inserted := g.members.Observe(id, in.from, g.cfg.Now(), in.msg.Load)
	if !inserted {
		return
	}
	telemetry.Members.Set(float64(g.members.Len()))
	log.Info("member discovered",
		zap.String("peer", string(id)),
		zap.Stringer("addr", in.from),
		zap.Stringer("via", in.msg.Action.Kind))

	if in.msg.Action.Kind == Join {
		g.enqueue(ctx, NewJoin(g.cfg.ID, g.loadRef()), in.from)
	}
}
