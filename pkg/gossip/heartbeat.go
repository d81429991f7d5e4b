package gossip

import (
	"context"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/escalon/internal/telemetry"
)

// heartbeat broadcasts Check every interval and evicts silent peers.
func (g *Gossiper) heartbeat(ctx context.Context) error {
	log := g.log.Named("heartbeat")
	ticker := time.NewTicker(g.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.beat(ctx, log)
		}
	}
}

func (g *Gossiper) beat(ctx context.Context, log *zap.Logger) {
	load := g.refreshLoad()
	if !g.enqueue(ctx, NewCheck(g.cfg.ID, &load), netip.AddrPort{}) {
		return
	}

	start := time.Now()
	dead := g.members.Sweep(g.cfg.Now(), g.cfg.Detector)
	telemetry.SweepDuration.Observe(time.Since(start).Seconds())
	if len(dead) == 0 {
		return
	}
	for _, m := range dead {
		log.Info("member evicted",
			zap.String("peer", string(m.ID)),
			zap.Stringer("addr", m.Addr),
			zap.Time("last_seen", m.LastSeen))
	}
	telemetry.Evictions.Add(float64(len(dead)))
	telemetry.Members.Set(float64(g.members.Len()))
}
