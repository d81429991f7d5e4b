// Package gossip implements broadcast-based peer discovery and failure
// detection. Every node announces itself with a Join broadcast, repeats a
// Check broadcast every heartbeat, and keeps a MemberList of the peers it has
// heard from recently. Peers that stay silent for longer than the threshold
// are swept from the list.
//
// A running Gossiper is four goroutines around one MemberList: the
// dispatcher (encodes and sends queued messages), the listener (receives and
// decodes datagrams), the handler (applies messages to the member list and
// queues replies) and the heartbeat. Queues are bounded; a full queue blocks
// its producer.
//
// Typical usage:
//
//	g, err := gossip.New(gossip.Config{
//		ID:   "node1",
//		Addr: netip.MustParseAddr("0.0.0.0"),
//		Port: gossip.DefaultPort,
//		Load: func() int { return 0 },
//	})
//	if err != nil {
//		return err
//	}
//	return g.Run(ctx, func(id gossip.NodeID, ip netip.Addr, port uint16) {})
//
// Production nodes bind a UDP socket with broadcast enabled. Tests and
// simulations attach nodes to an in-process Network instead.
package gossip
