package node

import (
	"net/netip"

	"go.uber.org/zap"

	"github.com/ryandielhenn/escalon/pkg/gossip"
)

// Membership is the read side of a running gossip node.
type Membership interface {
	ID() gossip.NodeID
	Load() gossip.Load
	Members() []gossip.Member
	LocalAddr() netip.AddrPort
	Done() <-chan struct{}
}

// Node serves the HTTP status surface of one escalon process.
type Node struct {
	gsp Membership
	log *zap.Logger
}

func NewNode(gsp Membership, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Node{gsp: gsp, log: logger}
}

func (n *Node) ID() gossip.NodeID {
	return n.gsp.ID()
}
