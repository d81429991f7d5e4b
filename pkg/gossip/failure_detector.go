package gossip

import "time"

// FailureDetector decides whether a peer last heard from at lastSeen should
// be considered dead at now.
type FailureDetector interface {
	Dead(lastSeen, now time.Time) bool
}

// Timeout declares a peer dead once its silence strictly exceeds the
// duration. A peer silent for exactly the timeout is still alive.
type Timeout time.Duration

func (t Timeout) Dead(lastSeen, now time.Time) bool {
	return now.Sub(lastSeen) > time.Duration(t)
}
