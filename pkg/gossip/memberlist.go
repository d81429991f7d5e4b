package gossip

import (
	"net/netip"
	"sort"
	"sync"
	"time"
)

// Member is the locally observed view of one peer.
type Member struct {
	ID       NodeID
	Addr     netip.AddrPort // pinned at first observation
	LastSeen time.Time      // never moves backwards while the member is listed
	Load     Load           // most recent load the peer reported
}

// MemberList tracks the peers this node has heard from recently. Every
// method holds the lock for exactly one map operation and never across I/O or
// channel operations.
type MemberList struct {
	mu      sync.RWMutex
	members map[NodeID]*Member
}

func NewMemberList() *MemberList {
	return &MemberList{members: make(map[NodeID]*Member)}
}

// Observe records that id was heard from addr at time at. An unknown id is
// inserted; a known one only has LastSeen advanced and its load replaced when
// load is non-nil. Observations older than LastSeen change nothing. The
// recorded address is never overwritten. Observe reports
// whether id was absent before the call.
func (l *MemberList) Observe(id NodeID, addr netip.AddrPort, at time.Time, load *Load) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.members[id]
	if !ok {
		m = &Member{ID: id, Addr: addr, LastSeen: at}
		if load != nil {
			m.Load = *load
		}
		l.members[id] = m
		return true
	}
	if at.Before(m.LastSeen) {
		return false
	}
	m.LastSeen = at
	if load != nil {
		m.Load = *load
	}
	return false
}

// Get returns a copy of the member with the given id.
func (l *MemberList) Get(id NodeID) (Member, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.members[id]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// All returns copies of every member ordered by id.
func (l *MemberList) All() []Member {
	l.mu.RLock()
	out := make([]Member, 0, len(l.members))
	for _, m := range l.members {
		out = append(out, *m)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *MemberList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.members)
}

// Remove deletes id and reports whether it was present.
func (l *MemberList) Remove(id NodeID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.members[id]; !ok {
		return false
	}
	delete(l.members, id)
	return true
}

// Sweep removes every member the detector declares dead at now and returns
// what was removed.
func (l *MemberList) Sweep(now time.Time, fd FailureDetector) []Member {
	l.mu.Lock()
	defer l.mu.Unlock()

	var dead []Member
	for id, m := range l.members {
		if fd.Dead(m.LastSeen, now) {
			dead = append(dead, *m)
			delete(l.members, id)
		}
	}
	return dead
}
