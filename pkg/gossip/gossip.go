package gossip

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPort is the rendezvous port every node broadcasts to,
	// independent of the port it binds for its own traffic.
	DefaultPort uint16 = 65056

	DefaultHeartbeat = 2 * time.Second
	DefaultThreshold = 6 * time.Second
	DefaultQueueSize = 100
)

// DefaultBroadcast is the limited broadcast address on DefaultPort.
var DefaultBroadcast = netip.AddrPortFrom(netip.AddrFrom4([4]byte{255, 255, 255, 255}), DefaultPort)

// Config describes one node. ID, Addr and Load are required; everything
// else has a default.
type Config struct {
	ID   NodeID
	Addr netip.Addr
	Port uint16 // 0 binds an ephemeral port
	// Load returns the number of tasks this node is currently running.
	Load func() int

	Broadcast netip.AddrPort // DefaultBroadcast when unset
	Heartbeat time.Duration  // interval between liveness broadcasts and sweeps
	Threshold time.Duration  // silence after which a peer is evicted
	QueueSize int            // capacity of the inbound and outbound queues

	// Detector overrides Timeout(Threshold).
	Detector FailureDetector
	// Transport overrides the UDP socket bound to Addr:Port.
	Transport Transport
	Logger    *zap.Logger
	Now       func() time.Time
}

// Validate reports every missing or invalid field.
func (c Config) Validate() error {
	var err error
	if c.ID == "" {
		err = multierr.Append(err, errors.New("node id is required"))
	}
	if !c.Addr.IsValid() {
		err = multierr.Append(err, errors.New("bind address is required"))
	}
	if c.Load == nil {
		err = multierr.Append(err, errors.New("load function is required"))
	}
	if c.Broadcast.IsValid() && c.Broadcast.Port() == 0 {
		err = multierr.Append(err, fmt.Errorf("broadcast %s has no port", c.Broadcast))
	}
	if c.Heartbeat < 0 {
		err = multierr.Append(err, fmt.Errorf("heartbeat %s must be positive", c.Heartbeat))
	}
	if c.Threshold < 0 {
		err = multierr.Append(err, fmt.Errorf("threshold %s must be positive", c.Threshold))
	}
	if c.QueueSize < 0 {
		err = multierr.Append(err, fmt.Errorf("queue size %d must be positive", c.QueueSize))
	}
	return err
}

func (c Config) withDefaults() Config {
	if !c.Broadcast.IsValid() {
		c.Broadcast = DefaultBroadcast
	}
	if c.Heartbeat == 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Detector == nil {
		c.Detector = Timeout(c.Threshold)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// ReadyFunc is called once the node is bound and has announced itself.
type ReadyFunc func(id NodeID, ip netip.Addr, port uint16)

type outbound struct {
	msg Message
	to  netip.AddrPort // invalid means broadcast
}

type inbound struct {
	msg  Message
	from netip.AddrPort
}

// Gossiper runs the discovery protocol for one node.
type Gossiper struct {
	cfg     Config
	log     *zap.Logger
	members *MemberList
	load    atomic.Pointer[Load]

	outbound chan outbound
	inbound  chan inbound

	mu         sync.Mutex
	running    bool
	transport  Transport
	ctx        context.Context
	cancel     context.CancelFunc
	tasks      *errgroup.Group
	producers  sync.WaitGroup
	dispatched chan struct{}

	stopMu  sync.Mutex
	stopped bool
	stopErr error
}

// New validates cfg and returns a Gossiper that has not bound anything yet.
func New(cfg Config) (*Gossiper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gossip: invalid config: %w", err)
	}
	cfg = cfg.withDefaults()

	g := &Gossiper{
		cfg:        cfg,
		log:        cfg.Logger.With(zap.String("node", string(cfg.ID))),
		members:    NewMemberList(),
		outbound:   make(chan outbound, cfg.QueueSize),
		inbound:    make(chan inbound, cfg.QueueSize),
		dispatched: make(chan struct{}),
	}
	g.refreshLoad()
	return g, nil
}

func (g *Gossiper) ID() NodeID { return g.cfg.ID }

// Load returns the load this node last computed for itself.
func (g *Gossiper) Load() Load { return *g.load.Load() }

// Members returns the current member list ordered by id.
func (g *Gossiper) Members() []Member { return g.members.All() }

func (g *Gossiper) Member(id NodeID) (Member, bool) { return g.members.Get(id) }

// LocalAddr returns the bound address, or the zero value before Start.
func (g *Gossiper) LocalAddr() netip.AddrPort {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.transport == nil {
		return netip.AddrPort{}
	}
	return g.transport.LocalAddr()
}

// Done is closed when the node's context ends, either because the context
// passed to Start was cancelled or because a task failed.
func (g *Gossiper) Done() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx == nil {
		return nil
	}
	return g.ctx.Done()
}

// Start binds the transport, starts the dispatcher, handler and heartbeat,
// broadcasts Join, starts the listener and finally calls ready. Bind
// failures are returned as *BindError. Stop must be called to release the
// transport.
func (g *Gossiper) Start(ctx context.Context, ready ReadyFunc) error {
	local, err := g.start(ctx)
	if err != nil {
		return err
	}
	if ready != nil {
		ready(g.cfg.ID, local.Addr(), local.Port())
	}
	return nil
}

func (g *Gossiper) start(ctx context.Context) (netip.AddrPort, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return netip.AddrPort{}, errors.New("gossip: already started")
	}

	t := g.cfg.Transport
	if t == nil {
		ut, err := ListenUDP(ctx, g.cfg.Addr, g.cfg.Port)
		if err != nil {
			return netip.AddrPort{}, err
		}
		t = ut
	}
	g.transport = t
	g.running = true

	ctx, g.cancel = context.WithCancel(ctx)
	g.tasks, g.ctx = errgroup.WithContext(ctx)
	ctx = g.ctx

	g.tasks.Go(func() error {
		defer close(g.dispatched)
		return g.dispatch()
	})
	g.spawn(func() error { return g.handle(ctx) })
	g.spawn(func() error { return g.heartbeat(ctx) })

	g.enqueue(ctx, NewJoin(g.cfg.ID, g.loadRef()), netip.AddrPort{})

	g.tasks.Go(func() error { return g.listen(ctx) })

	local := t.LocalAddr()
	g.log.Info("gossip started",
		zap.Stringer("addr", local),
		zap.Stringer("broadcast", g.cfg.Broadcast),
		zap.Duration("heartbeat", g.cfg.Heartbeat),
		zap.Duration("threshold", g.cfg.Threshold))
	return local, nil
}

// Stop cancels the handler and heartbeat, flushes messages already queued
// for sending, closes the transport and waits for every task. It returns the
// first task failure, if any, combined with the transport close error. Stop
// is idempotent and a no-op on a node that never started.
func (g *Gossiper) Stop() error {
	g.stopMu.Lock()
	defer g.stopMu.Unlock()
	if g.stopped {
		return g.stopErr
	}
	g.mu.Lock()
	running := g.running
	g.mu.Unlock()
	if !running {
		return nil
	}
	g.stopped = true

	g.cancel()
	g.producers.Wait()
	close(g.outbound)
	<-g.dispatched
	closeErr := g.transport.Close()
	g.stopErr = multierr.Append(g.tasks.Wait(), closeErr)
	g.log.Info("gossip stopped", zap.Error(g.stopErr))
	return g.stopErr
}

// Run starts the node, blocks until ctx is cancelled or a task fails, then
// stops it.
func (g *Gossiper) Run(ctx context.Context, ready ReadyFunc) error {
	if err := g.Start(ctx, ready); err != nil {
		return err
	}
	<-g.Done()
	return g.Stop()
}

// spawn runs a task that produces outbound messages. Stop waits for all of
// them before closing the outbound queue.
func (g *Gossiper) spawn(fn func() error) {
	g.producers.Add(1)
	g.tasks.Go(func() error {
		defer g.producers.Done()
		return fn()
	})
}

// enqueue blocks until the message is queued or ctx ends.
func (g *Gossiper) enqueue(ctx context.Context, msg Message, to netip.AddrPort) bool {
	select {
	case g.outbound <- outbound{msg: msg, to: to}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (g *Gossiper) refreshLoad() Load {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	l := Load{Memory: ms.HeapAlloc, Tasks: g.cfg.Load()}
	g.load.Store(&l)
	return l
}

func (g *Gossiper) loadRef() *Load {
	l := g.Load()
	return &l
}
