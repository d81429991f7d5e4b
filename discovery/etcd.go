// Package discovery publishes escalon nodes to an etcd-backed directory so
// that tooling outside the broadcast domain can find them.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/escalon/internal/telemetry"
)

// Entry is the value stored under a node's key.
type Entry struct {
	Gossip string `json:"gossip"`
	Status string `json:"status,omitempty"`
}

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// Directory stores one leased key per node under prefix.
type Directory struct {
	cli    *clientv3.Client
	prefix string
	log    *zap.Logger
}

func NewDirectory(cli *clientv3.Client, prefix string, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		cli:    cli,
		prefix: strings.TrimSuffix(prefix, "/") + "/",
		log:    logger.Named("discovery"),
	}
}

func (d *Directory) Key(id string) string {
	return d.prefix + id
}

// Register writes e under id with a lease of ttl seconds and keeps the lease
// alive until ctx ends.
func (d *Directory) Register(ctx context.Context, id string, e Entry, ttl int64) (clientv3.LeaseID, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}
	lease, err := d.cli.Grant(ctx, ttl)
	if err != nil {
		return 0, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := d.cli.Put(ctx, d.Key(id), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return 0, fmt.Errorf("put %s: %w", d.Key(id), err)
	}

	ka, err := d.cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		return 0, fmt.Errorf("keepalive: %w", err)
	}
	go func() {
		for range ka {
		}
		d.log.Debug("lease keepalive ended", zap.String("id", id))
	}()

	d.log.Info("registered", zap.String("key", d.Key(id)), zap.Int64("ttl", ttl))
	return lease.ID, nil
}

// Deregister revokes the lease, deleting the key immediately.
func (d *Directory) Deregister(ctx context.Context, lease clientv3.LeaseID) error {
	_, err := d.cli.Revoke(ctx, lease)
	return err
}

// List returns every registered node and the revision it was read at.
func (d *Directory) List(ctx context.Context) (map[string]Entry, int64, error) {
	resp, err := d.cli.Get(ctx, d.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, 0, err
	}
	nodes := make(map[string]Entry, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		nodes[strings.TrimPrefix(string(kv.Key), d.prefix)] = decodeEntry(kv.Value)
	}
	return nodes, resp.Header.Revision, nil
}

// Watch calls fn with the full directory once, then again after every
// change, until ctx ends or the watch fails.
func (d *Directory) Watch(ctx context.Context, fn func(map[string]Entry)) error {
	nodes, rev, err := d.List(ctx)
	if err != nil {
		return err
	}
	d.publish(nodes, fn)

	wch := d.cli.Watch(ctx, d.prefix, clientv3.WithPrefix(), clientv3.WithRev(rev+1))
	for wresp := range wch {
		if err := wresp.Err(); err != nil {
			return err
		}
		for _, ev := range wresp.Events {
			d.apply(nodes, ev)
		}
		d.publish(nodes, fn)
	}
	return ctx.Err()
}

func (d *Directory) apply(nodes map[string]Entry, ev *clientv3.Event) {
	id := strings.TrimPrefix(string(ev.Kv.Key), d.prefix)
	switch ev.Type {
	case mvccpb.PUT:
		nodes[id] = decodeEntry(ev.Kv.Value)
		d.log.Debug("directory put", zap.String("id", id))
	case mvccpb.DELETE:
		delete(nodes, id)
		d.log.Debug("directory delete", zap.String("id", id))
	}
}

func (d *Directory) publish(nodes map[string]Entry, fn func(map[string]Entry)) {
	telemetry.DirectoryNodes.Set(float64(len(nodes)))
	cp := make(map[string]Entry, len(nodes))
	for k, v := range nodes {
		cp[k] = v
	}
	fn(cp)
}

// decodeEntry accepts a JSON Entry or a bare gossip address.
func decodeEntry(b []byte) Entry {
	var e Entry
	if err := json.Unmarshal(b, &e); err == nil && e.Gossip != "" {
		return e
	}
	return Entry{Gossip: string(b)}
}
