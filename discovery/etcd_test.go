package discovery

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ryandielhenn/escalon/internal/telemetry"
)

func TestKeyTrimsTrailingSlash(t *testing.T) {
	for _, prefix := range []string{"/escalon/nodes", "/escalon/nodes/"} {
		d := NewDirectory(nil, prefix, nil)
		assert.Equal(t, "/escalon/nodes/n1", d.Key("n1"))
	}
}

func TestDecodeEntry(t *testing.T) {
	assert.Equal(t,
		Entry{Gossip: "10.0.0.1:65056", Status: "http://10.0.0.1:8080"},
		decodeEntry([]byte(`{"gossip":"10.0.0.1:65056","status":"http://10.0.0.1:8080"}`)))
	assert.Equal(t, Entry{Gossip: "node1:8080"}, decodeEntry([]byte("node1:8080")))
	assert.Equal(t, Entry{Gossip: `{"status":"x"}`}, decodeEntry([]byte(`{"status":"x"}`)))
}

func TestApplyAndPublish(t *testing.T) {
	d := NewDirectory(nil, "/escalon/nodes", nil)
	nodes := map[string]Entry{}

	d.apply(nodes, &clientv3.Event{
		Type: mvccpb.PUT,
		Kv:   &mvccpb.KeyValue{Key: []byte("/escalon/nodes/a"), Value: []byte(`{"gossip":"10.0.0.1:1"}`)},
	})
	d.apply(nodes, &clientv3.Event{
		Type: mvccpb.PUT,
		Kv:   &mvccpb.KeyValue{Key: []byte("/escalon/nodes/b"), Value: []byte(`{"gossip":"10.0.0.2:1"}`)},
	})
	d.apply(nodes, &clientv3.Event{
		Type: mvccpb.DELETE,
		Kv:   &mvccpb.KeyValue{Key: []byte("/escalon/nodes/a")},
	})

	var got map[string]Entry
	d.publish(nodes, func(m map[string]Entry) { got = m })
	assert.Equal(t, map[string]Entry{"b": {Gossip: "10.0.0.2:1"}}, got)
	assert.Equal(t, float64(1), testutil.ToFloat64(telemetry.DirectoryNodes))

	// The callback gets a copy.
	got["c"] = Entry{}
	assert.Len(t, nodes, 1)
}
