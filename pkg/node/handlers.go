package node

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/escalon/pkg/gossip"
)

// Healthz returns 200 while the gossip node is alive and 503 once it has
// shut down.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	select {
	case <-n.gsp.Done():
		http.Error(w, "stopped", http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

type loadJSON struct {
	Memory uint64 `json:"memory"`
	Tasks  int    `json:"tasks"`
}

func toLoadJSON(l gossip.Load) loadJSON {
	return loadJSON{Memory: l.Memory, Tasks: l.Tasks}
}

// Info writes the process id, current time, bound address, member count and
// this node's own load.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		ID      gossip.NodeID `json:"id"`
		PID     int           `json:"pid"`
		Now     time.Time     `json:"now"`
		Addr    string        `json:"addr"`
		Members int           `json:"members"`
		Load    loadJSON      `json:"load"`
	}
	var addr string
	if a := n.gsp.LocalAddr(); a.IsValid() {
		addr = a.String()
	}
	n.writeJSON(w, http.StatusOK, resp{
		ID:      n.gsp.ID(),
		PID:     os.Getpid(),
		Now:     time.Now(),
		Addr:    addr,
		Members: len(n.gsp.Members()),
		Load:    toLoadJSON(n.gsp.Load()),
	})
}

type peerJSON struct {
	ID       gossip.NodeID `json:"id"`
	Addr     string        `json:"addr"`
	LastSeen time.Time     `json:"last_seen"`
	Load     loadJSON      `json:"load"`
}

// Peers lists the member list ordered by id. With ?id= it returns that one
// peer or 404.
func (n *Node) Peers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	members := n.gsp.Members()
	peers := make([]peerJSON, 0, len(members))
	for _, m := range members {
		peers = append(peers, peerJSON{
			ID:       m.ID,
			Addr:     m.Addr.String(),
			LastSeen: m.LastSeen,
			Load:     toLoadJSON(m.Load),
		})
	}

	if id := req.URL.Query().Get("id"); id != "" {
		for _, p := range peers {
			if p.ID == gossip.NodeID(id) {
				n.writeJSON(w, http.StatusOK, p)
				return
			}
		}
		http.NotFound(w, req)
		return
	}
	n.writeJSON(w, http.StatusOK, peers)
}

func (n *Node) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		n.log.Error("encode response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
