package gossip

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire protocol: one JSON record per datagram.
//
//	{"action":{"Join":"node1"},"state":{"memory":1024,"tasks":3}}
//
// The action is externally tagged. "state" is optional so nodes that do not
// report load still interoperate.

// NodeID identifies a node. It is assigned once and compared for equality only.
type NodeID string

// Kind is the protocol vocabulary.
type Kind uint8

const (
	// Join announces a node that just started. A node that learns about a new
	// peer through Join answers with a unicast Join of its own.
	Join Kind = iota + 1
	// Check is the periodic liveness broadcast.
	Check
)

// MaxDatagramSize bounds a single encoded message.
const MaxDatagramSize = 4096

var (
	// ErrDecode is returned for datagrams that are not a well-formed message.
	ErrDecode = errors.New("gossip: malformed message")
	// ErrEncode is returned when a message cannot be serialized.
	ErrEncode = errors.New("gossip: cannot encode message")
)

func (k Kind) String() string {
	switch k {
	case Join:
		return "Join"
	case Check:
		return "Check"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func parseKind(s string) (Kind, bool) {
	switch s {
	case "Join":
		return Join, true
	case "Check":
		return Check, true
	}
	return 0, false
}

// Action is the tagged variant carried by every message.
type Action struct {
	Kind Kind
	ID   NodeID
}

func (a Action) MarshalJSON() ([]byte, error) {
	if _, ok := parseKind(a.Kind.String()); !ok {
		return nil, fmt.Errorf("%w: unknown action %s", ErrEncode, a.Kind)
	}
	if a.ID == "" {
		return nil, fmt.Errorf("%w: empty node id", ErrEncode)
	}
	return json.Marshal(map[string]string{a.Kind.String(): string(a.ID)})
}

func (a *Action) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("want exactly one action variant, got %d", len(raw))
	}
	for tag, payload := range raw {
		kind, ok := parseKind(tag)
		if !ok {
			return fmt.Errorf("unknown action %q", tag)
		}
		var id string
		if err := json.Unmarshal(payload, &id); err != nil {
			return fmt.Errorf("action %s: %w", tag, err)
		}
		if id == "" {
			return fmt.Errorf("action %s: empty node id", tag)
		}
		*a = Action{Kind: kind, ID: NodeID(id)}
	}
	return nil
}

// Load is the load a node reports about itself.
type Load struct {
	Memory uint64 `json:"memory"`
	Tasks  int    `json:"tasks"`
}

// Message is a single protocol datagram.
type Message struct {
	Action Action `json:"action"`
	Load   *Load  `json:"state,omitempty"`
}

// NewJoin returns a Join message for id.
func NewJoin(id NodeID, load *Load) Message {
	return Message{Action: Action{Kind: Join, ID: id}, Load: load}
}

// NewCheck returns a Check message for id.
func NewCheck(id NodeID, load *Load) Message {
	return Message{Action: Action{Kind: Check, ID: id}, Load: load}
}

// Encode serializes m. Errors wrap ErrEncode.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		if errors.Is(err, ErrEncode) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if len(b) > MaxDatagramSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrEncode, len(b), MaxDatagramSize)
	}
	return b, nil
}

// Decode parses a datagram. Errors wrap ErrDecode.
func Decode(b []byte) (Message, error) {
	var wire struct {
		Action *Action `json:"action"`
		Load   *Load   `json:"state"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if wire.Action == nil {
		return Message{}, fmt.Errorf("%w: missing action", ErrDecode)
	}
	return Message{Action: *wire.Action, Load: wire.Load}, nil
}
