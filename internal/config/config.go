// Package config loads the escalon node configuration from a TOML file and
// the environment. Values are resolved in three steps: file, defaults for
// anything left unset, environment overrides. Validate runs last.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ryandielhenn/escalon/pkg/gossip"
)

// Duration is a time.Duration written as a string ("2s", "500ms") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Node struct {
	ID   string `toml:"id"`
	Addr string `toml:"addr"`
	// Port defaults to the rendezvous port broadcasts are sent to, so that
	// nodes hear each other. SELF_PORT=0 selects an ephemeral port.
	Port uint16 `toml:"port"`
	// Broadcast is the host:port every node announces itself to.
	Broadcast string `toml:"broadcast"`
}

type Gossip struct {
	Heartbeat Duration `toml:"heartbeat"`
	Threshold Duration `toml:"threshold"`
	QueueSize int      `toml:"queue_size"`
}

type Status struct {
	// Addr serves /healthz, /info, /peers and /metrics. Empty disables it.
	Addr string `toml:"addr"`
}

type Log struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

type Etcd struct {
	// Endpoints of the service directory. Empty disables registration.
	Endpoints []string `toml:"endpoints"`
	Prefix    string   `toml:"prefix"`
	TTL       int64    `toml:"ttl"`
}

// Config is the full node configuration.
type Config struct {
	Node   Node   `toml:"node"`
	Gossip Gossip `toml:"gossip"`
	Status Status `toml:"status"`
	Log    Log    `toml:"log"`
	Etcd   Etcd   `toml:"etcd"`
}

const (
	DefaultAddr       = "0.0.0.0"
	DefaultStatusAddr = ":8080"
	DefaultEtcdPrefix = "/escalon/nodes"
	DefaultEtcdTTL    = 10
)

// Decode parses raw TOML, rejecting unknown keys.
func Decode(raw []byte, cfg *Config) error {
	return toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(cfg)
}

// Load reads path (if non-empty), fills defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.InitDefaults()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InitDefaults fills every unset field. The node id has no default.
func (c *Config) InitDefaults() {
	if c.Node.Addr == "" {
		c.Node.Addr = DefaultAddr
	}
	if c.Node.Port == 0 {
		c.Node.Port = gossip.DefaultPort
	}
	if c.Node.Broadcast == "" {
		c.Node.Broadcast = gossip.DefaultBroadcast.String()
	}
	if c.Gossip.Heartbeat.Duration == 0 {
		c.Gossip.Heartbeat.Duration = gossip.DefaultHeartbeat
	}
	if c.Gossip.Threshold.Duration == 0 {
		c.Gossip.Threshold.Duration = gossip.DefaultThreshold
	}
	if c.Gossip.QueueSize == 0 {
		c.Gossip.QueueSize = gossip.DefaultQueueSize
	}
	if c.Status.Addr == "" {
		c.Status.Addr = DefaultStatusAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Etcd.Prefix == "" {
		c.Etcd.Prefix = DefaultEtcdPrefix
	}
	if c.Etcd.TTL == 0 {
		c.Etcd.TTL = DefaultEtcdTTL
	}
}

// ApplyEnv overrides fields from the environment:
// SELF_ID, SELF_ADDR, SELF_PORT, STATUS_ADDR, ETCD_ENDPOINTS (comma
// separated) and LOG_LEVEL.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SELF_ID"); ok && v != "" {
		c.Node.ID = v
	}
	if v, ok := lookup("SELF_ADDR"); ok && v != "" {
		c.Node.Addr = v
	}
	if v, ok := lookup("SELF_PORT"); ok && v != "" {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("SELF_PORT %q: %w", v, err)
		}
		c.Node.Port = uint16(port)
	}
	if v, ok := lookup("STATUS_ADDR"); ok {
		c.Status.Addr = v
	}
	if v, ok := lookup("ETCD_ENDPOINTS"); ok {
		c.Etcd.Endpoints = nil
		for _, ep := range strings.Split(v, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				c.Etcd.Endpoints = append(c.Etcd.Endpoints, ep)
			}
		}
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error
	if c.Node.ID == "" {
		err = multierr.Append(err, errors.New("node.id is required"))
	}
	if _, perr := netip.ParseAddr(c.Node.Addr); perr != nil {
		err = multierr.Append(err, fmt.Errorf("node.addr: %w", perr))
	}
	if _, perr := netip.ParseAddrPort(c.Node.Broadcast); perr != nil {
		err = multierr.Append(err, fmt.Errorf("node.broadcast: %w", perr))
	}
	if c.Gossip.Heartbeat.Duration <= 0 {
		err = multierr.Append(err, errors.New("gossip.heartbeat must be positive"))
	}
	if c.Gossip.Threshold.Duration <= 0 {
		err = multierr.Append(err, errors.New("gossip.threshold must be positive"))
	}
	if c.Gossip.QueueSize <= 0 {
		err = multierr.Append(err, errors.New("gossip.queue_size must be positive"))
	}
	if _, perr := zapcore.ParseLevel(c.Log.Level); perr != nil {
		err = multierr.Append(err, fmt.Errorf("log.level: %w", perr))
	}
	if c.Etcd.TTL <= 0 {
		err = multierr.Append(err, errors.New("etcd.ttl must be positive"))
	}
	return err
}

// Logger builds the process logger described by the log section.
func (c *Config) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = lvl
	return zc.Build()
}

// GossipConfig converts the validated configuration into a gossip.Config.
func (c *Config) GossipConfig(load func() int, logger *zap.Logger) gossip.Config {
	return gossip.Config{
		ID:        gossip.NodeID(c.Node.ID),
		Addr:      netip.MustParseAddr(c.Node.Addr),
		Port:      c.Node.Port,
		Load:      load,
		Broadcast: netip.MustParseAddrPort(c.Node.Broadcast),
		Heartbeat: c.Gossip.Heartbeat.Duration,
		Threshold: c.Gossip.Threshold.Duration,
		QueueSize: c.Gossip.QueueSize,
		Logger:    logger,
	}
}
