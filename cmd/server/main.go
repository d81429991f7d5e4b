package main

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ryandielhenn/escalon/discovery"
	"github.com/ryandielhenn/escalon/internal/config"
	"github.com/ryandielhenn/escalon/internal/telemetry"
	"github.com/ryandielhenn/escalon/pkg/gossip"
	"github.com/ryandielhenn/escalon/pkg/node"
)

// Set with -ldflags "-X main.version=... -X main.gitSHA=...".
var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:          "escalon",
		Short:        "Discover peers on the local broadcast domain and track their liveness",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to a TOML config file")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	telemetry.SetBuildInfo(version, gitSHA)

	// Goroutines are the closest thing this process has to a task count.
	g, err := gossip.New(cfg.GossipConfig(runtime.NumGoroutine, logger))
	if err != nil {
		return err
	}
	n := node.NewNode(g, logger)

	if cfg.Status.Addr != "" {
		srv := statusServer(cfg.Status.Addr, n)
		go func() {
			logger.Info("status server listening", zap.String("addr", cfg.Status.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = multierr.Append(err, srv.Shutdown(shutdownCtx))
		}()
	}

	var (
		dir         *discovery.Directory
		stopPublish func()
	)
	if len(cfg.Etcd.Endpoints) > 0 {
		cli, err := discovery.NewClient(cfg.Etcd.Endpoints)
		if err != nil {
			return err
		}
		// The lease is revoked before the client closes.
		defer func() {
			if stopPublish != nil {
				stopPublish()
			}
			cli.Close()
		}()
		dir = discovery.NewDirectory(cli, cfg.Etcd.Prefix, logger)
	}

	return g.Run(ctx, func(id gossip.NodeID, ip netip.Addr, port uint16) {
		logger.Info("node ready",
			zap.String("id", string(id)),
			zap.Stringer("ip", ip),
			zap.Uint16("port", port))
		if dir != nil {
			stopPublish = startPublish(ctx, logger, dir, cfg, id, netip.AddrPortFrom(ip, port))
		}
	})
}

func statusServer(addr string, n *node.Node) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(n.Healthz)))
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("/peers", telemetry.Instrument("peers", http.HandlerFunc(n.Peers)))
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type directory interface {
	Register(ctx context.Context, id string, e discovery.Entry, ttl int64) (clientv3.LeaseID, error)
	Deregister(ctx context.Context, lease clientv3.LeaseID) error
	Watch(ctx context.Context, fn func(map[string]discovery.Entry)) error
}

// startPublish runs publish in the background. The returned func cancels it
// and blocks until the lease has been revoked.
func startPublish(ctx context.Context, logger *zap.Logger, dir directory, cfg *config.Config, id gossip.NodeID, local netip.AddrPort) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		publish(ctx, logger, dir, cfg, id, local)
	}()
	return func() {
		cancel()
		<-done
	}
}

// publish registers this node in the directory and logs directory changes
// until ctx ends. Failures are logged; gossip keeps running without etcd.
func publish(ctx context.Context, logger *zap.Logger, dir directory, cfg *config.Config, id gossip.NodeID, local netip.AddrPort) {
	entry := discovery.Entry{Gossip: local.String()}
	if cfg.Status.Addr != "" {
		entry.Status = node.AdvertiseURL(local.Addr(), cfg.Status.Addr)
	}
	lease, err := dir.Register(ctx, string(id), entry, cfg.Etcd.TTL)
	if err != nil {
		logger.Error("directory registration failed", zap.Error(err))
		return
	}
	defer func() {
		revokeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := dir.Deregister(revokeCtx, lease); err != nil {
			logger.Warn("directory deregistration failed", zap.Error(err))
		}
	}()

	err = dir.Watch(ctx, func(nodes map[string]discovery.Entry) {
		logger.Debug("directory changed", zap.Int("nodes", len(nodes)))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("directory watch ended", zap.Error(err))
	}
}
