package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/relaygate/relaygate/internal/a2arelay"
	"github.com/relaygate/relaygate/internal/config"
	"github.com/relaygate/relaygate/internal/configstore"
	"github.com/relaygate/relaygate/internal/listener"
	"github.com/relaygate/relaygate/internal/pool"
	"github.com/relaygate/relaygate/internal/relay"
	"github.com/relaygate/relaygate/internal/xds"
)

var devMode bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gateway",
	Long: `Run the gateway, ingesting configuration from a local YAML document or
a delta-xDS control plane depending on config, and serving every
configured listener until interrupted.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&devMode, "dev", false, "enable development mode (verbose logging, insecure control-plane dial)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop() // restore default: a second Ctrl+C hard-kills.
	}()

	store := configstore.New()

	if cfg.Local.Enabled {
		data, err := os.ReadFile(cfg.Local.File)
		if err != nil {
			return fmt.Errorf("failed to read local config %q: %w", cfg.Local.File, err)
		}
		if err := xds.LoadLocal(store, data); err != nil {
			return fmt.Errorf("failed to load local config: %w", err)
		}
		logger.Info("loaded local config", "file", cfg.Local.File)
	} else {
		var dialOpts []grpc.DialOption
		if cfg.ControlPlane.Insecure {
			dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		}
		client, err := xds.NewClient(cfg.ControlPlane.Address, cfg.Server.NodeID, store, logger, dialOpts...)
		if err != nil {
			return fmt.Errorf("failed to create xds client: %w", err)
		}
		defer client.Close()
		go func() {
			if err := client.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("xds client stopped", "error", err)
			}
		}()
		logger.Info("connected to control plane", "address", cfg.ControlPlane.Address)
	}

	p := pool.New(store)
	defer func() { _ = p.Close() }()

	mcpRelay := relay.New(store, p)
	a2aRelay := a2arelay.New(store, p)

	mgr := listener.New(logger)
	defer mgr.Close()

	if cfg.Telemetry.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		listener.NewMetrics(registry)
		admin := &listener.HTTPAdmin{ListenerName: "admin", Addr: cfg.Telemetry.MetricsAddr, Store: store, Registry: registry, Version: Version}
		if err := mgr.Insert("admin", admin); err != nil {
			logger.Error("failed to start admin listener", "error", err)
		}
	}

	events := store.Subscribe()
	running := map[string]configstore.ListenerConfig{}
	reconcileListeners(mgr, store, running, mcpRelay, a2aRelay, logger)

	logger.Info("relaygate running")
	for {
		select {
		case <-ctx.Done():
			logger.Info("relaygate stopped")
			return nil
		case ev := <-events:
			switch ev.Type {
			case configstore.EventListenerUpserted, configstore.EventListenerRemoved:
				reconcileListeners(mgr, store, running, mcpRelay, a2aRelay, logger)
			case configstore.EventTargetRemoved:
				p.Remove(ev.Name)
			}
		}
	}
}

// reconcileListeners brings ListenerManager's running tasks in line with
// the store's current listener set, diffing against running (the set
// reconcileListeners itself last started) so an unchanged listener is
// left alone, a new or modified one is Insert/Update-d, and a removed one
// is torn down.
func reconcileListeners(mgr *listener.Manager, store *configstore.Store, running map[string]configstore.ListenerConfig, mcpRelay *relay.Relay, a2aRelay *a2arelay.Relay, logger *slog.Logger) {
	snap, err := store.Snapshot()
	if err != nil {
		logger.Error("failed to snapshot config for listener reconciliation", "error", err)
		return
	}

	for name := range running {
		if _, ok := snap.Listeners[name]; !ok {
			mgr.Remove(name)
			delete(running, name)
		}
	}

	for name, lc := range snap.Listeners {
		if prev, ok := running[name]; ok && prev.Kind == lc.Kind && prev.Addr == lc.Addr {
			continue // transport-relevant fields unchanged; RBAC reads Snapshot() fresh per request
		}

		var task listener.Task
		switch lc.Kind {
		case configstore.ListenerMCP:
			if lc.Addr == "" || strings.EqualFold(lc.Addr, "stdio") {
				task = &listener.StdioMCP{ListenerName: name, Relay: mcpRelay, In: os.Stdin, Out: os.Stdout, Logger: logger}
			} else {
				task = &listener.HTTPMCP{ListenerName: name, Addr: lc.Addr, Relay: mcpRelay, Logger: logger}
			}
		case configstore.ListenerA2A:
			task = &listener.HTTPA2A{ListenerName: name, Addr: lc.Addr, Relay: a2aRelay, Logger: logger}
		default:
			logger.Warn("unknown listener kind, skipping", "listener", name, "kind", lc.Kind)
			continue
		}

		var insertErr error
		if _, ok := running[name]; ok {
			insertErr = mgr.Update(name, task)
		} else {
			insertErr = mgr.Insert(name, task)
		}
		if insertErr != nil {
			logger.Error("failed to start listener", "listener", name, "error", insertErr)
			delete(running, name)
			continue
		}
		running[name] = lc
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
