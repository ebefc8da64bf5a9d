package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/veldtlabs/fsgate/internal/logger"
	"github.com/veldtlabs/fsgate/pkg/config"
	"github.com/veldtlabs/fsgate/pkg/dispatch"
	"github.com/veldtlabs/fsgate/pkg/metrics"
	"github.com/veldtlabs/fsgate/pkg/msglog"
	"github.com/veldtlabs/fsgate/pkg/server"
	"github.com/veldtlabs/fsgate/pkg/session"
	"github.com/veldtlabs/fsgate/pkg/stats"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the FSGate server",
	Long: `Start the FSGate server with the specified configuration.

Examples:
  # Start with environment/default configuration
  fsgate start

  # Start with a config file
  fsgate start --config /etc/fsgate/config.yaml

  # Override single settings via environment
  FSGATE_SERVER_PORT=9100 FSGATE_LOGGING_LEVEL=DEBUG fsgate start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}

	root, err := prepareRoot(cfg.Server.Root)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Metrics are opt-in; recorders are nil-safe when disabled.
	var telemetry *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		telemetry = metrics.NewServer(cfg.Metrics.Port)
		telemetry.Start()
		defer telemetry.Stop(context.Background())
	}
	gateMetrics := metrics.NewGateMetrics()

	messageLog, err := msglog.NewWriter(cfg.MessageLog.Path)
	if err != nil {
		return err
	}
	defer messageLog.Close()

	registry := session.NewRegistry(cfg.Server.MaxSessions)

	readonlyDelay := cfg.Server.ReadonlyDelay
	if readonlyDelay < 0 {
		readonlyDelay = 0
	}
	dispatcher := &dispatch.Dispatcher{
		Root:          root,
		ReadonlyDelay: readonlyDelay,
		Log:           messageLog,
		Metrics:       gateMetrics,
	}

	snapshotter := stats.New(registry, cfg.Stats.Path, cfg.Stats.Interval)
	go snapshotter.Run(ctx)

	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Root:            root,
		AdminToken:      cfg.Server.AdminToken,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, registry, dispatcher, gateMetrics)

	logger.Info("starting fsgate", "version", Version, "root", root,
		"max_sessions", cfg.Server.MaxSessions, "idle_timeout", cfg.Server.IdleTimeout)

	return srv.Serve(ctx)
}

// prepareRoot creates the sandbox root if needed and returns its absolute
// path.
func prepareRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", fmt.Errorf("failed to create root %q: %w", abs, err)
	}
	return abs, nil
}
