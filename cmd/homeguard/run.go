package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/goodtune/homeguard/internal/config"
	"github.com/goodtune/homeguard/internal/control"
	"github.com/goodtune/homeguard/internal/metrics"
	"github.com/goodtune/homeguard/internal/monitor"
	"github.com/goodtune/homeguard/internal/policy"
	"github.com/goodtune/homeguard/internal/poller"
	"github.com/goodtune/homeguard/internal/router"
	"github.com/goodtune/homeguard/internal/storage"
	"github.com/goodtune/homeguard/internal/storage/bolt"
	"github.com/goodtune/homeguard/internal/storage/memory"
	"github.com/goodtune/homeguard/internal/storage/redis"
	"github.com/goodtune/homeguard/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the homeguard daemon",
	Long:  `Start the daemon: poll the router, serve the control API and metrics, and persist pending edits.`,
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Str("router", cfg.Router.BaseURL).
		Msg("Starting homeguard")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	client, err := newRouterClient(cfg.Router, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Policy engine and draft persistence
	engine := policy.NewEngine(client, logger)
	defer engine.Close()

	persister := policy.NewPersister(engine, store.Drafts(), logger)
	if err := persister.Restore(ctx); err != nil {
		// The stale draft is replaced on the next save
		logger.Warn().Err(err).Msg("Failed to restore pending changes")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		persister.Run(ctx)
	}()

	// Monitor and poll scheduler
	mon, err := monitor.New(client, engine, store.Leases(), monitor.Config{
		StatusInterval:  parseDuration(cfg.Poll.StatusInterval, 30*time.Second),
		StatsInterval:   parseDuration(cfg.Poll.StatsInterval, 30*time.Second),
		RulesInterval:   parseDuration(cfg.Poll.RulesInterval, 60*time.Second),
		DevicesInterval: parseDuration(cfg.Poll.DevicesInterval, 0),
		JobInterval:     parseDuration(cfg.Poll.JobInterval, 2*time.Second),
		NameCacheSize:   cfg.Devices.NameCacheSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize monitor: %w", err)
	}
	if err := mon.Seed(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed devices from lease cache")
	}

	scheduler := poller.NewScheduler(logger, mon.Tasks()...)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start poll scheduler: %w", err)
	}

	// Control API
	var controlServer *control.Server
	if cfg.Control.Enabled {
		controlServer = control.NewServer(cfg.Control.Addr(), engine, mon, scheduler, logger)

		// Use systemd socket-activated listener if available
		if sdListeners.Control != nil {
			controlServer.SetListener(sdListeners.Control)
		}
		if err := controlServer.Start(); err != nil {
			scheduler.Stop()
			return fmt.Errorf("failed to start control server: %w", err)
		}
	}

	// Metrics
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr(), logger)

		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			scheduler.Stop()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	logger.Info().Msg("homeguard startup complete")

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}
	go systemd.RunWatchdog(ctx, logger)

	// Wait for signals (shutdown or refresh)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
			break
		}

		logger.Info().Msg("SIGHUP received, refreshing router state...")
		_ = systemd.NotifyReloading()
		refreshCtx, done := context.WithTimeout(ctx, parseDuration(cfg.Router.Timeout, 10*time.Second)*2)
		if err := scheduler.RefreshAll(refreshCtx); err != nil {
			logger.Warn().Err(err).Msg("Refresh incomplete, keeping last known state")
		} else {
			logger.Info().Msg("Router state refreshed")
		}
		done()
		_ = systemd.NotifyReady()
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	if controlServer != nil {
		if err := controlServer.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error stopping control server")
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	scheduler.Stop()

	// Persister writes the final draft on cancel
	cancel()
	wg.Wait()

	if n := len(engine.Changes()); n > 0 {
		logger.Info().Int("pending", n).Msg("Pending changes saved for next start")
	}
	logger.Info().Msg("homeguard stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.Open(), nil
	case "bolt":
		return bolt.Open(cfg.Bolt.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func newRouterClient(cfg config.RouterConfig, logger zerolog.Logger) (*router.Client, error) {
	client, err := router.NewClient(router.Config{
		BaseURL:   cfg.BaseURL,
		Timeout:   parseDuration(cfg.Timeout, 10*time.Second),
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router client: %w", err)
	}
	return client, nil
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
