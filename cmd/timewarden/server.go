package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/timewarden/internal/clock"
	"github.com/goodtune/timewarden/internal/config"
	"github.com/goodtune/timewarden/internal/connectivity"
	"github.com/goodtune/timewarden/internal/metrics"
	"github.com/goodtune/timewarden/internal/monitor"
	"github.com/goodtune/timewarden/internal/notify"
	"github.com/goodtune/timewarden/internal/rollover"
	"github.com/goodtune/timewarden/internal/storage"
	"github.com/goodtune/timewarden/internal/storage/bolt"
	"github.com/goodtune/timewarden/internal/storage/redis"
	"github.com/goodtune/timewarden/internal/timer"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the Timewarden engine",
	Long:  `Start the Timewarden engine: the periodic monitor, the midnight rollover and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
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
		Msg("Starting Timewarden")

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

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Storage initialized")

	// Initialize connectivity backend
	backend, err := connectivity.NewBackend(cfg.Connectivity.Backend)
	if err != nil {
		return fmt.Errorf("failed to initialize connectivity backend: %w", err)
	}
	logger.Info().Str("backend", backend.Name()).Msg("Connectivity backend initialized")

	clk := clock.RealClock{}
	sink := notify.NewLogSink(logger)

	manager := connectivity.NewManager(store, backend, sink, clk, cfg.Connectivity, logger)
	service := timer.NewService(store, manager, sink, clk, cfg.Usage, logger)

	mon, err := monitor.New(store, service, manager, sink, clk, cfg.Monitor, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize monitor: %w", err)
	}
	scheduler := rollover.New(store, service, manager, clk, cfg.Usage, cfg.Rollover, logger)

	// Start metrics server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	mon.Start()
	scheduler.Start()

	logger.Info().Msg("Timewarden started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	scheduler.Stop()
	mon.Stop()
	manager.Flush()
	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop metrics server")
	}

	return nil
}

// openStorage creates the configured storage backend
func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "redis":
		return redis.Open(cfg.Redis)
	case "bolt":
		return bolt.Open(filepath.Join(cfg.Path, "timewarden.db"))
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
