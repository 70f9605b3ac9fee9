package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/duet/internal/api"
	"github.com/goodtune/duet/internal/arbiter"
	"github.com/goodtune/duet/internal/catalog"
	"github.com/goodtune/duet/internal/config"
	"github.com/goodtune/duet/internal/hub"
	"github.com/goodtune/duet/internal/identity"
	"github.com/goodtune/duet/internal/metrics"
	"github.com/goodtune/duet/internal/notify"
	"github.com/goodtune/duet/internal/storage"
	"github.com/goodtune/duet/internal/storage/bolt"
	"github.com/goodtune/duet/internal/storage/redis"
	"github.com/goodtune/duet/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start Duet server",
	Long:  `Start the Duet server with the member API, live channel and metrics endpoints.`,
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
		Msg("Starting Duet")

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

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Storage initialized")

	// Initialize live channel hub
	liveHub := hub.New(hub.Config{Logger: logger})

	// Initialize notifier
	notifier, err := notify.New(notify.Config{
		PushURL:      cfg.Notify.PushURL,
		SMSURL:       cfg.Notify.SMSURL,
		SMSFrom:      cfg.Notify.SMSFrom,
		Timeout:      config.ParseDuration(cfg.Notify.Timeout, notify.DefaultTimeout),
		Cooldown:     config.ParseDuration(cfg.Notify.Cooldown, notify.DefaultCooldown),
		CooldownSize: cfg.Notify.CooldownSize,
		Logger:       logger,
	}, store)
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}
	if !notifier.Enabled() {
		logger.Info().Msg("No notification gateway configured, side-channel notifications disabled")
	}

	// Initialize arbiter
	service, err := newArbiter(cfg, store, liveHub, notifier, logger)
	if err != nil {
		return err
	}

	resolver := identity.NewResolver(cfg.Auth.JWTSecret, config.ParseDuration(cfg.Auth.TokenExpiration, identity.DefaultTokenExpiration))

	// Initialize API Server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(api.Config{
		ListenAddr:      apiAddr,
		AdminKey:        cfg.Admin.APIKey,
		RateLimit:       cfg.Admin.RateLimit,
		RateLimitWindow: config.ParseDuration(cfg.Admin.RateLimitWindow, time.Minute),
		AllowedOrigins:  cfg.Admin.AllowedOrigins,
	}, api.Deps{
		Arbiter:  service,
		Hub:      liveHub,
		Resolver: resolver,
	}, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	logger.Info().
		Str("addr", apiAddr).
		Bool("admin", cfg.Admin.APIKey != "").
		Msg("API Server started")

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().
		Str("addr", metricsAddr).
		Msg("Metrics Server started")

	// Log startup complete
	logger.Info().Msg("Duet startup complete")
	logger.Info().Msgf("API: http://%s:%d/api", cfg.Server.BindAddress, cfg.Server.APIPort)
	logger.Info().Msgf("Metrics: http://%s:%d/metrics", cfg.Server.BindAddress, cfg.Server.MetricsPort)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Keep the systemd watchdog fed when WatchdogSec= is set
	var watchdog <-chan time.Time
	if interval := systemd.WatchdogInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		watchdog = ticker.C
		logger.Debug().Dur("interval", interval).Msg("systemd watchdog enabled")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for running := true; running; {
		select {
		case <-watchdog:
			if err := systemd.NotifyWatchdog(); err != nil {
				logger.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
			}
		case <-sigChan:
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			running = false
		}
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop servers
	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	liveHub.Close()
	service.Close()
	notifier.Wait()

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("Duet stopped")

	return nil
}

// newArbiter builds the arbiter over store with the configured catalog
func newArbiter(cfg *config.Config, store storage.Store, live arbiter.Live, notifier arbiter.Notifier, logger zerolog.Logger) (*arbiter.Service, error) {
	activities, err := catalog.New(cfg.Catalog.Activities)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}

	rc := cfg.Rendezvous
	return arbiter.New(arbiter.Config{
		TTL:          config.ParseDuration(rc.TTL, arbiter.DefaultTTL),
		SettleDelay:  config.ParseDuration(rc.SettleDelay, arbiter.DefaultSettleDelay),
		ReplayWindow: config.ParseDuration(rc.ReplayWindow, arbiter.DefaultReplayWindow),
		TrialPeriod:  config.ParseDuration(rc.TrialPeriod, 0),
		TrialActions: rc.TrialActions,
		AutoConsume:  rc.AutoConsume,
		NotifyAlways: cfg.Notify.Always,
		Logger:       logger,
	}, store, live, notifier, activities), nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "redis"
	}

	switch storageType {
	case "redis":
		return redis.Open(cfg.Redis)
	case "bolt":
		return bolt.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
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
