package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mescon/Gatherr/internal/api"
	"github.com/mescon/Gatherr/internal/config"
	"github.com/mescon/Gatherr/internal/db"
	"github.com/mescon/Gatherr/internal/eventbus"
	"github.com/mescon/Gatherr/internal/integration"
	"github.com/mescon/Gatherr/internal/logger"
	"github.com/mescon/Gatherr/internal/metrics"
	"github.com/mescon/Gatherr/internal/notifier"
	"github.com/mescon/Gatherr/internal/services"
	"github.com/mescon/Gatherr/internal/settings"
	"github.com/mescon/Gatherr/internal/watchlist"
	"github.com/mescon/Gatherr/internal/web"
)

func main() {
	// Define command line flags (these override environment variables)
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.BoolVar(showVersion, "v", false, "Print version and exit (shorthand)")

	// Configuration flags - all can also be set via environment variables (GATHERR_*)
	flagPort := flag.String("port", "", "HTTP server port (env: GATHERR_PORT, default: 3920)")
	flagBasePath := flag.String("base-path", "", "URL base path for reverse proxy (env: GATHERR_BASE_PATH, default: /)")
	flagLogLevel := flag.String("log-level", "", "Log level: debug, info, error (env: GATHERR_LOG_LEVEL, default: info)")
	flagDataDir := flag.String("data-dir", "", "Data directory path (env: GATHERR_DATA_DIR)")
	flagDatabasePath := flag.String("database-path", "", "Database file path (env: GATHERR_DATABASE_PATH)")
	flagWebDir := flag.String("web-dir", "", "Web assets directory (env: GATHERR_WEB_DIR)")
	flagRequestTimeout := flag.Duration("request-timeout", 0, "Per-request deadline for outbound service calls (env: GATHERR_REQUEST_TIMEOUT, default: 10s)")
	flagMonitorCron := flag.String("monitor-cron", "", "Cron expression for periodic connection re-testing (env: GATHERR_MONITOR_CRON)")
	flagRetentionDays := flag.Int("retention-days", -1, "Days to keep old events, 0 to disable pruning (env: GATHERR_RETENTION_DAYS, default: 90)")

	flag.Parse()

	if *showVersion {
		fmt.Printf("Gatherr %s\n", config.Version)
		os.Exit(0)
	}

	// Load configuration from environment variables (initial load, refreshed after flags)
	config.Load()

	// Apply command-line flag overrides
	flagOverrides := config.FlagOverrides{
		Port:           flagPort,
		BasePath:       flagBasePath,
		LogLevel:       flagLogLevel,
		RequestTimeout: flagRequestTimeout,
		MonitorCron:    flagMonitorCron,
		DataDir:        flagDataDir,
		DatabasePath:   flagDatabasePath,
		WebDir:         flagWebDir,
	}
	// Special handling for retention days: -1 means not set (use default), 0 means disable
	if *flagRetentionDays >= 0 {
		flagOverrides.RetentionDays = flagRetentionDays
	}
	config.ApplyFlags(flagOverrides)

	// Refresh config after applying flags
	cfg := config.Get()

	// Initialize logger with configured log directory
	logger.Init(cfg.LogDir)

	// Set log level from config
	logger.SetLevel(cfg.LogLevel)

	logger.Infof("========================================")
	logger.Infof("Starting Gatherr %s...", config.Version)
	logger.Infof("Unified media service aggregation")
	logger.Infof("========================================")

	// Log initial configuration (base path may be updated from DB)
	logger.Infof("Configuration:")
	logger.Infof("  Port: %s", cfg.Port)
	logger.Infof("  Log Level: %s", cfg.LogLevel)
	logger.Infof("  Data Directory: %s", cfg.DataDir)
	logger.Infof("  Database: %s", cfg.DatabasePath)
	logger.Infof("  Log Directory: %s", cfg.LogDir)
	if !web.HasEmbeddedAssets() {
		logger.Infof("  Web Directory: %s", cfg.WebDir)
	}
	logger.Infof("  Request Timeout: %s", cfg.RequestTimeout)
	if cfg.ClientRateRPS > 0 {
		logger.Infof("  Client Rate Limit: %.1f req/s (burst %d)", cfg.ClientRateRPS, cfg.ClientRateBurst)
	} else {
		logger.Infof("  Client Rate Limit: disabled")
	}
	if cfg.MonitorCron != "" {
		logger.Infof("  Connection Monitor: %s", cfg.MonitorCron)
	} else {
		logger.Infof("  Connection Monitor: disabled (no cron expression)")
	}
	if cfg.RetentionDays > 0 {
		logger.Infof("  Event Retention: %d days", cfg.RetentionDays)
	} else {
		logger.Infof("  Event Retention: disabled (no automatic pruning)")
	}

	// Initialize Database
	logger.Infof("Initializing database: %s", cfg.DatabasePath)
	repo, err := db.NewRepository(cfg.DatabasePath)
	if err != nil {
		logger.Errorf("Failed to initialize database: %v", err)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Infof("✓ Database initialized successfully")

	// Create a database backup on startup
	if backupPath, err := repo.Backup(cfg.DatabasePath); err != nil {
		logger.Errorf("Failed to create startup backup: %v", err)
	} else {
		logger.Infof("✓ Database backup created: %s", backupPath)
	}

	// Start scheduled backup goroutine (every 6 hours)
	go func() {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := repo.Backup(cfg.DatabasePath); err != nil {
				logger.Errorf("Scheduled backup failed: %v", err)
			}
		}
	}()

	// Start scheduled maintenance goroutine (daily at 3 AM local time)
	go func() {
		retentionDays := cfg.RetentionDays // Capture config value for goroutine
		for {
			now := time.Now()
			next3AM := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())
			if now.After(next3AM) {
				next3AM = next3AM.Add(24 * time.Hour)
			}
			sleepDuration := next3AM.Sub(now)
			logger.Debugf("Next database maintenance scheduled in %v", sleepDuration)

			time.Sleep(sleepDuration)

			if err := repo.RunMaintenance(retentionDays); err != nil {
				logger.Errorf("Scheduled maintenance failed: %v", err)
			}
		}
	}()

	// Load base path from database if not set via environment
	config.LoadBasePathFromDB(repo.DB)
	cfg = config.Get() // Refresh config after DB load
	logger.Infof("  Base Path: %s (source: %s)", cfg.BasePath, cfg.BasePathSource)

	// Initialize Event Bus
	logger.Infof("Initializing Event Bus...")
	eb := eventbus.NewEventBus(repo.DB)
	logger.Infof("✓ Event Bus initialized")

	// Settings store backs every service client and the API settings surface
	logger.Infof("Initializing Settings Store...")
	store, err := settings.NewStore(repo.DB, eb, nil)
	if err != nil {
		logger.Errorf("Failed to initialize settings store: %v", err)
		os.Exit(1)
	}
	logger.Infof("✓ Settings Store initialized")

	// Watchlist store (local movie/show bookmarks keyed by TMDB id)
	watchlistStore := watchlist.NewStore(repo.DB, eb)
	logger.Infof("✓ Watchlist Store initialized")

	// Initialize service clients. They share one circuit breaker registry
	// so failures in one service never block requests to another.
	logger.Infof("Initializing service clients...")
	breakers := integration.NewCircuitBreakerRegistry(integration.DefaultCircuitBreakerConfig())
	opts := integration.Options{
		Breakers:  breakers,
		RateLimit: cfg.ClientRateRPS,
		RateBurst: cfg.ClientRateBurst,
	}

	tmdbClient := integration.NewTMDBClient(store, opts)
	logger.Infof("✓ TMDB Client (catalog metadata)")

	plexClient := integration.NewPlexClient(store, opts)
	logger.Infof("✓ Plex Client (library browsing)")

	xtreamClient := integration.NewXtreamClient(store, opts)
	logger.Infof("✓ Xtream Client (IPTV live/VOD/series)")

	nzbgetClient := integration.NewNZBGetClient(store, opts)
	logger.Infof("✓ NZBGet Client (download queue)")

	radarrClient := integration.NewRadarrClient(store, opts)
	logger.Infof("✓ Radarr Client (movie management)")

	sonarrClient := integration.NewSonarrClient(store, opts)
	logger.Infof("✓ Sonarr Client (series management)")

	// Connection tester and monitor
	tester := services.NewConnectionTester(store, eb,
		tmdbClient.AsProber(),
		plexClient.AsProber(),
		xtreamClient.AsProber(),
		nzbgetClient.AsProber(),
		radarrClient.AsProber(),
		sonarrClient.AsProber(),
	)
	logger.Infof("✓ Connection Tester (probes configured services)")

	monitor := services.NewConnectionMonitor(tester, eb, cfg.MonitorCron)
	if cfg.MonitorCron != "" {
		if err := monitor.Start(); err != nil {
			logger.Errorf("Failed to start connection monitor: %v", err)
			// Non-fatal - manual connection tests still work
		} else {
			logger.Infof("✓ Connection Monitor (schedule: %s)", cfg.MonitorCron)
		}
	}

	// Initialize Notifier Service
	logger.Infof("Initializing Notification Service...")
	notifierService := notifier.NewNotifier(repo.DB, eb)
	if err := notifierService.Start(); err != nil {
		logger.Errorf("Failed to start notification service: %v", err)
		// Non-fatal - continue without notifications
	} else {
		logger.Infof("✓ Notification Service (alerts for events)")
	}

	// Initialize Metrics Service (Prometheus metrics)
	logger.Infof("Initializing Metrics Service...")
	metricsService := metrics.NewMetricsService(eb)
	metricsService.Start()
	logger.Infof("✓ Metrics Service (Prometheus endpoint at /metrics)")

	// Start API Server
	logger.Infof("Initializing REST API and WebSocket server...")
	apiServer := api.NewRESTServer(api.ServerDeps{
		DB:        repo.DB,
		EventBus:  eb,
		Store:     store,
		Watchlist: watchlistStore,
		Tester:    tester,
		Monitor:   monitor,
		TMDB:      tmdbClient,
		Plex:      plexClient,
		Xtream:    xtreamClient,
		NZBGet:    nzbgetClient,
		Radarr:    radarrClient,
		Sonarr:    sonarrClient,
		Notifier:  notifierService,
		Metrics:   metricsService,
	})
	go func() {
		addr := ":" + cfg.Port
		if err := apiServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Failed to start API server: %v", err)
			os.Exit(1)
		}
	}()

	logger.Infof("========================================")
	logger.Infof("✓ Gatherr %s started successfully", config.Version)
	logger.Infof("✓ Server listening on port %s", cfg.Port)
	if cfg.BasePath != "/" {
		logger.Infof("✓ Web UI available at base path: %s", cfg.BasePath)
	}
	logger.Infof("========================================")

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Infof("========================================")
	logger.Infof("Received signal %v, initiating graceful shutdown...", sig)
	logger.Infof("========================================")

	// Create a context with timeout for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown in reverse order of startup
	logger.Infof("Stopping Connection Monitor...")
	monitor.Stop()
	logger.Infof("✓ Connection Monitor stopped")

	logger.Infof("Stopping Notification Service...")
	notifierService.Stop()
	logger.Infof("✓ Notification Service stopped")

	logger.Infof("Stopping Event Bus...")
	eb.Shutdown()
	logger.Infof("✓ Event Bus stopped")

	logger.Infof("Stopping API Server...")
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API Server shutdown error: %v", err)
	} else {
		logger.Infof("✓ API Server stopped")
	}

	logger.Infof("Closing database connection...")
	if err := repo.GracefulClose(); err != nil {
		logger.Errorf("Failed to close database connection: %v", err)
	} else {
		logger.Infof("✓ Database connection closed")
	}

	logger.Infof("========================================")
	logger.Infof("✓ Gatherr shutdown complete")
	logger.Infof("========================================")
}
