package config

import (
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Version is set at build time via -ldflags
// Default "dev" is used for development builds
var Version = "dev"

// Config holds all application configuration loaded from environment variables.
// All fields have sensible defaults if environment variables are not set.
type Config struct {
	// Port is the HTTP server listen port (default: 3920)
	Port string

	// BasePath is the URL base path for reverse proxy setups (default: "/")
	// Example: "/gatherr" if hosting at domain.com/gatherr/
	BasePath string

	// BasePathSource indicates where the base path came from: "environment", "database", or "default"
	BasePathSource string

	// LogLevel controls logging verbosity: "debug", "info", "error" (default: "info")
	LogLevel string

	// RequestTimeout is the per-request deadline applied to every outbound
	// call to an external service (default: 10s). All service clients share
	// this single knob.
	RequestTimeout time.Duration

	// ClientRateRPS is the maximum requests per second each service client
	// sends to its upstream API (default: 5, 0 disables rate limiting)
	ClientRateRPS float64

	// ClientRateBurst is the burst size for service client rate limiting (default: 10)
	ClientRateBurst int

	// TMDBAPIKey is the environment-provided catalog API key (default: "")
	// A key saved through the settings API takes precedence over this value.
	// Empty with no saved key leaves the catalog client unconfigured.
	TMDBAPIKey string

	// MonitorCron is a cron expression for periodic connection re-testing
	// of configured services (default: "" = monitor disabled)
	// Example: "*/15 * * * *" to re-test every 15 minutes
	MonitorCron string

	// DataDir is the directory for persistent data (database, logs, pid file)
	// Default: /config in Docker, ./config locally
	DataDir string

	// DatabasePath is the SQLite database file path (default: <DataDir>/gatherr.db)
	DatabasePath string

	// LogDir is the directory for log files (default: <DataDir>/logs)
	LogDir string

	// WebDir is the directory holding the web UI assets when they are not
	// embedded in the binary (default: ./web)
	WebDir string

	// RetentionDays is how long persisted events are kept before nightly
	// maintenance prunes them (default: 90, 0 disables pruning)
	RetentionDays int
}

// Global singleton
var cfg *Config

// Load reads configuration from environment variables with sensible defaults.
// Should be called once at application startup.
func Load() *Config {
	basePath := getEnvOrDefault("GATHERR_BASE_PATH", "")
	basePathSource := "default"
	if basePath != "" {
		basePathSource = "environment"
	} else {
		basePath = "/"
	}

	// Normalize base path: ensure leading slash, no trailing slash (unless root)
	if basePath != "/" {
		if !strings.HasPrefix(basePath, "/") {
			basePath = "/" + basePath
		}
		basePath = strings.TrimSuffix(basePath, "/")
	}

	// Determine DataDir - this is where all persistent data lives
	dataDir := getEnvOrDefault("GATHERR_DATA_DIR", "")
	if dataDir == "" {
		// Check if we're in Docker (has /config directory)
		if info, err := os.Stat("/config"); err == nil && info.IsDir() {
			dataDir = "/config"
		} else {
			// Local/bare-metal - use ./config relative to executable or cwd
			if execPath, err := os.Executable(); err == nil {
				dataDir = filepath.Join(filepath.Dir(execPath), "config")
			} else if cwd, err := os.Getwd(); err == nil {
				dataDir = filepath.Join(cwd, "config")
			} else {
				dataDir = "./config"
			}
		}
	}

	if absDataDir, err := filepath.Abs(dataDir); err == nil {
		dataDir = absDataDir
	}
	os.MkdirAll(dataDir, 0755)

	dbPath := getEnvOrDefault("GATHERR_DATABASE_PATH", "")
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "gatherr.db")
	}

	logDir := filepath.Join(dataDir, "logs")
	os.MkdirAll(logDir, 0700)

	cfg = &Config{
		Port:            getEnvOrDefault("GATHERR_PORT", "3920"),
		BasePath:        basePath,
		BasePathSource:  basePathSource,
		LogLevel:        strings.ToLower(getEnvOrDefault("GATHERR_LOG_LEVEL", "info")),
		RequestTimeout:  getEnvDurationOrDefault("GATHERR_REQUEST_TIMEOUT", 10*time.Second),
		ClientRateRPS:   getEnvFloatOrDefault("GATHERR_CLIENT_RATE_RPS", 5.0),
		ClientRateBurst: getEnvIntOrDefault("GATHERR_CLIENT_RATE_BURST", 10),
		TMDBAPIKey:      getEnvOrDefault("GATHERR_TMDB_API_KEY", ""),
		MonitorCron:     getEnvOrDefault("GATHERR_MONITOR_CRON", ""),
		DataDir:         dataDir,
		DatabasePath:    dbPath,
		LogDir:          logDir,
		WebDir:          getEnvOrDefault("GATHERR_WEB_DIR", "web"),
		RetentionDays:   getEnvIntOrDefault("GATHERR_RETENTION_DAYS", 90),
	}

	// Validate log level
	switch cfg.LogLevel {
	case "debug", "info", "error":
		// Valid
	default:
		cfg.LogLevel = "info" // Fall back to info for invalid values
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	return cfg
}

// LoadBasePathFromDB loads the base path from the database if not set via environment.
// Should be called after database is initialized.
func LoadBasePathFromDB(db *sql.DB) {
	if cfg == nil {
		return
	}

	// Only load from DB if not set via environment variable
	if cfg.BasePathSource == "environment" {
		return
	}

	var basePath string
	err := db.QueryRow("SELECT value FROM app_settings WHERE key = 'base_path'").Scan(&basePath)
	if err != nil || basePath == "" {
		return // Keep default
	}

	// Normalize
	if basePath != "/" {
		if !strings.HasPrefix(basePath, "/") {
			basePath = "/" + basePath
		}
		basePath = strings.TrimSuffix(basePath, "/")
	}

	cfg.BasePath = basePath
	cfg.BasePathSource = "database"
}

// Get returns the current configuration. Panics if Load() hasn't been called.
func Get() *Config {
	if cfg == nil {
		panic("config.Load() must be called before config.Get()")
	}
	return cfg
}

// SetForTesting allows tests to set the global config without calling Load().
// This should ONLY be used in test code.
func SetForTesting(c *Config) {
	cfg = c
}

// NewTestConfig returns a minimal Config suitable for unit tests.
func NewTestConfig() *Config {
	return &Config{
		Port:            "8080",
		BasePath:        "/",
		BasePathSource:  "test",
		LogLevel:        "debug",
		RequestTimeout:  10 * time.Second,
		ClientRateRPS:   5,
		ClientRateBurst: 10,
		TMDBAPIKey:      "",
		MonitorCron:     "",
		DataDir:         "/tmp/gatherr-test",
		DatabasePath:    "/tmp/gatherr-test/gatherr.db",
		LogDir:          "/tmp/gatherr-test/logs",
		WebDir:          "/tmp/gatherr-test/web",
		RetentionDays:   90,
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable as an int or the default if not set/invalid.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvFloatOrDefault returns the environment variable as a float64 or the default if not set/invalid.
func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault returns the environment variable as a duration or the default if not set/invalid.
// Accepts Go duration strings like "10s", "1m30s".
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// FlagOverrides holds command-line flag values that can override environment variables
type FlagOverrides struct {
	Port           *string
	BasePath       *string
	LogLevel       *string
	RequestTimeout *time.Duration
	MonitorCron    *string
	DataDir        *string
	DatabasePath   *string
	WebDir         *string
	RetentionDays  *int
}

// ApplyFlags applies command-line flag overrides to the configuration.
// Should be called after Load() and after flag parsing.
// Only non-nil values with non-default flag values will override.
func ApplyFlags(flags FlagOverrides) {
	if cfg == nil {
		return
	}

	if flags.Port != nil && *flags.Port != "" {
		cfg.Port = *flags.Port
	}
	if flags.BasePath != nil && *flags.BasePath != "" {
		basePath := *flags.BasePath
		if basePath != "/" {
			if !strings.HasPrefix(basePath, "/") {
				basePath = "/" + basePath
			}
			basePath = strings.TrimSuffix(basePath, "/")
		}
		cfg.BasePath = basePath
		cfg.BasePathSource = "flag"
	}
	if flags.LogLevel != nil && *flags.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(*flags.LogLevel)
	}
	if flags.RequestTimeout != nil && *flags.RequestTimeout != 0 {
		cfg.RequestTimeout = *flags.RequestTimeout
	}
	if flags.MonitorCron != nil && *flags.MonitorCron != "" {
		cfg.MonitorCron = *flags.MonitorCron
	}
	if flags.DataDir != nil && *flags.DataDir != "" {
		cfg.DataDir = *flags.DataDir
	}
	if flags.DatabasePath != nil && *flags.DatabasePath != "" {
		cfg.DatabasePath = *flags.DatabasePath
	}
	if flags.WebDir != nil && *flags.WebDir != "" {
		cfg.WebDir = *flags.WebDir
	}
	if flags.RetentionDays != nil {
		cfg.RetentionDays = *flags.RetentionDays
	}
}
