// Package config loads orchestrator configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// envLookup is overridden in tests to avoid mutating the real environment.
var envLookup = os.Getenv

// Config holds every environment variable the core recognizes (spec §6).
type Config struct {
	DatabasePath string

	EngineTickSeconds int

	WorkerPoolSize int

	OpsMonitorEnabled      bool
	OpsMonitorIntervalS    int
	OpsStaleJobTimeoutM    int
	OpsMaxFailedJobsHour   int
	OpsWebhookURL          string
	OpsPendingBacklogM     int
	OpsRestartWindowM      int
	OpsMaxRestartsInWindow int

	LogLevel  string
	LogFormat string

	MetricsEnabled bool
}

// Load reads configuration from the process environment, optionally
// preloading an env file first (mirroring the teacher's godotenv use in
// cmd entry points; silently ignored if envFile is empty or missing).
func Load(envFile string) Config {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	return Config{
		DatabasePath: GetEnv("DATABASE_PATH", "data/nexaas.db"),

		EngineTickSeconds: GetEnvInt("ENGINE_TICK_SECONDS", 30),

		WorkerPoolSize: GetEnvInt("WORKER_POOL_SIZE", 1),

		OpsMonitorEnabled:      GetEnvBool("OPS_MONITOR_ENABLED", true),
		OpsMonitorIntervalS:    GetEnvInt("OPS_MONITOR_INTERVAL_S", 30),
		OpsStaleJobTimeoutM:    GetEnvInt("OPS_STALE_JOB_TIMEOUT_M", 10),
		OpsMaxFailedJobsHour:   GetEnvInt("OPS_MAX_FAILED_JOBS_HOUR", 10),
		OpsWebhookURL:          GetEnv("OPS_WEBHOOK_URL", ""),
		OpsPendingBacklogM:     GetEnvInt("OPS_PENDING_BACKLOG_M", 5),
		OpsRestartWindowM:      GetEnvInt("OPS_RESTART_WINDOW_M", 10),
		OpsMaxRestartsInWindow: GetEnvInt("OPS_MAX_RESTARTS_IN_WINDOW", 3),

		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		MetricsEnabled: GetEnvBool("METRICS_ENABLED", true),
	}
}

// EngineTick returns the configured engine tick interval as a Duration.
func (c Config) EngineTick() time.Duration {
	return time.Duration(c.EngineTickSeconds) * time.Second
}

// MonitorInterval returns the configured monitor tick interval as a Duration.
func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.OpsMonitorIntervalS) * time.Second
}

// StaleJobTimeout returns the stale-job cutoff as a Duration.
func (c Config) StaleJobTimeout() time.Duration {
	return time.Duration(c.OpsStaleJobTimeoutM) * time.Minute
}

// RestartWindow returns the restart-budget rolling window as a Duration.
func (c Config) RestartWindow() time.Duration {
	return time.Duration(c.OpsRestartWindowM) * time.Minute
}

// PendingBacklogWindow returns the pending-backlog cutoff as a Duration.
func (c Config) PendingBacklogWindow() time.Duration {
	return time.Duration(c.OpsPendingBacklogM) * time.Minute
}

// GetEnv retrieves an environment variable with a default fallback.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(envLookup(key)); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvBool retrieves a boolean environment variable.
// Accepts "true", "1", "yes", "y" (case-insensitive) as true.
func GetEnvBool(key string, defaultValue bool) bool {
	val := strings.TrimSpace(envLookup(key))
	if val == "" {
		return defaultValue
	}
	lower := strings.ToLower(val)
	return lower == "true" || lower == "1" || lower == "yes" || lower == "y"
}

// GetEnvInt retrieves an integer environment variable.
func GetEnvInt(key string, defaultValue int) int {
	val := strings.TrimSpace(envLookup(key))
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// GetEnvDuration retrieves a duration environment variable (Go duration syntax).
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := strings.TrimSpace(envLookup(key))
	if val == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}
