// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/vaultkeeper/pkg/logger"
)

// Store backends
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for the engine database (always absolute)
	LogLevel     string
	LogPretty    bool
	Port         int
	DevMode      bool
	StoreBackend string // sqlite or memory
	Monitor      MonitorConfig
	Alerts       AlertConfig
	Security     SecurityConfig
}

// MonitorConfig controls the background rebalance monitor
type MonitorConfig struct {
	Enabled        bool
	Interval       time.Duration
	Workers        int
	AdapterTimeout time.Duration
}

// AlertConfig controls alert escalation
type AlertConfig struct {
	EscalationDelay    time.Duration
	EscalationSchedule string // cron spec, e.g. "@every 1m"
}

// SecurityConfig overrides the transaction gate limits.
// Zero values keep the gate defaults.
type SecurityConfig struct {
	SingleTransactionLimit float64
	DailyLimit             float64
	ConfirmationThreshold  float64
	MultiSigThreshold      float64
	MaxTransactionsPerHour int
	TrustedContracts       []string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("VAULTKEEPER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:      absDataDir,
		Port:         getEnvAsInt("PORT", 8080),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogPretty:    getEnvAsBool("LOG_PRETTY", false),
		StoreBackend: getEnv("STORE_BACKEND", StoreSQLite),
		Monitor: MonitorConfig{
			Enabled:        getEnvAsBool("MONITOR_ENABLED", true),
			Interval:       getEnvAsDuration("MONITOR_INTERVAL", 5*time.Minute),
			Workers:        getEnvAsInt("MONITOR_WORKERS", 4),
			AdapterTimeout: getEnvAsDuration("ADAPTER_TIMEOUT", 30*time.Second),
		},
		Alerts: AlertConfig{
			EscalationDelay:    getEnvAsDuration("ALERT_ESCALATION_DELAY", time.Hour),
			EscalationSchedule: getEnv("ALERT_ESCALATION_SCHEDULE", "@every 1m"),
		},
		Security: SecurityConfig{
			SingleTransactionLimit: getEnvAsFloat("SECURITY_SINGLE_TX_LIMIT", 0),
			DailyLimit:             getEnvAsFloat("SECURITY_DAILY_LIMIT", 0),
			ConfirmationThreshold:  getEnvAsFloat("SECURITY_CONFIRMATION_THRESHOLD", 0),
			MultiSigThreshold:      getEnvAsFloat("SECURITY_MULTISIG_THRESHOLD", 0),
			MaxTransactionsPerHour: getEnvAsInt("SECURITY_MAX_TX_PER_HOUR", 0),
			TrustedContracts:       getEnvAsList("SECURITY_TRUSTED_CONTRACTS"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DatabasePath returns the path of the engine database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "engine.db")
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.StoreBackend != StoreSQLite && c.StoreBackend != StoreMemory {
		return fmt.Errorf("invalid store backend %q (expected %s or %s)", c.StoreBackend, StoreSQLite, StoreMemory)
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	if c.Monitor.Workers <= 0 {
		return fmt.Errorf("monitor workers must be positive")
	}
	if c.Monitor.AdapterTimeout <= 0 {
		return fmt.Errorf("adapter timeout must be positive")
	}
	if c.Alerts.EscalationDelay < 0 {
		return fmt.Errorf("escalation delay must not be negative")
	}
	if c.Alerts.EscalationSchedule == "" {
		return fmt.Errorf("escalation schedule is required")
	}
	if c.Security.SingleTransactionLimit < 0 || c.Security.DailyLimit < 0 ||
		c.Security.ConfirmationThreshold < 0 || c.Security.MultiSigThreshold < 0 {
		return fmt.Errorf("security limits must not be negative")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("5m") or plain seconds ("300")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
