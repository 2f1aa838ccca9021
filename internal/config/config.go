// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Account identifies the trading account this instance governs.
	// Thresholds, snapshots and trade history are all scoped to it.
	Account string

	// Worker pool size for per-key batch fan-out
	EvalWorkers int

	// Cron specs for the scheduled jobs (robfig/cron standard format)
	DailyEvalSpec   string
	MonthlyOptSpec  string
	NightlyBackup   string
	OptLookbackDays int

	Telegram TelegramConfig
	Backup   BackupConfig
}

// TelegramConfig holds the notification sink settings.
// Notifications are disabled when Token is empty.
type TelegramConfig struct {
	Token  string
	ChatID int64
}

// BackupConfig holds S3 backup settings.
// Backups are disabled when Bucket is empty.
type BackupConfig struct {
	Bucket        string
	Prefix        string
	Endpoint      string // Optional custom endpoint (R2, MinIO)
	Region        string
	AccessKey     string
	SecretKey     string
	RetentionDays int
}

// Load reads configuration from environment variables.
// A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("GOVERNOR_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:         absDataDir,
		Port:            getEnvAsInt("GOVERNOR_PORT", 8090),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		Account:         getEnv("GOVERNOR_ACCOUNT", "default"),
		EvalWorkers:     getEnvAsInt("GOVERNOR_EVAL_WORKERS", 8),
		DailyEvalSpec:   getEnv("GOVERNOR_DAILY_EVAL_CRON", "10 23 * * *"),
		MonthlyOptSpec:  getEnv("GOVERNOR_MONTHLY_OPT_CRON", "0 2 1 * *"),
		NightlyBackup:   getEnv("GOVERNOR_BACKUP_CRON", "30 3 * * *"),
		OptLookbackDays: getEnvAsInt("GOVERNOR_OPT_LOOKBACK_DAYS", 90),
		Telegram: TelegramConfig{
			Token:  getEnv("TELEGRAM_TOKEN", ""),
			ChatID: getEnvAsInt64("TELEGRAM_CHAT_ID", 0),
		},
		Backup: BackupConfig{
			Bucket:        getEnv("BACKUP_S3_BUCKET", ""),
			Prefix:        getEnv("BACKUP_S3_PREFIX", "governor-backups"),
			Endpoint:      getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:        getEnv("BACKUP_S3_REGION", "auto"),
			AccessKey:     getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey:     getEnv("BACKUP_S3_SECRET_KEY", ""),
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Account == "" {
		return fmt.Errorf("account must not be empty")
	}
	if c.EvalWorkers < 1 {
		return fmt.Errorf("eval workers must be at least 1, got %d", c.EvalWorkers)
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
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
