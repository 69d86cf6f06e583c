package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Upstream catalog API
	APIBaseURL   string
	FetchTimeout time.Duration
	APICacheTTL  time.Duration

	// Download
	DownloadDir            string
	CompletedDir           string
	EnableAutoMove         bool
	MaxConcurrentDownloads int
	ChunkSize              int
	ReadTimeout            time.Duration
	RateLimit              int64         // bytes/sec per download, 0 disables
	BatchSubmitDelay       time.Duration // pause between batch items

	// Persistence
	SnapshotFile        string // $CONFIG_DIR/downloads_state.json
	SnapshotLockRetries int
	SnapshotSchedule    string // cron spec, empty disables autosave
	JobRetention        int    // terminal jobs kept in memory, 0 keeps all
	HistoryDB           string // $CONFIG_DIR/acerpal.db
	BlacklistFile       string // $CONFIG_DIR/blacklist.txt

	// Server
	ServerPort   string
	AuthUsername string
	AuthPassword string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	// Load .env file if it exists (ignore if not found)
	_ = v.ReadInConfig()

	setDefaults(v)

	configDir := v.GetString("CONFIG_DIR")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config", "acerpal")
	} else {
		absPath, err := filepath.Abs(configDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for CONFIG_DIR: %w", err)
		}
		configDir = absPath
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	return fromViper(v, configDir)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("API_BASE_URL", "https://acermovies.val.run/api")
	v.SetDefault("FETCH_TIMEOUT", "60s")
	v.SetDefault("API_CACHE_TTL", "10m")
	v.SetDefault("DOWNLOAD_DIR", "downloads")
	v.SetDefault("COMPLETED_DIR", "completed")
	v.SetDefault("ENABLE_AUTO_MOVE", false)
	v.SetDefault("MAX_CONCURRENT_DOWNLOADS", 4)
	v.SetDefault("DOWNLOAD_CHUNK_SIZE", 64*1024)
	v.SetDefault("DOWNLOAD_READ_TIMEOUT", "60s")
	v.SetDefault("DOWNLOAD_RATE_LIMIT", 0)
	v.SetDefault("BATCH_SUBMIT_DELAY", "500ms")
	v.SetDefault("SNAPSHOT_LOCK_RETRIES", 0)
	v.SetDefault("SNAPSHOT_SCHEDULE", "@every 1m")
	v.SetDefault("JOB_RETENTION", 0)
	v.SetDefault("SERVER_PORT", "5000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

func fromViper(v *viper.Viper, configDir string) (*Config, error) {
	downloadDir, err := filepath.Abs(v.GetString("DOWNLOAD_DIR"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DOWNLOAD_DIR: %w", err)
	}
	completedDir, err := filepath.Abs(v.GetString("COMPLETED_DIR"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve COMPLETED_DIR: %w", err)
	}

	config := &Config{
		APIBaseURL:   v.GetString("API_BASE_URL"),
		FetchTimeout: v.GetDuration("FETCH_TIMEOUT"),
		APICacheTTL:  v.GetDuration("API_CACHE_TTL"),

		DownloadDir:            downloadDir,
		CompletedDir:           completedDir,
		EnableAutoMove:         v.GetBool("ENABLE_AUTO_MOVE"),
		MaxConcurrentDownloads: v.GetInt("MAX_CONCURRENT_DOWNLOADS"),
		ChunkSize:              v.GetInt("DOWNLOAD_CHUNK_SIZE"),
		ReadTimeout:            v.GetDuration("DOWNLOAD_READ_TIMEOUT"),
		RateLimit:              v.GetInt64("DOWNLOAD_RATE_LIMIT"),
		BatchSubmitDelay:       v.GetDuration("BATCH_SUBMIT_DELAY"),

		SnapshotFile:        pathOr(v.GetString("SNAPSHOT_FILE"), filepath.Join(configDir, "downloads_state.json")),
		SnapshotLockRetries: v.GetInt("SNAPSHOT_LOCK_RETRIES"),
		SnapshotSchedule:    v.GetString("SNAPSHOT_SCHEDULE"),
		JobRetention:        v.GetInt("JOB_RETENTION"),
		HistoryDB:           pathOr(v.GetString("HISTORY_DB"), filepath.Join(configDir, "acerpal.db")),
		BlacklistFile:       pathOr(v.GetString("BLACKLIST_FILE"), filepath.Join(configDir, "blacklist.txt")),

		ServerPort:   v.GetString("SERVER_PORT"),
		AuthUsername: v.GetString("AUTH_USERNAME"),
		AuthPassword: v.GetString("AUTH_PASSWORD"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the values that would otherwise break the download subsystem
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if c.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("MAX_CONCURRENT_DOWNLOADS must be at least 1, got %d", c.MaxConcurrentDownloads)
	}
	if c.ChunkSize < 1024 {
		return fmt.Errorf("DOWNLOAD_CHUNK_SIZE must be at least 1024 bytes, got %d", c.ChunkSize)
	}
	if c.SnapshotLockRetries < 0 {
		return fmt.Errorf("SNAPSHOT_LOCK_RETRIES cannot be negative")
	}
	if c.JobRetention < 0 {
		return fmt.Errorf("JOB_RETENTION cannot be negative")
	}
	if c.AuthUsername != "" && c.AuthPassword == "" {
		return fmt.Errorf("AUTH_PASSWORD is required when AUTH_USERNAME is set")
	}
	return nil
}

func pathOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	if abs, err := filepath.Abs(value); err == nil {
		return abs
	}
	return value
}
