// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	// CORS and WebSocket origin checks
	AllowedOrigins []string

	// URL validation; empty means any public host
	AllowedDomains []string

	// Downloader
	YtDlpPath  string
	FFmpegPath string
	VideosDir  string
	KillGrace  time.Duration

	// Relay
	MaxMessageSize  int64
	VersionCacheTTL time.Duration

	// History; an empty DataDir disables it
	DataDir       string
	HistoryMaxAge time.Duration

	// Local cleanup
	LocalCleanupInterval time.Duration
	LocalMaxFileAge      time.Duration

	// R2 mirror
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string
	R2MirrorInterval  time.Duration
	R2MaxFileAge      time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg := &Config{
		// Server
		Port:      getEnv("PORT", "4000"),
		Env:       getEnv("ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "auto"),

		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		AllowedDomains: getEnvList("ALLOWED_DOMAINS", nil),

		// Downloader
		YtDlpPath:  getEnv("YTDLP_PATH", "yt-dlp"),
		FFmpegPath: getEnv("FFMPEG_PATH", ""),
		VideosDir:  getEnv("VIDEOS_DIR", "videos"),
		KillGrace:  time.Duration(getEnvInt("KILL_GRACE", 5)) * time.Second,

		// Relay
		MaxMessageSize:  getEnvInt64("MAX_MESSAGE_SIZE", 64*1024),
		VersionCacheTTL: time.Duration(getEnvInt("VERSION_CACHE_TTL", 10)) * time.Minute,

		// History
		DataDir:       os.Getenv("DATA_DIR"),
		HistoryMaxAge: time.Duration(getEnvInt("HISTORY_MAX_AGE", 7*24*60)) * time.Minute,

		// Local cleanup
		LocalCleanupInterval: time.Duration(getEnvInt("LOCAL_CLEANUP_INTERVAL", 0)) * time.Minute,
		LocalMaxFileAge:      time.Duration(getEnvInt("LOCAL_MAX_FILE_AGE", 24*60)) * time.Minute,

		// R2 mirror
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:       getEnv("R2_PUBLIC_URL", ""),
		R2MirrorInterval:  time.Duration(getEnvInt("R2_MIRROR_INTERVAL", 5)) * time.Minute,
		R2MaxFileAge:      time.Duration(getEnvInt("R2_MAX_FILE_AGE", 24*60)) * time.Minute,
	}

	// DATA_DIR= (set but empty) disables history; unset falls back to ./data
	if _, ok := os.LookupEnv("DATA_DIR"); !ok {
		cfg.DataDir = "./data"
	}

	// The download tool is launched with an absolute output path
	videosDir, err := filepath.Abs(cfg.VideosDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve videos directory: %w", err)
	}
	cfg.VideosDir = videosDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.YtDlpPath == "" {
		errs = append(errs, errors.New("YTDLP_PATH must not be empty"))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_SIZE must be positive"))
	}
	if c.KillGrace < 0 {
		errs = append(errs, errors.New("KILL_GRACE must not be negative"))
	}
	if c.LocalCleanupInterval < 0 || c.R2MirrorInterval < 0 {
		errs = append(errs, errors.New("cleanup intervals must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// HistoryEnabled reports whether relay sessions are recorded.
func (c *Config) HistoryEnabled() bool {
	return c.DataDir != ""
}

// R2Enabled reports whether the R2 mirror is configured.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2BucketName != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
