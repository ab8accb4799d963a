// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrLedgerURLRequired is returned when LEDGER_URL is not set.
	ErrLedgerURLRequired = errors.New("config: LEDGER_URL is required")
	// ErrProviderURLRequired is returned when PROVIDER_URL is not set.
	ErrProviderURLRequired = errors.New("config: PROVIDER_URL is required")
	// ErrProviderAPIKeyRequired is returned when PROVIDER_API_KEY is not set.
	ErrProviderAPIKeyRequired = errors.New("config: PROVIDER_API_KEY is required")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Ledger settings
	LedgerURL   string `env:"LEDGER_URL, required" json:"ledger_url"`
	LedgerToken string `env:"LEDGER_TOKEN" json:"-"` // Masked in JSON

	// Provider settings
	ProviderURL    string `env:"PROVIDER_URL, required" json:"provider_url"`
	ProviderAPIKey string `env:"PROVIDER_API_KEY, required" json:"-"` // Masked in JSON

	// Generation settings
	ModelPrefix        string `env:"MODEL_PREFIX, default=veo" json:"model_prefix"`
	DefaultModel       string `env:"DEFAULT_MODEL, default=veo-2" json:"default_model"`
	DefaultPrompt      string `env:"DEFAULT_PROMPT, default=subtle cinematic motion, natural lighting" json:"default_prompt"`
	DefaultResolution  string `env:"DEFAULT_RESOLUTION, default=480p" json:"default_resolution"`
	DefaultDurationSec int    `env:"DEFAULT_DURATION_SEC, default=5" json:"default_duration_sec"`
	ImageBaseURL       string `env:"IMAGE_BASE_URL" json:"image_base_url,omitempty"`

	// Reconciler settings
	MaxConcurrentVideos int           `env:"MAX_CONCURRENT_VIDEOS, default=3" json:"max_concurrent_videos"`
	StaleUploadingAfter time.Duration `env:"STALE_UPLOADING_AFTER, default=10m" json:"stale_uploading_after"`

	// Storage settings
	AssetDir      string `env:"ASSET_DIR, default=/tmp/framebooth" json:"asset_dir"`
	DefaultFolder string `env:"DEFAULT_FOLDER, default=videos" json:"default_folder"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`  // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "LEDGER_URL") {
			return nil, ErrLedgerURLRequired
		}
		if strings.Contains(err.Error(), "PROVIDER_URL") {
			return nil, ErrProviderURLRequired
		}
		if strings.Contains(err.Error(), "PROVIDER_API_KEY") {
			return nil, ErrProviderAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.LedgerURL == "" {
		return ErrLedgerURLRequired
	}
	if c.ProviderURL == "" {
		return ErrProviderURLRequired
	}
	if c.ProviderAPIKey == "" {
		return ErrProviderAPIKeyRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, LedgerURL: %s, ProviderURL: %s, ModelPrefix: %s, MaxConcurrentVideos: %d, StaleUploadingAfter: %s, AssetDir: %s, DefaultFolder: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.LedgerURL,
		c.ProviderURL,
		c.ModelPrefix,
		c.MaxConcurrentVideos,
		c.StaleUploadingAfter,
		c.AssetDir,
		c.DefaultFolder,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
