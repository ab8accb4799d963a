package config

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequired populates the required variables so individual tests only
// tweak what they care about.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("LEDGER_URL", "https://ledger.example.com/exec")
	t.Setenv("PROVIDER_URL", "https://api.provider.example.com")
	t.Setenv("PROVIDER_API_KEY", "test-key")
}

// unset removes a variable while keeping t.Setenv's cleanup registered.
func unset(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "veo", cfg.ModelPrefix)
	assert.Equal(t, "veo-2", cfg.DefaultModel)
	assert.Equal(t, "480p", cfg.DefaultResolution)
	assert.Equal(t, 5, cfg.DefaultDurationSec)
	assert.Equal(t, 3, cfg.MaxConcurrentVideos)
	assert.Equal(t, 10*time.Minute, cfg.StaleUploadingAfter)
	assert.Equal(t, "/tmp/framebooth", cfg.AssetDir)
	assert.Equal(t, "videos", cfg.DefaultFolder)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CustomValues(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_CONCURRENT_VIDEOS", "5")
	t.Setenv("STALE_UPLOADING_AFTER", "30m")
	t.Setenv("MODEL_PREFIX", "sora")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5, cfg.MaxConcurrentVideos)
	assert.Equal(t, 30*time.Minute, cfg.StaleUploadingAfter)
	assert.Equal(t, "sora", cfg.ModelPrefix)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_MissingLedgerURL(t *testing.T) {
	setRequired(t)
	unset(t, "LEDGER_URL")

	_, err := Load()
	assert.ErrorIs(t, err, ErrLedgerURLRequired)
}

func TestLoad_MissingProviderURL(t *testing.T) {
	setRequired(t)
	unset(t, "PROVIDER_URL")

	_, err := Load()
	assert.ErrorIs(t, err, ErrProviderURLRequired)
}

func TestLoad_MissingProviderAPIKey(t *testing.T) {
	setRequired(t)
	unset(t, "PROVIDER_API_KEY")

	_, err := Load()
	assert.ErrorIs(t, err, ErrProviderAPIKeyRequired)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name: "complete",
			cfg: Config{
				LedgerURL:      "https://l",
				ProviderURL:    "https://p",
				ProviderAPIKey: "k",
			},
		},
		{
			name:    "missing ledger URL",
			cfg:     Config{ProviderURL: "https://p", ProviderAPIKey: "k"},
			wantErr: ErrLedgerURLRequired,
		},
		{
			name:    "missing provider URL",
			cfg:     Config{LedgerURL: "https://l", ProviderAPIKey: "k"},
			wantErr: ErrProviderURLRequired,
		},
		{
			name:    "missing API key",
			cfg:     Config{LedgerURL: "https://l", ProviderURL: "https://p"},
			wantErr: ErrProviderAPIKeyRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestS3Enabled(t *testing.T) {
	assert.False(t, (&Config{}).S3Enabled())
	assert.False(t, (&Config{S3Bucket: "b"}).S3Enabled())
	assert.False(t, (&Config{S3Region: "r"}).S3Enabled())
	assert.True(t, (&Config{S3Bucket: "b", S3Region: "r"}).S3Enabled())
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := &Config{
		LedgerURL:          "https://ledger.example.com/exec",
		LedgerToken:        "super-secret-token",
		ProviderAPIKey:     "super-secret-key",
		AWSSecretAccessKey: "super-secret-aws",
	}

	s := cfg.String()
	assert.Contains(t, s, "https://ledger.example.com/exec")
	assert.NotContains(t, s, "super-secret-token")
	assert.NotContains(t, s, "super-secret-key")
	assert.NotContains(t, s, "super-secret-aws")
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogFormat: "json", LogLevel: "debug"}
	logger := cfg.NewLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	cfg = &Config{LogFormat: "text", LogLevel: "error"}
	logger = cfg.NewLogger()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}
