// Package bootstrap provides dependency initialization for the video API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/framebooth/video-api/internal/config"
	"github.com/framebooth/video-api/internal/finalizer"
	"github.com/framebooth/video-api/internal/ledger"
	"github.com/framebooth/video-api/internal/provider"
	"github.com/framebooth/video-api/internal/reconciler"
	"github.com/framebooth/video-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Ledger     ledger.Client
	Provider   provider.Client
	Finalizer  *finalizer.Finalizer
	Reconciler *reconciler.Reconciler
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	ledgerClient, err := ledger.NewClient(cfg.LedgerURL, ledger.WithToken(cfg.LedgerToken))
	if err != nil {
		return nil, fmt.Errorf("create ledger client: %w", err)
	}

	providerClient, err := provider.NewClient(cfg.ProviderURL, provider.WithAPIKey(cfg.ProviderAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create provider client: %w", err)
	}

	fin := finalizer.New(ledgerClient, store, logger,
		finalizer.WithDefaultFolder(cfg.DefaultFolder),
	)

	rec := reconciler.New(ledgerClient, providerClient, fin, logger,
		reconciler.WithMaxConcurrent(cfg.MaxConcurrentVideos),
		reconciler.WithStaleUploadingAfter(cfg.StaleUploadingAfter),
		reconciler.WithImageBaseURL(cfg.ImageBaseURL),
		reconciler.WithDefaults(reconciler.Defaults{
			Model:       cfg.DefaultModel,
			Prompt:      cfg.DefaultPrompt,
			Resolution:  cfg.DefaultResolution,
			DurationSec: cfg.DefaultDurationSec,
		}),
	)

	return &Dependencies{
		Ledger:     ledgerClient,
		Provider:   providerClient,
		Finalizer:  fin,
		Reconciler: rec,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Store(s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 asset storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStore(cfg.AssetDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local asset storage configured",
		slog.String("asset_dir", cfg.AssetDir),
	)
	return localStore, nil
}
