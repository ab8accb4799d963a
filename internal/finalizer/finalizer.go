// Package finalizer durably copies a completed provider asset into permanent
// storage and marks the ledger row done. It is triggered by the reconciler
// after the optimistic lock on the row is won, and must itself be idempotent
// because the trigger may be retried or duplicated.
package finalizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/framebooth/video-api/internal/ledger"
	"github.com/framebooth/video-api/internal/storage"
	"github.com/framebooth/video-api/internal/task"
)

// Static errors for finalizer operations.
var (
	// ErrNoAssetURL is returned when there is no provider URL to download from.
	ErrNoAssetURL = errors.New("finalizer: no asset URL")
	// ErrDownloadFailed is returned when the asset download does not return 200.
	ErrDownloadFailed = errors.New("finalizer: asset download failed")
)

// Result describes the outcome of a finalization.
type Result struct {
	// FileID identifies the durably stored asset.
	FileID string
	// AlreadyUploaded is true when the row was already done and the call
	// was a no-op.
	AlreadyUploaded bool
}

// Finalizer downloads finished assets and lands them in durable storage.
type Finalizer struct {
	ledger        ledger.Client
	store         storage.Store
	httpClient    *http.Client
	defaultFolder string
	logger        *slog.Logger
}

// Option is a function that configures a Finalizer.
type Option func(*Finalizer)

// WithHTTPClient sets a custom HTTP client for asset downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Finalizer) {
		f.httpClient = c
	}
}

// WithDefaultFolder sets the container used when a row has no session folder.
func WithDefaultFolder(folder string) Option {
	return func(f *Finalizer) {
		f.defaultFolder = folder
	}
}

// New creates a new Finalizer. The default HTTP client follows redirects and
// carries a 30s timeout, since finished assets can be tens of megabytes.
func New(lc ledger.Client, store storage.Store, logger *slog.Logger, opts ...Option) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Finalizer{
		ledger:     lc,
		store:      store,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finalize downloads the asset at assetURL, persists it, and marks the row
// done. If the row is already done (or already carries a file ID) it returns
// success without side effects — defense in depth against lock races and
// replayed triggers. On any failure after the pre-check it attempts a
// best-effort transition to failed; a failure of that compensating write is
// logged and swallowed, leaving the row for the stale-uploading sweep.
func (f *Finalizer) Finalize(ctx context.Context, photoID, assetURL, sessionFolder string) (Result, error) {
	row, err := f.ledger.GetRow(ctx, photoID)
	if err != nil {
		return Result{}, fmt.Errorf("finalizer: load row: %w", err)
	}
	if row.VideoStatus == task.StatusDone || row.VideoFileID != "" {
		f.logger.Info("asset already uploaded, skipping",
			slog.String("photo_id", photoID),
			slog.String("file_id", row.VideoFileID),
		)
		return Result{FileID: row.VideoFileID, AlreadyUploaded: true}, nil
	}

	if assetURL == "" {
		assetURL = row.ProviderURL
	}
	if assetURL == "" {
		return Result{}, f.fail(ctx, photoID, ErrNoAssetURL)
	}
	if sessionFolder == "" {
		sessionFolder = row.SessionFolderID
	}

	fileID, err := f.persist(ctx, photoID, assetURL, sessionFolder)
	if err != nil {
		return Result{}, f.fail(ctx, photoID, err)
	}

	fields := ledger.Fields{
		Status: ledger.StatusPtr(task.StatusDone),
		FileID: ledger.String(fileID),
	}
	if err := f.ledger.UpdateRow(ctx, photoID, fields, ""); err != nil {
		return Result{}, f.fail(ctx, photoID, fmt.Errorf("finalizer: record done: %w", err))
	}

	f.logger.Info("video finalized",
		slog.String("photo_id", photoID),
		slog.String("file_id", fileID),
	)
	return Result{FileID: fileID}, nil
}

// persist downloads the asset and stores it durably, returning the file ID.
func (f *Finalizer) persist(ctx context.Context, photoID, assetURL, sessionFolder string) (string, error) {
	body, err := f.download(ctx, assetURL)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	name := fmt.Sprintf("%s-%s.mp4", photoID, uuid.NewString())
	fileID, err := f.store.SaveAsset(ctx, f.folderFor(sessionFolder), name, body)
	if err != nil {
		return "", fmt.Errorf("finalizer: store asset: %w", err)
	}
	return fileID, nil
}

// download fetches the asset bytes, following redirects, and requires a 200.
func (f *Finalizer) download(ctx context.Context, assetURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("finalizer: create download request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("finalizer: download request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}
	return resp.Body, nil
}

// folderFor picks the destination container: the session folder when set,
// then the configured default, then the root container.
func (f *Finalizer) folderFor(sessionFolder string) string {
	if sessionFolder != "" {
		return sessionFolder
	}
	return f.defaultFolder
}

// fail flips the row to failed on a best-effort basis and returns the
// original error. The handle is cleared so the row no longer claims an
// active generation. Secondary errors are logged, never propagated.
func (f *Finalizer) fail(ctx context.Context, photoID string, cause error) error {
	fields := ledger.Fields{
		Status: ledger.StatusPtr(task.StatusFailed),
		TaskID: ledger.String(""),
	}
	if err := f.ledger.UpdateRow(ctx, photoID, fields, ""); err != nil {
		f.logger.Warn("failed to record failure, row may remain uploading",
			slog.String("photo_id", photoID),
			slog.String("error", err.Error()),
		)
	}
	return cause
}
