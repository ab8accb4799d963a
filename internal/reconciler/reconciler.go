// Package reconciler drives the video task lifecycle. Each tick lists the
// ledger, polls the provider for rows in flight, advances rows through the
// state machine, and admits queued rows up to the concurrency cap. Ticks may
// overlap: every transition whose correctness depends on previously observed
// state is gated by a compare-and-swap on the row's status, so concurrent
// invocations cannot double-finalize a row.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/framebooth/video-api/internal/finalizer"
	"github.com/framebooth/video-api/internal/ledger"
	"github.com/framebooth/video-api/internal/provider"
	"github.com/framebooth/video-api/internal/task"
)

// DefaultMaxConcurrent bounds simultaneous outstanding generation jobs at
// the provider, independent of ledger contention.
const DefaultMaxConcurrent = 3

// DefaultStaleUploadingAfter is how long a row may sit in uploading with no
// resolution before it is reverted to processing for a re-poll.
const DefaultStaleUploadingAfter = 10 * time.Minute

// Finalizer lands a completed provider asset in durable storage.
type Finalizer interface {
	Finalize(ctx context.Context, photoID, assetURL, sessionFolder string) (finalizer.Result, error)
}

// Defaults are the generation parameters used when a queued row was stored
// without explicit ones.
type Defaults struct {
	Model       string
	Prompt      string
	Resolution  string
	DurationSec int
}

// Report summarizes one tick.
type Report struct {
	// Processed counts rows advanced to uploading and handed to the finalizer.
	Processed int `json:"processed"`
	// Started counts queued rows newly submitted to the provider.
	Started int `json:"started"`
	// Reverted counts stale uploading rows sent back to processing.
	Reverted int `json:"reverted"`
	// Errors collects row-local failures; one row's failure never aborts
	// the tick.
	Errors []string `json:"errors"`
	// Active is the number of rows still queued or processing after the
	// tick, so a caller can decide how eagerly to re-invoke.
	Active int `json:"active"`
}

// Reconciler advances video task rows on each Tick invocation.
type Reconciler struct {
	ledger    ledger.Client
	provider  provider.Client
	finalizer Finalizer
	logger    *slog.Logger

	maxConcurrent  int
	staleAfter     time.Duration
	detachFinalize bool
	imageBaseURL   string
	defaults       Defaults

	wg sync.WaitGroup
}

// Option is a function that configures a Reconciler.
type Option func(*Reconciler)

// WithMaxConcurrent sets the cap on simultaneously processing rows.
func WithMaxConcurrent(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxConcurrent = n
		}
	}
}

// WithStaleUploadingAfter sets the age at which an unresolved uploading row
// is reverted to processing.
func WithStaleUploadingAfter(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

// WithDetachedFinalize enables or disables running the finalizer in a
// detached goroutine. Disabled, the finalizer runs inline; its errors are
// still only logged, never surfaced through the tick report.
func WithDetachedFinalize(enabled bool) Option {
	return func(r *Reconciler) {
		r.detachFinalize = enabled
	}
}

// WithImageBaseURL sets the base URL used to derive an image reference from
// a photo ID. When empty, the photo ID itself is passed as the reference.
func WithImageBaseURL(base string) Option {
	return func(r *Reconciler) {
		r.imageBaseURL = base
	}
}

// WithDefaults sets fallback generation parameters.
func WithDefaults(d Defaults) Option {
	return func(r *Reconciler) {
		r.defaults = d
	}
}

// New creates a Reconciler.
func New(lc ledger.Client, pc provider.Client, fin Finalizer, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		ledger:         lc,
		provider:       pc,
		finalizer:      fin,
		logger:         logger,
		maxConcurrent:  DefaultMaxConcurrent,
		staleAfter:     DefaultStaleUploadingAfter,
		detachFinalize: true,
		defaults: Defaults{
			Resolution:  provider.DefaultResolution,
			DurationSec: 5,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Wait blocks until all detached finalizations have finished. Used during
// graceful shutdown.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// Tick performs one reconciliation pass. It returns an error only when the
// initial row listing fails; everything else is row-local and collected
// into the report.
func (r *Reconciler) Tick(ctx context.Context) (Report, error) {
	rows, err := r.ledger.ListRows(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reconciler: list rows: %w", err)
	}

	var queued, processing, uploading []task.Row
	for _, row := range rows {
		switch row.VideoStatus {
		case task.StatusQueued:
			queued = append(queued, row)
		case task.StatusProcessing:
			processing = append(processing, row)
		case task.StatusUploading:
			uploading = append(uploading, row)
		}
	}

	report := Report{}
	resolved := 0 // processing rows that left the active set this tick

	for _, row := range processing {
		outcome, err := r.advance(ctx, row)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		switch outcome {
		case advanceTriggered:
			resolved++
			report.Processed++
		case advanceResolved:
			resolved++
		}
	}

	// Admission control: only start as many queued rows as there are free
	// provider slots, oldest-listed first. The slot count comes from this
	// tick's snapshot; rows advanced above have already consumed provider
	// capacity until their finalization lands.
	slots := r.maxConcurrent - len(processing)
	for _, row := range queued {
		if slots <= 0 {
			break
		}
		if err := r.start(ctx, row); err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		report.Started++
		slots--
	}

	for _, row := range uploading {
		reverted, err := r.sweep(ctx, row)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		if reverted {
			report.Reverted++
		}
	}

	report.Active = len(processing) - resolved + len(queued) + report.Reverted
	return report, nil
}

// advanceOutcome describes what happened to one processing row.
type advanceOutcome int

const (
	// advanceNone: the row is still processing.
	advanceNone advanceOutcome = iota
	// advanceResolved: the row left processing, but this tick did not
	// trigger the finalizer (failure, or a CAS lost to a concurrent tick).
	advanceResolved
	// advanceTriggered: the row was advanced to uploading and handed to
	// the finalizer.
	advanceTriggered
)

// advance polls the provider for one processing row and applies the
// resulting transition. Losing the uploading CAS to a concurrent tick is a
// silent skip, not an error: the winner already owns the finalization.
func (r *Reconciler) advance(ctx context.Context, row task.Row) (advanceOutcome, error) {
	if row.VideoTaskID == "" {
		return advanceNone, fmt.Errorf("photo %s: processing without a task handle", row.ID)
	}

	res, err := r.provider.PollTask(ctx, row.VideoTaskID)
	if err != nil {
		return advanceNone, fmt.Errorf("photo %s: poll: %w", row.ID, err)
	}

	switch res.State {
	case provider.StateSucceeded:
		if res.AssetURL == "" {
			// Succeeded but no asset yet; leave the row for the next tick.
			return advanceNone, fmt.Errorf("photo %s: succeeded without asset URL", row.ID)
		}

		fields := ledger.Fields{
			Status:      ledger.StatusPtr(task.StatusUploading),
			ProviderURL: ledger.String(res.AssetURL),
		}
		if err := r.ledger.UpdateRow(ctx, row.ID, fields, task.StatusProcessing); err != nil {
			if errors.Is(err, ledger.ErrStatusMismatch) {
				r.logger.Debug("lost uploading race, skipping",
					slog.String("photo_id", row.ID),
				)
				return advanceResolved, nil
			}
			return advanceNone, fmt.Errorf("photo %s: advance to uploading: %w", row.ID, err)
		}

		r.triggerFinalize(ctx, row.ID, res.AssetURL, row.SessionFolderID)
		return advanceTriggered, nil

	case provider.StateFailed:
		fields := ledger.Fields{
			Status: ledger.StatusPtr(task.StatusFailed),
			TaskID: ledger.String(""),
		}
		if err := r.ledger.UpdateRow(ctx, row.ID, fields, ""); err != nil {
			return advanceNone, fmt.Errorf("photo %s: record failure: %w", row.ID, err)
		}
		r.logger.Warn("generation failed",
			slog.String("photo_id", row.ID),
			slog.String("task_id", row.VideoTaskID),
			slog.String("reason", res.Message),
		)
		return advanceResolved, nil

	default:
		// Still processing.
		return advanceNone, nil
	}
}

// start submits one queued row to the provider and records the handle.
// A failed start leaves the row queued for the next tick; it is never
// retried within a tick, to avoid double-starting generation. The handle
// write is a plain update: only the reconciler transitions rows out of
// queued, so nothing can have raced it for this row.
func (r *Reconciler) start(ctx context.Context, row task.Row) error {
	input := provider.StartTaskInput{
		Model:       row.VideoModel,
		Prompt:      row.VideoPrompt,
		ImageRef:    r.imageRef(row.ID),
		Resolution:  row.VideoResolution,
		DurationSec: r.defaults.DurationSec,
	}
	if input.Model == "" {
		input.Model = r.defaults.Model
	}
	if input.Prompt == "" {
		input.Prompt = r.defaults.Prompt
	}
	if input.Resolution == "" {
		input.Resolution = r.defaults.Resolution
	}

	taskID, err := r.provider.StartTask(ctx, input)
	if err != nil {
		return fmt.Errorf("photo %s: start generation: %w", row.ID, err)
	}

	fields := ledger.Fields{
		Status: ledger.StatusPtr(task.StatusProcessing),
		TaskID: ledger.String(taskID),
	}
	if err := r.ledger.UpdateRow(ctx, row.ID, fields, ""); err != nil {
		// The provider-side task is the source of truth; the handle write
		// is bookkeeping. The row stays queued and the next tick may start
		// a duplicate task, which the finalizer's pre-check absorbs.
		r.logger.Warn("started generation but failed to record handle",
			slog.String("photo_id", row.ID),
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("photo %s: record handle: %w", row.ID, err)
	}

	r.logger.Info("generation started",
		slog.String("photo_id", row.ID),
		slog.String("task_id", taskID),
	)
	return nil
}

// sweep reverts a stale uploading row to processing so it gets re-polled.
// The revert is CAS-gated on uploading: if a finalizer resolved the row in
// the meantime, the revert silently loses.
func (r *Reconciler) sweep(ctx context.Context, row task.Row) (bool, error) {
	if row.UpdatedAt.IsZero() || time.Since(row.UpdatedAt) < r.staleAfter {
		return false, nil
	}

	fields := ledger.Fields{
		Status: ledger.StatusPtr(task.StatusProcessing),
	}
	if err := r.ledger.UpdateRow(ctx, row.ID, fields, task.StatusUploading); err != nil {
		if errors.Is(err, ledger.ErrStatusMismatch) {
			return false, nil
		}
		return false, fmt.Errorf("photo %s: revert stale uploading: %w", row.ID, err)
	}

	r.logger.Warn("reverted stale uploading row",
		slog.String("photo_id", row.ID),
		slog.Duration("age", time.Since(row.UpdatedAt)),
	)
	return true, nil
}

// triggerFinalize hands the row to the finalizer. By default the call is
// detached, fire and forget, with its own error logging; the tick does not
// block on it. The detached context survives the tick's cancellation.
func (r *Reconciler) triggerFinalize(ctx context.Context, photoID, assetURL, sessionFolder string) {
	run := func(ctx context.Context) {
		if _, err := r.finalizer.Finalize(ctx, photoID, assetURL, sessionFolder); err != nil {
			r.logger.Error("finalization failed",
				slog.String("photo_id", photoID),
				slog.String("error", err.Error()),
			)
		}
	}

	if !r.detachFinalize {
		run(ctx)
		return
	}

	r.wg.Add(1)
	go func(ctx context.Context) {
		defer r.wg.Done()
		run(ctx)
	}(context.WithoutCancel(ctx))
}

// imageRef derives the provider-facing image reference from a photo ID.
func (r *Reconciler) imageRef(photoID string) string {
	if r.imageBaseURL == "" {
		return photoID
	}
	return fmt.Sprintf("%s/%s", r.imageBaseURL, photoID)
}
