// Package task defines the video task row stored in the ledger and the
// lifecycle state machine that governs its transitions. One row exists per
// source photo; the row ID doubles as the job key, so at most one video job
// is ever active for a given photo.
package task

import (
	"errors"
	"fmt"
	"time"
)

// Status represents the current state of a video task.
type Status string

const (
	// StatusIdle indicates no video has been requested for the photo.
	StatusIdle Status = "idle"
	// StatusQueued indicates a video was requested and is waiting for a
	// free generation slot.
	StatusQueued Status = "queued"
	// StatusProcessing indicates the provider is generating the video.
	StatusProcessing Status = "processing"
	// StatusUploading indicates generation finished and the asset is being
	// copied into durable storage.
	StatusUploading Status = "uploading"
	// StatusDone indicates the finished asset is durably stored.
	StatusDone Status = "done"
	// StatusFailed indicates generation or finalization failed.
	StatusFailed Status = "failed"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("task: invalid state transition")

// validTransitions defines which state transitions are allowed.
// failed -> queued exists only for manual re-queue; the reconciler never
// takes that edge on its own. uploading -> processing is the recovery edge
// for rows whose finalizer died without resolving them.
var validTransitions = map[Status][]Status{
	StatusIdle:       {StatusQueued},
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusUploading, StatusFailed},
	StatusUploading:  {StatusDone, StatusFailed, StatusProcessing},
	StatusDone:       {},
	StatusFailed:     {StatusQueued},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// IsActive returns true if the reconciler still has work to do for a row
// in this status.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusProcessing
}

// Row is one video task as stored in the ledger. Field names mirror the
// ledger's wire format.
type Row struct {
	// ID is the stable identifier of the source photo. It is also the job key.
	ID string `json:"id"`
	// VideoStatus is the current lifecycle state.
	VideoStatus Status `json:"videoStatus"`
	// VideoTaskID is the opaque handle issued by the provider once
	// generation starts. It is retained through finalization.
	VideoTaskID string `json:"videoTaskId,omitempty"`
	// ProviderURL is the provider-hosted URL of the completed asset, set
	// when the provider reports success and before the durable copy lands.
	ProviderURL string `json:"providerUrl,omitempty"`
	// VideoFileID identifies the durably stored final asset. Set only once
	// the row is done.
	VideoFileID string `json:"videoFileId,omitempty"`
	// VideoPrompt, VideoResolution and VideoModel are the generation
	// parameters captured at queue time.
	VideoPrompt     string `json:"videoPrompt,omitempty"`
	VideoResolution string `json:"videoResolution,omitempty"`
	VideoModel      string `json:"videoModel,omitempty"`
	// SessionFolderID is the destination container for the durable copy.
	// Empty means the configured default container.
	SessionFolderID string `json:"sessionFolderId,omitempty"`
	// UpdatedAt is the last-mutation timestamp, used for incremental client
	// sync and for detecting stale uploading rows.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Static errors for row invariant violations.
var (
	// ErrFileIDWithoutDone is returned when a file ID exists on a row that
	// is not done, or a done row has no file ID.
	ErrFileIDWithoutDone = errors.New("task: videoFileId must be set exactly when status is done")
	// ErrTaskIDOutOfPhase is returned when a task handle exists on a row
	// that never started generation.
	ErrTaskIDOutOfPhase = errors.New("task: videoTaskId set outside processing, uploading or done")
)

// Validate checks the row's structural invariants.
func (r Row) Validate() error {
	hasFile := r.VideoFileID != ""
	if hasFile != (r.VideoStatus == StatusDone) {
		return fmt.Errorf("%w (status %s)", ErrFileIDWithoutDone, r.VideoStatus)
	}

	// A handle may only exist once generation started. Rows created done by
	// a direct video upload never had a handle, so the reverse is not
	// required. Failure transitions clear the handle.
	if r.VideoTaskID != "" {
		switch r.VideoStatus {
		case StatusProcessing, StatusUploading, StatusDone:
		default:
			return fmt.Errorf("%w (status %s)", ErrTaskIDOutOfPhase, r.VideoStatus)
		}
	}

	return nil
}
