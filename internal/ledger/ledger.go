// Package ledger provides the client for the external tabular store that
// holds one row per photo/video job. The store is reached only through a
// narrow action-based request/response protocol; its single concurrency
// primitive is a conditional field update (compare-and-swap on the row's
// video status).
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/framebooth/video-api/internal/task"
)

// Static errors for ledger operations.
var (
	// ErrRowNotFound is returned when the ledger has no row for the photo ID.
	ErrRowNotFound = errors.New("ledger: photo ID not found")
	// ErrStatusMismatch is returned when a conditional update is rejected
	// because the row's current status differs from the required one. It
	// signals a race lost to another writer, not a fault.
	ErrStatusMismatch = errors.New("ledger: status mismatch")
	// ErrInvalidPayload is returned when the ledger rejects the request body.
	ErrInvalidPayload = errors.New("ledger: invalid payload")
)

// MismatchError carries the status the ledger observed when it rejected a
// conditional update. It matches ErrStatusMismatch under errors.Is.
type MismatchError struct {
	Current task.Status
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("ledger: status mismatch (current %q)", e.Current)
}

// Is makes errors.Is(err, ErrStatusMismatch) succeed for MismatchError.
func (e *MismatchError) Is(target error) bool {
	return target == ErrStatusMismatch
}

// Fields is a partial update of a row. Nil members are left untouched; a
// pointer to the empty string clears the field.
type Fields struct {
	Status      *task.Status
	TaskID      *string
	ProviderURL *string
	FileID      *string
}

// QueueParams are the generation parameters captured when a client queues a
// video, so the reconciler needs no caller context later.
type QueueParams struct {
	Prompt     string
	Resolution string
	Model      string
}

// String returns a pointer to v, for use in Fields literals.
func String(v string) *string {
	return &v
}

// StatusPtr returns a pointer to s, for use in Fields literals.
func StatusPtr(s task.Status) *task.Status {
	return &s
}

// Client defines the interface for talking to the ledger.
type Client interface {
	// ListRows returns every row in ledger order. The ledger is bounded by
	// the backing sheet size, so there is no pagination.
	ListRows(ctx context.Context) ([]task.Row, error)

	// GetRow returns a single row by photo ID.
	// Returns ErrRowNotFound if the row does not exist.
	GetRow(ctx context.Context, id string) (task.Row, error)

	// UpdateRow applies the non-nil fields to the row. When requireStatus is
	// non-empty the update is a compare-and-swap: it is applied only if the
	// row's current status equals requireStatus, otherwise a MismatchError
	// is returned and nothing is mutated.
	UpdateRow(ctx context.Context, id string, fields Fields, requireStatus task.Status) error

	// QueueVideo marks the row queued and stores the generation parameters.
	// Returns ErrRowNotFound if the row does not exist.
	QueueVideo(ctx context.Context, id string, params QueueParams) error
}
