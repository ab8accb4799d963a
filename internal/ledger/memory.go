package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/framebooth/video-api/internal/task"
)

// Compile-time check that Memory implements Client.
var _ Client = (*Memory)(nil)

// Memory is an in-memory implementation of Client. A single mutex plays the
// role of the real ledger's global named lock: every call is atomic with
// respect to every other call, and the compare-and-swap check happens inside
// that critical section. Suitable for development and testing.
type Memory struct {
	mu    sync.Mutex
	rows  map[string]task.Row
	order []string
}

// NewMemory creates a new in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		rows: make(map[string]task.Row),
	}
}

// Seed inserts rows as-is, preserving their timestamps. Existing rows with
// the same ID are replaced without disturbing the listing order.
func (m *Memory) Seed(rows ...task.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		if _, ok := m.rows[r.ID]; !ok {
			m.order = append(m.order, r.ID)
		}
		m.rows[r.ID] = r
	}
}

// ListRows returns all rows in insertion order.
func (m *Memory) ListRows(_ context.Context) ([]task.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]task.Row, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.rows[id])
	}
	return result, nil
}

// GetRow returns a single row by photo ID.
func (m *Memory) GetRow(_ context.Context, id string) (task.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return task.Row{}, ErrRowNotFound
	}
	return row, nil
}

// UpdateRow applies the non-nil fields, optionally as a compare-and-swap on
// the row's current status.
func (m *Memory) UpdateRow(_ context.Context, id string, fields Fields, requireStatus task.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return ErrRowNotFound
	}
	if requireStatus != "" && row.VideoStatus != requireStatus {
		return &MismatchError{Current: row.VideoStatus}
	}

	if fields.Status != nil {
		row.VideoStatus = *fields.Status
	}
	if fields.TaskID != nil {
		row.VideoTaskID = *fields.TaskID
	}
	if fields.ProviderURL != nil {
		row.ProviderURL = *fields.ProviderURL
	}
	if fields.FileID != nil {
		row.VideoFileID = *fields.FileID
	}
	row.UpdatedAt = time.Now()

	m.rows[id] = row
	return nil
}

// QueueVideo marks the row queued and stores the generation parameters.
func (m *Memory) QueueVideo(_ context.Context, id string, params QueueParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return ErrRowNotFound
	}

	row.VideoStatus = task.StatusQueued
	if params.Prompt != "" {
		row.VideoPrompt = params.Prompt
	}
	if params.Resolution != "" {
		row.VideoResolution = params.Resolution
	}
	if params.Model != "" {
		row.VideoModel = params.Model
	}
	row.UpdatedAt = time.Now()

	m.rows[id] = row
	return nil
}
