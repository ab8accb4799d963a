package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/framebooth/video-api/internal/task"
)

func seedMemory(rows ...task.Row) *Memory {
	m := NewMemory()
	m.Seed(rows...)
	return m
}

func TestMemory_ListRowsPreservesOrder(t *testing.T) {
	m := seedMemory(
		task.Row{ID: "c", VideoStatus: task.StatusQueued},
		task.Row{ID: "a", VideoStatus: task.StatusIdle},
		task.Row{ID: "b", VideoStatus: task.StatusQueued},
	)

	rows, err := m.ListRows(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"c", "a", "b"}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(rows))
	}
	for i, id := range want {
		if rows[i].ID != id {
			t.Errorf("row %d: expected %s, got %s", i, id, rows[i].ID)
		}
	}
}

func TestMemory_GetRow_NotFound(t *testing.T) {
	m := NewMemory()

	_, err := m.GetRow(context.Background(), "missing")
	if !errors.Is(err, ErrRowNotFound) {
		t.Errorf("expected ErrRowNotFound, got %v", err)
	}
}

func TestMemory_UpdateRow_AppliesFields(t *testing.T) {
	m := seedMemory(task.Row{ID: "p1", VideoStatus: task.StatusQueued})

	before := time.Now()
	err := m.UpdateRow(context.Background(), "p1", Fields{
		Status: StatusPtr(task.StatusProcessing),
		TaskID: String("t1"),
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row, err := m.GetRow(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.VideoStatus != task.StatusProcessing {
		t.Errorf("expected processing, got %s", row.VideoStatus)
	}
	if row.VideoTaskID != "t1" {
		t.Errorf("expected task ID t1, got %q", row.VideoTaskID)
	}
	if row.UpdatedAt.Before(before) {
		t.Error("expected UpdatedAt to be stamped")
	}
}

func TestMemory_UpdateRow_NilFieldsUntouched(t *testing.T) {
	m := seedMemory(task.Row{
		ID:          "p1",
		VideoStatus: task.StatusProcessing,
		VideoTaskID: "t1",
		VideoPrompt: "smile",
	})

	err := m.UpdateRow(context.Background(), "p1", Fields{
		Status:      StatusPtr(task.StatusUploading),
		ProviderURL: String("https://p/v.mp4"),
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row, _ := m.GetRow(context.Background(), "p1")
	if row.VideoTaskID != "t1" {
		t.Errorf("task ID should be untouched, got %q", row.VideoTaskID)
	}
	if row.VideoPrompt != "smile" {
		t.Errorf("prompt should be untouched, got %q", row.VideoPrompt)
	}
}

func TestMemory_UpdateRow_ClearsFieldWithEmptyPointer(t *testing.T) {
	m := seedMemory(task.Row{ID: "p1", VideoStatus: task.StatusProcessing, VideoTaskID: "t1"})

	err := m.UpdateRow(context.Background(), "p1", Fields{
		Status: StatusPtr(task.StatusFailed),
		TaskID: String(""),
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row, _ := m.GetRow(context.Background(), "p1")
	if row.VideoTaskID != "" {
		t.Errorf("expected cleared task ID, got %q", row.VideoTaskID)
	}
}

func TestMemory_UpdateRow_CASMismatch(t *testing.T) {
	m := seedMemory(task.Row{ID: "p1", VideoStatus: task.StatusUploading, VideoTaskID: "t1"})

	err := m.UpdateRow(context.Background(), "p1", Fields{
		Status: StatusPtr(task.StatusUploading),
	}, task.StatusProcessing)

	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}

	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatal("expected MismatchError")
	}
	if mismatch.Current != task.StatusUploading {
		t.Errorf("expected current uploading, got %s", mismatch.Current)
	}

	// Nothing may have been mutated.
	row, _ := m.GetRow(context.Background(), "p1")
	if row.VideoStatus != task.StatusUploading {
		t.Errorf("row mutated despite CAS failure: %s", row.VideoStatus)
	}
}

// TestMemory_UpdateRow_ConcurrentCASSingleWinner simulates N overlapping
// reconciler ticks all observing the same succeeded task and racing the
// processing -> uploading transition. Exactly one may win.
func TestMemory_UpdateRow_ConcurrentCASSingleWinner(t *testing.T) {
	m := seedMemory(task.Row{ID: "p1", VideoStatus: task.StatusProcessing, VideoTaskID: "t1"})

	const attempts = 5
	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.UpdateRow(context.Background(), "p1", Fields{
				Status:      StatusPtr(task.StatusUploading),
				ProviderURL: String("https://p/v.mp4"),
			}, task.StatusProcessing)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
			continue
		}
		if !errors.Is(err, ErrStatusMismatch) {
			t.Errorf("loser got unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 CAS winner, got %d", winners)
	}

	row, _ := m.GetRow(context.Background(), "p1")
	if row.VideoStatus != task.StatusUploading {
		t.Errorf("expected uploading after race, got %s", row.VideoStatus)
	}
}

func TestMemory_QueueVideo(t *testing.T) {
	m := seedMemory(task.Row{ID: "p1", VideoStatus: task.StatusIdle})

	err := m.QueueVideo(context.Background(), "p1", QueueParams{
		Prompt:     "wave at the camera",
		Resolution: "720p",
		Model:      "veo-2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row, _ := m.GetRow(context.Background(), "p1")
	if row.VideoStatus != task.StatusQueued {
		t.Errorf("expected queued, got %s", row.VideoStatus)
	}
	if row.VideoPrompt != "wave at the camera" {
		t.Errorf("expected prompt stored, got %q", row.VideoPrompt)
	}
	if row.VideoResolution != "720p" {
		t.Errorf("expected resolution stored, got %q", row.VideoResolution)
	}
	if row.VideoModel != "veo-2" {
		t.Errorf("expected model stored, got %q", row.VideoModel)
	}
}

func TestMemory_QueueVideo_NotFound(t *testing.T) {
	m := NewMemory()

	err := m.QueueVideo(context.Background(), "missing", QueueParams{})
	if !errors.Is(err, ErrRowNotFound) {
		t.Errorf("expected ErrRowNotFound, got %v", err)
	}
}
