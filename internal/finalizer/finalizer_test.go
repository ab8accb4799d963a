package finalizer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/framebooth/video-api/internal/ledger"
	"github.com/framebooth/video-api/internal/storage"
	"github.com/framebooth/video-api/internal/task"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newFixture(t *testing.T, rows ...task.Row) (*Finalizer, *ledger.Memory, *storage.LocalStore) {
	t.Helper()

	mem := ledger.NewMemory()
	mem.Seed(rows...)

	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f := New(mem, store, discardLogger(), WithDefaultFolder("videos"))
	return f, mem, store
}

func TestFinalize_HappyPath(t *testing.T) {
	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("final-video-bytes"))
	}))
	defer assets.Close()

	f, mem, store := newFixture(t, task.Row{
		ID:          "p1",
		VideoStatus: task.StatusUploading,
		VideoTaskID: "t1",
		ProviderURL: assets.URL,
	})

	res, err := f.Finalize(context.Background(), "p1", assets.URL, "session-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AlreadyUploaded {
		t.Error("expected fresh finalization, got already-uploaded")
	}
	if res.FileID == "" {
		t.Fatal("expected file ID")
	}
	if !strings.HasPrefix(res.FileID, "session-9"+string(filepath.Separator)) {
		t.Errorf("expected asset under session folder, got %q", res.FileID)
	}

	data, err := os.ReadFile(filepath.Join(store.BaseDir(), res.FileID))
	if err != nil {
		t.Fatalf("failed to read stored asset: %v", err)
	}
	if string(data) != "final-video-bytes" {
		t.Errorf("stored content mismatch: %q", data)
	}

	row, _ := mem.GetRow(context.Background(), "p1")
	if row.VideoStatus != task.StatusDone {
		t.Errorf("expected done, got %s", row.VideoStatus)
	}
	if row.VideoFileID != res.FileID {
		t.Errorf("expected file ID on row, got %q", row.VideoFileID)
	}
}

func TestFinalize_FallsBackToRowFields(t *testing.T) {
	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer assets.Close()

	f, mem, _ := newFixture(t, task.Row{
		ID:              "p1",
		VideoStatus:     task.StatusUploading,
		VideoTaskID:     "t1",
		ProviderURL:     assets.URL,
		SessionFolderID: "session-from-row",
	})

	// Neither URL nor folder passed; both come off the row.
	res, err := f.Finalize(context.Background(), "p1", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(res.FileID, "session-from-row"+string(filepath.Separator)) {
		t.Errorf("expected session folder from row, got %q", res.FileID)
	}

	row, _ := mem.GetRow(context.Background(), "p1")
	if row.VideoStatus != task.StatusDone {
		t.Errorf("expected done, got %s", row.VideoStatus)
	}
}

func TestFinalize_AlreadyDoneIsNoOp(t *testing.T) {
	var downloads atomic.Int32
	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads.Add(1)
		_, _ = w.Write([]byte("x"))
	}))
	defer assets.Close()

	f, mem, _ := newFixture(t, task.Row{
		ID:          "p1",
		VideoStatus: task.StatusDone,
		VideoFileID: "existing-file",
	})

	before, _ := mem.GetRow(context.Background(), "p1")

	res, err := f.Finalize(context.Background(), "p1", assets.URL, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.AlreadyUploaded {
		t.Error("expected already-uploaded result")
	}
	if res.FileID != "existing-file" {
		t.Errorf("expected existing file ID, got %q", res.FileID)
	}
	if downloads.Load() != 0 {
		t.Errorf("expected no download for already-done row, got %d", downloads.Load())
	}

	after, _ := mem.GetRow(context.Background(), "p1")
	if after.UpdatedAt != before.UpdatedAt {
		t.Error("expected no ledger write for already-done row")
	}
}

func TestFinalize_ExistingFileIDIsNoOp(t *testing.T) {
	f, _, _ := newFixture(t, task.Row{
		ID:          "p1",
		VideoStatus: task.StatusDone,
		VideoFileID: "file-from-earlier-run",
	})

	res, err := f.Finalize(context.Background(), "p1", "https://unreachable.invalid/v.mp4", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.AlreadyUploaded || res.FileID != "file-from-earlier-run" {
		t.Errorf("expected existing file to short-circuit, got %+v", res)
	}
}

func TestFinalize_NoAssetURL(t *testing.T) {
	f, mem, _ := newFixture(t, task.Row{
		ID:          "p1",
		VideoStatus: task.StatusUploading,
		VideoTaskID: "t1",
	})

	_, err := f.Finalize(context.Background(), "p1", "", "")
	if !errors.Is(err, ErrNoAssetURL) {
		t.Fatalf("expected ErrNoAssetURL, got %v", err)
	}

	row, _ := mem.GetRow(context.Background(), "p1")
	if row.VideoStatus != task.StatusFailed {
		t.Errorf("expected compensating failed flip, got %s", row.VideoStatus)
	}
	if row.VideoTaskID != "" {
		t.Errorf("expected handle cleared on failure, got %q", row.VideoTaskID)
	}
}

func TestFinalize_DownloadFailureFlipsToFailed(t *testing.T) {
	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer assets.Close()

	f, mem, _ := newFixture(t, task.Row{
		ID:          "p1",
		VideoStatus: task.StatusUploading,
		VideoTaskID: "t1",
		ProviderURL: assets.URL,
	})

	_, err := f.Finalize(context.Background(), "p1", assets.URL, "")
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}

	row, _ := mem.GetRow(context.Background(), "p1")
	if row.VideoStatus != task.StatusFailed {
		t.Errorf("expected failed, got %s", row.VideoStatus)
	}
	if row.VideoTaskID != "" {
		t.Errorf("expected handle cleared, got %q", row.VideoTaskID)
	}
	if row.VideoFileID != "" {
		t.Errorf("failed row must not carry a file ID, got %q", row.VideoFileID)
	}
}

func TestFinalize_RowNotFound(t *testing.T) {
	f, _, _ := newFixture(t)

	_, err := f.Finalize(context.Background(), "missing", "https://p/v.mp4", "")
	if !errors.Is(err, ledger.ErrRowNotFound) {
		t.Errorf("expected ErrRowNotFound, got %v", err)
	}
}

func TestFinalize_DefaultFolderWhenNoSession(t *testing.T) {
	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer assets.Close()

	f, _, _ := newFixture(t, task.Row{
		ID:          "p1",
		VideoStatus: task.StatusUploading,
		VideoTaskID: "t1",
	})

	res, err := f.Finalize(context.Background(), "p1", assets.URL, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(res.FileID, "videos"+string(filepath.Separator)) {
		t.Errorf("expected default folder, got %q", res.FileID)
	}
}
