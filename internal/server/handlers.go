package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/framebooth/video-api/internal/finalizer"
	"github.com/framebooth/video-api/internal/ledger"
	"github.com/framebooth/video-api/internal/provider"
	"github.com/framebooth/video-api/internal/reconciler"
	"github.com/framebooth/video-api/internal/task"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	ledger      ledger.Client
	provider    provider.Client
	reconciler  *reconciler.Reconciler
	finalizer   *finalizer.Finalizer
	validator   *validator.Validate
	logger      *slog.Logger
	modelPrefix string
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithModelPrefix sets the prefix a requested generation model must carry.
// Empty disables the check.
func WithModelPrefix(prefix string) HandlerOption {
	return func(h *Handlers) {
		h.modelPrefix = prefix
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(lc ledger.Client, pc provider.Client, rec *reconciler.Reconciler, fin *finalizer.Finalizer, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		ledger:     lc,
		provider:   pc,
		reconciler: rec,
		finalizer:  fin,
		validator:  validator.New(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ListTasks handles GET /tasks requests. Clients poll this to sync state;
// there is no push channel.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	rows, err := h.ledger.ListRows(r.Context())
	if err != nil {
		h.logger.Error("failed to list ledger rows",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "ledger unavailable", "LEDGER_UNAVAILABLE")
		return
	}

	resp := TasksResponse{Tasks: make([]TaskDTO, 0, len(rows))}
	for _, row := range rows {
		resp.Tasks = append(resp.Tasks, toTaskDTO(row))
	}
	writeJSON(w, http.StatusOK, resp)
}

// QueueVideo handles POST /tasks/{id}/queue requests. It marks the row
// queued with its generation parameters; the reconciler picks it up on a
// later tick.
func (h *Handlers) QueueVideo(w http.ResponseWriter, r *http.Request) {
	photoID := r.PathValue("id")
	if photoID == "" {
		writeError(w, http.StatusBadRequest, "photo ID is required", "MISSING_PHOTO_ID")
		return
	}

	// The body is optional; an empty request queues with defaults.
	var req QueueVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	params := ledger.QueueParams{
		Prompt:     req.Prompt,
		Resolution: req.Resolution,
		Model:      req.Model,
	}
	if err := h.ledger.QueueVideo(r.Context(), photoID, params); err != nil {
		if errors.Is(err, ledger.ErrRowNotFound) {
			writeError(w, http.StatusNotFound, "photo not found", "PHOTO_NOT_FOUND")
			return
		}
		h.logger.Error("failed to queue video",
			slog.String("photo_id", photoID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to queue video", "QUEUE_FAILED")
		return
	}

	h.logger.Info("video queued",
		slog.String("photo_id", photoID),
	)
	writeJSON(w, http.StatusAccepted, QueueVideoResponse{
		ID:     photoID,
		Status: string(task.StatusQueued),
	})
}

// Generate handles POST /generate requests: start a provider task directly.
// The response is successful as soon as the provider accepted the task; a
// failed bookkeeping write to the ledger only produces a warning, because
// the provider-side task is the source of truth.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	if h.modelPrefix != "" && !strings.HasPrefix(req.Model, h.modelPrefix) {
		writeError(w, http.StatusBadRequest, "unsupported model", "INVALID_MODEL")
		return
	}

	input := provider.StartTaskInput{
		Model:       req.Model,
		Prompt:      req.Prompt,
		ImageRef:    req.ImageRef,
		Resolution:  req.Resolution,
		DurationSec: req.Duration,
	}

	taskID, err := h.provider.StartTask(r.Context(), input)
	if err != nil {
		var upstream *provider.UpstreamError
		if errors.As(err, &upstream) && upstream.StatusCode >= 400 && upstream.StatusCode < 500 {
			writeError(w, http.StatusBadRequest, upstream.Message, "PROVIDER_REJECTED")
			return
		}
		h.logger.Error("failed to start generation",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "generation provider unavailable", "UPSTREAM_ERROR")
		return
	}

	resp := GenerateResponse{TaskID: taskID}

	if req.PhotoID != "" {
		fields := ledger.Fields{
			Status: ledger.StatusPtr(task.StatusProcessing),
			TaskID: ledger.String(taskID),
		}
		if err := h.ledger.UpdateRow(r.Context(), req.PhotoID, fields, ""); err != nil {
			h.logger.Warn("task started but ledger bookkeeping failed",
				slog.String("photo_id", req.PhotoID),
				slog.String("task_id", taskID),
				slog.String("error", err.Error()),
			)
			resp.Warning = "task started but could not be recorded; rely on sync"
		}
	}

	h.logger.Info("generation started",
		slog.String("task_id", taskID),
		slog.String("photo_id", req.PhotoID),
	)
	writeJSON(w, http.StatusAccepted, resp)
}

// Tick handles POST /tick requests from the external scheduler: one
// reconciliation pass over the ledger.
func (h *Handlers) Tick(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Tick(r.Context())
	if err != nil {
		h.logger.Error("tick failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "ledger unavailable", "LEDGER_UNAVAILABLE")
		return
	}

	errs := report.Errors
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, http.StatusOK, TickResponse{
		OK: true,
		Report: TickReport{
			Processed: report.Processed,
			Started:   report.Started,
			Reverted:  report.Reverted,
			Errors:    errs,
		},
		ActiveCount: report.Active,
	})
}

// Finalize handles POST /tasks/{id}/finalize requests: synchronously
// download, persist and mark done. Safe to repeat; a second call returns
// success without creating another asset.
func (h *Handlers) Finalize(w http.ResponseWriter, r *http.Request) {
	photoID := r.PathValue("id")
	if photoID == "" {
		writeError(w, http.StatusBadRequest, "photo ID is required", "MISSING_PHOTO_ID")
		return
	}

	var req FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	result, err := h.finalizer.Finalize(r.Context(), photoID, req.VideoURL, req.SessionFolderID)
	if err != nil {
		if errors.Is(err, ledger.ErrRowNotFound) {
			writeError(w, http.StatusNotFound, "photo not found", "PHOTO_NOT_FOUND")
			return
		}
		h.logger.Error("finalization failed",
			slog.String("photo_id", photoID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "finalization failed", "FINALIZE_FAILED")
		return
	}

	resp := FinalizeResponse{OK: true, FileID: result.FileID}
	if result.AlreadyUploaded {
		resp.Message = "Already uploaded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// toTaskDTO converts a ledger row to its client representation.
func toTaskDTO(row task.Row) TaskDTO {
	return TaskDTO{
		ID:              row.ID,
		VideoStatus:     string(row.VideoStatus),
		VideoTaskID:     row.VideoTaskID,
		ProviderURL:     row.ProviderURL,
		VideoFileID:     row.VideoFileID,
		VideoPrompt:     row.VideoPrompt,
		VideoResolution: row.VideoResolution,
		VideoModel:      row.VideoModel,
		SessionFolderID: row.SessionFolderID,
		UpdatedAt:       row.UpdatedAt,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
