// Package server provides the HTTP server for the photobooth video API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// QueueVideoRequest is the HTTP request body for queueing a video job.
// All fields are optional; missing parameters fall back to the configured
// defaults when generation starts.
type QueueVideoRequest struct {
	// Prompt is the generation prompt captured with the job.
	Prompt string `json:"prompt"`
	// Resolution is the requested output resolution. Unsupported values
	// are coerced when the task starts, never rejected here.
	Resolution string `json:"resolution"`
	// Model is the requested generation model.
	Model string `json:"model"`
}

// QueueVideoResponse is the HTTP response after queueing a job.
type QueueVideoResponse struct {
	// ID is the photo ID whose job was queued.
	ID string `json:"id"`
	// Status is the job status after queueing.
	Status string `json:"status"`
}

// GenerateRequest is the HTTP request body for starting a generation task
// directly, bypassing the queue.
type GenerateRequest struct {
	// Model is the generation model. Must carry the configured model prefix.
	Model string `json:"model" validate:"required"`
	// Prompt is the generation prompt.
	Prompt string `json:"prompt" validate:"required"`
	// ImageRef is the provider-facing reference to the source image.
	ImageRef string `json:"image_ref" validate:"required"`
	// Resolution is the requested output resolution.
	Resolution string `json:"resolution"`
	// Duration is the requested clip length in seconds.
	Duration int `json:"duration" validate:"omitempty,min=1,max=15"`
	// PhotoID, when set, records the started task on that ledger row.
	PhotoID string `json:"photo_id"`
}

// GenerateResponse is the HTTP response after starting a generation task.
type GenerateResponse struct {
	// TaskID is the provider's task handle.
	TaskID string `json:"task_id"`
	// Warning is set when the task started but the ledger bookkeeping
	// write failed; the task itself is the source of truth.
	Warning string `json:"warning,omitempty"`
}

// TickResponse is the HTTP response of one reconciler invocation.
type TickResponse struct {
	// OK indicates the tick ran; row-local failures live in the report.
	OK bool `json:"ok"`
	// Report summarizes the tick.
	Report TickReport `json:"report"`
	// ActiveCount is the number of rows still queued or processing.
	ActiveCount int `json:"active_count"`
}

// TickReport mirrors the reconciler's per-tick summary.
type TickReport struct {
	Processed int      `json:"processed"`
	Started   int      `json:"started"`
	Reverted  int      `json:"reverted"`
	Errors    []string `json:"errors"`
}

// FinalizeRequest is the HTTP request body for a synchronous finalization.
// Both fields are optional; missing values come from the ledger row.
type FinalizeRequest struct {
	// VideoURL overrides the provider asset URL stored on the row.
	VideoURL string `json:"video_url" validate:"omitempty,url"`
	// SessionFolderID overrides the destination container.
	SessionFolderID string `json:"session_folder_id"`
}

// FinalizeResponse is the HTTP response after finalization.
type FinalizeResponse struct {
	OK bool `json:"ok"`
	// FileID identifies the durably stored asset.
	FileID string `json:"file_id,omitempty"`
	// Message carries "Already uploaded" for idempotent repeats.
	Message string `json:"message,omitempty"`
}

// TaskDTO is one ledger row as exposed to clients.
type TaskDTO struct {
	ID              string    `json:"id"`
	VideoStatus     string    `json:"video_status"`
	VideoTaskID     string    `json:"video_task_id,omitempty"`
	ProviderURL     string    `json:"provider_url,omitempty"`
	VideoFileID     string    `json:"video_file_id,omitempty"`
	VideoPrompt     string    `json:"video_prompt,omitempty"`
	VideoResolution string    `json:"video_resolution,omitempty"`
	VideoModel      string    `json:"video_model,omitempty"`
	SessionFolderID string    `json:"session_folder_id,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TasksResponse is the HTTP response for the task listing.
type TasksResponse struct {
	Tasks []TaskDTO `json:"tasks"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
