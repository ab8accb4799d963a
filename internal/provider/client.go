// Package provider wraps the remote AI video generation API: start a
// generation task, poll its status, and interpret terminal states.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Static errors for provider client operations.
var (
	// ErrBaseURLRequired is returned when the provider base URL is not provided.
	ErrBaseURLRequired = errors.New("provider: base URL is required")
	// ErrAPIKeyNotSet is returned when no API key is available.
	ErrAPIKeyNotSet = errors.New("provider: API key is required")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("provider: task ID is required")
	// ErrNoTaskIDReturned is returned when the start response contains no task ID.
	ErrNoTaskIDReturned = errors.New("provider: start failed: no task ID returned")
)

// UpstreamError is returned when the provider rejects a request. It carries
// the HTTP status so callers can distinguish bad requests (invalid model,
// invalid resolution, quota) from provider-side failures.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("provider: upstream error %d: %s", e.StatusCode, e.Message)
}

// DefaultResolution is used when a requested resolution is not supported.
const DefaultResolution = "480p"

// supportedResolutions is the set the provider accepts.
var supportedResolutions = map[string]bool{
	"480p": true,
	"720p": true,
}

// NormalizeResolution coerces unsupported resolutions to DefaultResolution
// with a warning. An out-of-set value is never propagated upstream.
func NormalizeResolution(res string) string {
	if res == "" {
		return DefaultResolution
	}
	res = strings.ToLower(res)
	if !supportedResolutions[res] {
		slog.Warn("unsupported video resolution, coercing",
			slog.String("requested", res),
			slog.String("using", DefaultResolution),
		)
		return DefaultResolution
	}
	return res
}

// Client defines the interface for interacting with the generation provider.
type Client interface {
	// StartTask submits a generation task and returns the provider's task handle.
	StartTask(ctx context.Context, input StartTaskInput) (taskID string, err error)

	// PollTask checks the status of a task and returns the normalized result.
	PollTask(ctx context.Context, taskID string) (PollResult, error)
}

// HTTPClient is the HTTP implementation of the provider Client interface.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient poll failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new provider HTTP client. The API key can be set via
// the WithAPIKey option. If not provided, it is read from the environment
// variable PROVIDER_API_KEY.
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxRetries:  2,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("PROVIDER_API_KEY")
	}

	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// augmentPrompt appends the requested resolution and duration as inline
// directives so the task is self-describing when examined out of band.
func augmentPrompt(prompt, resolution string, durationSec int) string {
	return fmt.Sprintf("%s [resolution: %s] [duration: %ds]", prompt, resolution, durationSec)
}

// StartTask submits a generation task and returns the task handle.
// Starting a task is not idempotent, so this call is never retried: a
// transport failure here leaves the caller's row queued for the next tick
// rather than risking a double start.
func (c *HTTPClient) StartTask(ctx context.Context, input StartTaskInput) (string, error) {
	resolution := NormalizeResolution(input.Resolution)
	duration := input.DurationSec
	if duration <= 0 {
		duration = 5
	}

	reqBody := startRequest{
		Model:      input.Model,
		Prompt:     augmentPrompt(input.Prompt, resolution, duration),
		Image:      input.ImageRef,
		Resolution: resolution,
		Duration:   duration,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("provider: marshal request: %w", err)
	}

	url := c.baseURL + "/v1/tasks"
	envelope, err := c.doRequest(ctx, http.MethodPost, url, bodyBytes)
	if err != nil {
		return "", err
	}

	taskID := envelope.taskID()
	if taskID == "" {
		if msg := envelope.errorMessage(); msg != "" {
			return "", fmt.Errorf("%w: %s", ErrNoTaskIDReturned, msg)
		}
		return "", ErrNoTaskIDReturned
	}

	return taskID, nil
}

// PollTask checks the status of a task. Polls are idempotent, so transient
// failures are retried with backoff.
func (c *HTTPClient) PollTask(ctx context.Context, taskID string) (PollResult, error) {
	if taskID == "" {
		return PollResult{}, ErrTaskIDRequired
	}

	url := fmt.Sprintf("%s/v1/tasks/%s", c.baseURL, taskID)

	var envelope *taskEnvelope
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return PollResult{}, fmt.Errorf("provider: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		envelope, lastErr = c.doRequest(ctx, http.MethodGet, url, nil)
		if lastErr == nil {
			return normalizePoll(envelope), nil
		}
		if !isRetryable(lastErr) {
			return PollResult{}, lastErr
		}
	}

	return PollResult{}, fmt.Errorf("provider: max retries exceeded: %w", lastErr)
}

// normalizePoll maps the provider's raw status onto the internal State set.
// Status strings are lower-cased before comparison; anything that is not a
// recognized terminal state is treated as still processing.
func normalizePoll(envelope *taskEnvelope) PollResult {
	result := PollResult{State: StateProcessing}

	switch strings.ToLower(envelope.status()) {
	case "succeeded", "success", "completed":
		result.State = StateSucceeded
		result.AssetURL = envelope.assetURL()
	case "failed", "error":
		result.State = StateFailed
		result.Message = envelope.errorMessage()
	}

	return result
}

// doRequest performs a single HTTP request and decodes the envelope.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte) (*taskEnvelope, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("provider: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("provider: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("provider: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		upstream := &UpstreamError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, &retryableError{err: upstream}
		}
		return nil, upstream
	}

	var envelope taskEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("provider: unmarshal response: %w", err)
	}

	return &envelope, nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
