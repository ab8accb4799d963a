package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/framebooth/video-api/internal/task"
)

// Static errors for the HTTP ledger client.
var (
	// ErrEndpointRequired is returned when the ledger endpoint URL is not provided.
	ErrEndpointRequired = errors.New("ledger: endpoint URL is required")
	// ErrServerError is returned when the ledger returns a 5xx status code.
	ErrServerError = errors.New("ledger: server error")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("ledger: request failed")
)

// HTTPClient is the HTTP implementation of the ledger Client interface.
// Every operation is a POST to a single endpoint carrying an action
// discriminator plus a flat field set; responses carry {ok: bool, ...}.
type HTTPClient struct {
	endpoint    string
	token       string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithToken sets the shared secret sent with every request.
func WithToken(token string) ClientOption {
	return func(hc *HTTPClient) {
		hc.token = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
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

// NewClient creates a new ledger HTTP client for the given endpoint.
// The token can be set via the WithToken option. If not provided, it is
// read from the environment variable LEDGER_TOKEN.
func NewClient(endpoint string, opts ...ClientOption) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}

	c := &HTTPClient{
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxRetries:  2,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.token == "" {
		c.token = os.Getenv("LEDGER_TOKEN")
	}

	return c, nil
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// actionRequest is the wire shape of every ledger request.
type actionRequest struct {
	Action        string  `json:"action"`
	Token         string  `json:"token,omitempty"`
	PhotoID       string  `json:"photoId,omitempty"`
	Status        string  `json:"status,omitempty"`
	TaskID        *string `json:"taskId,omitempty"`
	ProviderURL   *string `json:"providerUrl,omitempty"`
	VideoFileID   *string `json:"videoFileId,omitempty"`
	RequireStatus string  `json:"requireStatus,omitempty"`
	Prompt        string  `json:"prompt,omitempty"`
	Resolution    string  `json:"resolution,omitempty"`
	Model         string  `json:"model,omitempty"`
}

// rowPayload is the wire shape of a row. The updatedAt field may arrive as
// RFC 3339 or be absent entirely.
type rowPayload struct {
	ID              string `json:"id"`
	VideoStatus     string `json:"videoStatus"`
	VideoTaskID     string `json:"videoTaskId"`
	ProviderURL     string `json:"providerUrl"`
	VideoFileID     string `json:"videoFileId"`
	VideoPrompt     string `json:"videoPrompt"`
	VideoResolution string `json:"videoResolution"`
	VideoModel      string `json:"videoModel"`
	SessionFolderID string `json:"sessionFolderId"`
	UpdatedAt       string `json:"updatedAt"`
}

func (p rowPayload) toRow() task.Row {
	status := task.Status(p.VideoStatus)
	if status == "" {
		// Absent status means no video was ever requested.
		status = task.StatusIdle
	}
	updated, _ := time.Parse(time.RFC3339, p.UpdatedAt)
	return task.Row{
		ID:              p.ID,
		VideoStatus:     status,
		VideoTaskID:     p.VideoTaskID,
		ProviderURL:     p.ProviderURL,
		VideoFileID:     p.VideoFileID,
		VideoPrompt:     p.VideoPrompt,
		VideoResolution: p.VideoResolution,
		VideoModel:      p.VideoModel,
		SessionFolderID: p.SessionFolderID,
		UpdatedAt:       updated,
	}
}

// actionResponse is the wire shape of every ledger response.
type actionResponse struct {
	OK      bool         `json:"ok"`
	Error   string       `json:"error"`
	Current string       `json:"current"`
	Row     *rowPayload  `json:"row"`
	Rows    []rowPayload `json:"rows"`
}

// ListRows returns every row in ledger order.
func (c *HTTPClient) ListRows(ctx context.Context) ([]task.Row, error) {
	resp, err := c.doActionWithRetry(ctx, actionRequest{Action: "listRows"})
	if err != nil {
		return nil, err
	}
	rows := make([]task.Row, 0, len(resp.Rows))
	for _, p := range resp.Rows {
		rows = append(rows, p.toRow())
	}
	return rows, nil
}

// GetRow returns a single row by photo ID.
func (c *HTTPClient) GetRow(ctx context.Context, id string) (task.Row, error) {
	resp, err := c.doActionWithRetry(ctx, actionRequest{Action: "getRow", PhotoID: id})
	if err != nil {
		return task.Row{}, err
	}
	if resp.Row == nil {
		return task.Row{}, ErrRowNotFound
	}
	return resp.Row.toRow(), nil
}

// UpdateRow applies the non-nil fields to the row, optionally as a
// compare-and-swap on the current status. CAS updates are idempotent and
// therefore safe to retry on transient failures.
func (c *HTTPClient) UpdateRow(ctx context.Context, id string, fields Fields, requireStatus task.Status) error {
	req := actionRequest{
		Action:        "updateVideoStatus",
		PhotoID:       id,
		TaskID:        fields.TaskID,
		ProviderURL:   fields.ProviderURL,
		VideoFileID:   fields.FileID,
		RequireStatus: string(requireStatus),
	}
	if fields.Status != nil {
		req.Status = string(*fields.Status)
	}
	_, err := c.doActionWithRetry(ctx, req)
	return err
}

// QueueVideo marks the row queued and stores the generation parameters.
func (c *HTTPClient) QueueVideo(ctx context.Context, id string, params QueueParams) error {
	_, err := c.doActionWithRetry(ctx, actionRequest{
		Action:     "queueVideo",
		PhotoID:    id,
		Prompt:     params.Prompt,
		Resolution: params.Resolution,
		Model:      params.Model,
	})
	return err
}

// doActionWithRetry performs a ledger action with bounded retry and backoff.
// Only transport-level failures are retried; an {ok:false} response is a
// definitive answer from the ledger and is mapped to an error immediately.
func (c *HTTPClient) doActionWithRetry(ctx context.Context, req actionRequest) (*actionResponse, error) {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("ledger: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		resp, err := c.doAction(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("ledger: max retries exceeded: %w", lastErr)
}

// doAction performs a single ledger request and decodes the envelope.
func (c *HTTPClient) doAction(ctx context.Context, req actionRequest) (*actionResponse, error) {
	req.Token = c.token

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("ledger: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("ledger: request failed: %w", err)}
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("ledger: read response: %w", err)}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests {
			return nil, &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, httpResp.StatusCode, string(respBody))}
		}
		return nil, fmt.Errorf("%w with status %d: %s", ErrRequestFailed, httpResp.StatusCode, string(respBody))
	}

	var resp actionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("ledger: unmarshal response: %w", err)
	}

	if !resp.OK {
		return nil, mapLedgerError(&resp)
	}

	return &resp, nil
}

// mapLedgerError converts an {ok:false} envelope into a typed error.
func mapLedgerError(resp *actionResponse) error {
	msg := strings.ToLower(resp.Error)
	switch {
	case strings.Contains(msg, "status mismatch"):
		return &MismatchError{Current: task.Status(resp.Current)}
	case strings.Contains(msg, "not found"):
		return ErrRowNotFound
	case strings.Contains(msg, "invalid json"):
		return fmt.Errorf("%w: %s", ErrInvalidPayload, resp.Error)
	default:
		return fmt.Errorf("%w: %s", ErrRequestFailed, resp.Error)
	}
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
