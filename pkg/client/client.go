// Package client is a Go client for the composition API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/mediaforge/pkg/models"
)

// Sentinel errors for client failures.
var (
	ErrUnreachable = errors.New("server unreachable")
	ErrTimeout     = errors.New("request timeout")
	ErrNotFound    = errors.New("not found")
	ErrRejected    = errors.New("request rejected")
	ErrJobFailed   = errors.New("job failed")
)

const defaultPollInterval = time.Second

// Client talks to one composition server.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Submit queues a workflow and returns its prompt id.
func (c *Client) Submit(ctx context.Context, prompt json.RawMessage, clientID string) (string, error) {
	var resp models.PromptResponse
	err := c.do(ctx, http.MethodPost, "/prompt", models.PromptRequest{Prompt: prompt, ClientID: clientID}, &resp)
	if err != nil {
		return "", err
	}
	return resp.PromptID, nil
}

// History returns the status entry of a job, or ErrNotFound.
func (c *Client) History(ctx context.Context, promptID string) (*models.HistoryEntry, error) {
	var hist models.History
	if err := c.do(ctx, http.MethodGet, "/history/"+url.PathEscape(promptID), nil, &hist); err != nil {
		return nil, err
	}
	entry, ok := hist[promptID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, promptID)
	}
	return &entry, nil
}

// Wait polls History every interval until the job completes or fails. A failed
// job yields ErrJobFailed carrying the server's messages.
func (c *Client) Wait(ctx context.Context, promptID string, interval time.Duration) (*models.HistoryEntry, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		entry, err := c.History(ctx, promptID)
		if err != nil {
			return nil, err
		}
		switch {
		case entry.Status.Completed:
			return entry, nil
		case entry.Status.StatusStr == "error":
			return entry, fmt.Errorf("%w: %s", ErrJobFailed, strings.Join(entry.Status.Messages, "; "))
		}

		select {
		case <-ctx.Done():
			return nil, classifyError(ctx.Err())
		case <-ticker.C:
		}
	}
}

// Download streams an artifact into w and returns the number of bytes copied.
func (c *Client) Download(ctx context.Context, filename string, w io.Writer) (int64, error) {
	u := c.baseURL + "/view?" + url.Values{"filename": {filename}}.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, statusError(resp)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("reading artifact: %w", err)
	}
	return n, nil
}

// Queue lists running and pending job ids.
func (c *Client) Queue(ctx context.Context) (*models.QueueResponse, error) {
	var q models.QueueResponse
	if err := c.do(ctx, http.MethodGet, "/queue", nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// Interrupt cancels a queued or running job.
func (c *Client) Interrupt(ctx context.Context, promptID string) error {
	return c.do(ctx, http.MethodPost, "/interrupt", models.InterruptRequest{PromptID: promptID}, nil)
}

// SystemStats fetches the server's capability report.
func (c *Client) SystemStats(ctx context.Context) (*models.SystemStats, error) {
	var s models.SystemStats
	if err := c.do(ctx, http.MethodGet, "/system_stats", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// statusError turns a non-200 response into ErrNotFound or ErrRejected.
func statusError(resp *http.Response) error {
	var body models.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)

	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, msg)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
