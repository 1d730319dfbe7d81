package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const maxUpstreamErrorBody = 4 << 10

// HTTPEngine forwards synthesis to an upstream IndexTTS2-style server that
// accepts the Request JSON on POST /api/v1/tts and answers with WAV bytes.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEngine creates a new HTTPEngine.
func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *HTTPEngine) Name() string { return "http" }

func (e *HTTPEngine) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/v1/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: upstream status %d: %s", ErrSynthesisFailed, resp.StatusCode, upstreamMessage(resp.Body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: upstream returned no audio", ErrSynthesisFailed)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = "audio/wav"
	}
	return &Audio{Data: data, ContentType: contentType}, nil
}

// Ready checks the upstream health endpoint.
func (e *HTTPEngine) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: upstream not ready (status %d)", ErrEngineUnavailable, resp.StatusCode)
	}
	return nil
}

// upstreamMessage extracts {error, message} from an upstream error body,
// falling back to the raw text.
func upstreamMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxUpstreamErrorBody))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && (body.Error != "" || body.Message != "") {
		if body.Message != "" {
			return body.Message
		}
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrSynthesisTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrSynthesisTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
}
