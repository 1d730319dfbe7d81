package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/mediaforge/internal/api"
	"github.com/kiranshivaraju/mediaforge/internal/api/handler"
	mw "github.com/kiranshivaraju/mediaforge/internal/api/middleware"
	"github.com/kiranshivaraju/mediaforge/internal/artifact"
	"github.com/kiranshivaraju/mediaforge/internal/cache"
	"github.com/kiranshivaraju/mediaforge/internal/compose"
	"github.com/kiranshivaraju/mediaforge/internal/jobs"
	"github.com/kiranshivaraju/mediaforge/internal/producer"
	"github.com/kiranshivaraju/mediaforge/internal/tts"
	"github.com/kiranshivaraju/mediaforge/internal/worker"
	"github.com/kiranshivaraju/mediaforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- counting cache for rate limit tests ---

type countingCache struct {
	cache.Nop
	counts map[string]int64
}

func (c *countingCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.counts[key]++
	return c.counts[key], nil
}

func newComposeServer(t *testing.T, limit *mw.RateLimit) *httptest.Server {
	t.Helper()
	return newComposeServerWithProxy(t, limit, false)
}

func newComposeServerWithProxy(t *testing.T, limit *mw.RateLimit, trustProxy bool) *httptest.Server {
	t.Helper()

	store, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)

	registry := jobs.NewRegistry()
	pool := worker.NewPool(registry, store, producer.NewStub(10*time.Millisecond),
		worker.Options{Workers: 2, QueueSize: 8, JobTimeout: 5 * time.Second})
	pool.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
	})

	svc := compose.NewService(registry, pool)
	router := api.NewComposeRouter(api.ComposeDependencies{
		RateLimit:          limit,
		TrustProxyHeaders:  trustProxy,
		HealthHandler:      handler.NewHealthHandler("compose", nil),
		PromptHandler:      handler.NewPromptHandler(svc),
		HistoryHandler:     handler.NewHistoryHandler(svc),
		ViewHandler:        handler.NewViewHandler(store),
		QueueHandler:       handler.NewQueueHandler(svc),
		InterruptHandler:   handler.NewInterruptHandler(svc),
		SystemStatsHandler: handler.NewSystemStatsHandler(svc, "stub", "test"),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getURL(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const workflow = `{"1":{"class_type":"LoadAudio","inputs":{"audio":"speech.wav"}},"2":{"class_type":"VHS_VideoCombine","inputs":{}}}`

func TestComposeRouter_SubmitPollDownload(t *testing.T) {
	srv := newComposeServer(t, nil)

	resp := post(t, srv.URL+"/prompt", `{"prompt":`+workflow+`,"client_id":"c1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var submitted models.PromptResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	require.NotEmpty(t, submitted.PromptID)
	assert.Equal(t, 1, submitted.Number)

	var entry models.HistoryEntry
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/history/" + submitted.PromptID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var hist models.History
		if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&hist) != nil {
			return false
		}
		entry = hist[submitted.PromptID]
		return entry.Status.Completed
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "success", entry.Status.StatusStr)
	assert.JSONEq(t, workflow, string(entry.Prompt))
	videos := entry.Outputs[producer.OutputNode].Videos
	require.Len(t, videos, 1)
	assert.Equal(t, "output", videos[0].Type)

	resp = getURL(t, srv.URL+"/view?filename="+videos[0].Filename)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("ETag"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestComposeRouter_UnknownHistoryIsEmptyObject(t *testing.T) {
	srv := newComposeServer(t, nil)

	resp := getURL(t, srv.URL+"/history/does-not-exist")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{}`, string(body))
}

func TestComposeRouter_ViewTraversalRejected(t *testing.T) {
	srv := newComposeServer(t, nil)

	resp := getURL(t, srv.URL+"/view?filename=..%2F..%2Fetc%2Fpasswd")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestComposeRouter_InvalidPrompt(t *testing.T) {
	srv := newComposeServer(t, nil)

	resp := post(t, srv.URL+"/prompt", `{"prompt":"not a workflow"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid prompt", body.Error)
}

func TestComposeRouter_StaticEndpoints(t *testing.T) {
	srv := newComposeServer(t, nil)

	for _, path := range []string{"/health", "/system_stats", "/queue"} {
		t.Run(path, func(t *testing.T) {
			resp := getURL(t, srv.URL+path)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}
}

func TestComposeRouter_UnknownRouteIsJSON(t *testing.T) {
	srv := newComposeServer(t, nil)

	resp := getURL(t, srv.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestComposeRouter_RateLimitOnlyOnSubmit(t *testing.T) {
	cc := &countingCache{counts: map[string]int64{}}
	srv := newComposeServer(t, mw.NewRateLimit(cc, "prompt", 1))

	assert.Equal(t, http.StatusOK, post(t, srv.URL+"/prompt", `{"prompt":`+workflow+`}`).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, post(t, srv.URL+"/prompt", `{"prompt":`+workflow+`}`).StatusCode)

	// polling is not limited
	for range 3 {
		assert.Equal(t, http.StatusOK, getURL(t, srv.URL+"/queue").StatusCode)
	}
}

func postForwarded(t *testing.T, url, forwardedFor string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(`{"prompt":`+workflow+`}`))
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-For", forwardedFor)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestComposeRouter_RateLimitIgnoresForwardedForByDefault(t *testing.T) {
	cc := &countingCache{counts: map[string]int64{}}
	srv := newComposeServer(t, mw.NewRateLimit(cc, "prompt", 2))

	accepted := 0
	for i := range 20 {
		if postForwarded(t, srv.URL+"/prompt", fmt.Sprintf("198.51.100.%d", i+1)) == http.StatusOK {
			accepted++
		}
	}
	assert.Equal(t, 2, accepted)
	assert.Equal(t, int64(20), cc.counts[cache.RateLimitKey("prompt", "127.0.0.1")])
	assert.Zero(t, cc.counts[cache.RateLimitKey("prompt", "198.51.100.1")])
}

func TestComposeRouter_RateLimitHonoursForwardedForWhenTrusted(t *testing.T) {
	cc := &countingCache{counts: map[string]int64{}}
	srv := newComposeServerWithProxy(t, mw.NewRateLimit(cc, "prompt", 1), true)

	for _, ip := range []string{"203.0.113.1", "203.0.113.2"} {
		assert.Equal(t, http.StatusOK, postForwarded(t, srv.URL+"/prompt", ip))
	}
	assert.Equal(t, int64(1), cc.counts[cache.RateLimitKey("prompt", "203.0.113.1")])
}

func TestComposeRouter_MissingHandlerIsNotImplemented(t *testing.T) {
	srv := httptest.NewServer(api.NewComposeRouter(api.ComposeDependencies{}))
	t.Cleanup(srv.Close)

	resp := getURL(t, srv.URL+"/queue")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestComposeRouter_PanicRecovered(t *testing.T) {
	srv := httptest.NewServer(api.NewComposeRouter(api.ComposeDependencies{
		QueueHandler:  func(http.ResponseWriter, *http.Request) { panic("boom") },
		HealthHandler: handler.NewHealthHandler("compose", nil),
	}))
	t.Cleanup(srv.Close)

	assert.Equal(t, http.StatusInternalServerError, getURL(t, srv.URL+"/queue").StatusCode)
	// server keeps serving
	assert.Equal(t, http.StatusOK, getURL(t, srv.URL+"/health").StatusCode)
}

func TestTTSRouter(t *testing.T) {
	svc := tts.NewService(tts.Sine{}, 5*time.Second)
	srv := httptest.NewServer(api.NewTTSRouter(api.TTSDependencies{
		HealthHandler: handler.NewHealthHandler("tts", nil),
		TTSHandler:    handler.NewTTSHandler(svc),
		VoicesHandler: handler.NewVoicesHandler(svc),
	}))
	t.Cleanup(srv.Close)

	resp := post(t, srv.URL+"/api/v1/tts", `{"text":"hello world"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Greater(t, len(data), 44)
	assert.Equal(t, "RIFF", string(data[:4]))

	resp = post(t, srv.URL+"/api/v1/tts", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, http.StatusOK, getURL(t, srv.URL+"/api/v1/voices").StatusCode)
	assert.Equal(t, http.StatusOK, getURL(t, srv.URL+"/health").StatusCode)
}
