package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fly-screenshotter/internal/clock"
	"github.com/JakeFAU/fly-screenshotter/internal/config"
	queueMemory "github.com/JakeFAU/fly-screenshotter/internal/queue/memory"
	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
)

type fakeIDGen struct {
	ids []string
	err error
}

func (f *fakeIDGen) NewID() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if len(f.ids) == 0 {
		return "generated", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

var received = time.Unix(1700000000, 0).UTC()

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{EnqueueTimeout: 20 * time.Millisecond},
		Target: config.TargetConfig{Scheme: "https", AppPrefix: "preview", Domain: "fly.dev"},
	}
}

func newTestServer(q Enqueuer, cfg config.Config) *Server {
	return NewServer(q, &fakeIDGen{ids: []string{"req-1"}}, clock.NewFixed(received), nil, cfg, zap.NewNop())
}

func post(t *testing.T, h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/fly/take-screenshot", bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTakeScreenshotAcknowledgesBeforeProcessing(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(4)
	server := newTestServer(q, testConfig())

	rec := post(t, server.Handler(), `{"project_id":"abc123"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp screenshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, screenshotResponse{Status: "processing", AppName: "preview-abc123", ProjectID: "abc123"}, resp)
	require.Equal(t, "req-1", rec.Header().Get(requestIDHeader))

	// Nothing consumes the queue, so the request is still waiting for a worker.
	require.Equal(t, 1, q.Len())
	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, screenshot.CaptureRequest{ID: "req-1", ProjectID: "abc123", ReceivedAt: received}, got)
}

func TestTakeScreenshotRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"empty body", "", "request body is required"},
		{"invalid json", "{invalid", "invalid JSON"},
		{"missing field", `{}`, "project_id is required"},
		{"empty id", `{"project_id":""}`, "project_id is required"},
		{"wrong type", `{"project_id":42}`, "invalid JSON"},
		{"bad chars", `{"project_id":"a/b"}`, "project_id must contain"},
		{"leading hyphen", `{"project_id":"-abc"}`, "project_id must contain"},
		{"too long", `{"project_id":"` + strings.Repeat("a", 64) + `"}`, "at most 63"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q := queueMemory.NewQueue(1)
			rec := post(t, newTestServer(q, testConfig()).Handler(), tc.body, nil)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Contains(t, body["error"], tc.want)
			require.Zero(t, q.Len())
		})
	}
}

func TestTakeScreenshotQueueFull(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), screenshot.CaptureRequest{ID: "busy"}))

	rec := post(t, newTestServer(q, testConfig()).Handler(), `{"project_id":"abc"}`, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "queue is full")
}

func TestTakeScreenshotQueueClosed(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(1)
	q.Close()

	rec := post(t, newTestServer(q, testConfig()).Handler(), `{"project_id":"abc"}`, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "shutting down")
}

func TestRequestIDHeaderPropagates(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(1)
	rec := post(t, newTestServer(q, testConfig()).Handler(), `{"project_id":"abc"}`, map[string]string{requestIDHeader: "upstream-42"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "upstream-42", rec.Header().Get(requestIDHeader))

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "upstream-42", got.ID)
}

func TestRequestIDGenerationFailure(t *testing.T) {
	t.Parallel()

	server := NewServer(queueMemory.NewQueue(1), &fakeIDGen{err: errors.New("entropy")}, clock.System{}, nil, testConfig(), nil)
	rec := post(t, server.Handler(), `{"project_id":"abc"}`, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAPIKeyGuardsCaptureRoute(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	server := newTestServer(queueMemory.NewQueue(2), cfg)

	rec := post(t, server.Handler(), `{"project_id":"abc"}`, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = post(t, server.Handler(), `{"project_id":"abc"}`, map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	health := httptest.NewRecorder()
	server.Handler().ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, health.Code)
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	notReady := NewServer(queueMemory.NewQueue(1), &fakeIDGen{}, clock.System{},
		func(context.Context) error { return errors.New("artifact directory is not writable") },
		testConfig(), nil)
	rec := httptest.NewRecorder()
	notReady.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "not writable")

	ready := newTestServer(queueMemory.NewQueue(1), testConfig())
	rec = httptest.NewRecorder()
	ready.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer(queueMemory.NewQueue(1), testConfig())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "screenshot_queue_rejections_total")
}

func TestValidRequestID(t *testing.T) {
	t.Parallel()

	require.True(t, validRequestID("0190f4b2-aaaa-7bbb-8ccc-123456789abc"))
	require.False(t, validRequestID(""))
	require.False(t, validRequestID("has space"))
	require.False(t, validRequestID(strings.Repeat("a", 129)))
}

func TestCORSPreflightBypassesAPIKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	cfg.Server.CORSOrigins = []string{"https://dash.example.com"}
	h := newTestServer(queueMemory.NewQueue(1), cfg).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/fly/take-screenshot", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	denied := post(t, h, `{"project_id":"abc"}`, map[string]string{"Origin": "https://dash.example.com"})
	require.Equal(t, http.StatusForbidden, denied.Code)
}
