// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidgate/vidgate/internal/config"
	"github.com/vidgate/vidgate/internal/extract"
	"github.com/vidgate/vidgate/internal/relay"
	"github.com/vidgate/vidgate/internal/resolver"
	"github.com/vidgate/vidgate/internal/stats"
	"github.com/vidgate/vidgate/internal/store"
	"github.com/vidgate/vidgate/internal/variant"
)

// stubExtractor returns a fixed three-format result and counts invocations.
// cdnBase lets tests point the variant URLs at a local upstream server.
type stubExtractor struct {
	calls   atomic.Int64
	err     error
	cdnBase string
}

func (s *stubExtractor) Resolve(context.Context, string) (extract.Result, error) {
	s.calls.Add(1)
	if s.err != nil {
		return extract.Result{}, s.err
	}
	base := s.cdnBase
	if base == "" {
		base = "https://cdn"
	}
	return extract.Result{
		Title: "Test Clip",
		Descriptors: []extract.RawDescriptor{
			{URL: base + "/360.mp4", Ext: "mp4", Vcodec: "avc1", Acodec: "mp4a", Height: 360, Tbr: 500},
			{URL: base + "/720.mp4", Ext: "mp4", Vcodec: "avc1", Acodec: "mp4a", Height: 720, Tbr: 1500},
			{URL: base + "/1080.mp4", Ext: "mp4", Vcodec: "avc1", Acodec: "mp4a", Height: 1080, Tbr: 4000},
		},
	}, nil
}

type testEnv struct {
	handler   http.Handler
	extractor *stubExtractor
	counters  *stats.Counters
	store     store.Store
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Config{
		ListenAddr:      ":0",
		CacheTTL:        time.Hour,
		ExtractTimeout:  5 * time.Second,
		StoreBackend:    config.StoreMemory,
		AdminSecret:     "hunter2",
		RateLimitPerMin: 0,
		AllowedOrigins:  []string{"*"},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	ex := &stubExtractor{}
	counters := stats.New()
	st := store.NewNoop()
	res := resolver.New(context.Background(), ex, st, counters, cfg.CacheTTL)
	rl := relay.New(counters)
	srv := New(cfg, res, rl, counters, st)

	return &testEnv{handler: srv.Handler(), extractor: ex, counters: counters, store: st}
}

func (e *testEnv) download(t *testing.T, url string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{"url": url})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/download", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestDownloadResolvesVariants(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.download(t, "https://example.com/v/1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	resp := decodeJSON[downloadResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "Test Clip", resp.Title)
	require.Len(t, resp.Videos, 3)
}

func TestDownloadVariantOrdering(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.download(t, "https://example.com/v/1")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[downloadResponse](t, rec)
	qualities := make([]string, len(resp.Videos))
	for i, v := range resp.Videos {
		qualities[i] = v.Quality
	}
	assert.Equal(t, []string{"1080p", "720p", "480p"}, qualities)
	assert.Equal(t, "https://cdn/1080.mp4", resp.Videos[0].URL)
}

// allowUpstream resolves one source whose variants live on base, registering
// its host with the relay gate.
func (e *testEnv) allowUpstream(t *testing.T, base string) {
	t.Helper()
	e.extractor.cdnBase = base
	rec := e.download(t, "https://example.com/upstream-registration")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDownloadBadRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"not json", "not json"},
		{"missing url", `{}`},
		{"empty url", `{"url": ""}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/download", bytes.NewReader([]byte(tc.body)))
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeJSON[errorResponse](t, rec)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
		})
	}
	assert.Equal(t, int64(0), env.extractor.calls.Load())
}

func TestDownloadInvalidURL(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.download(t, "ftp://example.com/file")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeJSON[errorResponse](t, rec)
	assert.Equal(t, "invalid or missing url", resp.Message)
}

func TestDownloadExtractionFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.extractor.err = extract.ErrExtractionFailed

	rec := env.download(t, "https://example.com/v/1")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeJSON[errorResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "could not resolve video", resp.Message)
}

func TestDownloadNoPlayableVariant(t *testing.T) {
	env := newTestEnv(t, nil)
	env.extractor.err = variant.ErrNoPlayableVariant

	rec := env.download(t, "https://example.com/v/1")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxyStreamsWithRange(t *testing.T) {
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		http.ServeContent(w, r, "clip.mp4", time.Time{}, bytes.NewReader(payload))
	}))
	t.Cleanup(upstream.Close)

	env := newTestEnv(t, nil)
	env.allowUpstream(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+upstream.URL+"/clip.mp4", nil)
	req.Header.Set("Range", "bytes=100-199")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, fmt.Sprintf("bytes 100-199/%d", len(payload)), rec.Header().Get("Content-Range"))
	assert.Equal(t, payload[100:200], rec.Body.Bytes())
	assert.Equal(t, `inline; filename="clip.mp4"`, rec.Header().Get("Content-Disposition"))
}

func TestProxyDownloadFlag(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("data"))
	}))
	t.Cleanup(upstream.Close)

	env := newTestEnv(t, nil)
	env.allowUpstream(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+upstream.URL+"/clip.mp4&download=1", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="clip.mp4"`, rec.Header().Get("Content-Disposition"))
}

func TestProxyBadRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, target := range []string{"/proxy", "/proxy?url=", "/proxy?url=ftp://x/y", "/proxy?url=%2Frelative"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestProxyRejectsUnresolvedHost(t *testing.T) {
	var upstreamHits atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		upstreamHits.Add(1)
		_, _ = w.Write([]byte("internal-secret-bytes"))
	}))
	t.Cleanup(upstream.Close)

	env := newTestEnv(t, nil)

	// No resolution handed out this host; the relay must refuse it.
	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+upstream.URL+"/x.mp4", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeJSON[errorResponse](t, rec)
	assert.Equal(t, "unresolved upstream host", resp.Message)
	assert.NotContains(t, rec.Body.String(), "internal-secret-bytes")
	assert.Equal(t, int64(0), upstreamHits.Load(), "upstream must never be contacted")

	// After a resolution on this host, the same request streams.
	env.allowUpstream(t, upstream.URL)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy?url="+upstream.URL+"/x.mp4", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "internal-secret-bytes", rec.Body.String())
}

func TestProxyUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	env := newTestEnv(t, nil)
	env.allowUpstream(t, upstream.URL)
	upstream.Close()

	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+upstream.URL+"/x.mp4", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeJSON[errorResponse](t, rec)
	assert.Equal(t, "upstream unavailable", resp.Message)
}

func TestStatsCountersAcrossRequests(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(bytes.Repeat([]byte("x"), 512))
	}))
	t.Cleanup(upstream.Close)

	env := newTestEnv(t, nil)
	env.extractor.cdnBase = upstream.URL

	// 3 distinct sources (misses) + 2 repeats (hits) = 5 requests, 2 hits.
	for _, u := range []string{
		"https://example.com/v/1",
		"https://example.com/v/2",
		"https://example.com/v/3",
		"https://example.com/v/1",
		"https://example.com/v/2",
	} {
		rec := env.download(t, u)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	// 2 completed relays.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/proxy?url="+upstream.URL+"/clip.mp4", nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	snap := decodeJSON[stats.Snapshot](t, rec)
	assert.Equal(t, int64(5), snap.Requests)
	assert.Equal(t, int64(2), snap.CacheHits)
	assert.Equal(t, int64(2), snap.ItemsServed)
	assert.Equal(t, int64(1024), snap.BytesServed)
	assert.Equal(t, int64(3), env.extractor.calls.Load())
}

func TestAdminReset(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.download(t, "https://example.com/v/1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1), env.counters.Snapshot().Requests)

	body := []byte(`{"password": "hunter2"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/reset", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stats.Snapshot{}, env.counters.Snapshot())

	// Cache was cleared too: the same URL resolves again.
	rec = env.download(t, "https://example.com/v/1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), env.extractor.calls.Load())
}

func TestAdminResetUnauthorized(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.download(t, "https://example.com/v/1")
	require.Equal(t, http.StatusOK, rec.Code)
	before := env.counters.Snapshot()

	for _, body := range []string{`{"password": "wrong"}`, `{}`} {
		req := httptest.NewRequest(http.MethodPost, "/admin/reset", bytes.NewReader([]byte(body)))
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, before, env.counters.Snapshot(), "rejected reset must not mutate state")
	}
}

func TestAdminResetDisabledWithoutSecret(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.AdminSecret = "" })

	req := httptest.NewRequest(http.MethodPost, "/admin/reset", bytes.NewReader([]byte(`{"password": ""}`)))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "fixed-id")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-Id"))
}

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/download", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Range")
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.RateLimitPerMin = 2 })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := env.download(t, "https://example.com/v/1")
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestStatusWriterKeepsFlusher(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}

	var w http.ResponseWriter = sw
	f, ok := w.(http.Flusher)
	require.True(t, ok, "wrapped writer must still expose Flush")
	f.Flush()
	assert.True(t, rec.Flushed)
}

func TestMetricsEndpointExposed(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vidgate_")
}
