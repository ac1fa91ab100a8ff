package server

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreschagin/plugin-webroot/internal/registry"
	"github.com/dreschagin/plugin-webroot/internal/webroot"
	"github.com/dreschagin/plugin-webroot/pkg/config"
)

func TestEmbeddedStaticFiles(t *testing.T) {
	for _, name := range []string{"static/index.html", "static/css/style.css"} {
		if _, err := fs.ReadFile(staticFiles, name); err != nil {
			t.Fatalf("expected embedded asset %s, got error: %v", name, err)
		}
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:            "0",
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			IdleTimeout:     time.Second,
			ShutdownTimeout: time.Second,
		},
		Metrics:     config.MetricsConfig{Enabled: true},
		Compression: config.CompressionConfig{Enabled: true},
		RateLimit:   config.RateLimitConfig{RPS: 100, Burst: 100},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *registry.Registry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(logger)
	t.Cleanup(func() { _ = reg.Close() })

	h, err := webroot.NewFS(webroot.Config{Name: "phylo"}, fstest.MapFS{
		"index.html": {Data: []byte("<h1>phylo</h1>")},
		"app.js":     {Data: []byte("console.log('phylo')")},
	})
	require.NoError(t, err)
	require.NoError(t, reg.Register(h))

	srv, err := New(cfg, reg, logger)
	require.NoError(t, err)
	return srv, reg
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestHandler(t *testing.T) {
	srv, reg := newTestServer(t, testConfig())
	assert.False(t, srv.Ready())

	handler := srv.Handler()
	assert.True(t, srv.Ready())
	assert.True(t, reg.Frozen())

	tests := []struct {
		target     string
		wantStatus int
		wantBody   string
	}{
		{target: "/healthz", wantStatus: http.StatusOK, wantBody: "ok"},
		{target: "/readyz", wantStatus: http.StatusOK, wantBody: "ready"},
		{target: "/phylo/", wantStatus: http.StatusOK, wantBody: "<h1>phylo</h1>"},
		{target: "/phylo/app.js", wantStatus: http.StatusOK, wantBody: "console.log('phylo')"},
		{target: "/phylo/missing.js", wantStatus: http.StatusNotFound},
		{target: "/phylo/..%5csecret.txt", wantStatus: http.StatusForbidden},
		{target: "/phylo", wantStatus: http.StatusMovedPermanently},
		{target: "/css/style.css", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rr := get(handler, tt.target)
			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rr.Body.String())
			}
			assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
		})
	}

	landing := get(handler, "/")
	assert.Equal(t, http.StatusOK, landing.Code)
	assert.Contains(t, landing.Body.String(), "Plugin webroots")
}

func TestHandlerMetrics(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	handler := srv.Handler()

	get(handler, "/phylo/app.js")
	get(handler, "/phylo/missing.js")

	rr := get(handler, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `webroot_requests_total{method="GET",mount="phylo",status="200"} 1`)
	assert.Contains(t, body, `webroot_requests_total{method="GET",mount="phylo",status="404"} 1`)
	assert.Contains(t, body, "webroot_mounts 1")
}

func TestHandlerMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	srv, _ := newTestServer(t, cfg)

	rr := get(srv.Handler(), "/metrics")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}
	srv, _ := newTestServer(t, cfg)
	handler := srv.Handler()

	assert.Equal(t, http.StatusOK, get(handler, "/phylo/app.js").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(handler, "/phylo/app.js").Code)
	assert.Equal(t, http.StatusOK, get(handler, "/healthz").Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, srv.Ready, time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + ln.Addr().String() + "/phylo/app.js")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "console.log('phylo')", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.False(t, srv.Ready())
}
