package webroot

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var distFiles = map[string]string{
	"index.html":          "<!doctype html><div id=\"app\"></div>",
	"app.js":              "console.log('app')",
	"static/css/app.css":  "body{margin:0}",
	"static/js/vendor.js": "var vendor = 1",
	"docs/index.html":     "<h1>docs</h1>",
	"empty/readme.txt":    "no index here",
	".env":                "SECRET=1",
	"data":                "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR",
}

func newDistHandle(t *testing.T, cfg Config) (*Handle, string) {
	t.Helper()
	parent := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secrets.txt"), []byte("top secret"), 0o644))

	dist := filepath.Join(parent, "dist")
	for name, body := range distFiles {
		full := filepath.Join(dist, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
	}

	cfg.Name = "app"
	cfg.Dir = dist
	h, err := Register(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h, parent
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/", nil)
	req.URL.Path = target
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestServeHTTP(t *testing.T) {
	h, _ := newDistHandle(t, Config{})

	tests := []struct {
		name        string
		path        string
		wantStatus  int
		wantBody    string
		wantType    string
		wantNoBytes string
	}{
		{name: "root index", path: "/", wantStatus: http.StatusOK, wantBody: distFiles["index.html"], wantType: "text/html; charset=utf-8"},
		{name: "javascript", path: "/app.js", wantStatus: http.StatusOK, wantBody: distFiles["app.js"], wantType: "application/javascript"},
		{name: "nested css", path: "/static/css/app.css", wantStatus: http.StatusOK, wantBody: distFiles["static/css/app.css"], wantType: "text/css; charset=utf-8"},
		{name: "explicit index", path: "/index.html", wantStatus: http.StatusOK, wantBody: distFiles["index.html"]},
		{name: "nested directory index", path: "/docs/", wantStatus: http.StatusOK, wantBody: distFiles["docs/index.html"]},
		{name: "directory without index", path: "/empty/", wantStatus: http.StatusNotFound},
		{name: "missing file", path: "/missing.js", wantStatus: http.StatusNotFound},
		{name: "missing nested route", path: "/users/42", wantStatus: http.StatusNotFound},
		{name: "traversal", path: "/../secrets.txt", wantStatus: http.StatusForbidden, wantNoBytes: "top secret"},
		{name: "deep traversal", path: "/static/../../../etc/passwd", wantStatus: http.StatusForbidden},
		{name: "backslash traversal", path: "/..\\secrets.txt", wantStatus: http.StatusForbidden, wantNoBytes: "top secret"},
		{name: "dotfile hidden", path: "/.env", wantStatus: http.StatusNotFound, wantNoBytes: "SECRET"},
		{name: "sniffed type", path: "/data", wantStatus: http.StatusOK, wantType: "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h, http.MethodGet, tt.path)

			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rr.Body.String())
			}
			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, rr.Header().Get("Content-Type"))
			}
			if tt.wantNoBytes != "" {
				assert.NotContains(t, rr.Body.String(), tt.wantNoBytes)
			}
		})
	}
}

func TestServeHTTPServesExactBytes(t *testing.T) {
	h, _ := newDistHandle(t, Config{})

	for name, body := range distFiles {
		if name == ".env" {
			continue
		}
		rr := serve(h, http.MethodGet, "/"+name)
		require.Equal(t, http.StatusOK, rr.Code, name)
		assert.Equal(t, body, rr.Body.String(), name)
	}
}

func TestServeHTTPRedirectsDirectories(t *testing.T) {
	h, _ := newDistHandle(t, Config{})

	tests := []struct {
		name         string
		path         string
		query        string
		wantLocation string
	}{
		{name: "mount root", path: "", wantLocation: "app/"},
		{name: "nested directory", path: "/docs", wantLocation: "docs/"},
		{name: "keeps query", path: "/static/css", query: "v=2", wantLocation: "css/?v=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.URL.Path = tt.path
			req.URL.RawQuery = tt.query
			rr := httptest.NewRecorder()

			h.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusMovedPermanently, rr.Code)
			assert.Equal(t, tt.wantLocation, rr.Header().Get("Location"))
		})
	}
}

func TestServeHTTPMethods(t *testing.T) {
	h, _ := newDistHandle(t, Config{})

	rr := serve(h, http.MethodHead, "/app.js")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Body.String())

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rr := serve(h, method, "/app.js")
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code, method)
		assert.Equal(t, "GET, HEAD", rr.Header().Get("Allow"))
	}
}

func TestServeHTTPCacheHeaders(t *testing.T) {
	h, _ := newDistHandle(t, Config{MaxAge: time.Hour})

	rr := serve(h, http.MethodGet, "/app.js")
	assert.Equal(t, "public, max-age=3600", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = serve(h, http.MethodGet, "/")
	assert.Equal(t, "no-cache", rr.Header().Get("Cache-Control"))

	plain, _ := newDistHandle(t, Config{})
	rr = serve(plain, http.MethodGet, "/app.js")
	assert.Empty(t, rr.Header().Get("Cache-Control"))
}

func TestServeHTTPConditionalGet(t *testing.T) {
	h, _ := newDistHandle(t, Config{})

	first := serve(h, http.MethodGet, "/app.js")
	require.Equal(t, http.StatusOK, first.Code)
	lastModified := first.Header().Get("Last-Modified")
	require.NotEmpty(t, lastModified)

	req := httptest.NewRequest(http.MethodGet, "/app.js", nil)
	req.Header.Set("If-Modified-Since", lastModified)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotModified, rr.Code)
}

func TestServeHTTPSPAFallback(t *testing.T) {
	h, _ := newDistHandle(t, Config{SPAFallback: true})

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "client route", path: "/users/42", wantStatus: http.StatusOK, wantBody: distFiles["index.html"]},
		{name: "nested client route", path: "/docs/guide/intro", wantStatus: http.StatusOK, wantBody: distFiles["index.html"]},
		{name: "missing asset stays 404", path: "/missing.js", wantStatus: http.StatusNotFound},
		{name: "real file still served", path: "/app.js", wantStatus: http.StatusOK, wantBody: distFiles["app.js"]},
		{name: "directory without index stays 404", path: "/empty/", wantStatus: http.StatusNotFound},
		{name: "traversal stays forbidden", path: "/../secrets", wantStatus: http.StatusForbidden},
		{name: "dotfile stays hidden", path: "/.env", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h, http.MethodGet, tt.path)
			require.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rr.Body.String())
			}
		})
	}
}

func TestServeHTTPAllowDotfiles(t *testing.T) {
	h, _ := newDistHandle(t, Config{AllowDotfiles: true})

	rr := serve(h, http.MethodGet, "/.env")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, distFiles[".env"], rr.Body.String())
}

func TestServeHTTPSymlinkEscape(t *testing.T) {
	h, parent := newDistHandle(t, Config{})
	link := filepath.Join(h.Dir(), "leak.txt")
	if err := os.Symlink(filepath.Join(parent, "secrets.txt"), link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	rr := serve(h, http.MethodGet, "/leak.txt")
	assert.Contains(t, []int{http.StatusForbidden, http.StatusNotFound}, rr.Code)
	assert.NotContains(t, rr.Body.String(), "top secret")
}

func TestServeHTTPFromFS(t *testing.T) {
	h, err := NewFS(Config{Name: "embedded"}, fstest.MapFS{
		"index.html":    {Data: []byte("landing")},
		"css/style.css": {Data: []byte("h1{}")},
	})
	require.NoError(t, err)

	rr := serve(h, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "landing", rr.Body.String())

	rr = serve(h, http.MethodGet, "/css/style.css")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/css; charset=utf-8", rr.Header().Get("Content-Type"))

	rr = serve(h, http.MethodGet, "/css/")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
