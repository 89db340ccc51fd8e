package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/senas/internal/fixtures"
	"github.com/ayusman/senas/internal/inference"
)

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s := New(Config{Service: inference.New(nil)})

	rec := get(t, s, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "uptime")
	assert.Equal(t, string(inference.StateUninitialized), body["model"])

	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		assert.Equal(t, http.StatusMethodNotAllowed, get(t, s, m, "/api/health").Code, m)
	}
}

func TestRoutes(t *testing.T) {
	bare := New(Config{})
	for _, path := range []string{"/api/nonexistent", "/api/predict", "/api/samples", "/api/runs", "/api/live", "/"} {
		assert.Equal(t, http.StatusNotFound, get(t, bare, http.MethodGet, path).Code, path)
	}

	s := New(Config{Service: inference.New(nil)})
	rec := httptest.NewRecorder()
	body := `{"landmarks": ` + mustJSON(t, fixtures.ThumbsUp()) + `}`
	req := httptest.NewRequest(http.MethodPost, "/predict_hand_pose", strings.NewReader(body))
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no model loaded")

	assert.Equal(t, http.StatusOK, get(t, s, http.MethodGet, "/api/model").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := New(Config{Service: inference.New(nil)})
	get(t, s, http.MethodGet, "/api/health")

	rec := get(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "senas_api_requests_total")
	assert.Contains(t, rec.Body.String(), `path="/api/health"`)
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	index := "<html><body>senas</body></html>"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(index), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "style.css"), []byte("body {}"), 0o644))

	s := New(Config{StaticDir: dir})

	rec := get(t, s, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, index, rec.Body.String())

	rec = get(t, s, http.MethodGet, "/style.css")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body {}", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, s, http.MethodGet, "/missing.html").Code)
}
