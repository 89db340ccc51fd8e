package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Clients() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	ts := httptest.NewServer(New(Config{Hub: hub}))
	defer ts.Close()

	a, b := dial(t, ts), dial(t, ts)
	waitClients(t, hub, 2)

	hub.Broadcast(map[string]interface{}{"prediction": "A", "confidence": 0.9})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "A", msg["prediction"])
	}

	// A late client starts from the last event.
	c := dial(t, ts)
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	require.NoError(t, c.ReadJSON(&msg))
	assert.Equal(t, 0.9, msg["confidence"])

	a.Close()
	waitClients(t, hub, 2)
}

type fakeFrames struct {
	mu   sync.Mutex
	jpeg []byte
}

func (f *fakeFrames) Snapshot() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jpeg
}

func TestStream(t *testing.T) {
	frames := &fakeFrames{jpeg: []byte("jpegdata")}
	s := New(Config{Frames: frames})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "--frame"), "an unchanged snapshot is sent once")
	assert.Contains(t, rec.Body.String(), "Content-Length: 8\r\n\r\njpegdata")

	rec = get(t, s, http.MethodPost, "/api/stream")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
