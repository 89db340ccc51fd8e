package server

import (
	"fmt"
	"net/http"
	"time"
)

// streamInterval paces the MJPEG stream at about 15 FPS.
const streamInterval = 66 * time.Millisecond

// Snapshotter returns the most recent JPEG encoded frame, or nil before the
// first frame.
type Snapshotter interface {
	Snapshot() []byte
}

// StreamHandler serves the live loop's frames as MJPEG. It never reads the
// camera itself, so the stream and the loop see the same frames.
type StreamHandler struct {
	source Snapshotter
}

// NewStreamHandler creates a new StreamHandler over source.
func NewStreamHandler(source Snapshotter) *StreamHandler {
	return &StreamHandler{source: source}
}

// ServeHTTP streams until the client goes away.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	var sent []byte
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		jpeg := h.source.Snapshot()
		if jpeg == nil || sameFrame(jpeg, sent) {
			continue
		}
		sent = jpeg

		fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpeg))
		if _, err := w.Write(jpeg); err != nil {
			return
		}
		fmt.Fprint(w, "\r\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

// sameFrame reports whether a and b are the same snapshot buffer.
func sameFrame(a, b []byte) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}
