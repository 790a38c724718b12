package server

import (
	"fmt"
	"net/http"

	"github.com/routecodex/routecodex/internal/codec"
)

// sseWriter streams codec frames to the client in SSE wire format.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter sets streaming headers and returns a writer, or false when
// the connection cannot stream.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

// WriteFrame writes one frame and flushes. Frames without an event name
// emit only a data line, matching the OpenAI wire.
func (s *sseWriter) WriteFrame(f codec.Frame) error {
	if f.Event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", f.Event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", f.Data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
