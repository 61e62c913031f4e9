package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Writer delivers one encoded SSE event to the client. WriteEvent returns
// the number of bytes written; a write error means the client is gone.
type Writer interface {
	WriteEvent(event string, payload any) (int, error)
}

// SSEWriter writes events in the event:/data: wire format over an HTTP
// response, flushing after every event.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter prepares w for event streaming and sends the SSE headers.
// It fails when the underlying writer cannot flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent implements Writer.
func (s *SSEWriter) WriteEvent(event string, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s event: %w", event, err)
	}
	n, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	if err != nil {
		return n, err
	}
	s.flusher.Flush()
	return n, nil
}
