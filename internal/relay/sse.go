package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"fitcoach-gateway/internal/metrics"
)

// EventKind names an SSE event sent to the client.
type EventKind string

const (
	EventStatus   EventKind = "status"
	EventChunk    EventKind = "chunk"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// Terminal reports whether k ends the stream.
func (k EventKind) Terminal() bool {
	return k == EventComplete || k == EventError
}

var (
	ErrStreamingUnsupported = errors.New("relay: response writer cannot flush")
	ErrStreamClosed         = errors.New("relay: stream already ended")
)

// Emitter sends one event to the client.
type Emitter interface {
	Send(kind EventKind, data any) error
}

// SSEWriter frames events as text/event-stream and flushes each one. After
// a terminal event every Send fails with ErrStreamClosed.
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewSSEWriter writes the stream headers and the 200 status.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

func (s *SSEWriter) Send(kind EventKind, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("relay: marshal %s event: %w", kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	if kind.Terminal() {
		s.closed = true
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", kind, payload); err != nil {
		return fmt.Errorf("relay: write %s event: %w", kind, err)
	}
	s.flusher.Flush()
	metrics.StreamEventsTotal.WithLabelValues(string(kind)).Inc()
	return nil
}

// Closed reports whether a terminal event was sent.
func (s *SSEWriter) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
