// Package stream writes the Anthropic-shaped SSE response back to an HTTP
// client: it consumes the pipeline's channel of named events and frames
// each one per the SSE spec, flushing after every write so the client sees
// tokens as they arrive rather than once the handler returns.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/evanreyes/geminiproxy/internal/proxy"
)

// Write reads events from the channel and writes them to w as
// "event: <name>\ndata: <json>\n\n" frames, matching the Anthropic Messages
// streaming contract (named events, not an OpenAI-style bare "data:" line
// with a "[DONE]" sentinel). Returns an error if w doesn't support
// flushing or a write fails partway through.
func Write(w http.ResponseWriter, events <-chan proxy.StreamEvent) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("marshaling stream event %q: %w", event.Name, err)
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, payload); err != nil {
			return fmt.Errorf("writing stream event %q: %w", event.Name, err)
		}
		flusher.Flush()
	}

	return nil
}
