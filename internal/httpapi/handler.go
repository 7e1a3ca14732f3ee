package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/evanreyes/geminiproxy/internal/proxy"
	"github.com/evanreyes/geminiproxy/internal/proxyerr"
	"github.com/evanreyes/geminiproxy/internal/stream"
)

// handleHealthz reports 200 once at least one account is loaded; a proxy
// with zero accounts can't serve anything, so it stays unhealthy rather
// than accepting traffic it would immediately fail.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.tokens.Count() == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "no accounts loaded"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleMessages handles POST /v1/messages, branching into the streaming
// or non-streaming pipeline path per the request's "stream" field.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req proxy.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Stream {
		s.handleMessagesStream(w, r, &req)
		return
	}

	msg, err := s.pipeline.ExecuteSync(r.Context(), &req)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msg)
}

func (s *Server) handleMessagesStream(w http.ResponseWriter, r *http.Request, req *proxy.Request) {
	events, err := s.pipeline.ExecuteStream(r.Context(), req)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	if err := stream.Write(w, events); err != nil {
		log.Printf("stream write error: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writePipelineError maps a proxy error's Kind to an HTTP status. Kinds
// without a case of their own, including the KindParseError returned for a
// request that cannot be translated, fall through to 502.
func writePipelineError(w http.ResponseWriter, err error) {
	var pe *proxyerr.Error
	if !errors.As(err, &pe) {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	switch pe.Kind {
	case proxyerr.KindConfigError:
		writeJSONError(w, http.StatusServiceUnavailable, pe.Error())
	case proxyerr.KindAccountExhausted, proxyerr.KindEmptyCompletion:
		writeJSONError(w, http.StatusTooManyRequests, pe.Error())
	case proxyerr.KindUpstreamPermanent:
		writeJSONError(w, http.StatusBadGateway, pe.Error())
	default:
		writeJSONError(w, http.StatusBadGateway, pe.Error())
	}
}
