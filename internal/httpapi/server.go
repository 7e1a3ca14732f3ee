// Package httpapi is the thin HTTP front end around the proxy core: it
// decodes Anthropic Messages API requests, dispatches them into a
// proxy.Pipeline, and frames the result back as SSE or a single JSON body.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evanreyes/geminiproxy/internal/proxy"
)

// Server holds the router and the collaborators handlers need.
type Server struct {
	router   chi.Router
	pipeline *proxy.Pipeline
	tokens   *proxy.TokenManager
}

// New builds a Server, wires routes and middleware, and returns it ready to
// use as an http.Handler.
func New(pipeline *proxy.Pipeline, tokens *proxy.TokenManager) *Server {
	s := &Server{pipeline: pipeline, tokens: tokens}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/messages", s.handleMessages)

	s.router = r
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
