package stream

import "net/http"

// nonFlushingWriter is an http.ResponseWriter that deliberately does not
// implement http.Flusher, so tests can exercise Write's flush-support check.
type nonFlushingWriter struct{}

func (nonFlushingWriter) Header() http.Header        { return http.Header{} }
func (nonFlushingWriter) Write(b []byte) (int, error) { return len(b), nil }
func (nonFlushingWriter) WriteHeader(int)            {}
