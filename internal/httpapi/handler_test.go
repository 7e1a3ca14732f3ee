package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanreyes/geminiproxy/internal/proxy"
)

// fakeUpstream replays a fixed sequence of chunks for every call, enough to
// drive the handler end to end without a real Gemini endpoint.
type fakeUpstream struct {
	chunks []proxy.GeminiStreamChunk
}

func (f *fakeUpstream) StreamGenerate(ctx context.Context, token *proxy.TokenRecord, model string, body *proxy.GeminiRequest) (<-chan proxy.GeminiStreamChunk, error) {
	ch := make(chan proxy.GeminiStreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T, upstream proxy.UpstreamClient) *Server {
	t.Helper()
	dir := t.TempDir()
	account := map[string]any{
		"id":    "acct-1",
		"email": "[email protected]",
		"token": map[string]any{
			"access_token":     "tok",
			"refresh_token":    "rt",
			"expires_in":       3600,
			"expiry_timestamp": time.Now().Add(time.Hour).Unix(),
			"project_id":       "proj-1",
		},
	}
	raw, err := json.Marshal(account)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acct-1.json"), raw, 0644))

	tokens := proxy.NewTokenManager(
		func(string) (string, int64, error) { return "tok", 3600, nil },
		func(string) (string, error) { return "proj-1", nil },
	)
	_, err = tokens.Load(dir)
	require.NoError(t, err)

	signatures := proxy.NewSignatureCache(time.Hour)
	pipeline := proxy.NewPipeline(tokens, signatures, upstream, nil)
	return New(pipeline, tokens)
}

func TestHealthzReportsOKWithAccounts(t *testing.T) {
	s := newTestServer(t, &fakeUpstream{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleMessagesNonStreaming(t *testing.T) {
	upstream := &fakeUpstream{chunks: []proxy.GeminiStreamChunk{
		{Choices: []proxy.GeminiStreamChoice{{Delta: proxy.GeminiDelta{Content: "hello"}}}},
		{Choices: []proxy.GeminiStreamChoice{{FinishReason: "stop"}}, Usage: &proxy.GeminiStreamUsage{CompletionTokens: 1}},
	}}
	s := newTestServer(t, upstream)

	body, _ := json.Marshal(proxy.Request{
		Model:     "claude-opus-4-1",
		MaxTokens: 100,
		Messages:  []proxy.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var msg proxy.FinalMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, "end_turn", msg.StopReason)
}

func TestHandleMessagesStreaming(t *testing.T) {
	upstream := &fakeUpstream{chunks: []proxy.GeminiStreamChunk{
		{Choices: []proxy.GeminiStreamChoice{{Delta: proxy.GeminiDelta{Content: "hi"}}}},
		{Choices: []proxy.GeminiStreamChoice{{FinishReason: "stop"}}},
	}}
	s := newTestServer(t, upstream)

	body, _ := json.Marshal(proxy.Request{
		Model:     "claude-opus-4-1",
		MaxTokens: 100,
		Stream:    true,
		Messages:  []proxy.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "event: message_start")
	assert.Contains(t, w.Body.String(), "event: message_stop")
}
