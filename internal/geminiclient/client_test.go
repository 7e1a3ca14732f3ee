package geminiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanreyes/geminiproxy/internal/proxy"
)

func TestStreamGenerateParsesSSEChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1internal:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		assert.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))
		assert.Equal(t, "sess-1", r.Header.Get("X-Goog-Session-Id"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"completion_tokens\":3}}\n\n")
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	token := &proxy.TokenRecord{AccessToken: "access-token", ProjectID: "proj-1", SessionID: "sess-1"}

	ch, err := c.StreamGenerate(context.Background(), token, "gemini-2.5-pro", &proxy.GeminiRequest{})
	require.NoError(t, err)

	var chunks []proxy.GeminiStreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}

	require.Len(t, chunks, 2)
	assert.Equal(t, "hi", chunks[0].Choices[0].Delta.Content)
	assert.Equal(t, "stop", chunks[1].Choices[0].FinishReason)
	assert.Equal(t, 3, chunks[1].Usage.OutputTokenCount())
}

func TestStreamGenerateReturnsUpstreamErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"rate limited"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	token := &proxy.TokenRecord{AccessToken: "access-token", ProjectID: "proj-1"}

	_, err := c.StreamGenerate(context.Background(), token, "gemini-2.5-pro", &proxy.GeminiRequest{})
	require.Error(t, err)

	var upstreamErr *proxy.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusTooManyRequests, upstreamErr.StatusCode)
	assert.Contains(t, upstreamErr.Body, "rate limited")
}

func TestFetchProjectIDParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1internal:loadCodeAssist", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"cloudaicompanionProject":"my-project-123"}`)
	}))
	defer srv.Close()

	resolver := NewProjectResolver(srv.URL, srv.Client())
	projectID, err := resolver.FetchProjectID("tok")
	require.NoError(t, err)
	assert.Equal(t, "my-project-123", projectID)
}

func TestFetchProjectIDErrorsOnMissingProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	resolver := NewProjectResolver(srv.URL, srv.Client())
	_, err := resolver.FetchProjectID("tok")
	assert.Error(t, err)
}

func TestOAuthRefresherRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "rt-1", r.Form.Get("refresh_token"))
		fmt.Fprint(w, `{"access_token":"new-access","expires_in":3599}`)
	}))
	defer srv.Close()

	r := NewOAuthRefresher("client-id", "client-secret", srv.Client())
	r.tokenURL = srv.URL

	accessToken, expiresIn, err := r.Refresh("rt-1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", accessToken)
	assert.Equal(t, int64(3599), expiresIn)
}

func TestOAuthRefresherErrorsOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	r := NewOAuthRefresher("client-id", "client-secret", srv.Client())
	r.tokenURL = srv.URL

	_, _, err := r.Refresh("rt-1")
	assert.Error(t, err)
}
