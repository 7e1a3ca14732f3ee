package geminiclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/evanreyes/geminiproxy/internal/proxy"
)

// streamGenerateTimeout bounds how long a single upstream streaming call may
// run before the context forces it closed; well above any realistic
// response time since the caller's own context governs cancellation.
const streamGenerateTimeout = 10 * time.Minute

// chunkBufferSize is the channel capacity between the SSE-reading goroutine
// and the Stream Converter, matching the teacher's unbuffered-to-small-buffer
// producer/consumer pattern for streamed completions.
const chunkBufferSize = 16

// Client implements proxy.UpstreamClient against the Gemini-shape
// streamGenerateContent endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a Client calling baseURL (e.g.
// "https://cloudcode-pa.googleapis.com").
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: streamGenerateTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// requestEnvelope is the outbound wrapper the Code Assist API expects around
// a translated generateContent request: project and model travel alongside
// the request body rather than in the URL.
type requestEnvelope struct {
	Project string               `json:"project"`
	Model   string               `json:"model"`
	Request *proxy.GeminiRequest `json:"request"`
}

// StreamGenerate implements proxy.UpstreamClient. It issues one POST and
// returns a channel fed by a goroutine parsing the SSE body; the channel is
// closed when the body is exhausted or ctx is canceled. A non-2xx response
// is reported as a *proxy.UpstreamError before any channel is returned, so
// the Retry Policy can inspect its status and body.
func (c *Client) StreamGenerate(ctx context.Context, token *proxy.TokenRecord, model string, body *proxy.GeminiRequest) (<-chan proxy.GeminiStreamChunk, error) {
	envelope := requestEnvelope{Project: token.ProjectID, Model: model, Request: body}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshaling upstream request: %w", err)
	}

	url := c.baseURL + "/v1internal:streamGenerateContent?alt=sse"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	if token.SessionID != "" {
		req.Header.Set("X-Goog-Session-Id", token.SessionID)
	}
	for k, v := range codeAssistHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling streamGenerateContent: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &proxy.UpstreamError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	out := make(chan proxy.GeminiStreamChunk, chunkBufferSize)
	go c.pump(ctx, resp, out)
	return out, nil
}

// pump reads the response body's SSE frames and decodes each "data: " line
// into a GeminiStreamChunk, closing out and the body when the stream ends or
// ctx is canceled — whichever comes first, so a disconnected client doesn't
// leave this goroutine blocked on a full channel forever.
func (c *Client) pump(ctx context.Context, resp *http.Response, out chan<- proxy.GeminiStreamChunk) {
	defer resp.Body.Close()
	defer close(out)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk proxy.GeminiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
	}
}
