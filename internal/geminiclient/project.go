package geminiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// codeAssistHeaders are required for the upstream to route the request the
// same way the first-party client identifies itself.
var codeAssistHeaders = map[string]string{
	"User-Agent":        "google-api-nodejs-client/9.15.1",
	"X-Goog-Api-Client": "gl-node/22.17.0",
	"Client-Metadata":   "ideType=IDE_UNSPECIFIED,platform=PLATFORM_UNSPECIFIED,pluginType=GEMINI",
}

// projectResolveTimeout bounds the loadCodeAssist call.
const projectResolveTimeout = 15 * time.Second

// ProjectResolver implements the Token Manager's ProjectResolveFunc contract
// against the Code Assist API's loadCodeAssist endpoint.
type ProjectResolver struct {
	baseURL    string
	httpClient *http.Client
}

// NewProjectResolver builds a resolver against baseURL (the Gemini-shape
// upstream's base, e.g. "https://cloudcode-pa.googleapis.com").
func NewProjectResolver(baseURL string, httpClient *http.Client) *ProjectResolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: projectResolveTimeout}
	}
	return &ProjectResolver{baseURL: baseURL, httpClient: httpClient}
}

// loadCodeAssistResponse is the subset of loadCodeAssist's response this
// core needs.
type loadCodeAssistResponse struct {
	CloudaicompanionProject string `json:"cloudaicompanionProject"`
}

// FetchProjectID implements proxy.ProjectResolveFunc: it resolves the Code
// Assist project id bound to accessToken. May fail — the Token Manager
// substitutes a synthetic id on error, per §6.
func (p *ProjectResolver) FetchProjectID(accessToken string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), projectResolveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1internal:loadCodeAssist", bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", fmt.Errorf("building loadCodeAssist request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range codeAssistHeaders {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling loadCodeAssist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("loadCodeAssist failed (%d)", resp.StatusCode)
	}

	var result loadCodeAssistResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("parsing loadCodeAssist response: %w", err)
	}
	if result.CloudaicompanionProject == "" {
		return "", fmt.Errorf("loadCodeAssist returned no project id")
	}
	return result.CloudaicompanionProject, nil
}
