// Package geminiclient implements the core's three external HTTP
// collaborators (§6): the OAuth refresh and project-resolver collaborators
// consumed by the Token Manager, and the UpstreamClient that issues the
// translated request to the Gemini-shape streamGenerateContent endpoint.
package geminiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// GoogleTokenURL is Google's OAuth 2.0 token endpoint, used for the refresh
// grant.
const GoogleTokenURL = "https://oauth2.googleapis.com/token"

// tokenRefreshTimeout bounds a single refresh call so a hung upstream can't
// wedge a request holding the per-account lock indefinitely.
const tokenRefreshTimeout = 30 * time.Second

// OAuthRefresher implements the Token Manager's TokenRefreshFunc contract
// against Google's OAuth token endpoint.
type OAuthRefresher struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
	tokenURL     string
}

// NewOAuthRefresher builds a refresher using the given OAuth client
// credentials. clientID/clientSecret are the Gemini Code Assist OAuth app's
// own credentials (not per-account secrets); they are typically supplied via
// GEMINI_OAUTH_CLIENT_ID / GEMINI_OAUTH_CLIENT_SECRET and passed in here
// already resolved.
func NewOAuthRefresher(clientID, clientSecret string, httpClient *http.Client) *OAuthRefresher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: tokenRefreshTimeout}
	}
	return &OAuthRefresher{clientID: clientID, clientSecret: clientSecret, httpClient: httpClient, tokenURL: GoogleTokenURL}
}

// tokenResponse is Google's token-endpoint response shape.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Refresh implements proxy.TokenRefreshFunc: it exchanges a refresh token for
// a new access token. It performs a network call and mutates no local state,
// per §6's collaborator contract.
func (r *OAuthRefresher) Refresh(refreshToken string) (accessToken string, expiresIn int64, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), tokenRefreshTimeout)
	defer cancel()

	data := url.Values{
		"client_id":     {r.clientID},
		"client_secret": {r.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("refreshing access token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("reading refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token refresh failed (%d): %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("parsing refresh response: %w", err)
	}
	return tr.AccessToken, tr.ExpiresIn, nil
}

// OAuthCredentialsFromEnv reads the Gemini Code Assist OAuth app's client id
// and secret from the environment, matching the convention the pack's CLI
// tool uses for the same credentials.
func OAuthCredentialsFromEnv() (clientID, clientSecret string) {
	return os.Getenv("GEMINI_OAUTH_CLIENT_ID"), os.Getenv("GEMINI_OAUTH_CLIENT_SECRET")
}
