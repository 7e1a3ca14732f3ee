package proxy

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/evanreyes/geminiproxy/internal/metrics"
	"github.com/evanreyes/geminiproxy/internal/proxy/shardmap"
	"github.com/evanreyes/geminiproxy/internal/proxyerr"
)

// refreshSkewSeconds is how far ahead of actual expiry getToken proactively
// refreshes a token, so a request never races a token that's about to die
// mid-call.
const refreshSkewSeconds = 300

// TokenRecord is one OAuth-authenticated account's state.
type TokenRecord struct {
	AccountID       string `json:"accountId"`
	Email           string `json:"email"`
	AccessToken     string `json:"accessToken"`
	RefreshToken    string `json:"refreshToken"`
	ExpiresIn       int64  `json:"expiresIn"`
	ExpiryTimestamp int64  `json:"expiryTimestamp"` // unix seconds
	ProjectID       string `json:"projectId,omitempty"`
	SessionID       string `json:"sessionId"`
	AccountPath     string `json:"-"`
}

// accountFile is the on-disk shape of one account file in the account
// store: {id, email, token:{...}}.
type accountFile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Token struct {
		AccessToken     string `json:"access_token"`
		RefreshToken    string `json:"refresh_token"`
		ExpiresIn       int64  `json:"expires_in"`
		ExpiryTimestamp int64  `json:"expiry_timestamp"`
		ProjectID       string `json:"project_id,omitempty"`
		SessionID       string `json:"session_id,omitempty"`
	} `json:"token"`
}

// TokenRefreshFunc calls the OAuth refresh collaborator: given a refresh
// token, returns a new access token and its lifetime in seconds.
type TokenRefreshFunc func(refreshToken string) (accessToken string, expiresIn int64, err error)

// ProjectResolveFunc calls the project-ID resolver collaborator.
type ProjectResolveFunc func(accessToken string) (projectID string, err error)

// TokenManager loads, rotates, and refreshes per-account tokens (component
// H). It is safe for concurrent use by many request handlers and the Token
// Refresher background task.
type TokenManager struct {
	accounts *shardmap.Map[*TokenRecord]
	order    []string // accountId in load order, for round-robin rotation
	counter  uint64

	refresh        TokenRefreshFunc
	resolveProject ProjectResolveFunc
	now            func() time.Time
}

// NewTokenManager builds a Token Manager using the given OAuth refresh and
// project-resolver collaborators.
func NewTokenManager(refresh TokenRefreshFunc, resolveProject ProjectResolveFunc) *TokenManager {
	return &TokenManager{
		accounts:       shardmap.New[*TokenRecord](),
		refresh:        refresh,
		resolveProject: resolveProject,
		now:            time.Now,
	}
}

// Load enumerates account files in dir, parsing each; malformed files are
// skipped. Returns the count of valid accounts loaded, or a ConfigError if
// none were.
func (m *TokenManager) Load(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, proxyerr.Wrap(proxyerr.KindConfigError, "read account store directory", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		record, err := loadAccountFile(path)
		if err != nil {
			continue
		}
		m.accounts.Set(record.AccountID, record)
		m.order = append(m.order, record.AccountID)
		loaded++
	}

	if loaded == 0 {
		return 0, proxyerr.New(proxyerr.KindConfigError, "no accounts loaded from "+dir)
	}
	return loaded, nil
}

func loadAccountFile(path string) (*TokenRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f accountFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if f.ID == "" || f.Token.RefreshToken == "" {
		return nil, fmt.Errorf("account file %s missing id or refresh_token", path)
	}
	sessionID := f.Token.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &TokenRecord{
		AccountID:       f.ID,
		Email:           f.Email,
		AccessToken:     f.Token.AccessToken,
		RefreshToken:    f.Token.RefreshToken,
		ExpiresIn:       f.Token.ExpiresIn,
		ExpiryTimestamp: f.Token.ExpiryTimestamp,
		ProjectID:       f.Token.ProjectID,
		SessionID:       sessionID,
		AccountPath:     path,
	}, nil
}

// Count reports the number of loaded accounts.
func (m *TokenManager) Count() int {
	return len(m.order)
}

// GetToken returns the next account in round-robin rotation, proactively
// refreshing it if it's within refreshSkewSeconds of expiry, and resolving
// its project id if still unset.
func (m *TokenManager) GetToken() (*TokenRecord, error) {
	if len(m.order) == 0 {
		return nil, proxyerr.New(proxyerr.KindConfigError, "no accounts available")
	}

	idx := atomic.AddUint64(&m.counter, 1) - 1
	accountID := m.order[idx%uint64(len(m.order))]
	metrics.AccountRotations.Inc()

	record, ok := m.accounts.Get(accountID)
	if !ok {
		return nil, proxyerr.New(proxyerr.KindConfigError, "account vanished: "+accountID)
	}

	if m.now().Unix()+refreshSkewSeconds >= record.ExpiryTimestamp {
		if err := m.refreshAccount(accountID); err != nil {
			// Keep serving the stale access token rather than failing the
			// request locally; the upstream call will 401 and the Retry
			// Policy takes it from there.
			log.Printf("proactive refresh failed for account %s, serving stale token: %v", accountID, err)
		} else {
			record, _ = m.accounts.Get(accountID)
		}
	}

	if record.ProjectID == "" {
		m.resolveAccountProject(accountID, record)
		record, _ = m.accounts.Get(accountID)
	}

	return record, nil
}

func (m *TokenManager) refreshAccount(accountID string) error {
	var refreshErr error
	m.accounts.Update(accountID, func(current *TokenRecord, ok bool) *TokenRecord {
		if !ok {
			return current
		}
		accessToken, expiresIn, err := m.refresh(current.RefreshToken)
		if err != nil {
			refreshErr = err
			return current
		}
		current.AccessToken = accessToken
		current.ExpiresIn = expiresIn
		current.ExpiryTimestamp = m.now().Unix() + expiresIn
		return current
	})
	if refreshErr != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return proxyerr.Wrap(proxyerr.KindUpstreamPermanent, "refresh token for account "+accountID, refreshErr)
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	if record, ok := m.accounts.Get(accountID); ok {
		m.persist(record)
	}
	return nil
}

// resolveAccountProject calls the project resolver and stores the result
// (or a synthetic placeholder on failure) so it is never retried every call.
func (m *TokenManager) resolveAccountProject(accountID string, record *TokenRecord) {
	projectID, err := m.resolveProject(record.AccessToken)
	if err != nil || projectID == "" {
		projectID = syntheticProjectID(accountID)
	}
	m.accounts.Update(accountID, func(current *TokenRecord, ok bool) *TokenRecord {
		if !ok {
			return current
		}
		current.ProjectID = projectID
		return current
	})
	if updated, ok := m.accounts.Get(accountID); ok {
		m.persist(updated)
	}
}

func syntheticProjectID(accountID string) string {
	return "synthetic-" + accountID
}

// UpdateToken applies fn to the record for accountID under the map's
// per-key lock, then best-effort persists it to disk.
func (m *TokenManager) UpdateToken(accountID string, fn func(*TokenRecord)) {
	m.accounts.Update(accountID, func(current *TokenRecord, ok bool) *TokenRecord {
		if !ok {
			return current
		}
		fn(current)
		return current
	})
	if record, ok := m.accounts.Get(accountID); ok {
		m.persist(record)
	}
}

// GetAllTokens returns a snapshot of every loaded account, for periodic
// inspection by the Token Refresher.
func (m *TokenManager) GetAllTokens() []*TokenRecord {
	out := make([]*TokenRecord, 0, len(m.order))
	m.accounts.Each(func(_ string, v *TokenRecord) {
		out = append(out, v)
	})
	return out
}

// persist writes the whole account file back with the updated token object.
// A write failure is swallowed: it does not invalidate the in-memory update.
func (m *TokenManager) persist(record *TokenRecord) {
	if record.AccountPath == "" {
		return
	}
	var f accountFile
	f.ID = record.AccountID
	f.Email = record.Email
	f.Token.AccessToken = record.AccessToken
	f.Token.RefreshToken = record.RefreshToken
	f.Token.ExpiresIn = record.ExpiresIn
	f.Token.ExpiryTimestamp = record.ExpiryTimestamp
	f.Token.ProjectID = record.ProjectID
	f.Token.SessionID = record.SessionID

	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(record.AccountPath, raw, 0o600)
}
