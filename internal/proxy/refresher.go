package proxy

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evanreyes/geminiproxy/internal/metrics"
)

// ErrAlreadyRunning is returned by StartAutoRefresh if the refresher's
// background sweep is already active.
var ErrAlreadyRunning = errors.New("token refresher: already running")

// DefaultRefreshInterval is how often the Token Refresher wakes up to sweep
// for accounts nearing expiry.
const DefaultRefreshInterval = 5 * time.Minute

// DefaultRefreshAhead is how far ahead of expiry an account is refreshed
// proactively by the background sweep (independent of GetToken's own
// narrower just-in-time skew).
const DefaultRefreshAhead = 600 * time.Second

// TokenRefresher is the background task that periodically refreshes
// accounts nearing expiry and sweeps the Signature Cache for expired
// entries (component I).
type TokenRefresher struct {
	manager      *TokenManager
	signatures   *SignatureCache
	interval     time.Duration
	refreshAhead time.Duration
	now          func() time.Time

	mu      sync.Mutex
	running bool
}

// NewTokenRefresher builds a refresher bound to manager and signatures.
// Zero interval/refreshAhead fall back to the package defaults.
func NewTokenRefresher(manager *TokenManager, signatures *SignatureCache, interval, refreshAhead time.Duration) *TokenRefresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if refreshAhead <= 0 {
		refreshAhead = DefaultRefreshAhead
	}
	return &TokenRefresher{
		manager:      manager,
		signatures:   signatures,
		interval:     interval,
		refreshAhead: refreshAhead,
		now:          time.Now,
	}
}

// StartAutoRefresh launches Run in a background goroutine and returns
// immediately. Calling it again while a sweep is already active returns
// ErrAlreadyRunning instead of starting a second goroutine against the same
// manager. Call the returned cancel func, or StopAutoRefresh, to stop it.
func (r *TokenRefresher) StartAutoRefresh(ctx context.Context) (context.CancelFunc, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	childCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.mu.Unlock()

	go func() {
		if err := r.Run(childCtx); err != nil {
			log.Printf("token refresher: stopped with error: %v", err)
		}
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	return cancel, nil
}

// StopAutoRefresh cancels a running sweep started via StartAutoRefresh. It
// is a safe no-op when no sweep is running.
func (r *TokenRefresher) StopAutoRefresh(cancel context.CancelFunc) {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if !running || cancel == nil {
		return
	}
	cancel()
}

// Run blocks until ctx is cancelled, ticking every r.interval. Cancellation
// is observed between ticks only: a refresh sweep already in flight always
// completes before the loop exits.
func (r *TokenRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *TokenRefresher) tick() {
	var group errgroup.Group

	for _, record := range r.manager.GetAllTokens() {
		record := record
		if r.now().Unix()+int64(r.refreshAhead.Seconds()) < record.ExpiryTimestamp {
			continue
		}
		group.Go(func() error {
			return r.manager.refreshAccount(record.AccountID)
		})
	}

	if err := group.Wait(); err != nil {
		log.Printf("token refresher: sweep encountered an error: %v", err)
	}

	if r.signatures != nil {
		removed := r.signatures.CleanupExpired()
		if removed > 0 {
			log.Printf("token refresher: evicted %d expired signature cache entries", removed)
		}
		metrics.SignatureCacheSize.Set(float64(r.signatures.Len()))
	}
}
