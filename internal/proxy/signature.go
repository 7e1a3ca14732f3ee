package proxy

import (
	"time"

	"github.com/evanreyes/geminiproxy/internal/proxy/shardmap"
)

// LatestSignatureKey is the reserved key used to replay the most recent
// assistant-side thought signature during request translation when a
// tool_use block carries no signature of its own.
const LatestSignatureKey = "latest"

// DefaultSignatureTTL is the default expiry window for cached signatures.
const DefaultSignatureTTL = time.Hour

// signatureEntry pairs a thought signature with the time it was stored.
type signatureEntry struct {
	Signature string
	CreatedAt time.Time
}

func (e signatureEntry) expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.CreatedAt) > ttl
}

// signatureStore is the storage contract the Signature Cache delegates to.
// The default implementation is an in-memory sharded map; RedisSignatureStore
// (signature_redis.go) implements the same contract for multi-replica
// deployments.
type signatureStore interface {
	get(key string) (signatureEntry, bool)
	set(key string, entry signatureEntry)
	deleteExpired(ttl time.Duration, now time.Time) int
	len() int
}

// SignatureCache stores thought-signatures keyed by tool-use id or the
// reserved key "latest", evicting entries past a configurable TTL.
//
// A SignatureCache value is a thin handle around shared storage — copying
// it (as the source's Clone impl does for its Arc<DashMap<..>>) is cheap
// and every copy observes the same underlying state.
type SignatureCache struct {
	store signatureStore
	ttl   time.Duration
	now   func() time.Time
}

// NewSignatureCache builds an in-memory signature cache with the given TTL.
// A zero ttl means DefaultSignatureTTL.
func NewSignatureCache(ttl time.Duration) *SignatureCache {
	if ttl <= 0 {
		ttl = DefaultSignatureTTL
	}
	return &SignatureCache{store: newMemorySignatureStore(), ttl: ttl, now: time.Now}
}

// newSignatureCacheWithStore is used by tests and by the Redis-backed
// variant's constructor to inject a store and a deterministic clock.
func newSignatureCacheWithStore(store signatureStore, ttl time.Duration, now func() time.Time) *SignatureCache {
	if ttl <= 0 {
		ttl = DefaultSignatureTTL
	}
	if now == nil {
		now = time.Now
	}
	return &SignatureCache{store: store, ttl: ttl, now: now}
}

// Store saves signature under key, overwriting any previous value.
func (c *SignatureCache) Store(key, signature string) {
	c.store.set(key, signatureEntry{Signature: signature, CreatedAt: c.now()})
}

// StoreLatest is a convenience wrapper for Store(LatestSignatureKey, sig).
func (c *SignatureCache) StoreLatest(signature string) {
	c.Store(LatestSignatureKey, signature)
}

// Get returns the signature for key, unless it is absent or expired. An
// expired entry is reported absent but stays in the store until
// CleanupExpired removes it.
func (c *SignatureCache) Get(key string) (string, bool) {
	entry, ok := c.store.get(key)
	if !ok {
		return "", false
	}
	if entry.expired(c.ttl, c.now()) {
		return "", false
	}
	return entry.Signature, true
}

// GetLatest returns the signature stored under LatestSignatureKey.
func (c *SignatureCache) GetLatest() (string, bool) {
	return c.Get(LatestSignatureKey)
}

// CleanupExpired walks every entry once and evicts those past their TTL,
// returning the count removed. Intended to be called periodically by the
// Token Refresher.
func (c *SignatureCache) CleanupExpired() int {
	return c.store.deleteExpired(c.ttl, c.now())
}

// Len reports the number of live (not necessarily unexpired) entries.
func (c *SignatureCache) Len() int {
	return c.store.len()
}

///////////////////////////////////////////////////////////////////////////
// in-memory store (sharded, per-key-locked — the DashMap analogue)

type memorySignatureStore struct {
	m *shardmap.Map[signatureEntry]
}

func newMemorySignatureStore() *memorySignatureStore {
	return &memorySignatureStore{m: shardmap.New[signatureEntry]()}
}

func (s *memorySignatureStore) get(key string) (signatureEntry, bool) {
	return s.m.Get(key)
}

func (s *memorySignatureStore) set(key string, entry signatureEntry) {
	s.m.Set(key, entry)
}

func (s *memorySignatureStore) deleteExpired(ttl time.Duration, now time.Time) int {
	return s.m.DeleteWhere(func(_ string, e signatureEntry) bool {
		return e.expired(ttl, now)
	})
}

func (s *memorySignatureStore) len() int {
	return s.m.Len()
}
