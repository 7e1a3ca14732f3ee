package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSignatureStore backs the Signature Cache with Redis instead of the
// in-process sharded map, so multiple proxy replicas rotating across the
// same account pool can share the one piece of per-request state that is
// awkward to keep replica-local (see SPEC_FULL.md's Domain Stack section).
// It satisfies the same signatureStore contract as the in-memory map.
type RedisSignatureStore struct {
	client *redis.Client
	prefix string
}

// NewRedisSignatureStore wraps an existing redis.Client. keyPrefix
// namespaces this cache's keys within a shared Redis instance.
func NewRedisSignatureStore(client *redis.Client, keyPrefix string) *RedisSignatureStore {
	return &RedisSignatureStore{client: client, prefix: keyPrefix}
}

// NewSignatureCacheRedis builds a Signature Cache backed by Redis.
func NewSignatureCacheRedis(client *redis.Client, keyPrefix string, ttl time.Duration) *SignatureCache {
	return newSignatureCacheWithStore(NewRedisSignatureStore(client, keyPrefix), ttl, nil)
}

func (r *RedisSignatureStore) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", r.prefix, key)
}

func (r *RedisSignatureStore) get(key string) (signatureEntry, bool) {
	raw, err := r.client.Get(context.Background(), r.redisKey(key)).Result()
	if err != nil {
		return signatureEntry{}, false
	}
	var e signatureEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return signatureEntry{}, false
	}
	return e, true
}

func (r *RedisSignatureStore) set(key string, entry signatureEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	// Let Redis itself expire stale entries eagerly; CleanupExpired still
	// performs the same TTL check for parity with the in-memory store when
	// called directly, but this keeps memory bounded even if it is not.
	r.client.Set(context.Background(), r.redisKey(key), raw, 2*DefaultSignatureTTL)
}

// deleteExpired is a best-effort sweep: Redis drops keys on its own only
// after the fixed 2*DefaultSignatureTTL set in set, so this scans every key
// under the prefix and deletes each entry older than the cache's ttl.
func (r *RedisSignatureStore) deleteExpired(ttl time.Duration, now time.Time) int {
	ctx := context.Background()
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 0).Iterator()
	removed := 0
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		var e signatureEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		if e.expired(ttl, now) {
			r.client.Del(ctx, key)
			removed++
		}
	}
	return removed
}

func (r *RedisSignatureStore) len() int {
	ctx := context.Background()
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		count++
	}
	return count
}
