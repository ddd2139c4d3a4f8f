package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/planforge/planforge/internal/task"
)

// PlanCache memoizes synthesized plans in Redis, keyed by a digest of
// the intent text and the policy fingerprint. Identical requests under
// the same policy reuse the cached plan instead of a new generation.
type PlanCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPlanCache wraps an existing Redis client.
func NewPlanCache(rdb *redis.Client, ttl time.Duration) *PlanCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PlanCache{rdb: rdb, ttl: ttl}
}

// CacheKey derives the cache key from the intent and a policy
// fingerprint. The fingerprint must change whenever defaulting or the
// whitelist changes, otherwise stale plans would be served.
func CacheKey(intent, policyFingerprint string) string {
	sum := sha256.Sum256([]byte(policyFingerprint + "\x00" + intent))
	return "planforge:plan:" + hex.EncodeToString(sum[:])
}

// Get returns the cached plan for the key, if any.
func (c *PlanCache) Get(ctx context.Context, key string) (task.Plan, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return task.Plan{}, false, nil
	}
	if err != nil {
		return task.Plan{}, false, fmt.Errorf("cache get: %w", err)
	}
	var p task.Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		// A corrupt entry is treated as a miss.
		return task.Plan{}, false, nil
	}
	return p, true, nil
}

// Put stores the plan under the key with the configured TTL.
func (c *PlanCache) Put(ctx context.Context, key string, p task.Plan) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
