package rbac

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// DecisionCache keeps recent permission decisions: an in-process LRU in front
// of an optional redis tier. Entries expire by TTL; role mutations become
// visible once the TTL lapses.
type DecisionCache struct {
	l1    *lru.Cache[string, cachedDecision]
	redis *redis.Client
	ttl   time.Duration
}

type cachedDecision struct {
	Result  CheckResult `json:"result"`
	Expires time.Time   `json:"expires"`
}

// NewDecisionCache builds a cache with the given L1 size. The redis client
// may be nil, leaving only the in-process tier.
func NewDecisionCache(size int, client *redis.Client, ttl time.Duration) (*DecisionCache, error) {
	l1, err := lru.New[string, cachedDecision](size)
	if err != nil {
		return nil, err
	}
	return &DecisionCache{l1: l1, redis: client, ttl: ttl}, nil
}

// Get returns a cached decision for the request if one is still fresh.
func (c *DecisionCache) Get(ctx context.Context, req CheckRequest) (CheckResult, bool) {
	if c == nil {
		return CheckResult{}, false
	}
	key := cacheKey(req)
	if entry, ok := c.l1.Get(key); ok {
		if time.Now().Before(entry.Expires) {
			return entry.Result, true
		}
		c.l1.Remove(key)
	}
	if c.redis == nil {
		return CheckResult{}, false
	}
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return CheckResult{}, false
	}
	var entry cachedDecision
	if err := json.Unmarshal(raw, &entry); err != nil || !time.Now().Before(entry.Expires) {
		return CheckResult{}, false
	}
	c.l1.Add(key, entry)
	return entry.Result, true
}

// Put stores a decision in both tiers. Redis failures are ignored; the cache
// is an optimisation, never a source of truth.
func (c *DecisionCache) Put(ctx context.Context, req CheckRequest, result CheckResult) {
	if c == nil {
		return
	}
	// Cached replays must not report the original timing.
	result.CheckTimeMS = 0
	entry := cachedDecision{Result: result, Expires: time.Now().Add(c.ttl)}
	key := cacheKey(req)
	c.l1.Add(key, entry)
	if c.redis != nil {
		if raw, err := json.Marshal(entry); err == nil {
			_ = c.redis.Set(ctx, key, raw, c.ttl).Err()
		}
	}
}

// Purge drops every in-process entry, typically after bulk role changes.
func (c *DecisionCache) Purge() {
	if c != nil {
		c.l1.Purge()
	}
}

func cacheKey(req CheckRequest) string {
	return strings.Join([]string{"rbac:decision", req.UserID, req.ResourceType, req.ResourceID, req.Action, req.ContextID}, ":")
}
