package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-agents/meridian/internal/roles"
)

func TestDecisionCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache, err := NewDecisionCache(16, client, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	req := readRequest("alice")
	_, ok := cache.Get(ctx, req)
	require.False(t, ok)

	cache.Put(ctx, req, CheckResult{Granted: true, Reason: ReasonDirectGrant, CheckTimeMS: 0.42})

	got, ok := cache.Get(ctx, req)
	require.True(t, ok)
	require.True(t, got.Granted)
	require.Equal(t, ReasonDirectGrant, got.Reason)
	// Cached replays never report the original timing.
	require.Zero(t, got.CheckTimeMS)

	// A different request misses.
	_, ok = cache.Get(ctx, readRequest("bob"))
	require.False(t, ok)
}

func TestDecisionCacheRedisTierSurvivesL1Purge(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache, err := NewDecisionCache(16, client, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	req := readRequest("alice")
	cache.Put(ctx, req, CheckResult{Granted: true, Reason: ReasonDirectGrant})
	cache.Purge()

	got, ok := cache.Get(ctx, req)
	require.True(t, ok)
	require.True(t, got.Granted)
}

func TestDecisionCacheTTLExpiry(t *testing.T) {
	cache, err := NewDecisionCache(16, nil, time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	req := readRequest("alice")
	cache.Put(ctx, req, CheckResult{Granted: true})
	time.Sleep(5 * time.Millisecond)

	_, ok := cache.Get(ctx, req)
	require.False(t, ok)
}

func TestCheckerUsesCache(t *testing.T) {
	repo := roles.NewMemoryRepository()
	cache, err := NewDecisionCache(16, nil, time.Minute)
	require.NoError(t, err)
	checker := NewChecker(repo, testLogger(), WithCache(cache))
	ctx := context.Background()

	seedRole(t, repo, roles.Role{
		RoleID:      "r1",
		Name:        "reader",
		Scope:       roles.Scope{Level: roles.ScopeGlobal},
		Permissions: []roles.Permission{allowPerm("p1", "plan", "*", "read")},
	}, "alice")

	first, err := checker.CheckPermission(ctx, readRequest("alice"))
	require.NoError(t, err)
	require.True(t, first.Granted)
	require.False(t, first.CacheHit)

	second, err := checker.CheckPermission(ctx, readRequest("alice"))
	require.NoError(t, err)
	require.True(t, second.Granted)
	require.True(t, second.CacheHit)
}
