package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead-intelligence/internal/common/config"
	"lead-intelligence/internal/common/database"
	"lead-intelligence/internal/common/logger"
	"lead-intelligence/internal/models"
)

// ==========================
// Test Helpers
// ==========================

func testOptions() Options {
	return Options{
		L1TTL:           30 * time.Second,
		L2TTL:           5 * time.Minute,
		FreshnessWindow: 5 * time.Minute,
		L1MaxEntries:    100,
	}
}

func newTestCache(t *testing.T, opts Options) (*MultiTierCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := database.NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	c := New(opts, client, logger.NewTestLogger(t))
	t.Cleanup(c.Close)
	return c, mr
}

func testRecord(tenantID, leadID string, computedAt time.Time) *models.IntelligenceRecord {
	return &models.IntelligenceRecord{
		LeadID:             leadID,
		TenantID:           tenantID,
		ComputedAt:         computedAt,
		OverallHealthScore: 0.75,
		ConfidenceScore:    1.0,
		PriorityLevel:      "high",
	}
}

func setAndWaitL2(t *testing.T, c *MultiTierCache, mr *miniredis.Miniredis, key string, rec *models.IntelligenceRecord) {
	t.Helper()
	c.Set(context.Background(), key, rec)
	require.Eventually(t, func() bool {
		return mr.Exists(key)
	}, time.Second, 5*time.Millisecond, "shared-tier write never landed")
}

// ==========================
// Key Scheme
// ==========================

func TestKey(t *testing.T) {
	assert.Equal(t, "intel:tenant-1:lead-9", Key("tenant-1", "lead-9"))
}

// ==========================
// Round-Trip Tests
// ==========================

func TestMultiTierCache_SetThenGet(t *testing.T) {
	c, _ := newTestCache(t, testOptions())
	ctx := context.Background()

	rec := testRecord("t1", "l1", time.Now().UTC())
	c.Set(ctx, Key("t1", "l1"), rec)

	got, ok := c.Get(ctx, Key("t1", "l1"), 0)
	require.True(t, ok)
	assert.Equal(t, "l1", got.LeadID)
	assert.InDelta(t, 0.75, got.OverallHealthScore, 1e-9)
}

func TestMultiTierCache_MissOnUnknownKey(t *testing.T) {
	c, _ := newTestCache(t, testOptions())

	_, ok := c.Get(context.Background(), Key("t1", "nope"), 0)
	assert.False(t, ok)
}

// ==========================
// Tier Behavior Tests
// ==========================

func TestMultiTierCache_L2HitPromotesToL1(t *testing.T) {
	c, mr := newTestCache(t, testOptions())
	ctx := context.Background()

	key := Key("t1", "l1")
	setAndWaitL2(t, c, mr, key, testRecord("t1", "l1", time.Now().UTC()))

	// Expire the L1 entry without touching shared-tier state.
	c.now = func() time.Time { return time.Now().Add(31 * time.Second) }

	got, ok := c.Get(ctx, key, 0)
	require.True(t, ok, "expected shared-tier hit")
	assert.Equal(t, "l1", got.LeadID)

	// Promotion: the next lookup is an L1 hit even with Redis gone.
	mr.Close()
	got, ok = c.Get(ctx, key, 0)
	require.True(t, ok)
	assert.Equal(t, "l1", got.LeadID)
}

func TestMultiTierCache_SurvivesSharedTierOutage(t *testing.T) {
	c, mr := newTestCache(t, testOptions())
	ctx := context.Background()

	mr.Close()

	rec := testRecord("t1", "l1", time.Now().UTC())
	c.Set(ctx, Key("t1", "l1"), rec)

	got, ok := c.Get(ctx, Key("t1", "l1"), 0)
	require.True(t, ok)
	assert.Equal(t, "l1", got.LeadID)
}

// ==========================
// Freshness and TTL Tests
// ==========================

func TestMultiTierCache_StaleRecordNotServed(t *testing.T) {
	c, _ := newTestCache(t, testOptions())
	ctx := context.Background()

	// Entry is inside its L1 TTL but the record itself is too old.
	stale := testRecord("t1", "l1", time.Now().UTC().Add(-10*time.Minute))
	c.Set(ctx, Key("t1", "l1"), stale)

	_, ok := c.Get(ctx, Key("t1", "l1"), 0)
	assert.False(t, ok)
}

func TestMultiTierCache_WiderFreshnessServesStaleRecord(t *testing.T) {
	c, _ := newTestCache(t, testOptions())
	ctx := context.Background()

	stale := testRecord("t1", "l1", time.Now().UTC().Add(-10*time.Minute))
	c.Set(ctx, Key("t1", "l1"), stale)

	// The degraded-mode window accepts what the normal one rejects.
	got, ok := c.Get(ctx, Key("t1", "l1"), 15*time.Minute)
	require.True(t, ok)
	assert.Equal(t, "l1", got.LeadID)
}

func TestMultiTierCache_L1TTLExpiry(t *testing.T) {
	c, mr := newTestCache(t, testOptions())
	mr.Close() // L1-only
	ctx := context.Background()

	base := time.Now().UTC()
	c.now = func() time.Time { return base }
	c.Set(ctx, Key("t1", "l1"), testRecord("t1", "l1", base))

	c.now = func() time.Time { return base.Add(29 * time.Second) }
	_, ok := c.Get(ctx, Key("t1", "l1"), 0)
	assert.True(t, ok)

	c.now = func() time.Time { return base.Add(31 * time.Second) }
	_, ok = c.Get(ctx, Key("t1", "l1"), 0)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry should be dropped")
}

// ==========================
// Invalidation Tests
// ==========================

func TestMultiTierCache_InvalidateRemovesBothTiers(t *testing.T) {
	c, mr := newTestCache(t, testOptions())
	ctx := context.Background()

	key := Key("t1", "l1")
	setAndWaitL2(t, c, mr, key, testRecord("t1", "l1", time.Now().UTC()))

	c.Invalidate(ctx, "l1")

	_, ok := c.Get(ctx, key, 0)
	assert.False(t, ok)
	assert.False(t, mr.Exists(key))
}

func TestMultiTierCache_InvalidateLeavesOtherLeadsAlone(t *testing.T) {
	c, _ := newTestCache(t, testOptions())
	ctx := context.Background()

	c.Set(ctx, Key("t1", "l1"), testRecord("t1", "l1", time.Now().UTC()))
	c.Set(ctx, Key("t1", "l2"), testRecord("t1", "l2", time.Now().UTC()))

	c.Invalidate(ctx, "l1")

	_, ok := c.Get(ctx, Key("t1", "l2"), 0)
	assert.True(t, ok)
}

// ==========================
// Eviction Tests
// ==========================

func TestMultiTierCache_EvictsOldestWhenFull(t *testing.T) {
	opts := testOptions()
	opts.L1MaxEntries = 3
	c, mr := newTestCache(t, opts)
	mr.Close() // L1-only so evicted entries cannot be re-served
	ctx := context.Background()

	base := time.Now().UTC()
	for i, lead := range []string{"l1", "l2", "l3", "l4"} {
		i, lead := i, lead
		c.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		c.Set(ctx, Key("t1", lead), testRecord("t1", lead, base))
	}

	assert.Equal(t, 3, c.Len())

	c.now = func() time.Time { return base.Add(5 * time.Second) }
	_, ok := c.Get(ctx, Key("t1", "l1"), 0)
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Get(ctx, Key("t1", "l4"), 0)
	assert.True(t, ok)
}
