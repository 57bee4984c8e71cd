package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdpower/claude-usage/internal/types"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func record(msgID, reqID string, at time.Time) types.UsageRecord {
	return types.UsageRecord{
		Timestamp: at.Format(time.RFC3339Nano),
		Message: types.Message{
			ID:    msgID,
			Model: "claude-sonnet-4-20250514",
			Usage: &types.TokenUsage{InputTokens: 10, OutputTokens: 5},
		},
		RequestID: reqID,
	}
}

func assertLockstep(t *testing.T, c *Cache) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Equal(t, len(c.seen), len(c.stamps))
	for key := range c.seen {
		_, ok := c.stamps[key]
		require.True(t, ok, "key %s missing from timestamp map", key)
	}
}

func TestReplayWithinWindowAdmitsOnce(t *testing.T) {
	c := New(Options{})

	admitted := 0
	for i := 0; i < 5; i++ {
		if c.Admit(record("m1", "r1", base.Add(time.Duration(i)*time.Minute))) {
			admitted++
		}
	}

	assert.Equal(t, 1, admitted)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, Stats{Admitted: 1, Duplicates: 4}, c.Stats())
	assertLockstep(t, c)
}

func TestRecordsWithoutKeyAlwaysAdmitted(t *testing.T) {
	c := New(Options{})

	for _, rec := range []types.UsageRecord{
		record("", "r1", base),
		record("", "r1", base),
		record("m1", "", base),
		record("m1", "", base),
		record("", "", base),
	} {
		assert.True(t, c.Admit(rec))
	}

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 5, c.Stats().Untracked)
}

func TestWindowBoundary(t *testing.T) {
	tests := []struct {
		name  string
		gap   time.Duration
		admit bool
	}{
		{"exactly at window", 24 * time.Hour, true},
		{"one microsecond inside", 24*time.Hour - time.Microsecond, false},
		{"past window", 25 * time.Hour, true},
		{"earlier record inside window", -time.Hour, false},
		{"earlier record at window", -24 * time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Options{})
			require.True(t, c.ShouldAdmit("m1:r1", true, base))
			assert.Equal(t, tt.admit, c.ShouldAdmit("m1:r1", true, base.Add(tt.gap)))
			assertLockstep(t, c)
		})
	}
}

func TestAdmissionAfterWindowRefreshesTimestamp(t *testing.T) {
	c := New(Options{Window: time.Hour})

	require.True(t, c.ShouldAdmit("k", true, base))
	require.True(t, c.ShouldAdmit("k", true, base.Add(2*time.Hour)))
	// Within an hour of the refreshed time, not of the original.
	assert.False(t, c.ShouldAdmit("k", true, base.Add(150*time.Minute)))
}

func TestMissingTimestampsRejectRepeats(t *testing.T) {
	c := New(Options{})

	// First sighting without a timestamp is admitted but stored as unknown.
	require.True(t, c.ShouldAdmit("k", true, time.Time{}))
	assert.False(t, c.ShouldAdmit("k", true, base.Add(72*time.Hour)))

	require.True(t, c.ShouldAdmit("j", true, base))
	assert.False(t, c.ShouldAdmit("j", true, time.Time{}))
	assertLockstep(t, c)
}

func TestEvictionReintroducesOldKeys(t *testing.T) {
	c := New(Options{Window: time.Hour, CleanupThreshold: 5})

	require.True(t, c.ShouldAdmit("old", true, base))

	// Fill past the threshold with records far enough ahead that "old"
	// falls before cutoff = at - 2h.
	later := base.Add(3 * time.Hour)
	for i := 0; i < 5; i++ {
		require.True(t, c.ShouldAdmit(types.DedupKey(fmt.Sprintf("k%d", i)), true, later))
	}

	stats := c.Stats()
	assert.Equal(t, 1, stats.Sweeps)
	assert.Equal(t, 1, stats.Evicted)
	assert.Equal(t, 5, c.Len())
	assertLockstep(t, c)

	// Within the original window, but the key was forgotten.
	assert.True(t, c.ShouldAdmit("old", true, base.Add(time.Minute)))
}

func TestSweepKeepsRecentKeys(t *testing.T) {
	c := New(Options{Window: time.Hour, CleanupThreshold: 2})

	for i := 0; i < 3; i++ {
		require.True(t, c.ShouldAdmit(types.DedupKey(fmt.Sprintf("k%d", i)), true, base.Add(time.Duration(i)*time.Minute)))
	}

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 0, c.Stats().Evicted)
	assert.False(t, c.ShouldAdmit("k0", true, base))
}

func TestDisabledCacheAdmitsEverything(t *testing.T) {
	c := New(Options{Disabled: true})

	for i := 0; i < 3; i++ {
		assert.True(t, c.Admit(record("m1", "r1", base)))
	}
	assert.Equal(t, 0, c.Len())
}
