// Package dedup decides whether a usage record has already been counted.
//
// The same API response is often written to several log files (resumed and
// forked conversations), so records are keyed by message id and request id
// and remembered for a sliding window of record time.
package dedup

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sdpower/claude-usage/internal/logging"
	"github.com/sdpower/claude-usage/internal/types"
)

const (
	DefaultWindow           = 24 * time.Hour
	DefaultCleanupThreshold = 10000
)

type Options struct {
	Window           time.Duration
	CleanupThreshold int
	// Disabled admits every record without tracking it.
	Disabled bool
	Logger   *zap.SugaredLogger
}

// Stats counts cache decisions since construction.
type Stats struct {
	Admitted   int
	Duplicates int
	Untracked  int
	Evicted    int
	Sweeps     int
}

// Cache is a time-windowed membership store. seen and stamps always hold the
// same key set.
type Cache struct {
	mu               sync.Mutex
	seen             map[types.DedupKey]struct{}
	stamps           map[types.DedupKey]time.Time
	window           time.Duration
	cleanupThreshold int
	disabled         bool
	stats            Stats
	log              *zap.SugaredLogger
}

func New(opts Options) *Cache {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.CleanupThreshold <= 0 {
		opts.CleanupThreshold = DefaultCleanupThreshold
	}
	if opts.Logger == nil {
		opts.Logger = logging.Named("dedup")
	}
	return &Cache{
		seen:             make(map[types.DedupKey]struct{}),
		stamps:           make(map[types.DedupKey]time.Time),
		window:           opts.Window,
		cleanupThreshold: opts.CleanupThreshold,
		disabled:         opts.Disabled,
		log:              opts.Logger,
	}
}

// Admit derives the key and timestamp from rec and calls ShouldAdmit.
func (c *Cache) Admit(rec types.UsageRecord) bool {
	key, ok := rec.DedupKey()
	at, _ := rec.Time()
	return c.ShouldAdmit(key, ok, at)
}

// ShouldAdmit reports whether a record with the given key and time is new.
// A zero at means the record timestamp could not be parsed.
//
// Two records with the same key are duplicates when their times differ by
// less than the window. A record whose key was seen without a usable
// timestamp, or which itself has none, is treated as a duplicate.
func (c *Cache) ShouldAdmit(key types.DedupKey, hasKey bool, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disabled || !hasKey {
		c.stats.Untracked++
		return true
	}

	if _, exists := c.seen[key]; exists {
		stored := c.stamps[key]
		if stored.IsZero() || at.IsZero() {
			c.stats.Duplicates++
			return false
		}
		if absDuration(at.Sub(stored)) < c.window {
			c.stats.Duplicates++
			return false
		}
	}

	c.seen[key] = struct{}{}
	c.stamps[key] = at
	c.stats.Admitted++

	if len(c.stamps) > c.cleanupThreshold && !at.IsZero() {
		c.evictBefore(at.Add(-2 * c.window))
	}
	return true
}

// evictBefore drops every key last seen before cutoff. Keys stored without a
// timestamp are dropped too. Caller must hold mu.
func (c *Cache) evictBefore(cutoff time.Time) {
	removed := 0
	for key, stamp := range c.stamps {
		if stamp.Before(cutoff) {
			delete(c.stamps, key)
			delete(c.seen, key)
			removed++
		}
	}
	c.stats.Evicted += removed
	c.stats.Sweeps++
	c.log.Debugw("evicted stale dedup keys", "removed", removed, "remaining", len(c.stamps), "cutoff", cutoff)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stamps)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Window returns the configured duplicate window.
func (c *Cache) Window() time.Duration {
	return c.window
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
