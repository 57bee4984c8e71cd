package display

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdpower/claude-usage/internal/live"
	"github.com/sdpower/claude-usage/internal/types"
)

var t0 = time.Date(2026, 10, 18, 14, 30, 0, 0, time.UTC)

func makeUpdate(sessionID, project string, tokens int, cost float64, at time.Time) live.Update {
	usage := &types.TokenUsage{InputTokens: tokens}
	s := types.NewSessionData(sessionID, project)
	s.Tokens.Add(*usage)
	s.TotalCost = cost
	return live.Update{
		Record: types.UsageRecord{
			Timestamp: at.Format(time.RFC3339),
			Message:   types.Message{ID: sessionID, Model: "claude-sonnet-4-20250514", Usage: usage},
			CostUSD:   &cost,
		},
		Session:    s,
		Cost:       cost,
		ReceivedAt: at,
	}
}

func TestRingBufferKeepsNewestHundred(t *testing.T) {
	d := NewLiveDisplay(live.BaselineSummary{})
	for i := 0; i < 150; i++ {
		d.Update(makeUpdate(fmt.Sprintf("session_%d", i), "project", 100, 0.01, t0))
	}

	require.Equal(t, MaxRecentEntries, d.Len())
	all := d.VisibleEntries(MaxRecentEntries)
	assert.Equal(t, "session_149", all[0].SessionID)
	assert.Equal(t, "session_50", all[MaxRecentEntries-1].SessionID)
}

func TestScrollBounds(t *testing.T) {
	d := NewLiveDisplay(live.BaselineSummary{})
	for i := 0; i < 10; i++ {
		d.Update(makeUpdate(fmt.Sprintf("session_%d", i), "project", 100, 0.01, t0))
	}

	d.ScrollUp()
	assert.Zero(t, d.ScrollOffset(), "offset floors at zero")

	for i := 0; i < 20; i++ {
		d.ScrollDown(4)
	}
	assert.Equal(t, 6, d.ScrollOffset(), "offset caps at len-visible")

	visible := d.VisibleEntries(4)
	require.Len(t, visible, 4)
	assert.Equal(t, "session_3", visible[0].SessionID)
	assert.Equal(t, "session_0", visible[3].SessionID)

	d.ScrollUp()
	assert.Equal(t, 5, d.ScrollOffset())

	d.Update(makeUpdate("session_10", "project", 1, 0, t0))
	assert.Zero(t, d.ScrollOffset(), "new data snaps back to the newest entry")
}

func TestScrollDownWhenEverythingFits(t *testing.T) {
	d := NewLiveDisplay(live.BaselineSummary{})
	d.Update(makeUpdate("s", "p", 1, 0, t0))
	d.ScrollDown(10)
	assert.Zero(t, d.ScrollOffset())
	assert.False(t, d.CanScroll(10))
	assert.Empty(t, d.ScrollIndicator(10))
	assert.Nil(t, NewLiveDisplay(live.BaselineSummary{}).VisibleEntries(5))
}

func TestScrollIndicator(t *testing.T) {
	d := NewLiveDisplay(live.BaselineSummary{})
	for i := 0; i < 25; i++ {
		d.Update(makeUpdate(fmt.Sprintf("s%d", i), "p", 1, 0, t0))
	}
	assert.Equal(t, " (1/3)", d.ScrollIndicator(10))
	for i := 0; i < 10; i++ {
		d.ScrollDown(10)
	}
	assert.Equal(t, " (2/3)", d.ScrollIndicator(10))
}

func TestRunningTotalsStartFromBaseline(t *testing.T) {
	d := NewLiveDisplay(live.BaselineSummary{TotalCost: 10, TotalTokens: 5000, SessionsToday: 2})

	d.Update(makeUpdate("session1", "project", 1000, 0.5, t0))
	d.Update(makeUpdate("session1", "project", 500, 0.25, t0.Add(time.Second)))
	d.Update(makeUpdate("session2", "project", 0, 0, t0.Add(2*time.Second)))

	assert.InDelta(t, 10.75, d.Totals.TotalCost, 1e-9)
	assert.Equal(t, int64(6500), d.Totals.TotalTokens)
	assert.Equal(t, 4, d.Totals.TotalSessions)
	assert.Equal(t, "Total: $10.75 | Tokens: 0.0M | Sessions: 4", d.FormatTotals())
}

func TestActivityEntryFields(t *testing.T) {
	d := NewLiveDisplay(live.BaselineSummary{})
	d.Update(makeUpdate("abc", "projects/api", 1234, 0.123, t0))

	a := d.VisibleEntries(1)[0]
	assert.Equal(t, "14:30:00", a.Time)
	assert.Equal(t, "api", a.Project)
	assert.Equal(t, 1234, a.Tokens)
	assert.InDelta(t, 0.123, a.Cost, 1e-9)
	assert.Equal(t, "abc", a.SessionID)
	assert.Equal(t, "claude-sonnet-4-20250514", a.Model)
}

func TestCurrentSessionFormatting(t *testing.T) {
	d := NewLiveDisplay(live.BaselineSummary{})
	assert.Empty(t, d.FormatCurrentSession())
	_, ok := d.CurrentSessionDuration()
	assert.False(t, ok)

	d.Update(makeUpdate("abc", "projects/api", 12000, 1.5, t0))
	d.Update(makeUpdate("abc", "projects/api", 24000, 3, t0.Add(90*time.Second)))

	dur, ok := d.CurrentSessionDuration()
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, dur)
	assert.Equal(t, "Project: api | Duration: 1m 30s | Cost: $3.00 | Tokens: In 24K / Out 0K", d.FormatCurrentSession())
}

func TestCleanupOldSessions(t *testing.T) {
	d := NewLiveDisplay(live.BaselineSummary{})
	d.Update(makeUpdate("old", "p", 1, 0, t0))
	d.Update(makeUpdate("new", "p", 1, 0, t0.Add(50*time.Minute)))

	d.CleanupOldSessions(t0.Add(70 * time.Minute))

	assert.NotContains(t, d.sessionStarts, "old")
	assert.Contains(t, d.sessionStarts, "new")
	assert.Equal(t, 2, d.Len(), "activity entries are untouched")
}
