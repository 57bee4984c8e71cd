// Package display keeps the live dashboard's state and renders it.
package display

import (
	"fmt"
	"path"
	"time"

	"github.com/sdpower/claude-usage/internal/live"
	"github.com/sdpower/claude-usage/internal/types"
)

const (
	// MaxRecentEntries caps the activity ring buffer.
	MaxRecentEntries = 100

	sessionStartTTL = time.Hour
)

// RunningTotals starts at the baseline and grows with every update.
type RunningTotals struct {
	TotalCost     float64
	TotalTokens   int64
	TotalSessions int

	seen map[string]struct{}
}

func NewRunningTotals(b live.BaselineSummary) RunningTotals {
	return RunningTotals{
		TotalCost:     b.TotalCost,
		TotalTokens:   b.TotalTokens,
		TotalSessions: b.SessionsToday,
		seen:          make(map[string]struct{}),
	}
}

func (t *RunningTotals) add(u live.Update) {
	t.TotalCost += u.Cost
	t.TotalTokens += int64(u.Tokens())
	if u.Session == nil {
		return
	}
	if _, ok := t.seen[u.Session.SessionID]; !ok {
		t.seen[u.Session.SessionID] = struct{}{}
		t.TotalSessions++
	}
}

// SessionActivity is one line of the recent activity list.
type SessionActivity struct {
	ReceivedAt time.Time
	Time       string
	Project    string
	Model      string
	Tokens     int
	Cost       float64
	SessionID  string
}

func activityFrom(u live.Update) SessionActivity {
	a := SessionActivity{
		ReceivedAt: u.ReceivedAt,
		Time:       u.ReceivedAt.Format("15:04:05"),
		Model:      u.Record.ModelName(),
		Tokens:     u.Tokens(),
		Cost:       u.Cost,
	}
	if u.Session != nil {
		a.Project = path.Base(u.Session.ProjectPath)
		a.SessionID = u.Session.SessionID
	}
	return a
}

// LiveDisplay is the dashboard model. It is owned by a single goroutine.
type LiveDisplay struct {
	Baseline live.BaselineSummary
	Totals   RunningTotals
	Current  *types.SessionData

	recent        []SessionActivity
	scroll        int
	sessionStarts map[string]time.Time
	lastUpdate    time.Time
}

func NewLiveDisplay(b live.BaselineSummary) *LiveDisplay {
	return &LiveDisplay{
		Baseline:      b,
		Totals:        NewRunningTotals(b),
		recent:        make([]SessionActivity, 0, MaxRecentEntries),
		sessionStarts: make(map[string]time.Time),
	}
}

// Update folds u into the totals, makes its session current, and pushes a
// new activity entry to the front. The view snaps back to the newest entry.
func (d *LiveDisplay) Update(u live.Update) {
	d.lastUpdate = u.ReceivedAt
	d.Totals.add(u)

	if u.Session != nil {
		if _, ok := d.sessionStarts[u.Session.SessionID]; !ok {
			d.sessionStarts[u.Session.SessionID] = u.ReceivedAt
		}
		d.Current = u.Session
	}

	if len(d.recent) == MaxRecentEntries {
		d.recent = d.recent[:MaxRecentEntries-1]
	}
	d.recent = append(d.recent, SessionActivity{})
	copy(d.recent[1:], d.recent)
	d.recent[0] = activityFrom(u)

	d.scroll = 0
}

// Len returns the number of buffered activity entries.
func (d *LiveDisplay) Len() int {
	return len(d.recent)
}

func (d *LiveDisplay) ScrollOffset() int {
	return d.scroll
}

func (d *LiveDisplay) ScrollUp() {
	if d.scroll > 0 {
		d.scroll--
	}
}

func (d *LiveDisplay) ScrollDown(visible int) {
	if d.scroll < d.maxScroll(visible) {
		d.scroll++
	}
}

func (d *LiveDisplay) maxScroll(visible int) int {
	return max(0, len(d.recent)-visible)
}

// VisibleEntries returns up to visible entries starting at the scroll offset.
func (d *LiveDisplay) VisibleEntries(visible int) []SessionActivity {
	if visible <= 0 || d.scroll >= len(d.recent) {
		return nil
	}
	end := min(d.scroll+visible, len(d.recent))
	return d.recent[d.scroll:end]
}

func (d *LiveDisplay) CanScroll(visible int) bool {
	return len(d.recent) > visible
}

// ScrollIndicator renders " (page/pages)" when the buffer overflows the view.
func (d *LiveDisplay) ScrollIndicator(visible int) string {
	if visible <= 0 || !d.CanScroll(visible) {
		return ""
	}
	pages := (len(d.recent) + visible - 1) / visible
	return fmt.Sprintf(" (%d/%d)", d.scroll/visible+1, pages)
}

// CleanupOldSessions forgets session start times older than an hour.
func (d *LiveDisplay) CleanupOldSessions(now time.Time) {
	cutoff := now.Add(-sessionStartTTL)
	for id, start := range d.sessionStarts {
		if start.Before(cutoff) {
			delete(d.sessionStarts, id)
		}
	}
}

// CurrentSessionDuration is the time from the current session's first update
// to the latest update.
func (d *LiveDisplay) CurrentSessionDuration() (time.Duration, bool) {
	if d.Current == nil {
		return 0, false
	}
	start, ok := d.sessionStarts[d.Current.SessionID]
	if !ok {
		return 0, false
	}
	return d.lastUpdate.Sub(start), true
}

func (d *LiveDisplay) FormatTotals() string {
	return fmt.Sprintf("Total: $%.2f | Tokens: %.1fM | Sessions: %d",
		d.Totals.TotalCost,
		float64(d.Totals.TotalTokens)/1_000_000,
		d.Totals.TotalSessions,
	)
}

// FormatCurrentSession returns "" when no update has arrived yet.
func (d *LiveDisplay) FormatCurrentSession() string {
	if d.Current == nil {
		return ""
	}
	duration := "0s"
	if dur, ok := d.CurrentSessionDuration(); ok {
		secs := int(dur.Seconds())
		duration = fmt.Sprintf("%dm %ds", secs/60, secs%60)
	}
	return fmt.Sprintf("Project: %s | Duration: %s | Cost: $%.2f | Tokens: In %dK / Out %dK",
		path.Base(d.Current.ProjectPath),
		duration,
		d.Current.TotalCost,
		d.Current.Tokens.InputTokens/1000,
		d.Current.Tokens.OutputTokens/1000,
	)
}
