// Package aggregator folds admitted usage records into per-session totals.
package aggregator

import (
	"sort"

	"github.com/samber/lo"

	"github.com/sdpower/claude-usage/internal/types"
)

// Aggregator owns the session map. It is not safe for concurrent use; both
// drivers apply records from a single goroutine.
type Aggregator struct {
	sessions map[string]*types.SessionData
	order    []string
}

func New() *Aggregator {
	return &Aggregator{sessions: make(map[string]*types.SessionData)}
}

// Apply adds rec to the session named by key. Records without input or
// output tokens are skipped; the second result reports whether rec was used.
func (a *Aggregator) Apply(rec types.UsageRecord, cost float64, key SessionKey) (*types.SessionData, bool) {
	if !rec.HasUsage() {
		return nil, false
	}
	usage := *rec.Message.Usage

	session, ok := a.sessions[key.Key]
	if !ok {
		session = types.NewSessionData(key.SessionID, key.ProjectPath)
		a.sessions[key.Key] = session
		a.order = append(a.order, key.Key)
	}

	day := rec.Day()
	daily, ok := session.DailyUsage[day]
	if !ok {
		daily = &types.DailyUsage{}
		session.DailyUsage[day] = daily
	}
	daily.Add(usage)
	daily.Cost += cost

	session.Tokens.Add(usage)
	session.TotalCost += cost

	if model := rec.ModelName(); model != "" {
		session.ModelsUsed[model] = struct{}{}
	}

	if day != types.UnknownDay && day > session.LastActivity {
		session.LastActivity = day
	}

	return session, true
}

// Snapshot returns a copy of the session stored under key.
func (a *Aggregator) Snapshot(key string) (*types.SessionData, bool) {
	s, ok := a.sessions[key]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Len returns the number of sessions that have received at least one record.
func (a *Aggregator) Len() int {
	return len(a.sessions)
}

// Sessions returns every non-empty session in first-seen order.
func (a *Aggregator) Sessions() []types.SessionOutput {
	keys := lo.Filter(a.order, func(k string, _ int) bool {
		return !a.sessions[k].IsEmpty()
	})
	return lo.Map(keys, func(k string, _ int) types.SessionOutput {
		return a.sessions[k].Output()
	})
}

// Totals sums cost and tokens over all sessions.
func (a *Aggregator) Totals() (cost float64, tokens int) {
	for _, s := range a.sessions {
		cost += s.TotalCost
		tokens += s.TotalTokens()
	}
	return cost, tokens
}

// SortByLastActivity orders sessions most recent first. Ties keep their
// input order.
func SortByLastActivity(sessions []types.SessionOutput) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastActivity > sessions[j].LastActivity
	})
}
