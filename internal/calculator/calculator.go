package calculator

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/sdpower/claude-usage/internal/types"
)

// Calculator builds time-bucketed reports from aggregated sessions.
type Calculator struct {
	now func() time.Time
}

func New() *Calculator {
	return &Calculator{now: time.Now}
}

// WithClock returns a Calculator that reads the current time from now.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	return &Calculator{now: now}
}

// GenerateDailyReport groups session usage by UTC day and project. With a
// positive limit the report covers exactly the last limit days ending today,
// including days without usage; otherwise every day with usage is listed.
// Days are returned oldest first.
func (c *Calculator) GenerateDailyReport(sessions []types.SessionOutput, limit int) []types.DailyData {
	byDay := make(map[string]map[string]*types.DailyProject)

	for _, s := range sessions {
		for day, du := range s.DailyUsage {
			if day == types.UnknownDay {
				continue
			}
			projects, ok := byDay[day]
			if !ok {
				projects = make(map[string]*types.DailyProject)
				byDay[day] = projects
			}
			p, ok := projects[s.ProjectPath]
			if !ok {
				p = &types.DailyProject{Project: s.ProjectPath}
				projects[s.ProjectPath] = p
			}
			p.TotalCost += du.Cost
			p.TotalTokens += du.Total()
			// A session contributes once to each day it was active.
			p.Sessions++
		}
	}

	var days []string
	if limit > 0 {
		today := c.now().UTC()
		for i := limit - 1; i >= 0; i-- {
			days = append(days, today.AddDate(0, 0, -i).Format(types.DayLayout))
		}
	} else {
		days = lo.Keys(byDay)
		sort.Strings(days)
	}

	return lo.Map(days, func(day string, _ int) types.DailyData {
		d := types.DailyData{Date: day, Projects: []types.DailyProject{}}
		for _, p := range byDay[day] {
			d.Projects = append(d.Projects, *p)
			d.TotalCost += p.TotalCost
			d.TotalSessions += p.Sessions
		}
		sort.Slice(d.Projects, func(i, j int) bool {
			return d.Projects[i].Project < d.Projects[j].Project
		})
		return d
	})
}

// GenerateWeeklyReport groups usage by week starting Monday.
func (c *Calculator) GenerateWeeklyReport(sessions []types.SessionOutput, limit int) []types.WeeklyData {
	type bucket struct {
		data     types.WeeklyData
		sessions map[string]struct{}
		models   map[string]struct{}
	}
	byWeek := make(map[string]*bucket)

	for _, s := range sessions {
		for day, du := range s.DailyUsage {
			t, err := time.Parse(types.DayLayout, day)
			if err != nil {
				continue
			}
			week := weekStart(t).Format(types.DayLayout)
			b, ok := byWeek[week]
			if !ok {
				b = &bucket{
					data:     types.WeeklyData{Week: week},
					sessions: make(map[string]struct{}),
					models:   make(map[string]struct{}),
				}
				byWeek[week] = b
			}
			b.data.TotalCost += du.Cost
			b.data.TotalTokens += du.Total()
			b.sessions[s.SessionID] = struct{}{}
			for _, m := range s.ModelsUsed {
				b.models[m] = struct{}{}
			}
		}
	}

	weeks := lo.Keys(byWeek)
	sort.Strings(weeks)
	weeks = lastN(weeks, limit)

	return lo.Map(weeks, func(week string, _ int) types.WeeklyData {
		b := byWeek[week]
		b.data.TotalSessions = len(b.sessions)
		b.data.Models = lo.Keys(b.models)
		sort.Strings(b.data.Models)
		return b.data
	})
}

// GenerateMonthlyReport groups usage by calendar month, oldest first, keeping
// the most recent limit months when limit is positive.
func (c *Calculator) GenerateMonthlyReport(sessions []types.SessionOutput, limit int) []types.MonthlyData {
	type bucket struct {
		cost     float64
		sessions map[string]struct{}
	}
	byMonth := make(map[string]*bucket)

	for _, s := range sessions {
		for day, du := range s.DailyUsage {
			month := types.UnknownDay
			if len(day) >= 7 && day != types.UnknownDay {
				month = day[:7]
			}
			b, ok := byMonth[month]
			if !ok {
				b = &bucket{sessions: make(map[string]struct{})}
				byMonth[month] = b
			}
			b.cost += du.Cost
			b.sessions[s.SessionID] = struct{}{}
		}
	}

	months := lo.Keys(byMonth)
	sort.Strings(months)
	months = lastN(months, limit)

	return lo.Map(months, func(month string, _ int) types.MonthlyData {
		b := byMonth[month]
		return types.MonthlyData{Month: month, TotalCost: b.cost, TotalSessions: len(b.sessions)}
	})
}

// weekStart returns the Monday on or before t.
func weekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, time.UTC)
}

func lastN[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[len(items)-n:]
	}
	return items
}
