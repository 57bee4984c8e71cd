package calculator

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/sdpower/claude-usage/internal/types"
)

const (
	// DefaultSessionDurationHours is the length of one billing block.
	DefaultSessionDurationHours = 5
	// BlocksWarningThreshold is the share of the token limit that triggers a warning.
	BlocksWarningThreshold = 0.8
)

// floorToHour floors a timestamp to the beginning of the hour
func floorToHour(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}

// IdentifySessionBlocks groups entries into billing blocks. A block starts at
// the hour of its first entry and closes when an entry falls outside the block
// duration or after an idle gap longer than it; such gaps become gap blocks.
func (c *Calculator) IdentifySessionBlocks(entries []types.BlockEntry, sessionDurationHours int) []types.SessionBlock {
	if len(entries) == 0 {
		return []types.SessionBlock{}
	}

	if sessionDurationHours <= 0 {
		sessionDurationHours = DefaultSessionDurationHours
	}
	sessionDuration := time.Duration(sessionDurationHours) * time.Hour

	sorted := make([]types.BlockEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	var (
		blocks       []types.SessionBlock
		blockStart   time.Time
		blockEntries []types.BlockEntry
		now          = c.now()
	)

	for _, entry := range sorted {
		if blockEntries == nil {
			blockStart = floorToHour(entry.Time)
			blockEntries = []types.BlockEntry{entry}
			continue
		}

		last := blockEntries[len(blockEntries)-1]
		sinceStart := entry.Time.Sub(blockStart)
		sinceLast := entry.Time.Sub(last.Time)

		if sinceStart > sessionDuration || sinceLast > sessionDuration {
			blocks = append(blocks, createBlock(blockStart, blockEntries, now, sessionDuration))
			if gap := createGapBlock(last.Time, entry.Time, sessionDuration); gap != nil {
				blocks = append(blocks, *gap)
			}
			blockStart = floorToHour(entry.Time)
			blockEntries = []types.BlockEntry{entry}
			continue
		}
		blockEntries = append(blockEntries, entry)
	}

	return append(blocks, createBlock(blockStart, blockEntries, now, sessionDuration))
}

func createBlock(start time.Time, entries []types.BlockEntry, now time.Time, sessionDuration time.Duration) types.SessionBlock {
	end := start.Add(sessionDuration)
	lastTime := entries[len(entries)-1].Time

	var tokens types.TokenUsage
	cost := 0.0
	models := make(map[string]struct{})
	for _, e := range entries {
		tokens.Add(e.Tokens)
		cost += e.Cost
		if e.Model != "" {
			models[e.Model] = struct{}{}
		}
	}
	modelList := lo.Keys(models)
	sort.Strings(modelList)

	return types.SessionBlock{
		ID:            start.Format(time.RFC3339),
		StartTime:     start,
		EndTime:       end,
		ActualEndTime: &lastTime,
		IsActive:      now.Sub(lastTime) < sessionDuration && now.Before(end),
		Entries:       entries,
		EntryCount:    len(entries),
		TokenCounts:   tokens,
		CostUSD:       cost,
		Models:        modelList,
	}
}

// createGapBlock covers the idle time between two blocks, or returns nil when
// the gap is not longer than a block.
func createGapBlock(lastActivity, nextActivity time.Time, sessionDuration time.Duration) *types.SessionBlock {
	if nextActivity.Sub(lastActivity) <= sessionDuration {
		return nil
	}

	gapStart := lastActivity.Add(sessionDuration)
	return &types.SessionBlock{
		ID:        "gap-" + gapStart.Format(time.RFC3339),
		StartTime: gapStart,
		EndTime:   nextActivity,
		IsGap:     true,
		Entries:   []types.BlockEntry{},
		Models:    []string{},
	}
}

// CalculateBurnRate returns nil for gap blocks and blocks spanning no time.
func CalculateBurnRate(block types.SessionBlock) *types.BurnRate {
	if len(block.Entries) == 0 || block.IsGap {
		return nil
	}

	first := block.Entries[0].Time
	last := block.Entries[len(block.Entries)-1].Time
	minutes := last.Sub(first).Minutes()
	if minutes <= 0 {
		return nil
	}

	nonCache := float64(block.TokenCounts.InputTokens + block.TokenCounts.OutputTokens)

	return &types.BurnRate{
		TokensPerMinute:             float64(block.TokenCounts.Total()) / minutes,
		TokensPerMinuteForIndicator: nonCache / minutes,
		CostPerHour:                 block.CostUSD / minutes * 60,
	}
}

// ProjectBlockUsage extrapolates an active block to its end time.
func (c *Calculator) ProjectBlockUsage(block types.SessionBlock) *types.ProjectedUsage {
	if !block.IsActive || block.IsGap {
		return nil
	}

	rate := CalculateBurnRate(block)
	if rate == nil {
		return nil
	}

	remaining := block.EndTime.Sub(c.now()).Minutes()
	if remaining < 0 {
		remaining = 0
	}

	return &types.ProjectedUsage{
		TotalTokens:      block.TokenCounts.Total() + int(rate.TokensPerMinute*remaining),
		TotalCost:        block.CostUSD + rate.CostPerHour/60*remaining,
		RemainingMinutes: remaining,
	}
}

// FilterRecentBlocks keeps blocks that started within the last days days.
func (c *Calculator) FilterRecentBlocks(blocks []types.SessionBlock, days int) []types.SessionBlock {
	cutoff := c.now().AddDate(0, 0, -days)
	return lo.Filter(blocks, func(b types.SessionBlock, _ int) bool {
		return b.StartTime.After(cutoff)
	})
}

// GetMaxTokensFromBlocks returns the largest token total of any completed block.
func GetMaxTokensFromBlocks(blocks []types.SessionBlock) int {
	maxTokens := 0
	for _, b := range blocks {
		if !b.IsGap && !b.IsActive && b.TokenCounts.Total() > maxTokens {
			maxTokens = b.TokenCounts.Total()
		}
	}
	return maxTokens
}
