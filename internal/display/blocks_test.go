package display

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdpower/claude-usage/internal/calculator"
	"github.com/sdpower/claude-usage/internal/types"
)

func activeBlock(now time.Time) types.SessionBlock {
	start := now.Add(-2 * time.Hour).Truncate(time.Hour)
	return types.SessionBlock{
		ID:        start.Format(time.RFC3339),
		StartTime: start,
		EndTime:   start.Add(5 * time.Hour),
		IsActive:  true,
		Entries: []types.BlockEntry{
			{Time: start.Add(10 * time.Minute), Tokens: types.TokenUsage{InputTokens: 1000, OutputTokens: 500}, Cost: 0.5},
			{Time: start.Add(70 * time.Minute), Tokens: types.TokenUsage{InputTokens: 2000, OutputTokens: 500}, Cost: 1},
		},
		EntryCount:  2,
		TokenCounts: types.TokenUsage{InputTokens: 3000, OutputTokens: 1000},
		CostUSD:     1.5,
		Models:      []string{"claude-sonnet-4-20250514", "claude-opus-4-20250514"},
	}
}

func TestBlocksLiveModelPicksActiveBlock(t *testing.T) {
	now := time.Now()
	blocks := []types.SessionBlock{
		{ID: "old", StartTime: now.Add(-24 * time.Hour), EndTime: now.Add(-19 * time.Hour)},
		activeBlock(now),
	}
	m := NewBlocksLiveModel(context.Background(), BlocksLiveConfig{
		Load:       func(context.Context) ([]types.SessionBlock, error) { return blocks, nil },
		Calculator: calculator.New(),
		TokenLimit: 10000,
		NoColor:    true,
	})

	assert.Contains(t, m.View(), "No active session block found")

	msg := m.load()()
	next, cmd := m.Update(msg)
	require.NotNil(t, cmd, "a load schedules the next tick")
	m = next.(BlocksLiveModel)

	require.NotNil(t, m.activeBlock)
	view := m.View()
	assert.Contains(t, view, "CLAUDE USAGE - ACTIVE BLOCK")
	assert.Contains(t, view, "Tokens: 4,000")
	assert.Contains(t, view, "Limit: 10,000")
	assert.Contains(t, view, "40.0% (4.0k/10.0k)")
	assert.Contains(t, view, "Models: Sonnet-4, Opus-4")
}

func TestBlocksLiveModelKeepsLastBlockOnError(t *testing.T) {
	m := NewBlocksLiveModel(context.Background(), BlocksLiveConfig{NoColor: true})
	b := activeBlock(time.Now())
	m.activeBlock = &b

	next, _ := m.Update(blocksLoadedMsg{err: errors.New("disk gone"), at: time.Now()})
	m = next.(BlocksLiveModel)
	assert.Contains(t, m.View(), "Error: disk gone")
	assert.NotNil(t, m.activeBlock)
}

func TestBlocksLiveModelQuit(t *testing.T) {
	m := NewBlocksLiveModel(context.Background(), BlocksLiveConfig{NoColor: true})
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, next.View())
}

func TestBurnRateLabel(t *testing.T) {
	assert.Equal(t, "NORMAL", BurnRateLabel(100))
	assert.Equal(t, "MODERATE", BurnRateLabel(750))
	assert.Equal(t, "HIGH", BurnRateLabel(1500))
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "999", formatTokensShort(999))
	assert.Equal(t, "1.5k", formatTokensShort(1500))
	assert.Equal(t, "2.5M", formatTokensShort(2_500_000))
	assert.Equal(t, "2h 5m", formatDuration(125*time.Minute))
	assert.Equal(t, "45m", formatDuration(45*time.Minute))
	assert.Zero(t, percentOf(10, 0))
	assert.Equal(t, "yellow", levelColor(85))
	assert.Equal(t, "red", levelColor(96))
}
