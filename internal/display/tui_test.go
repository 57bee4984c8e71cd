package display

import (
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdpower/claude-usage/internal/live"
)

func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestTickDrainsAllPendingUpdates(t *testing.T) {
	ch := make(chan live.Update, 10)
	for i := 0; i < 3; i++ {
		ch <- makeUpdate(fmt.Sprintf("s%d", i), "projects/api", 100, 0.01, t0)
	}
	m := NewModel(live.BaselineSummary{}, ch, Options{NoColor: true})

	m = step(t, m, tickMsg(t0))
	assert.Equal(t, 3, m.State().Len())
	assert.False(t, m.Ended())

	m = step(t, m, tickMsg(t0.Add(time.Second)))
	assert.Equal(t, 3, m.State().Len(), "empty channel leaves state alone")
}

func TestClosedChannelEndsStream(t *testing.T) {
	ch := make(chan live.Update, 1)
	ch <- makeUpdate("s", "p", 1, 0, t0)
	close(ch)

	m := NewModel(live.BaselineSummary{}, ch, Options{NoColor: true})
	m = step(t, m, tickMsg(t0))

	assert.True(t, m.Ended())
	assert.Equal(t, 1, m.State().Len())
	assert.Contains(t, m.View(), "stream ended")

	m = step(t, m, tickMsg(t0.Add(time.Second)))
	assert.True(t, m.Ended())
}

func TestKeysScrollAndQuit(t *testing.T) {
	ch := make(chan live.Update, 50)
	for i := 0; i < 30; i++ {
		ch <- makeUpdate(fmt.Sprintf("s%d", i), "p", 1, 0, t0)
	}
	m := NewModel(live.BaselineSummary{}, ch, Options{NoColor: true})
	m = step(t, m, tea.WindowSizeMsg{Width: 100, Height: 22})
	m = step(t, m, tickMsg(t0))

	m = step(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	assert.Equal(t, 2, m.State().ScrollOffset())

	m = step(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 1, m.State().ScrollOffset())
	assert.Contains(t, m.View(), "(↑/↓ to scroll) (1/3)")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestFailedMsgQuits(t *testing.T) {
	m := NewModel(live.BaselineSummary{}, make(chan live.Update), Options{NoColor: true})

	next, cmd := m.Update(FailedMsg("failed: keeper exited"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	m, ok := next.(Model)
	require.True(t, ok)
	assert.Contains(t, m.View(), "failed: keeper exited")
}

func TestViewShowsTotalsAndActivity(t *testing.T) {
	ch := make(chan live.Update, 1)
	ch <- makeUpdate("abc", "projects/api", 12345, 0.25, t0)
	m := NewModel(live.BaselineSummary{TotalCost: 1}, ch, Options{NoColor: true})
	m = step(t, m, StatusMsg("connected"))
	m = step(t, m, tickMsg(t0))

	view := m.View()
	assert.Contains(t, view, "Total: $1.25")
	assert.Contains(t, view, "Project: api")
	assert.Contains(t, view, "[14:30:00] api: +12,345 tokens ($0.250)")
	assert.Contains(t, view, "connected")
	assert.Contains(t, view, "q / ctrl+c to exit")
}

func TestEmptyViewPlaceholders(t *testing.T) {
	m := NewModel(live.BaselineSummary{}, make(chan live.Update), Options{NoColor: true})
	view := m.View()
	assert.Contains(t, view, "No active session")
	assert.Contains(t, view, "No recent activity")
	assert.Contains(t, view, "connecting")
}

func TestCostColorClamps(t *testing.T) {
	assert.Equal(t, CostColor(costScale), CostColor(10*costScale))
	assert.Equal(t, CostColor(0), CostColor(-1))
	assert.NotEqual(t, CostColor(0), CostColor(costScale))
	assert.NotEqual(t, CostColor(0), CostColor(costScale/2))
}
