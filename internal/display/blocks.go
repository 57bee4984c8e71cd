package display

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/sdpower/claude-usage/internal/calculator"
	"github.com/sdpower/claude-usage/internal/output"
	"github.com/sdpower/claude-usage/internal/types"
)

// Burn rate thresholds in non-cache tokens per minute.
const (
	BurnRateHigh     = 1000
	BurnRateModerate = 500

	maxBlocksWidth = 120
)

// BlocksLoader rebuilds session blocks from the logs.
type BlocksLoader func(ctx context.Context) ([]types.SessionBlock, error)

type BlocksLiveConfig struct {
	Load            BlocksLoader
	Calculator      *calculator.Calculator
	TokenLimit      int
	RefreshInterval time.Duration
	Timezone        *time.Location
	NoColor         bool
}

// BlocksLiveModel shows the active five-hour block, reloaded on every tick.
type BlocksLiveModel struct {
	ctx         context.Context
	config      BlocksLiveConfig
	keys        KeyMap
	activeBlock *types.SessionBlock
	lastUpdate  time.Time
	err         error
	width       int
	quitting    bool
}

type blocksTickMsg time.Time

type blocksLoadedMsg struct {
	blocks []types.SessionBlock
	err    error
	at     time.Time
}

func NewBlocksLiveModel(ctx context.Context, cfg BlocksLiveConfig) BlocksLiveModel {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.Local
	}
	if cfg.Calculator == nil {
		cfg.Calculator = calculator.New()
	}
	return BlocksLiveModel{ctx: ctx, config: cfg, keys: DefaultKeyMap()}
}

func (m BlocksLiveModel) Init() tea.Cmd {
	return tea.Batch(m.load(), tea.WindowSize())
}

func (m BlocksLiveModel) load() tea.Cmd {
	return func() tea.Msg {
		blocks, err := m.config.Load(m.ctx)
		return blocksLoadedMsg{blocks: blocks, err: err, at: time.Now()}
	}
}

func blocksTickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return blocksTickMsg(t)
	})
}

func (m BlocksLiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case blocksTickMsg:
		return m, m.load()

	case blocksLoadedMsg:
		m.lastUpdate = msg.at
		m.err = msg.err
		if msg.err == nil {
			m.activeBlock = nil
			for i := range msg.blocks {
				if msg.blocks[i].IsActive {
					m.activeBlock = &msg.blocks[i]
					break
				}
			}
		}
		return m, blocksTickCmd(m.config.RefreshInterval)
	}
	return m, nil
}

func (m BlocksLiveModel) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress 'q' to quit.", m.err)
	}
	if m.activeBlock == nil {
		waiting := "No active session block found. Waiting..."
		if !m.config.NoColor {
			waiting = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true).Render(waiting)
		}
		return waiting + "\n\nPress 'q' to quit."
	}
	return m.renderActiveBlock(time.Now())
}

func (m BlocksLiveModel) renderActiveBlock(now time.Time) string {
	block := m.activeBlock
	limit := m.config.TokenLimit
	totalTokens := block.TokenCounts.Total()

	elapsed := now.Sub(block.StartTime)
	remaining := max(block.EndTime.Sub(now), 0)
	sessionPercent := 0.0
	if span := block.EndTime.Sub(block.StartTime); span > 0 {
		sessionPercent = float64(elapsed) / float64(span) * 100
	}

	var buf bytes.Buffer
	table := tablewriter.NewTable(&buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Settings: tw.Settings{Separators: tw.Separators{BetweenRows: tw.On}},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Header: tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignCenter}},
			Row:    tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignLeft}},
			Footer: tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignCenter}},
		}),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)

	table.Header([]string{m.style(lipgloss.NewStyle().Bold(true)).Render("CLAUDE USAGE - ACTIVE BLOCK")})

	tz := m.config.Timezone
	table.Append([]string{m.section("SESSION", sessionPercent,
		fmt.Sprintf("Started: %s  Elapsed: %s  Remaining: %s (%s)",
			block.StartTime.In(tz).Format("03:04:05 PM"),
			formatDuration(elapsed),
			formatDuration(remaining),
			block.EndTime.In(tz).Format("03:04:05 PM")),
		"cyan",
		fmt.Sprintf("%.1f%%", sessionPercent),
	)})

	usagePercent := percentOf(totalTokens, limit)
	burn := calculator.CalculateBurnRate(*block)
	burnValue, burnLabel := 0, ""
	if burn != nil {
		burnValue = int(burn.TokensPerMinute)
		burnLabel = " " + BurnRateLabel(burn.TokensPerMinuteForIndicator)
	}
	table.Append([]string{m.section("USAGE", usagePercent,
		fmt.Sprintf("Tokens: %s (Burn Rate: %s token/min%s)  Limit: %s  Cost: $%.2f",
			humanize.Comma(int64(totalTokens)),
			humanize.Comma(int64(burnValue)),
			burnLabel,
			humanize.Comma(int64(limit)),
			block.CostUSD),
		levelColor(usagePercent),
		fmt.Sprintf("%.1f%% (%s/%s)", usagePercent, formatTokensShort(totalTokens), formatTokensShort(limit)),
	)})

	if proj := m.config.Calculator.ProjectBlockUsage(*block); proj != nil && limit > 0 {
		projPercent := percentOf(proj.TotalTokens, limit)
		status := "WITHIN LIMIT"
		switch {
		case projPercent > 100:
			status = "EXCEEDS LIMIT"
		case projPercent > 90:
			status = "APPROACHING LIMIT"
		}
		table.Append([]string{m.section("PROJECTION", projPercent,
			fmt.Sprintf("Status: %s  Tokens: %s  Cost: $%.2f",
				status, humanize.Comma(int64(proj.TotalTokens)), proj.TotalCost),
			levelColor(projPercent),
			fmt.Sprintf("%.1f%% (%s/%s)", projPercent, formatTokensShort(proj.TotalTokens), formatTokensShort(limit)),
		)})
	}

	models := "none"
	if len(block.Models) > 0 {
		short := make([]string, 0, len(block.Models))
		for _, model := range block.Models {
			short = append(short, output.ShortenModelName(model))
		}
		models = strings.Join(short, ", ")
	}
	table.Append([]string{"Models: " + models})

	footer := fmt.Sprintf("Refreshing every %ds  •  Press q or Ctrl+C to stop",
		int(m.config.RefreshInterval.Seconds()))
	table.Footer([]string{m.style(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).Render(footer)})
	table.Render()

	if m.width <= maxBlocksWidth {
		return buf.String()
	}
	pad := strings.Repeat(" ", (m.width-maxBlocksWidth)/2)
	lines := strings.Split(buf.String(), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = pad + l
		}
	}
	return strings.Join(lines, "\n")
}

func (m BlocksLiveModel) style(s lipgloss.Style) lipgloss.Style {
	if m.config.NoColor {
		return lipgloss.NewStyle()
	}
	return s
}

// section renders a titled progress bar with a detail line below it.
func (m BlocksLiveModel) section(title string, percent float64, info, color, right string) string {
	barWidth, rightPad := 40, 10
	if avail := m.width - 2; m.width > 0 && avail >= maxBlocksWidth {
		barWidth, rightPad = 50, 20
	} else if m.width > 0 && avail >= 100 {
		barWidth, rightPad = 45, 15
	}
	top := fmt.Sprintf("%-12s %s %*s", title, m.progressBar(percent, barWidth, color), rightPad, right)
	return fmt.Sprintf("\n%s\n%s\n", top, info)
}

func (m BlocksLiveModel) progressBar(percent float64, width int, color string) string {
	filled := int(min(max(percent, 0), 100) * float64(width) / 100)
	full := strings.Repeat("█", filled)
	empty := strings.Repeat("░", width-filled)
	if !m.config.NoColor {
		full = lipgloss.NewStyle().Foreground(barColors[color]).Render(full)
		empty = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Render(empty)
	}
	return "[" + full + empty + "]"
}

var barColors = map[string]lipgloss.Color{
	"cyan":   lipgloss.Color("51"),
	"green":  lipgloss.Color("46"),
	"yellow": lipgloss.Color("226"),
	"red":    lipgloss.Color("196"),
}

func levelColor(percent float64) string {
	switch {
	case percent > 95:
		return "red"
	case percent > 80:
		return "yellow"
	default:
		return "green"
	}
}

func percentOf(n, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(n) / float64(limit) * 100
}

// BurnRateLabel classifies a non-cache tokens-per-minute rate.
func BurnRateLabel(tokensPerMinute float64) string {
	switch {
	case tokensPerMinute > BurnRateHigh:
		return "HIGH"
	case tokensPerMinute > BurnRateModerate:
		return "MODERATE"
	default:
		return "NORMAL"
	}
}

func formatTokensShort(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1000:
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// RunBlocksLive runs the active block monitor until the user quits or ctx
// ends.
func RunBlocksLive(ctx context.Context, cfg BlocksLiveConfig) error {
	if err := RequireTTY(); err != nil {
		return err
	}
	p := tea.NewProgram(NewBlocksLiveModel(ctx, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
