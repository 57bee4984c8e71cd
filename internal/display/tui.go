package display

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/mattn/go-isatty"

	"github.com/sdpower/claude-usage/internal/live"
	"github.com/sdpower/claude-usage/internal/types"
)

const (
	DefaultTick = time.Second

	// costScale is the per-record cost drawn in the hottest color.
	costScale = 0.50
	// chrome is the number of rows used by everything but the activity list.
	chrome         = 12
	defaultVisible = 10
)

var (
	cheapColor  = mustHex("#5fd75f")
	priceyColor = mustHex("#ff5f5f")
)

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// RequireTTY fails when stdout is not an interactive terminal.
func RequireTTY() error {
	fd := os.Stdout.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return &types.ValidationError{Field: "stdout", Message: "live monitoring requires an interactive terminal (TTY)"}
	}
	return nil
}

type KeyMap struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q/ctrl+c", "exit"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "scroll down"),
		),
	}
}

type Options struct {
	Tick    time.Duration
	NoColor bool
}

type styles struct {
	title    lipgloss.Style
	box      lipgloss.Style
	totals   lipgloss.Style
	session  lipgloss.Style
	muted    lipgloss.Style
	project  lipgloss.Style
	tokens   lipgloss.Style
	status   lipgloss.Style
	warning  lipgloss.Style
	colorful bool
}

func newStyles(noColor bool) styles {
	if noColor {
		plain := lipgloss.NewStyle()
		box := lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
		return styles{title: plain, box: box, totals: plain, session: plain, muted: plain,
			project: plain, tokens: plain, status: plain, warning: plain}
	}
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		box:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("51")).Padding(0, 1),
		totals:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46")),
		session:  lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		muted:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		project:  lipgloss.NewStyle().Foreground(lipgloss.Color("51")),
		tokens:   lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		status:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		warning:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		colorful: true,
	}
}

type tickMsg time.Time

// StatusMsg replaces the status line, e.g. "reconnecting (attempt 2)".
type StatusMsg string

// FailedMsg sets a final status line and closes the dashboard.
type FailedMsg string

// Model is the bubbletea live dashboard. Updates are pulled from the
// channel on every tick, so several may be rendered at once.
type Model struct {
	state   *LiveDisplay
	updates <-chan live.Update
	keys    KeyMap
	tick    time.Duration
	styles  styles

	width  int
	height int
	ended  bool
	status string
}

func NewModel(baseline live.BaselineSummary, updates <-chan live.Update, opts Options) Model {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	return Model{
		state:   NewLiveDisplay(baseline),
		updates: updates,
		keys:    DefaultKeyMap(),
		tick:    opts.Tick,
		styles:  newStyles(opts.NoColor),
		status:  "connecting",
	}
}

// State exposes the underlying display state.
func (m Model) State() *LiveDisplay {
	return m.state
}

func (m Model) Ended() bool {
	return m.ended
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tickCmd(m.tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			m.state.ScrollUp()
		case key.Matches(msg, m.keys.Down):
			m.state.ScrollDown(m.visibleLines())
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case StatusMsg:
		m.status = string(msg)

	case FailedMsg:
		m.status = string(msg)
		return m, tea.Quit

	case tickMsg:
		m = m.drain()
		m.state.CleanupOldSessions(time.Time(msg))
		return m, tickCmd(m.tick)
	}
	return m, nil
}

// drain applies every update already waiting on the channel.
func (m Model) drain() Model {
	if m.ended {
		return m
	}
	for {
		select {
		case u, ok := <-m.updates:
			if !ok {
				m.ended = true
				return m
			}
			m.state.Update(u)
		default:
			return m
		}
	}
}

func (m Model) visibleLines() int {
	if m.height <= 0 {
		return defaultVisible
	}
	return max(3, m.height-chrome)
}

func (m Model) View() string {
	s := m.styles
	var b strings.Builder

	header := s.title.Render("Claude Usage Live") + "\n" + s.totals.Render(m.state.FormatTotals())
	b.WriteString(s.box.Render(header))
	b.WriteString("\n")

	current := m.state.FormatCurrentSession()
	if current == "" {
		current = s.muted.Render("No active session")
	} else {
		current = s.session.Render(current)
	}
	b.WriteString(s.box.Render(s.title.Render("Current Session") + "\n" + s.muted.Render("├─ ") + current))
	b.WriteString("\n")

	visible := m.visibleLines()
	title := "Recent Activity"
	if m.state.CanScroll(visible) {
		title += " (↑/↓ to scroll)" + m.state.ScrollIndicator(visible)
	}
	var rows []string
	for _, a := range m.state.VisibleEntries(visible) {
		rows = append(rows, m.renderActivity(a))
	}
	if len(rows) == 0 {
		rows = append(rows, s.muted.Render("No recent activity"))
	}
	b.WriteString(s.box.Render(s.title.Render(title) + "\n" + strings.Join(rows, "\n")))
	b.WriteString("\n")

	switch {
	case m.ended:
		b.WriteString(s.warning.Render("stream ended"))
	case m.status != "":
		b.WriteString(s.status.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(s.muted.Render("q / ctrl+c to exit"))
	return b.String()
}

func (m Model) renderActivity(a SessionActivity) string {
	s := m.styles
	cost := fmt.Sprintf("($%.3f)", a.Cost)
	if s.colorful {
		cost = lipgloss.NewStyle().Foreground(CostColor(a.Cost)).Render(cost)
	}
	return fmt.Sprintf("%s %s %s %s",
		s.muted.Render("["+a.Time+"]"),
		s.project.Render(a.Project+":"),
		s.tokens.Render("+"+humanize.Comma(int64(a.Tokens))+" tokens"),
		cost,
	)
}

// CostColor shades from green to red as cost approaches costScale.
func CostColor(cost float64) lipgloss.Color {
	f := min(max(cost/costScale, 0), 1)
	return lipgloss.Color(cheapColor.BlendLab(priceyColor, f).Clamped().Hex())
}

// Dashboard runs a Model as a full-screen program.
type Dashboard struct {
	program *tea.Program
}

func NewDashboard(ctx context.Context, m Model) *Dashboard {
	return &Dashboard{program: tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))}
}

// SetStatus is safe to call from any goroutine.
func (d *Dashboard) SetStatus(status string) {
	d.program.Send(StatusMsg(status))
}

// Fail closes the dashboard with status as its last line. Like SetStatus it
// is safe to call from any goroutine.
func (d *Dashboard) Fail(status string) {
	d.program.Send(FailedMsg(status))
}

// Run blocks until the user quits or the context ends.
func (d *Dashboard) Run() error {
	_, err := d.program.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
