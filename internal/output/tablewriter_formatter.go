package output

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/sdpower/claude-usage/internal/aggregator"
	"github.com/sdpower/claude-usage/internal/calculator"
	"github.com/sdpower/claude-usage/internal/types"
)

const (
	ansiGray   = "\033[90m"
	ansiCyan   = "\033[36m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiRed    = "\033[31m"
	ansiReset  = "\033[0m"
)

// TableWriterFormatter renders reports as boxed tables.
type TableWriterFormatter struct {
	noColor  bool
	timezone *time.Location
	calc     *calculator.Calculator
}

func NewTableWriterFormatter(noColor bool) *TableWriterFormatter {
	return &TableWriterFormatter{
		noColor:  noColor,
		timezone: time.Local,
		calc:     calculator.New(),
	}
}

func (f *TableWriterFormatter) SetTimezone(loc *time.Location) {
	if loc != nil {
		f.timezone = loc
	}
}

// SetCalculator replaces the calculator used for block projections.
func (f *TableWriterFormatter) SetCalculator(c *calculator.Calculator) {
	if c != nil {
		f.calc = c
	}
}

func newTable(buf *bytes.Buffer) *tablewriter.Table {
	return tablewriter.NewTable(buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Settings: tw.Settings{Separators: tw.Separators{BetweenRows: tw.On}},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignRight},
			},
		}),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
}

func titleBox(title string) string {
	inner := strings.Repeat("─", len([]rune(title))+4)
	pad := strings.Repeat(" ", len([]rune(title))+4)
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(" ╭" + inner + "╮\n")
	b.WriteString(" │" + pad + "│\n")
	b.WriteString(" │  " + title + "  │\n")
	b.WriteString(" │" + pad + "│\n")
	b.WriteString(" ╰" + inner + "╯\n\n")
	return b.String()
}

// colorize paints borders gray, the header cyan and the Total footer yellow.
func (f *TableWriterFormatter) colorize(table string) string {
	if f.noColor {
		return table
	}
	lines := strings.Split(table, "\n")
	for i, line := range lines {
		switch {
		case line == "":
		case strings.HasPrefix(line, "┌"), strings.HasPrefix(line, "├"), strings.HasPrefix(line, "└"):
			lines[i] = ansiGray + line + ansiReset
		case strings.Contains(line, "│"):
			total := strings.Contains(line, "Total")
			parts := strings.Split(line, "│")
			for j, part := range parts {
				if strings.TrimSpace(part) == "" {
					continue
				}
				switch {
				case i <= 2:
					parts[j] = ansiCyan + part + ansiReset
				case total:
					parts[j] = ansiYellow + part + ansiReset
				}
			}
			lines[i] = strings.Join(parts, ansiGray+"│"+ansiReset)
		}
	}
	return strings.Join(lines, "\n")
}

func (f *TableWriterFormatter) FormatDailyReport(days []types.DailyData) string {
	title := titleBox("Claude Usage Report - Daily")
	if len(days) == 0 {
		return title + "No usage data found for the specified period.\n"
	}

	var buf bytes.Buffer
	table := newTable(&buf)
	table.Header([]string{"Date\n", "Projects\n", "Sessions\n", "Total\nTokens", "Cost\n(USD)"})

	var totalSessions, totalTokens int
	var totalCost float64
	for _, d := range days {
		tokens := 0
		var projects []string
		for _, p := range d.Projects {
			tokens += p.TotalTokens
			projects = append(projects, fmt.Sprintf("- %s ($%.2f)", p.Project, p.TotalCost))
		}
		projectsStr := "-"
		if len(projects) > 0 {
			projectsStr = strings.Join(projects, "\n")
		}

		totalSessions += d.TotalSessions
		totalTokens += tokens
		totalCost += d.TotalCost

		table.Append([]string{
			formatDate(d.Date),
			projectsStr,
			formatLargeNumber(d.TotalSessions),
			formatLargeNumber(tokens),
			fmt.Sprintf("$%.2f", d.TotalCost),
		})
	}

	table.Footer([]string{
		"Total",
		"",
		formatLargeNumber(totalSessions),
		formatLargeNumber(totalTokens),
		fmt.Sprintf("$%.2f", totalCost),
	})
	table.Render()

	return title + f.colorize(buf.String())
}

func (f *TableWriterFormatter) FormatWeeklyReport(weeks []types.WeeklyData) string {
	title := titleBox("Claude Usage Report - Weekly")
	if len(weeks) == 0 {
		return title + "No usage data found for the specified period.\n"
	}

	var buf bytes.Buffer
	table := newTable(&buf)
	table.Header([]string{"Week\n", "Models\n", "Sessions\n", "Total\nTokens", "Cost\n(USD)"})

	var totalTokens int
	var totalCost float64
	for _, w := range weeks {
		totalTokens += w.TotalTokens
		totalCost += w.TotalCost
		table.Append([]string{
			formatDate(w.Week),
			formatModels(w.Models),
			formatLargeNumber(w.TotalSessions),
			formatLargeNumber(w.TotalTokens),
			fmt.Sprintf("$%.2f", w.TotalCost),
		})
	}

	table.Footer([]string{"Total", "", "", formatLargeNumber(totalTokens), fmt.Sprintf("$%.2f", totalCost)})
	table.Render()

	return title + f.colorize(buf.String())
}

func (f *TableWriterFormatter) FormatMonthlyReport(months []types.MonthlyData) string {
	title := titleBox("Claude Usage Report - Monthly")
	if len(months) == 0 {
		return title + "No usage data found for the specified period.\n"
	}

	var buf bytes.Buffer
	table := newTable(&buf)
	table.Header([]string{"Month", "Sessions", "Cost (USD)"})

	var totalCost float64
	for _, m := range months {
		totalCost += m.TotalCost
		table.Append([]string{m.Month, formatLargeNumber(m.TotalSessions), fmt.Sprintf("$%.2f", m.TotalCost)})
	}

	table.Footer([]string{"Total", "", fmt.Sprintf("$%.2f", totalCost)})
	table.Render()

	return title + f.colorize(buf.String())
}

func (f *TableWriterFormatter) FormatSessionReport(sessions []types.SessionOutput) string {
	title := titleBox("Claude Usage Report - By Session")
	if len(sessions) == 0 {
		return title + "No session data found.\n"
	}

	var buf bytes.Buffer
	table := newTable(&buf)
	table.Header([]string{
		"Session\n",
		"Project\n",
		"Models\n",
		"Input\n",
		"Output\n",
		"Cache\nCreate",
		"Cache\nRead",
		"Total\nTokens",
		"Cost\n(USD)",
		"Last\nActivity",
	})

	var totals types.TokenUsage
	var totalCost float64
	for _, s := range sessions {
		totals.Add(types.TokenUsage{
			InputTokens:              s.InputTokens,
			OutputTokens:             s.OutputTokens,
			CacheCreationInputTokens: s.CacheCreationTokens,
			CacheReadInputTokens:     s.CacheReadTokens,
		})
		totalCost += s.TotalCost

		table.Append([]string{
			aggregator.DisplayName(s.SessionID),
			s.ProjectPath,
			formatModels(s.ModelsUsed),
			formatLargeNumber(s.InputTokens),
			formatLargeNumber(s.OutputTokens),
			formatLargeNumber(s.CacheCreationTokens),
			formatLargeNumber(s.CacheReadTokens),
			formatLargeNumber(s.TotalTokens()),
			fmt.Sprintf("$%.2f", s.TotalCost),
			s.LastActivity,
		})
	}

	table.Footer([]string{
		"Total",
		"",
		"",
		formatLargeNumber(totals.InputTokens),
		formatLargeNumber(totals.OutputTokens),
		formatLargeNumber(totals.CacheCreationInputTokens),
		formatLargeNumber(totals.CacheReadInputTokens),
		formatLargeNumber(totals.Total()),
		fmt.Sprintf("$%.2f", totalCost),
		"",
	})
	table.Render()

	return title + f.colorize(buf.String())
}

// FormatBlocksReport lists session blocks. A positive tokenLimit adds a
// percentage column and a REMAINING row under the active block.
func (f *TableWriterFormatter) FormatBlocksReport(blocks []types.SessionBlock, tokenLimit int) string {
	title := titleBox("Claude Usage Report - Session Blocks")
	if len(blocks) == 0 {
		return title + "No session blocks found for the specified criteria.\n"
	}

	var buf bytes.Buffer
	table := newTable(&buf)

	headers := []string{"Block Start", "Duration/Status", "Models", "Tokens"}
	if tokenLimit > 0 {
		headers = append(headers, "%")
	}
	table.Header(append(headers, "Cost"))

	withLimit := func(row []string, percent string, cost string) []string {
		if tokenLimit > 0 {
			row = append(row, percent)
		}
		return append(row, cost)
	}

	for _, block := range blocks {
		if block.IsGap {
			table.Append(withLimit([]string{f.formatBlockTime(block), "(inactive)", "-", "-"}, "-", "-"))
			continue
		}

		total := block.TokenCounts.Total()
		status := ""
		if block.IsActive {
			status = "ACTIVE"
		}
		table.Append(withLimit(
			[]string{f.formatBlockTime(block), status, formatModels(block.Models), humanize.Comma(int64(total))},
			fmt.Sprintf("%.1f%%", float64(total)/float64(max(tokenLimit, 1))*100),
			fmt.Sprintf("$%.2f", block.CostUSD),
		))

		if !block.IsActive {
			continue
		}
		if tokenLimit > 0 {
			remaining := max(tokenLimit-total, 0)
			table.Append(withLimit(
				[]string{fmt.Sprintf("(assuming %s token limit)", humanize.Comma(int64(tokenLimit))), "REMAINING", "", humanize.Comma(int64(remaining))},
				fmt.Sprintf("%.1f%%", float64(remaining)/float64(tokenLimit)*100),
				"",
			))
		}
		if proj := f.calc.ProjectBlockUsage(block); proj != nil {
			table.Append(withLimit(
				[]string{"(assuming current burn rate)", "PROJECTED", "", humanize.Comma(int64(proj.TotalTokens))},
				fmt.Sprintf("%.1f%%", float64(proj.TotalTokens)/float64(max(tokenLimit, 1))*100),
				fmt.Sprintf("$%.2f", proj.TotalCost),
			))
		}
	}
	table.Render()

	return title + f.colorizeBlocks(buf.String(), tokenLimit)
}

func (f *TableWriterFormatter) colorizeBlocks(table string, tokenLimit int) string {
	if f.noColor {
		return table
	}
	lines := strings.Split(table, "\n")
	for i, line := range lines {
		switch {
		case line == "":
		case strings.HasPrefix(line, "┌"), strings.HasPrefix(line, "├"), strings.HasPrefix(line, "└"):
			lines[i] = ansiGray + line + ansiReset
		case strings.Contains(line, "(inactive)"):
			lines[i] = ansiGray + line + ansiReset
		case strings.Contains(line, "│"):
			parts := strings.Split(line, "│")
			for j, part := range parts {
				trimmed := strings.TrimSpace(part)
				switch {
				case trimmed == "":
				case i <= 2:
					parts[j] = ansiCyan + part + ansiReset
				case trimmed == "ACTIVE":
					parts[j] = strings.Replace(part, "ACTIVE", ansiGreen+"ACTIVE"+ansiReset, 1)
				case trimmed == "REMAINING":
					parts[j] = strings.Replace(part, "REMAINING", ansiBlue+"REMAINING"+ansiReset, 1)
				case trimmed == "PROJECTED":
					parts[j] = strings.Replace(part, "PROJECTED", ansiYellow+"PROJECTED"+ansiReset, 1)
				case strings.HasPrefix(trimmed, "(assuming"):
					parts[j] = ansiGray + part + ansiReset
				case overLimit(trimmed, tokenLimit):
					parts[j] = ansiRed + part + ansiReset
				}
			}
			lines[i] = strings.Join(parts, ansiGray+"│"+ansiReset)
		}
	}
	return strings.Join(lines, "\n")
}

// overLimit reports a percentage cell above 100%.
func overLimit(cell string, tokenLimit int) bool {
	if tokenLimit <= 0 || !strings.HasSuffix(cell, "%") {
		return false
	}
	pct, err := strconv.ParseFloat(strings.TrimSuffix(cell, "%"), 64)
	return err == nil && pct > 100
}

func (f *TableWriterFormatter) formatBlockTime(block types.SessionBlock) string {
	start := block.StartTime.In(f.timezone)
	if block.IsGap {
		end := block.EndTime.In(f.timezone)
		return fmt.Sprintf("%s - %s (%dh gap)",
			start.Format("2006-01-02, 3:04:05 PM"),
			end.Format("2006-01-02, 3:04:05 PM"),
			int(end.Sub(start).Hours()))
	}

	if block.IsActive {
		now := time.Now()
		elapsed := now.Sub(block.StartTime)
		remaining := max(block.EndTime.Sub(now), 0)
		return fmt.Sprintf("%s (%dh %dm elapsed, %dh %dm remaining)",
			start.Format("2006-01-02, 3:04:05 PM"),
			int(elapsed.Hours()), int(elapsed.Minutes())%60,
			int(remaining.Hours()), int(remaining.Minutes())%60)
	}

	var d time.Duration
	if block.ActualEndTime != nil {
		d = block.ActualEndTime.Sub(block.StartTime)
	}
	if hours := int(d.Hours()); hours > 0 {
		return fmt.Sprintf("%s (%dh %dm)", start.Format("2006-01-02, 3:00:00 PM"), hours, int(d.Minutes())%60)
	}
	return fmt.Sprintf("%s (%dm)", start.Format("2006-01-02, 3:00:00 PM"), int(d.Minutes())%60)
}

// formatDate splits YYYY-MM-DD over two lines to keep the column narrow.
func formatDate(day string) string {
	if parts := strings.Split(day, "-"); len(parts) == 3 {
		return parts[0] + "\n" + parts[1] + "-" + parts[2]
	}
	return day
}

func formatModels(models []string) string {
	if len(models) == 0 {
		return "-"
	}
	short := make(map[string]struct{})
	for _, m := range models {
		short[ShortenModelName(m)] = struct{}{}
	}
	names := make([]string, 0, len(short))
	for m := range short {
		names = append(names, m)
	}
	sort.Strings(names)
	return "- " + strings.Join(names, "\n- ")
}

func formatLargeNumber(n int) string {
	if n == 0 {
		return "-"
	}
	return humanize.Comma(int64(n))
}

var (
	minorVersionModel = regexp.MustCompile(`^claude-(\w+)-(\d+)-(\d+)-\d+`)
	majorVersionModel = regexp.MustCompile(`^claude-(\w+)-(\d+)-\d+`)
	legacyModel       = regexp.MustCompile(`^claude-(\d+)-(\d+)-(\w+)-\d+`)
)

var knownModels = map[string]string{
	"gpt-4o":        "gpt-4o",
	"gpt-4o-mini":   "gpt-4o-mini",
	"gpt-4":         "gpt-4",
	"gpt-3.5-turbo": "gpt-3.5",
}

// ShortenModelName turns model ids into display names:
//
//	claude-opus-4-1-20250805   -> Opus-4.1
//	claude-sonnet-4-20250514   -> Sonnet-4
//	claude-3-5-sonnet-20241022 -> Sonnet-3.5
func ShortenModelName(model string) string {
	if m := legacyModel.FindStringSubmatch(model); m != nil {
		return fmt.Sprintf("%s-%s.%s", capitalize(m[3]), m[1], m[2])
	}
	if m := minorVersionModel.FindStringSubmatch(model); m != nil {
		return fmt.Sprintf("%s-%s.%s", capitalize(m[1]), m[2], m[3])
	}
	if m := majorVersionModel.FindStringSubmatch(model); m != nil {
		return fmt.Sprintf("%s-%s", capitalize(m[1]), m[2])
	}
	if short, ok := knownModels[model]; ok {
		return short
	}
	if len(model) > 12 {
		return model[:12]
	}
	return model
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}
