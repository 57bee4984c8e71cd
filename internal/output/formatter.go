package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sdpower/claude-usage/internal/calculator"
	"github.com/sdpower/claude-usage/internal/types"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
)

type Formatter struct {
	options FormatterOptions
	table   *TableWriterFormatter
}

type FormatterOptions struct {
	Format     string // "table", "json", "csv"
	NoColor    bool
	Timezone   *time.Location
	Calculator *calculator.Calculator
}

func NewFormatter(opts FormatterOptions) *Formatter {
	if opts.Format == "" {
		opts.Format = FormatTable
	}
	table := NewTableWriterFormatter(opts.NoColor)
	table.SetTimezone(opts.Timezone)
	table.SetCalculator(opts.Calculator)
	return &Formatter{options: opts, table: table}
}

// ParseFormat validates a --format value.
func ParseFormat(s string) (string, error) {
	switch strings.ToLower(s) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", &types.ValidationError{Field: "format", Message: fmt.Sprintf("unknown output format %q", s)}
}

func (f *Formatter) FormatDailyReport(days []types.DailyData) (string, error) {
	switch f.options.Format {
	case FormatJSON:
		return marshal(map[string]any{"daily": nonNil(days)})
	case FormatCSV:
		rows := [][]string{{"date", "project", "sessions", "total_tokens", "cost"}}
		for _, d := range days {
			for _, p := range d.Projects {
				rows = append(rows, []string{d.Date, p.Project, strconv.Itoa(p.Sessions), strconv.Itoa(p.TotalTokens), formatCost(p.TotalCost)})
			}
		}
		return FormatCSVRows(rows)
	default:
		return f.table.FormatDailyReport(days), nil
	}
}

func (f *Formatter) FormatWeeklyReport(weeks []types.WeeklyData) (string, error) {
	switch f.options.Format {
	case FormatJSON:
		return marshal(map[string]any{"weekly": nonNil(weeks)})
	case FormatCSV:
		rows := [][]string{{"week", "sessions", "total_tokens", "cost", "models"}}
		for _, w := range weeks {
			rows = append(rows, []string{w.Week, strconv.Itoa(w.TotalSessions), strconv.Itoa(w.TotalTokens), formatCost(w.TotalCost), strings.Join(w.Models, ";")})
		}
		return FormatCSVRows(rows)
	default:
		return f.table.FormatWeeklyReport(weeks), nil
	}
}

func (f *Formatter) FormatMonthlyReport(months []types.MonthlyData) (string, error) {
	switch f.options.Format {
	case FormatJSON:
		return marshal(map[string]any{"monthly": nonNil(months)})
	case FormatCSV:
		rows := [][]string{{"month", "sessions", "cost"}}
		for _, m := range months {
			rows = append(rows, []string{m.Month, strconv.Itoa(m.TotalSessions), formatCost(m.TotalCost)})
		}
		return FormatCSVRows(rows)
	default:
		return f.table.FormatMonthlyReport(months), nil
	}
}

func (f *Formatter) FormatSessionReport(sessions []types.SessionOutput) (string, error) {
	switch f.options.Format {
	case FormatJSON:
		return marshal(map[string]any{"sessions": nonNil(sessions)})
	case FormatCSV:
		rows := [][]string{{"session_id", "project_path", "input_tokens", "output_tokens", "cache_creation_tokens", "cache_read_tokens", "total_cost", "last_activity", "models"}}
		for _, s := range sessions {
			rows = append(rows, []string{
				s.SessionID,
				s.ProjectPath,
				strconv.Itoa(s.InputTokens),
				strconv.Itoa(s.OutputTokens),
				strconv.Itoa(s.CacheCreationTokens),
				strconv.Itoa(s.CacheReadTokens),
				formatCost(s.TotalCost),
				s.LastActivity,
				strings.Join(s.ModelsUsed, ";"),
			})
		}
		return FormatCSVRows(rows)
	default:
		return f.table.FormatSessionReport(sessions), nil
	}
}

func (f *Formatter) FormatBlocksReport(blocks []types.SessionBlock, tokenLimit int) (string, error) {
	switch f.options.Format {
	case FormatJSON:
		return marshal(map[string]any{"blocks": nonNil(blocks)})
	case FormatCSV:
		rows := [][]string{{"start_time", "end_time", "active", "gap", "entries", "total_tokens", "cost", "models"}}
		for _, b := range blocks {
			rows = append(rows, []string{
				b.StartTime.Format(time.RFC3339),
				b.EndTime.Format(time.RFC3339),
				strconv.FormatBool(b.IsActive),
				strconv.FormatBool(b.IsGap),
				strconv.Itoa(b.EntryCount),
				strconv.Itoa(b.TokenCounts.Total()),
				formatCost(b.CostUSD),
				strings.Join(b.Models, ";"),
			})
		}
		return FormatCSVRows(rows)
	default:
		return f.table.FormatBlocksReport(blocks, tokenLimit), nil
	}
}

func (f *Formatter) FormatJSON(data any) (string, error) {
	return marshal(data)
}

func FormatCSVRows(rows [][]string) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.WriteAll(rows); err != nil {
		return "", err
	}
	return b.String(), nil
}

// WriteError prints err as {"error": "..."} for --json callers.
func WriteError(w io.Writer, err error) error {
	out, mErr := marshal(map[string]string{"error": err.Error()})
	if mErr != nil {
		return mErr
	}
	_, wErr := fmt.Fprintln(w, out)
	return wErr
}

// StatusLine summarizes a batch run.
func StatusLine(processed, duplicates int) string {
	return fmt.Sprintf("Processed %d entries, skipped %d duplicates", processed, duplicates)
}

func marshal(data any) (string, error) {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// nonNil keeps empty reports as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func formatCost(c float64) string {
	return strconv.FormatFloat(c, 'f', 6, 64)
}
