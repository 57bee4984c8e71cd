package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdpower/claude-usage/internal/live"
	"github.com/sdpower/claude-usage/internal/types"
)

func usageLine(ts, msgID, reqID string, in, out int, cost float64) string {
	return fmt.Sprintf(`{"timestamp":%q,"requestId":%q,"costUSD":%g,"message":{"id":%q,"model":"claude-sonnet-4-20250514","usage":{"input_tokens":%d,"output_tokens":%d}}}`,
		ts, reqID, cost, msgID, in, out)
}

// claudeHome lays out <home>/projects/<dir>/<file>.jsonl fixtures.
func claudeHome(t *testing.T, files map[string][]string) string {
	t.Helper()
	home := t.TempDir()
	for rel, lines := range files {
		path := filepath.Join(home, "projects", rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	}
	return home
}

func run(t *testing.T, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var out, errOut bytes.Buffer
	code = Execute(context.Background(), args, &out, &errOut)
	return out.String(), errOut.String(), code
}

func TestDailyJSONDeduplicatesAcrossFiles(t *testing.T) {
	home := claudeHome(t, map[string][]string{
		"-home-u-projects-api/a.jsonl": {
			usageLine("2025-06-01T10:00:00Z", "m1", "r1", 100, 50, 0.004),
			usageLine("2025-06-01T11:00:00Z", "m2", "r2", 10, 5, 0.001),
		},
		"-home-u-projects-api/b.jsonl": {
			usageLine("2025-06-01T10:00:00Z", "m1", "r1", 100, 50, 0.004),
			usageLine("2025-06-01T12:00:00Z", "m3", "r3", 20, 10, 0.002),
		},
	})

	stdout, _, code := run(t, "daily", "--json", "--offline", "--cost-mode", "display", "--data-path", home)
	require.Equal(t, 0, code, stdout)

	var got struct {
		Daily []types.DailyData `json:"daily"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	require.Len(t, got.Daily, 1)
	assert.Equal(t, "2025-06-01", got.Daily[0].Date)
	assert.InDelta(t, 0.007, got.Daily[0].TotalCost, 1e-9)
}

func TestSessionTablePrintsStatusLine(t *testing.T) {
	home := claudeHome(t, map[string][]string{
		"-home-u-projects-api/a.jsonl": {
			usageLine("2025-06-01T10:00:00Z", "m1", "r1", 100, 50, 0.004),
			usageLine("2025-06-01T10:00:00Z", "m1", "r1", 100, 50, 0.004),
		},
	})

	stdout, stderr, code := run(t, "session", "--no-color", "--offline", "--data-path", home)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Claude Usage Report - By Session")
	assert.Contains(t, stdout, "$0.00")
	assert.Contains(t, stderr, "Processed 2 entries, skipped 1 duplicates")
}

func TestSinceUntilFilterRecords(t *testing.T) {
	home := claudeHome(t, map[string][]string{
		"p/a.jsonl": {
			usageLine("2025-05-31T23:00:00Z", "m1", "r1", 1, 1, 1),
			usageLine("2025-06-01T10:00:00Z", "m2", "r2", 1, 1, 2),
			usageLine("2025-06-02T10:00:00Z", "m3", "r3", 1, 1, 4),
		},
	})

	stdout, _, code := run(t, "monthly", "--json", "--offline", "--data-path", home, "--since", "20250601", "--until", "2025-06-01")
	require.Equal(t, 0, code, stdout)
	assert.JSONEq(t, `{"monthly": [{"month": "2025-06", "totalCost": 2, "totalSessions": 1}]}`, stdout)
}

func TestJSONErrorOutput(t *testing.T) {
	stdout, _, code := run(t, "daily", "--json", "--since", "June 1st")
	assert.Equal(t, 1, code)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Contains(t, got["error"], "invalid date")
}

func TestMissingDataPathFails(t *testing.T) {
	_, stderr, code := run(t, "weekly", "--offline", "--data-path", filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error:")
}

func TestBlocksCSV(t *testing.T) {
	home := claudeHome(t, map[string][]string{
		"p/a.jsonl": {
			usageLine("2025-06-01T10:05:00Z", "m1", "r1", 100, 50, 0.5),
			usageLine("2025-06-01T11:00:00Z", "m2", "r2", 100, 50, 0.5),
			usageLine("2025-06-02T10:00:00Z", "m3", "r3", 10, 5, 0.1),
		},
	})

	stdout, _, code := run(t, "blocks", "--format", "csv", "--offline", "--data-path", home)
	require.Equal(t, 0, code, stdout)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 4, "two blocks with a gap between them")
	assert.True(t, strings.HasPrefix(lines[1], "2025-06-01T10:00:00Z"))
	assert.Contains(t, lines[1], ",300,1.000000,")
	assert.Contains(t, lines[2], ",true,")
}

func TestParseDate(t *testing.T) {
	for in, want := range map[string]string{"": "", "2025-06-01": "2025-06-01", "20250601": "2025-06-01"} {
		got, err := parseDate("since", in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := parseDate("since", "2025/06/01")
	assert.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestResolveTokenLimit(t *testing.T) {
	blocks := []types.SessionBlock{
		{TokenCounts: types.TokenUsage{InputTokens: 500}},
		{TokenCounts: types.TokenUsage{InputTokens: 900}},
		{IsActive: true, TokenCounts: types.TokenUsage{InputTokens: 5000}},
	}

	n, err := resolveTokenLimit("max", blocks)
	require.NoError(t, err)
	assert.Equal(t, 900, n)

	n, err = resolveTokenLimit("20000", nil)
	require.NoError(t, err)
	assert.Equal(t, 20000, n)

	n, err = resolveTokenLimit("", nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = resolveTokenLimit("lots", nil)
	assert.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestLiveRejectsConflictingBaselineFlags(t *testing.T) {
	_, stderr, code := run(t, "live", "--no-baseline", "--refresh-baseline")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "refresh-baseline")
}

func TestLiveSnapshotWithoutBackups(t *testing.T) {
	t.Setenv("CLAUDE_USAGE_PATHS_BACKUP_DIR", filepath.Join(t.TempDir(), "none"))
	stdout, stderr, code := run(t, "live", "--snapshot", "--no-baseline", "--no-color")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Total: $0.00 | Tokens: 0.0M | Sessions: 0")
	assert.Contains(t, stdout, "Last backup: never")
}

func TestStatusText(t *testing.T) {
	boom := errors.New("pipe closed")
	assert.Equal(t, "streaming", statusText(live.StateStreaming, nil, 0, 3))
	assert.Equal(t, "reconnecting (attempt 2/3): pipe closed", statusText(live.StateRestarting, boom, 1, 3))
	assert.Equal(t, "failed: pipe closed", statusText(live.StateFailed, boom, 3, 3))
}
