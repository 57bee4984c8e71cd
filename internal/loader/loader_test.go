package loader

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdpower/claude-usage/internal/types"
)

const assistantLine = `{"timestamp":"2025-06-01T10:00:00.123Z","requestId":"req_1","costUSD":0.004,"message":{"id":"msg_1","model":"claude-sonnet-4-20250514","usage":{"input_tokens":10,"output_tokens":20,"cache_creation_input_tokens":30,"cache_read_input_tokens":40}}}`

func writeFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	writeFile(t, path,
		assistantLine,
		``,
		`{"type":"user","timestamp":"2025-06-01T09:59:00Z","message":{"role":"user","content":"hi"}}`,
		`{"type":"summary","summary":"x"}`,
		`not json`,
		`{"timestamp":"2025-06-01T10:01:00Z","message":{"id":"m","usage":{"input_tokens":"ten"}}}`,
		`{"timestamp":"2025-06-01T10:02:00Z","requestId":"r","message":{"id":"m2","model":"<synthetic>","usage":{"input_tokens":0,"output_tokens":0}}}`,
		`{"timestamp":"2025-06-01T10:03:00Z","model":"claude-opus-4","message":{"usage":{"input_tokens":1,"output_tokens":2}}}`,
	)

	l := New(Options{})
	records, err := l.ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "msg_1", first.Message.ID)
	assert.Equal(t, "req_1", first.RequestID)
	require.NotNil(t, first.CostUSD)
	assert.InDelta(t, 0.004, *first.CostUSD, 1e-12)
	assert.Equal(t, types.TokenUsage{InputTokens: 10, OutputTokens: 20, CacheCreationInputTokens: 30, CacheReadInputTokens: 40}, *first.Message.Usage)

	key, ok := first.DedupKey()
	assert.True(t, ok)
	assert.Equal(t, types.DedupKey("msg_1:req_1"), key)

	assert.Equal(t, "claude-opus-4", records[1].ModelName())
	_, ok = records[1].DedupKey()
	assert.False(t, ok)

	stats := l.Stats()
	assert.Equal(t, int64(1), stats.Files)
	assert.Equal(t, int64(8), stats.Lines)
	assert.Equal(t, int64(2), stats.Records)
	assert.Equal(t, int64(2), stats.Malformed)
	assert.Equal(t, int64(3), stats.Skipped)
}

func TestParseFileMissing(t *testing.T) {
	_, err := New(Options{}).ParseFile(context.Background(), filepath.Join(t.TempDir(), "nope.jsonl"))
	require.Error(t, err)

	var loadErr types.LoaderError
	require.True(t, errors.As(err, &loadErr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParseFileHonoursLongLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.jsonl")
	padding := strings.Repeat("x", 200*1024)
	line := strings.Replace(assistantLine, `"requestId"`, `"pad":"`+padding+`","requestId"`, 1)
	writeFile(t, path, line)

	records, err := New(Options{}).ParseFile(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestParseFileSkipsLinesOverLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.jsonl")
	second := strings.NewReplacer("msg_1", "msg_2", "req_1", "req_2").Replace(assistantLine)
	huge := `{"timestamp":"2025-06-01T10:00:00Z","pad":"` + strings.Repeat("x", 2<<20) + `"}`
	writeFile(t, path, assistantLine, huge, second)

	l := New(Options{})
	records, err := l.ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "msg_1", records[0].Message.ID)
	assert.Equal(t, "msg_2", records[1].Message.ID)

	stats := l.Stats()
	assert.Equal(t, int64(3), stats.Lines)
	assert.Equal(t, int64(1), stats.Malformed)
}

func TestLineReader(t *testing.T) {
	huge := strings.Repeat("z", MaxLineSize+1)
	lr := NewLineReader(strings.NewReader("a\n" + huge + "\n\nb"))

	line, err := lr.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", string(line))

	_, err = lr.Next()
	assert.ErrorIs(t, err, ErrLineTooLong)
	assert.ErrorIs(t, err, types.ErrInvalidFormat)

	line, err = lr.Next()
	require.NoError(t, err)
	assert.Empty(t, line)

	line, err = lr.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", string(line), "last line without newline")

	_, err = lr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineReaderAcceptsLineAtLimit(t *testing.T) {
	exact := strings.Repeat("z", MaxLineSize)
	lr := NewLineReader(strings.NewReader(exact + "\n"))

	line, err := lr.Next()
	require.NoError(t, err)
	assert.Len(t, line, MaxLineSize)
}

func TestDecodeLine(t *testing.T) {
	rec, err := DecodeLine([]byte(assistantLine))
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", rec.ModelName())

	_, err = DecodeLine([]byte(`{"timestamp":"2025-06-01T10:00:00Z"}`))
	assert.ErrorIs(t, err, ErrNoUsage)

	_, err = DecodeLine([]byte(`{broken`))
	assert.ErrorIs(t, err, types.ErrInvalidFormat)
}

func TestParseTimestampVariants(t *testing.T) {
	for _, ts := range []string{
		"2025-06-01T10:00:00Z",
		"2025-06-01T10:00:00.123456Z",
		"2025-06-01T12:00:00+02:00",
		"2025-06-01T10:00:00",
		"2025-06-01 10:00:00.5",
	} {
		got, err := types.ParseTimestamp(ts)
		require.NoError(t, err, ts)
		assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), got.UTC().Truncate(time.Second), ts)
	}

	_, err := types.ParseTimestamp("yesterday")
	assert.Error(t, err)
}
