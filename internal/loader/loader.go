// Package loader reads usage records from Claude JSONL logs.
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sdpower/claude-usage/internal/logging"
	"github.com/sdpower/claude-usage/internal/types"
)

const (
	// MaxLineSize bounds a single JSONL line.
	MaxLineSize = 1024 * 1024

	syntheticModel = "<synthetic>"
)

// ErrNoUsage marks a well-formed line that carries no usage data, such as
// user prompts and summaries.
var ErrNoUsage = fmt.Errorf("%w: no usage data", types.ErrDataNotFound)

// ParseStats counts lines across every file a Loader has read.
type ParseStats struct {
	Files     int64
	Lines     int64
	Records   int64
	Malformed int64
	Skipped   int64
}

type Options struct {
	Logger *zap.SugaredLogger
}

// Loader parses log files. It is safe for concurrent use.
type Loader struct {
	log *zap.SugaredLogger

	files     atomic.Int64
	lines     atomic.Int64
	records   atomic.Int64
	malformed atomic.Int64
	skipped   atomic.Int64
}

func New(opts Options) *Loader {
	if opts.Logger == nil {
		opts.Logger = logging.Named("loader")
	}
	return &Loader{log: opts.Logger}
}

// ParseFile returns every usage-bearing record in path, in file order.
// Malformed and oversized lines are counted and dropped; only a failure to
// open or read the file is returned as an error.
func (l *Loader) ParseFile(ctx context.Context, path string) ([]types.UsageRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, types.LoaderError{Path: path, Err: err}
	}
	defer file.Close()

	lines := NewLineReader(file)

	var (
		records   []types.UsageRecord
		lineNum   int
		malformed int
		skipped   int
	)

	for {
		raw, err := lines.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		lineNum++
		if lineNum%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		if errors.Is(err, ErrLineTooLong) {
			malformed++
			l.log.Debugw("skipping oversized line", "file", filepath.Base(path), "error", types.ParseError{Line: lineNum, Err: err})
			continue
		}
		if err != nil {
			return nil, types.LoaderError{Path: path, Err: err}
		}

		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}

		rec, err := DecodeLine(line)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoUsage):
			skipped++
			continue
		default:
			malformed++
			if malformed == 1 {
				l.log.Debugw("skipping malformed line", "file", filepath.Base(path), "error", types.ParseError{Line: lineNum, Err: err})
			}
			continue
		}

		if rec.ModelName() == syntheticModel {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	l.files.Add(1)
	l.lines.Add(int64(lineNum))
	l.records.Add(int64(len(records)))
	l.malformed.Add(int64(malformed))
	l.skipped.Add(int64(skipped))

	if malformed > 0 {
		l.log.Debugw("file had malformed lines", "file", filepath.Base(path), "count", malformed)
	}

	return records, nil
}

func (l *Loader) Stats() ParseStats {
	return ParseStats{
		Files:     l.files.Load(),
		Lines:     l.lines.Load(),
		Records:   l.records.Load(),
		Malformed: l.malformed.Load(),
		Skipped:   l.skipped.Load(),
	}
}

// DecodeLine decodes one JSONL line. Lines without message usage return
// ErrNoUsage.
func DecodeLine(line []byte) (types.UsageRecord, error) {
	var rec types.UsageRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return types.UsageRecord{}, fmt.Errorf("%w: %v", types.ErrInvalidFormat, err)
	}
	if rec.Message.Usage == nil {
		return rec, ErrNoUsage
	}
	return rec, nil
}
