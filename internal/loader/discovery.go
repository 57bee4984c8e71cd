package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/sdpower/claude-usage/internal/types"
)

// SessionFile is a log file together with the session directory it belongs to.
type SessionFile struct {
	Path       string
	SessionDir string
}

// Discover lists <home>/projects/*/*.jsonl and, unless excludeVMs is set,
// <home>/vms/*/projects/*/*.jsonl. A missing home directory is an error; a
// home without logs yields an empty list.
func Discover(claudeHome string, excludeVMs bool) ([]SessionFile, error) {
	info, err := os.Stat(claudeHome)
	if err != nil {
		return nil, types.LoaderError{Path: claudeHome, Err: fmt.Errorf("%w: %v", types.ErrDataNotFound, err)}
	}
	if !info.IsDir() {
		return nil, types.LoaderError{Path: claudeHome, Err: fmt.Errorf("%w: not a directory", types.ErrInvalidConfig)}
	}

	roots := []string{claudeHome}
	if !excludeVMs {
		vms, _ := filepath.Glob(filepath.Join(claudeHome, "vms", "*"))
		sort.Strings(vms)
		roots = append(roots, vms...)
	}

	var files []SessionFile
	for _, root := range roots {
		matches, err := filepath.Glob(filepath.Join(root, "projects", "*", "*.jsonl"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, path := range matches {
			files = append(files, SessionFile{Path: path, SessionDir: filepath.Dir(path)})
		}
	}

	return lo.UniqBy(files, func(f SessionFile) string { return f.Path }), nil
}

// FilterByDate drops files last modified before since. A file modified after
// until may still hold earlier records, so until is left to record filtering.
func FilterByDate(files []SessionFile, since time.Time) []SessionFile {
	if since.IsZero() {
		return files
	}
	return lo.Filter(files, func(f SessionFile, _ int) bool {
		info, err := os.Stat(f.Path)
		if err != nil {
			return true
		}
		return !info.ModTime().Before(since)
	})
}

type fileWithTimestamp struct {
	file      SessionFile
	timestamp *time.Time
}

// SortByEarliestTimestamp orders files by the earliest timestamp found in
// their first 100 lines. Files without one go last, in their original order.
func SortByEarliestTimestamp(files []SessionFile) []SessionFile {
	withTimestamps := lo.Map(files, func(f SessionFile, _ int) fileWithTimestamp {
		ts, err := earliestTimestamp(f.Path)
		if err != nil {
			return fileWithTimestamp{file: f}
		}
		return fileWithTimestamp{file: f, timestamp: &ts}
	})

	sort.SliceStable(withTimestamps, func(i, j int) bool {
		a, b := withTimestamps[i], withTimestamps[j]
		if a.timestamp == nil {
			return false
		}
		if b.timestamp == nil {
			return true
		}
		return a.timestamp.Before(*b.timestamp)
	})

	return lo.Map(withTimestamps, func(f fileWithTimestamp, _ int) SessionFile { return f.file })
}

func earliestTimestamp(path string) (time.Time, error) {
	file, err := os.Open(path)
	if err != nil {
		return time.Time{}, err
	}
	defer file.Close()

	lines := NewLineReader(file)

	var earliest time.Time
	for n := 0; n < 100; n++ {
		line, err := lines.Next()
		if errors.Is(err, ErrLineTooLong) {
			continue
		}
		if err != nil {
			break
		}
		var head struct {
			Timestamp string `json:"timestamp"`
		}
		if err := json.Unmarshal(line, &head); err != nil {
			continue
		}
		t, err := types.ParseTimestamp(head.Timestamp)
		if err != nil {
			continue
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}

	if earliest.IsZero() {
		return time.Time{}, fmt.Errorf("%w: no timestamp in %s", types.ErrDataNotFound, filepath.Base(path))
	}
	return earliest, nil
}
