package live

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"github.com/sdpower/claude-usage/internal/logging"
)

// StaleAfter is how old the newest backup may be before a refresh is due.
const StaleAfter = 5 * time.Minute

// BaselineSummary is the historical usage that seeds the live totals.
type BaselineSummary struct {
	TotalCost     float64   `json:"totalCost"`
	TotalTokens   int64     `json:"totalTokens"`
	SessionsToday int       `json:"sessionsToday"`
	LastBackup    time.Time `json:"lastBackup"`
}

// BaselineMode selects how the baseline is obtained at startup.
type BaselineMode int

const (
	BaselineLoad BaselineMode = iota
	BaselineSkip
	BaselineRefresh
	// BaselineAuto refreshes only when the backups are stale.
	BaselineAuto
)

func (m BaselineMode) String() string {
	switch m {
	case BaselineSkip:
		return "skip"
	case BaselineRefresh:
		return "refresh"
	case BaselineAuto:
		return "auto"
	default:
		return "load"
	}
}

// SummaryReader reads the baseline out of a backup directory.
type SummaryReader interface {
	ReadSummary(ctx context.Context, dir string) (BaselineSummary, error)
}

// BackupRunner asks the keeper to write a fresh backup.
type BackupRunner interface {
	Backup(ctx context.Context) error
}

// BaselineLoader resolves the startup baseline. Load never fails: a failed
// refresh falls back to the existing backups, and an unreadable backup
// directory falls back to an empty summary.
type BaselineLoader struct {
	Dir    string
	Reader SummaryReader
	Backup BackupRunner
	Now    func() time.Time
	Logger *zap.SugaredLogger
}

func (b *BaselineLoader) logger() *zap.SugaredLogger {
	if b.Logger == nil {
		return logging.Named("baseline")
	}
	return b.Logger
}

func (b *BaselineLoader) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

func (b *BaselineLoader) Load(ctx context.Context, mode BaselineMode) BaselineSummary {
	log := b.logger()
	if mode == BaselineAuto {
		mode = BaselineLoad
		if b.ShouldRefresh() {
			mode = BaselineRefresh
		}
	}
	switch mode {
	case BaselineSkip:
		log.Infow("Baseline disabled, starting from zero")
		return BaselineSummary{}
	case BaselineRefresh:
		if b.Backup != nil {
			if err := b.Backup.Backup(ctx); err != nil {
				log.Warnw("Keeper backup failed, loading existing data", "error", err)
			}
		}
	}
	return b.read(ctx)
}

func (b *BaselineLoader) read(ctx context.Context) BaselineSummary {
	log := b.logger()
	if b.Reader == nil {
		return BaselineSummary{}
	}
	if _, err := os.Stat(b.Dir); err != nil {
		log.Infow("No backup directory found, using empty baseline", "dir", b.Dir)
		return BaselineSummary{}
	}
	summary, err := b.Reader.ReadSummary(ctx, b.Dir)
	if err != nil {
		log.Warnw("Failed to read baseline, using empty baseline", "dir", b.Dir, "error", err)
		return BaselineSummary{}
	}
	log.Infow("Loaded baseline summary",
		"total_cost", summary.TotalCost,
		"total_tokens", summary.TotalTokens,
		"sessions_today", summary.SessionsToday,
	)
	return summary
}

// ShouldRefresh reports whether no parquet backup is newer than StaleAfter.
func (b *BaselineLoader) ShouldRefresh() bool {
	files, err := parquetFiles(b.Dir)
	if err != nil || len(files) == 0 {
		return true
	}
	now := b.now()
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= StaleAfter {
			return false
		}
	}
	return true
}

func parquetFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".parquet") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// ParquetReader sums keeper parquet backups with an in-memory DuckDB.
type ParquetReader struct {
	Now    func() time.Time
	Logger *zap.SugaredLogger
}

const fileSummaryQuery = `
SELECT
	CAST(COALESCE(SUM("costUSD"), 0) AS DOUBLE),
	CAST(COALESCE(SUM(input_tokens), 0) + COALESCE(SUM(output_tokens), 0) AS BIGINT),
	COUNT(DISTINCT CASE
		WHEN LEFT(CAST("timestamp" AS VARCHAR), 10) = ?
		THEN "sessionId" END)
FROM read_parquet('%s', union_by_name = true)`

func (r *ParquetReader) ReadSummary(ctx context.Context, dir string) (BaselineSummary, error) {
	log := r.Logger
	if log == nil {
		log = logging.Named("parquet")
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	files, err := parquetFiles(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return BaselineSummary{}, nil
		}
		return BaselineSummary{}, fmt.Errorf("list backups: %w", err)
	}
	if len(files) == 0 {
		log.Warnw("No parquet files found in backup directory", "dir", dir)
		return BaselineSummary{}, nil
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return BaselineSummary{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	today := now().UTC().Format("2006-01-02")
	var summary BaselineSummary
	for _, f := range files {
		if info, err := os.Stat(f); err == nil && info.ModTime().After(summary.LastBackup) {
			summary.LastBackup = info.ModTime()
		}

		var (
			cost     float64
			tokens   int64
			sessions int
		)
		query := fmt.Sprintf(fileSummaryQuery, strings.ReplaceAll(f, "'", "''"))
		if err := db.QueryRowContext(ctx, query, today).Scan(&cost, &tokens, &sessions); err != nil {
			if ctx.Err() != nil {
				return BaselineSummary{}, ctx.Err()
			}
			log.Warnw("Failed to read parquet file, skipping", "file", f, "error", err)
			continue
		}
		summary.TotalCost += cost
		summary.TotalTokens += tokens
		summary.SessionsToday += sessions
	}

	log.Debugw("Read parquet backups", "files", len(files), "last_backup", summary.LastBackup)
	return summary, nil
}

// KeeperBackup runs `<keeper> backup --quiet`.
type KeeperBackup struct {
	Path string
}

func (k KeeperBackup) Backup(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, k.Path, "backup", "--quiet").CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %s not found in PATH", ErrSpawn, k.Path)
		}
		return fmt.Errorf("%s backup: %w: %s", k.Path, err, strings.TrimSpace(string(out)))
	}
	return nil
}
