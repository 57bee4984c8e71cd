// Package batch replays historical log files through the dedup cache and
// session aggregator.
package batch

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sdpower/claude-usage/internal/aggregator"
	"github.com/sdpower/claude-usage/internal/calculator"
	"github.com/sdpower/claude-usage/internal/dedup"
	"github.com/sdpower/claude-usage/internal/loader"
	"github.com/sdpower/claude-usage/internal/logging"
	"github.com/sdpower/claude-usage/internal/types"
)

const (
	DefaultBatchSize = 10

	// CommandSession is the report that lists recent sessions and supports
	// early exit.
	CommandSession = "session"
)

// RecordSource parses one log file.
type RecordSource interface {
	ParseFile(ctx context.Context, path string) ([]types.UsageRecord, error)
}

// AdmitFunc observes each record that passed dedup and was aggregated.
type AdmitFunc func(rec types.UsageRecord, cost float64)

type Options struct {
	Command string
	Limit   int
	// Since and Until bound record days, inclusive, as YYYY-MM-DD. Empty
	// means unbounded.
	Since string
	Until string
	// OnAdmit, when set, is called for every aggregated record in order.
	OnAdmit AdmitFunc
}

type Result struct {
	Sessions     []types.SessionOutput
	Processed    int
	Duplicates   int
	Filtered     int
	FailedFiles  int
	StoppedEarly bool
	Elapsed      time.Duration
}

type Driver struct {
	source    RecordSource
	cache     *dedup.Cache
	costs     *calculator.CostResolver
	batchSize int
	log       *zap.SugaredLogger
}

type Config struct {
	Source    RecordSource
	Cache     *dedup.Cache
	Costs     *calculator.CostResolver
	BatchSize int
	Logger    *zap.SugaredLogger
}

func NewDriver(cfg Config) *Driver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Cache == nil {
		cfg.Cache = dedup.New(dedup.Options{})
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Named("batch")
	}
	return &Driver{
		source:    cfg.Source,
		cache:     cfg.Cache,
		costs:     cfg.Costs,
		batchSize: cfg.BatchSize,
		log:       cfg.Logger,
	}
}

type parsedFile struct {
	records  []types.UsageRecord
	resolver aggregator.DirResolver
	failed   bool
}

// Run processes files, which must already be sorted by earliest timestamp.
// Files are parsed concurrently one chunk at a time; records are then applied
// strictly in file order so dedup decisions are repeatable.
func (d *Driver) Run(ctx context.Context, files []loader.SessionFile, opts Options) (Result, error) {
	start := time.Now()
	agg := aggregator.New()
	var res Result

	earlyExit := opts.Command == CommandSession && opts.Limit > 0

	for _, chunk := range lo.Chunk(files, d.batchSize) {
		if earlyExit && agg.Len() >= opts.Limit {
			res.StoppedEarly = true
			break
		}

		parsed, err := d.parseChunk(ctx, chunk)
		if err != nil {
			return res, err
		}

		for _, pf := range parsed {
			if pf.failed {
				res.FailedFiles++
				continue
			}
			for _, rec := range pf.records {
				d.apply(ctx, agg, rec, pf.resolver, opts, &res)
			}
		}
	}

	res.Sessions = agg.Sessions()
	if opts.Command == CommandSession {
		aggregator.SortByLastActivity(res.Sessions)
		if opts.Limit > 0 && len(res.Sessions) > opts.Limit {
			res.Sessions = res.Sessions[:opts.Limit]
		}
	}
	res.Elapsed = time.Since(start)

	d.log.Debugw("batch complete",
		"files", len(files),
		"processed", res.Processed,
		"duplicates", res.Duplicates,
		"failed_files", res.FailedFiles,
		"sessions", len(res.Sessions),
		"dedup_keys", d.cache.Len(),
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// parseChunk parses every file of chunk concurrently. Each goroutine writes
// only its own slot, so results keep chunk order.
func (d *Driver) parseChunk(ctx context.Context, chunk []loader.SessionFile) ([]parsedFile, error) {
	parsed := make([]parsedFile, len(chunk))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.batchSize)

	for i, f := range chunk {
		g.Go(func() error {
			records, err := d.source.ParseFile(gctx, f.Path)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				d.log.Warnw("skipping unreadable file", "file", f.Path, "error", err)
				parsed[i] = parsedFile{failed: true}
				return nil
			}
			parsed[i] = parsedFile{records: records, resolver: aggregator.NewDirResolver(f.SessionDir)}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return parsed, nil
}

func (d *Driver) apply(ctx context.Context, agg *aggregator.Aggregator, rec types.UsageRecord, resolver aggregator.SessionResolver, opts Options, res *Result) {
	if !rec.HasUsage() {
		return
	}

	if opts.Since != "" || opts.Until != "" {
		day := rec.Day()
		if day == types.UnknownDay || (opts.Since != "" && day < opts.Since) || (opts.Until != "" && day > opts.Until) {
			res.Filtered++
			return
		}
	}

	res.Processed++

	if !d.cache.Admit(rec) {
		res.Duplicates++
		d.log.Debugw("skipping duplicate", "message_id", rec.Message.ID, "request_id", rec.RequestID)
		return
	}

	cost := d.costs.Resolve(ctx, rec)
	if _, ok := agg.Apply(rec, cost, resolver.Resolve(rec)); ok && opts.OnAdmit != nil {
		opts.OnAdmit(rec, cost)
	}
}
