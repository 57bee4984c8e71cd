package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/sdpower/claude-usage/internal/batch"
	"github.com/sdpower/claude-usage/internal/calculator"
	"github.com/sdpower/claude-usage/internal/config"
	"github.com/sdpower/claude-usage/internal/dedup"
	"github.com/sdpower/claude-usage/internal/loader"
	"github.com/sdpower/claude-usage/internal/logging"
	"github.com/sdpower/claude-usage/internal/output"
	"github.com/sdpower/claude-usage/internal/pricing"
	"github.com/sdpower/claude-usage/internal/types"
)

// env is everything a subcommand needs once flags and config are merged.
type env struct {
	opts      *GlobalOptions
	cfg       config.Config
	log       *zap.SugaredLogger
	since     string
	until     string
	format    string
	pricing   *pricing.Service
	costs     *calculator.CostResolver
	calc      *calculator.Calculator
	formatter *output.Formatter
}

// setup loads configuration, initializes logging and validates the shared
// flags. Flags override config values.
func setup(opts *GlobalOptions) (*env, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if opts.Debug {
		level = "debug"
	}
	if err := logging.Init(level, cfg.Logging.Format); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	if opts.DataPath != "" {
		cfg.Paths.ClaudeHome = opts.DataPath
	}
	if opts.CostMode != "" {
		cfg.CostMode = opts.CostMode
	}
	mode, err := calculator.ParseCostMode(cfg.CostMode)
	if err != nil {
		return nil, err
	}

	format := opts.Format
	if opts.JSON {
		format = output.FormatJSON
	}
	if format, err = output.ParseFormat(format); err != nil {
		return nil, err
	}

	since, err := parseDate("since", opts.Since)
	if err != nil {
		return nil, err
	}
	until, err := parseDate("until", opts.Until)
	if err != nil {
		return nil, err
	}
	if since != "" && until != "" && since > until {
		return nil, &types.ValidationError{Field: "since", Message: fmt.Sprintf("%s is after --until %s", since, until)}
	}
	if opts.Limit < 0 {
		return nil, &types.ValidationError{Field: "limit", Message: "cannot be negative"}
	}

	log := logging.Named("cli")
	prices := pricing.NewService(pricing.Options{Offline: opts.Offline})
	calc := calculator.New()

	log.Debugw("Configuration loaded",
		"claude_home", cfg.Paths.ClaudeHome,
		"cost_mode", mode,
		"format", format,
		"since", since,
		"until", until,
	)

	return &env{
		opts:    opts,
		cfg:     cfg,
		log:     log,
		since:   since,
		until:   until,
		format:  format,
		pricing: prices,
		costs:   calculator.NewCostResolver(prices, mode),
		calc:    calc,
		formatter: output.NewFormatter(output.FormatterOptions{
			Format:     format,
			NoColor:    opts.NoColor,
			Calculator: calc,
		}),
	}, nil
}

// parseDate accepts YYYY-MM-DD or YYYYMMDD and returns YYYY-MM-DD.
func parseDate(field, s string) (string, error) {
	if s == "" {
		return "", nil
	}
	for _, layout := range []string{types.DayLayout, "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(types.DayLayout), nil
		}
	}
	return "", &types.ValidationError{Field: field, Message: fmt.Sprintf("invalid date %q, use YYYY-MM-DD or YYYYMMDD", s)}
}

// runBatch discovers, orders and replays the log files.
func (e *env) runBatch(ctx context.Context, command string, onAdmit batch.AdmitFunc) (batch.Result, error) {
	files, err := loader.Discover(e.cfg.Paths.ClaudeHome, e.opts.ExcludeVMs)
	if err != nil {
		return batch.Result{}, err
	}

	if e.since != "" {
		sinceTime, _ := time.Parse(types.DayLayout, e.since)
		files = loader.FilterByDate(files, sinceTime)
	}
	files = loader.SortByEarliestTimestamp(files)

	e.log.Debugw("Discovered log files", "count", len(files), "command", command)

	driver := batch.NewDriver(batch.Config{
		Source: loader.New(loader.Options{}),
		Cache: dedup.New(dedup.Options{
			Window:           e.cfg.Dedup.Window(),
			CleanupThreshold: e.cfg.Dedup.CleanupThreshold,
			Disabled:         !e.cfg.Dedup.Enabled,
		}),
		Costs:     e.costs,
		BatchSize: e.cfg.Processing.BatchSize,
	})

	return driver.Run(ctx, files, batch.Options{
		Command: command,
		Limit:   e.opts.Limit,
		Since:   e.since,
		Until:   e.until,
		OnAdmit: onAdmit,
	})
}

// print writes a rendered report and, for human-readable output, the
// batch status line on stderr.
func (e *env) print(stdout, stderr io.Writer, report string, res batch.Result) {
	fmt.Fprint(stdout, report)
	if e.format == output.FormatJSON {
		fmt.Fprintln(stdout)
		return
	}
	if e.format == output.FormatTable {
		fmt.Fprintln(stderr, output.StatusLine(res.Processed, res.Duplicates))
	}
}
