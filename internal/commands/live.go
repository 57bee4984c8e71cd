package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sdpower/claude-usage/internal/dedup"
	"github.com/sdpower/claude-usage/internal/display"
	"github.com/sdpower/claude-usage/internal/live"
	"github.com/sdpower/claude-usage/internal/output"
	"github.com/sdpower/claude-usage/internal/types"
)

func NewLiveCommand(opts *GlobalOptions) *cobra.Command {
	var (
		noBaseline      bool
		refreshBaseline bool
		snapshot        bool
	)

	cmd := &cobra.Command{
		Use:   "live",
		Short: "Stream usage from claude-keeper into a live dashboard",
		Long: `Stream new usage records from "claude-keeper watch --json" and show
running totals on top of the parquet backup baseline.

Without a baseline flag the backups are refreshed only when none is newer
than five minutes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noBaseline && refreshBaseline {
				return &types.ValidationError{Field: "no-baseline", Message: "cannot be combined with --refresh-baseline"}
			}

			e, err := setup(opts)
			if err != nil {
				return err
			}

			mode := live.BaselineAuto
			switch {
			case noBaseline:
				mode = live.BaselineSkip
			case refreshBaseline:
				mode = live.BaselineRefresh
			}

			orch, dash := e.newOrchestrator(mode)

			if snapshot {
				return e.printSnapshot(cmd.OutOrStdout(), orch.LoadBaseline(cmd.Context()))
			}

			if err := display.RequireTTY(); err != nil {
				return err
			}
			return e.runLive(cmd.Context(), orch, dash)
		},
	}

	cmd.Flags().BoolVar(&noBaseline, "no-baseline", false, "Start totals from zero instead of the parquet backups")
	cmd.Flags().BoolVar(&refreshBaseline, "refresh-baseline", false, "Run claude-keeper backup before loading the baseline")
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "Print the baseline totals once and exit")

	return cmd
}

// dashboardRef lets the orchestrator's state callback reach a dashboard
// created after it.
type dashboardRef struct {
	dash *display.Dashboard
}

func (e *env) newOrchestrator(mode live.BaselineMode) (*live.Orchestrator, *dashboardRef) {
	keeper := e.cfg.Live.KeeperPath
	maxRestarts := e.cfg.Live.MaxRestartAttempts

	var cache *dedup.Cache
	if e.cfg.Dedup.Enabled {
		cache = dedup.New(dedup.Options{
			Window:           e.cfg.Dedup.Window(),
			CleanupThreshold: e.cfg.Dedup.CleanupThreshold,
		})
	}

	ref := &dashboardRef{}
	var orch *live.Orchestrator
	orch = live.NewOrchestrator(live.Config{
		Spawner: live.KeeperSpawner{Path: keeper},
		Baseline: &live.BaselineLoader{
			Dir:    e.cfg.Paths.BackupDir,
			Reader: &live.ParquetReader{},
			Backup: live.KeeperBackup{Path: keeper},
		},
		BaselineMode: mode,
		Pricing:      e.pricing,
		Dedup:        cache,
		MaxRestarts:  maxRestarts,
		OnState: func(s live.State, err error) {
			if ref.dash == nil {
				return
			}
			status := statusText(s, err, orch.Restarts(), maxRestarts)
			if s == live.StateFailed {
				ref.dash.Fail(status)
				return
			}
			ref.dash.SetStatus(status)
		},
	})
	return orch, ref
}

// runLive runs the orchestrator and dashboard side by side. Quitting the
// dashboard cancels the stream; a failed stream closes the dashboard and its
// error is returned.
func (e *env) runLive(parent context.Context, orch *live.Orchestrator, ref *dashboardRef) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	baseline := orch.LoadBaseline(ctx)
	updates := make(chan live.Update, e.cfg.Live.UpdateChannelBuffer)

	ref.dash = display.NewDashboard(ctx, display.NewModel(baseline, updates, display.Options{
		Tick:    e.cfg.Live.TickInterval,
		NoColor: e.opts.NoColor,
	}))

	streamErr := make(chan error, 1)
	go func() {
		streamErr <- orch.Run(ctx, updates)
	}()

	uiErr := ref.dash.Run()
	cancel()
	err := <-streamErr

	sessions, cost, tokens := orch.Summary()
	e.log.Infow("Live session ended",
		"sessions", sessions,
		"cost", cost,
		"tokens", tokens,
		"restarts", orch.Restarts(),
	)

	if uiErr != nil {
		return fmt.Errorf("dashboard: %w", uiErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func statusText(s live.State, err error, restarts, maxRestarts int) string {
	switch s {
	case live.StateStarting:
		return "starting claude-keeper"
	case live.StateStreaming:
		return "streaming"
	case live.StateRestarting:
		return fmt.Sprintf("reconnecting (attempt %d/%d): %v", restarts+1, maxRestarts, err)
	case live.StateFailed:
		return fmt.Sprintf("failed: %v", err)
	case live.StateStopped:
		return "claude-keeper stopped"
	default:
		return s.String()
	}
}

// printSnapshot prints the baseline once, as JSON or a totals line.
func (e *env) printSnapshot(w io.Writer, b live.BaselineSummary) error {
	if e.format == output.FormatJSON {
		out, err := e.formatter.FormatJSON(b)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, out)
		return err
	}

	fmt.Fprintln(w, display.NewLiveDisplay(b).FormatTotals())
	if b.LastBackup.IsZero() {
		fmt.Fprintln(w, "Last backup: never")
	} else {
		fmt.Fprintf(w, "Last backup: %s (%s)\n", b.LastBackup.Format("2006-01-02 15:04:05"), humanize.Time(b.LastBackup))
	}
	return nil
}
