// Package commands wires the cobra command tree onto the batch and live
// engines.
package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sdpower/claude-usage/internal/logging"
	"github.com/sdpower/claude-usage/internal/output"
)

// GlobalOptions holds the persistent flags shared by every subcommand.
type GlobalOptions struct {
	JSON       bool
	Format     string
	Limit      int
	Since      string
	Until      string
	CostMode   string
	ExcludeVMs bool
	DataPath   string
	ConfigPath string
	Debug      bool
	NoColor    bool
	Offline    bool
}

func NewRootCommand(opts *GlobalOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "claude-usage",
		Short: "Claude Code usage analysis tool",
		Long: `Analyze Claude Code usage from local JSONL logs.

Batch reports replay historical logs with duplicate suppression; the live
command streams new records from claude-keeper into a terminal dashboard.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&opts.JSON, "json", false, "Output JSON (shorthand for --format json)")
	flags.StringVarP(&opts.Format, "format", "f", output.FormatTable, "Output format (table, json, csv)")
	flags.IntVarP(&opts.Limit, "limit", "n", 0, "Show only the most recent N rows (0 = all)")
	flags.StringVarP(&opts.Since, "since", "s", "", "Only include records on or after this date (YYYY-MM-DD or YYYYMMDD)")
	flags.StringVarP(&opts.Until, "until", "u", "", "Only include records on or before this date (YYYY-MM-DD or YYYYMMDD)")
	flags.StringVar(&opts.CostMode, "cost-mode", "", "Cost calculation mode (auto, calculate, display)")
	flags.BoolVar(&opts.ExcludeVMs, "exclude-vms", false, "Skip logs under <claude-home>/vms")
	flags.StringVar(&opts.DataPath, "data-path", "", "Path to the Claude data directory")
	flags.StringVar(&opts.ConfigPath, "config", "", "Path to a YAML config file")
	flags.BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&opts.NoColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&opts.Offline, "offline", false, "Use built-in pricing only, never fetch")

	rootCmd.AddCommand(
		NewDailyCommand(opts),
		NewWeeklyCommand(opts),
		NewMonthlyCommand(opts),
		NewSessionCommand(opts),
		NewBlocksCommand(opts),
		NewLiveCommand(opts),
	)

	return rootCmd
}

// Execute runs the command tree and returns the process exit code. Under
// --json a failure is reported as a single {"error": ...} line on stdout.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts GlobalOptions
	rootCmd := NewRootCommand(&opts)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	defer logging.Sync() //nolint:errcheck

	if err == nil {
		return 0
	}
	if opts.JSON || opts.Format == output.FormatJSON {
		if wErr := output.WriteError(stdout, err); wErr == nil {
			return 1
		}
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}
