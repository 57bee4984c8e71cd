package commands

import (
	"github.com/spf13/cobra"
)

func NewDailyCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Show usage grouped by day",
		Long: `Show usage grouped by UTC day with a per-project breakdown.

With --limit N the last N calendar days are listed, including days without
usage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}

			res, err := e.runBatch(cmd.Context(), "daily", nil)
			if err != nil {
				return err
			}

			report, err := e.formatter.FormatDailyReport(e.calc.GenerateDailyReport(res.Sessions, opts.Limit))
			if err != nil {
				return err
			}
			e.print(cmd.OutOrStdout(), cmd.ErrOrStderr(), report, res)
			return nil
		},
	}
}
