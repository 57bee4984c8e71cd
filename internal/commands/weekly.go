package commands

import (
	"github.com/spf13/cobra"
)

func NewWeeklyCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "weekly",
		Short: "Show usage grouped by week",
		Long:  `Show usage grouped by ISO week, starting Monday.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}

			res, err := e.runBatch(cmd.Context(), "weekly", nil)
			if err != nil {
				return err
			}

			report, err := e.formatter.FormatWeeklyReport(e.calc.GenerateWeeklyReport(res.Sessions, opts.Limit))
			if err != nil {
				return err
			}
			e.print(cmd.OutOrStdout(), cmd.ErrOrStderr(), report, res)
			return nil
		},
	}
}
