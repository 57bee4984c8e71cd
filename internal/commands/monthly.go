package commands

import (
	"github.com/spf13/cobra"
)

func NewMonthlyCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "monthly",
		Short: "Show usage grouped by month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}

			res, err := e.runBatch(cmd.Context(), "monthly", nil)
			if err != nil {
				return err
			}

			report, err := e.formatter.FormatMonthlyReport(e.calc.GenerateMonthlyReport(res.Sessions, opts.Limit))
			if err != nil {
				return err
			}
			e.print(cmd.OutOrStdout(), cmd.ErrOrStderr(), report, res)
			return nil
		},
	}
}
