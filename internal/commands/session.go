package commands

import (
	"github.com/spf13/cobra"

	"github.com/sdpower/claude-usage/internal/batch"
)

func NewSessionCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show usage per session",
		Long: `Show usage per session directory, most recently active first.

With --limit N processing stops as soon as N sessions have data, so a small
limit on a large history returns quickly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}

			res, err := e.runBatch(cmd.Context(), batch.CommandSession, nil)
			if err != nil {
				return err
			}
			if res.StoppedEarly {
				e.log.Debugw("Stopped early", "limit", opts.Limit)
			}

			report, err := e.formatter.FormatSessionReport(res.Sessions)
			if err != nil {
				return err
			}
			e.print(cmd.OutOrStdout(), cmd.ErrOrStderr(), report, res)
			return nil
		},
	}
}
