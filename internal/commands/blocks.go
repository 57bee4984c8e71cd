package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/sdpower/claude-usage/internal/batch"
	"github.com/sdpower/claude-usage/internal/calculator"
	"github.com/sdpower/claude-usage/internal/display"
	"github.com/sdpower/claude-usage/internal/output"
	"github.com/sdpower/claude-usage/internal/types"
)

const defaultRecentDays = 3

func NewBlocksCommand(opts *GlobalOptions) *cobra.Command {
	var (
		live            bool
		active          bool
		recent          bool
		tokenLimit      string
		refreshInterval time.Duration
		timezone        string
	)

	cmd := &cobra.Command{
		Use:   "blocks",
		Short: "Show usage in 5-hour billing blocks",
		Long: `Group usage into 5-hour billing blocks, with idle gaps shown between them.

--token-limit takes a token count or "max", the largest completed block.
--live keeps a dashboard of the active block open and refreshes it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}

			loc := time.Local
			if timezone != "" {
				if loc, err = time.LoadLocation(timezone); err != nil {
					return &types.ValidationError{Field: "timezone", Message: err.Error()}
				}
			}

			if live {
				load := func(ctx context.Context) ([]types.SessionBlock, error) {
					blocks, _, err := e.loadBlocks(ctx)
					return blocks, err
				}
				blocks, err := load(cmd.Context())
				if err != nil {
					return err
				}
				limit, err := resolveTokenLimit(tokenLimit, blocks)
				if err != nil {
					return err
				}
				return display.RunBlocksLive(cmd.Context(), display.BlocksLiveConfig{
					Load:            load,
					Calculator:      e.calc,
					TokenLimit:      limit,
					RefreshInterval: refreshInterval,
					Timezone:        loc,
					NoColor:         opts.NoColor,
				})
			}

			blocks, res, err := e.loadBlocks(cmd.Context())
			if err != nil {
				return err
			}
			limit, err := resolveTokenLimit(tokenLimit, blocks)
			if err != nil {
				return err
			}

			switch {
			case active:
				blocks = lo.Filter(blocks, func(b types.SessionBlock, _ int) bool { return b.IsActive })
			case recent:
				blocks = e.calc.FilterRecentBlocks(blocks, defaultRecentDays)
			}
			if opts.Limit > 0 && len(blocks) > opts.Limit {
				blocks = blocks[len(blocks)-opts.Limit:]
			}

			formatter := output.NewFormatter(output.FormatterOptions{
				Format:     e.format,
				NoColor:    opts.NoColor,
				Timezone:   loc,
				Calculator: e.calc,
			})
			report, err := formatter.FormatBlocksReport(blocks, limit)
			if err != nil {
				return err
			}
			e.print(cmd.OutOrStdout(), cmd.ErrOrStderr(), report, res)
			return nil
		},
	}

	cmd.Flags().BoolVar(&live, "live", false, "Show a live dashboard of the active block")
	cmd.Flags().BoolVarP(&active, "active", "a", false, "Show only the active block")
	cmd.Flags().BoolVarP(&recent, "recent", "r", false, fmt.Sprintf("Show blocks from the last %d days", defaultRecentDays))
	cmd.Flags().StringVarP(&tokenLimit, "token-limit", "t", "", `Token limit for quota warnings (a number or "max")`)
	cmd.Flags().DurationVar(&refreshInterval, "refresh-interval", 5*time.Second, "Refresh interval for --live")
	cmd.Flags().StringVarP(&timezone, "timezone", "z", "", "Timezone for block times (e.g. UTC, Asia/Tokyo). Default: system timezone")

	return cmd
}

// loadBlocks replays the logs and groups every admitted record into blocks.
// OnAdmit is called from the goroutine running the driver, so entries needs
// no lock.
func (e *env) loadBlocks(ctx context.Context) ([]types.SessionBlock, batch.Result, error) {
	var entries []types.BlockEntry
	res, err := e.runBatch(ctx, "blocks", func(rec types.UsageRecord, cost float64) {
		at, ok := rec.Time()
		if !ok {
			return
		}
		entries = append(entries, types.BlockEntry{
			Time:   at,
			Model:  rec.ModelName(),
			Tokens: *rec.Message.Usage,
			Cost:   cost,
		})
	})
	if err != nil {
		return nil, res, err
	}
	return e.calc.IdentifySessionBlocks(entries, calculator.DefaultSessionDurationHours), res, nil
}

func resolveTokenLimit(s string, blocks []types.SessionBlock) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return 0, nil
	case "max":
		return calculator.GetMaxTokensFromBlocks(blocks), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, &types.ValidationError{Field: "token-limit", Message: fmt.Sprintf("%q is not a token count or \"max\"", s)}
	}
	return n, nil
}
