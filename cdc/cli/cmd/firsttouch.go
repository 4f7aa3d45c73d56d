package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/cdc/cli/pkg/output"
	"github.com/leadpulse/leadpulse/cdc/internal/firsttouch"
)

var firstTouchCmd = &cobra.Command{
	Use:     "firsttouch",
	Aliases: []string{"ft"},
	Short:   "First-response detection commands",
}

var firstTouchFindCmd = &cobra.Command{
	Use:   "find <lead-id>...",
	Short: "Find and record the first response for leads",
	Long: `Look up the earliest completed Task and the earliest EmailMessage for each
lead and record the earlier one when it beats what the lead already holds.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd)
		if err != nil {
			return err
		}
		resolver := firsttouch.NewResolver(b.store, b.emitter, b.logger)

		results := make([]firsttouch.Result, 0, len(args))
		failed := 0
		for _, id := range args {
			res, err := resolver.FindAndRecord(cmd.Context(), id)
			if err != nil {
				failed++
				res.Reason = err.Error()
			}
			results = append(results, res)
		}
		if err := b.persist(); err != nil {
			return err
		}

		out := printer(cmd)
		if jsonOutput(cmd) {
			if err := out.JSON(results); err != nil {
				return err
			}
		} else {
			table := output.NewTable("LEAD", "STATUS", "SOURCE", "RESPONDER", "FIRST RESPONSE", "TTFR", "DETAIL")
			for _, r := range results {
				at, ttfr := "-", "-"
				if !r.FirstResponseAt.IsZero() {
					at = r.FirstResponseAt.UTC().Format(time.RFC3339)
					ttfr = fmt.Sprintf("%dm", r.TTFRMinutes)
				}
				table.AddRow(r.LeadID, string(r.Status), dash(string(r.Source)), dash(r.ResponderID), at, ttfr, dash(r.Reason))
			}
			out.Table(table)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d leads failed", failed, len(args))
		}
		return nil
	},
}

var firstTouchBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Record first responses for recent leads that have none",
	Example: `  lpctl firsttouch backfill --since 30d
  lpctl ft backfill --since 72h -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sinceFlag, _ := cmd.Flags().GetString("since")
		window, err := parseDuration(sinceFlag)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}

		b, err := openBackend(cmd)
		if err != nil {
			return err
		}
		resolver := firsttouch.NewResolver(b.store, b.emitter, b.logger)

		result, err := resolver.Backfill(cmd.Context(), time.Now().Add(-window))
		if perr := b.persist(); perr != nil && err == nil {
			err = perr
		}
		if err != nil {
			return err
		}

		out := printer(cmd)
		if jsonOutput(cmd) {
			return out.JSON(result)
		}
		out.Success("Backfilled %d leads created in the last %s", result.Total, sinceFlag)
		table := output.NewTable("UPDATED", "SKIPPED", "ABSENT", "ERRORS")
		table.AddRow(fmt.Sprint(result.Updated), fmt.Sprint(result.Skipped), fmt.Sprint(result.Absent), fmt.Sprint(result.Errors))
		out.Table(table)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(firstTouchCmd)
	firstTouchCmd.AddCommand(firstTouchFindCmd, firstTouchBackfillCmd)

	firstTouchBackfillCmd.Flags().String("since", "30d", "look back this far for leads (e.g. 72h, 30d)")
}
