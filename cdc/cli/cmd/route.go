package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/cdc/cli/pkg/output"
	"github.com/leadpulse/leadpulse/cdc/internal/routing"
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Route leads with the active policy",
}

var routeLeadCmd = &cobra.Command{
	Use:   "lead <lead-id>...",
	Short: "Assign owners to one or more leads",
	Long: `Run the routing decision for each lead. The owner is chosen by segment and
region; a lead already held by that owner is left untouched.`,
	Example: `  lpctl route lead 00Q5e00000AbCdE
  lpctl route lead 00Q5e00000AbCdE 00Q5e00000FgHiJ --policy ./routing_policy.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd)
		if err != nil {
			return err
		}

		policyPath, _ := cmd.Flags().GetString("policy")
		if policyPath == "" {
			policyPath = b.cfg.Routing.PolicyPath
		}
		holder, err := routing.NewPolicyHolder(policyPath, b.logger)
		if err != nil {
			return fmt.Errorf("failed to load routing policy: %w", err)
		}

		router := routing.NewRouter(b.store, holder, b.emitter, b.logger)
		result := router.RouteBatch(cmd.Context(), args)
		if err := b.persist(); err != nil {
			return err
		}

		out := printer(cmd)
		if jsonOutput(cmd) {
			return out.JSON(result)
		}

		table := output.NewTable("LEAD", "OUTCOME", "SEGMENT", "REGION", "OWNER", "DETAIL")
		for _, d := range result.Decisions {
			detail := d.Error
			if detail == "" && d.PreviousOwnerID != "" {
				detail = "was " + d.PreviousOwnerID
			}
			table.AddRow(d.LeadID, d.Outcome, dash(d.Segment), dash(d.Region), dash(d.OwnerID), dash(detail))
		}
		out.Table(table)
		out.Info("%d leads: %d routed, %d skipped, %d failed (policy %s)",
			result.Total, result.Success, result.Skipped, result.Errors, holder.Version())
		if result.Errors > 0 {
			return fmt.Errorf("%d leads failed to route", result.Errors)
		}
		return nil
	},
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(routeCmd)
	routeCmd.AddCommand(routeLeadCmd)

	routeLeadCmd.Flags().String("policy", "", "routing policy file (default: routing.policy_path from the service config)")
}
