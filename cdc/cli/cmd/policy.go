package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/cdc/cli/pkg/output"
	"github.com/leadpulse/leadpulse/cdc/internal/routing"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Routing policy commands",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check a routing policy file",
	Long:  "Parse and validate a routing policy without touching any lead. Defaults to routing.policy_path from the service config.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			svc, err := serviceConfig(cmd)
			if err != nil {
				return err
			}
			path = svc.Routing.PolicyPath
		}
		if path == "" {
			return fmt.Errorf("no policy path given and routing.policy_path is not set")
		}

		p, err := routing.LoadPolicy(path)
		if err != nil {
			return fmt.Errorf("invalid policy %s: %w", path, err)
		}

		out := printer(cmd)
		if jsonOutput(cmd) {
			return out.JSON(p)
		}
		out.Success("Policy %s is valid (version %s)", path, p.Version)

		segments := output.NewTable("SEGMENT", "EMPLOYEES", "PRIORITY", "SLA")
		for _, name := range sortedKeys(p.Segments) {
			seg := p.Segments[name]
			employees := fmt.Sprintf("%d+", seg.EmployeeRange.Min)
			if seg.EmployeeRange.Max != nil {
				employees = fmt.Sprintf("%d-%d", seg.EmployeeRange.Min, *seg.EmployeeRange.Max)
			}
			sla := "-"
			if seg.SLAHours != nil {
				sla = fmt.Sprintf("%dh", *seg.SLAHours)
			}
			segments.AddRow(name, employees, dash(seg.Priority), sla)
		}
		out.Table(segments)

		table := output.NewTable("OWNER KEY", "USER")
		for _, key := range sortedKeys(p.Owners) {
			table.AddRow(key, p.Owners[key])
		}
		out.Table(table)
		return nil
	},
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyValidateCmd)
}
