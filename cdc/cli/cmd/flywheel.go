package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/cdc/cli/pkg/output"
	"github.com/leadpulse/leadpulse/cdc/internal/flywheel"
)

var flywheelCmd = &cobra.Command{
	Use:   "flywheel",
	Short: "Inspect and export the decision log",
}

func flywheelReader(cmd *cobra.Command) (*flywheel.Reader, error) {
	svc, err := serviceConfig(cmd)
	if err != nil {
		return nil, err
	}
	return flywheel.NewReader(svc.Flywheel.LogDir), nil
}

var flywheelStatsCmd = &cobra.Command{
	Use:   "stats [workload]",
	Short: "Count decisions per outcome",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := flywheelReader(cmd)
		if err != nil {
			return err
		}

		workloads := args
		if len(workloads) == 0 {
			if workloads, err = reader.Workloads(); err != nil {
				return err
			}
		}

		stats := make([]flywheel.Stats, 0, len(workloads))
		for _, w := range workloads {
			st, err := reader.Stats(w)
			if err != nil {
				return fmt.Errorf("workload %s: %w", w, err)
			}
			stats = append(stats, st)
		}

		out := printer(cmd)
		if jsonOutput(cmd) {
			return out.JSON(stats)
		}
		if len(stats) == 0 {
			out.Info("No decision logs found")
			return nil
		}
		table := output.NewTable("WORKLOAD", "OUTCOME", "COUNT", "FIRST", "LAST")
		for _, st := range stats {
			first, last := unixOrDash(st.FirstTimestamp), unixOrDash(st.LastTimestamp)
			if st.Total == 0 {
				table.AddRow(st.WorkloadID, "-", "0", first, last)
				continue
			}
			for _, outcome := range sortedKeys(st.Outcomes) {
				table.AddRow(st.WorkloadID, outcome, fmt.Sprint(st.Outcomes[outcome]), first, last)
			}
		}
		out.Table(table)
		return nil
	},
}

var flywheelTailCmd = &cobra.Command{
	Use:   "tail <workload>",
	Short: "Show the most recent decisions of a workload",
	Example: `  lpctl flywheel tail lead.route -n 20
  lpctl flywheel tail first_touch.detect -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := flywheelReader(cmd)
		if err != nil {
			return err
		}
		n, _ := cmd.Flags().GetInt("lines")
		records, err := reader.Read(args[0], n)
		if err != nil {
			return err
		}

		out := printer(cmd)
		if jsonOutput(cmd) {
			return out.JSON(records)
		}
		table := output.NewTable("TIME", "LEAD", "OUTCOME", "USER", "POLICY", "LATENCY")
		for _, rec := range records {
			table.AddRow(unixOrDash(rec.Timestamp), dash(rec.LeadID), dash(rec.Outcome), dash(rec.UserID),
				dash(rec.PolicyVersion), fmt.Sprintf("%.1fms", rec.LatencyMS))
		}
		out.Table(table)
		return nil
	},
}

var flywheelLoadCmd = &cobra.Command{
	Use:   "load <workload>",
	Short: "Bulk-index a workload log into OpenSearch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := serviceConfig(cmd)
		if err != nil {
			return err
		}
		if svc.OpenSearch.URL == "" {
			return fmt.Errorf("opensearch.url is not configured")
		}

		loader, err := flywheel.NewLoader(flywheel.LoaderConfig{
			URL:           svc.OpenSearch.URL,
			Username:      svc.OpenSearch.Username,
			Password:      svc.OpenSearch.Password,
			TLSSkipVerify: svc.OpenSearch.Insecure,
			IndexPrefix:   svc.OpenSearch.IndexPrefix,
		}, flywheel.NewReader(svc.Flywheel.LogDir), commandLogger(cmd))
		if err != nil {
			return err
		}
		if err := loader.EnsureTemplate(cmd.Context()); err != nil {
			return err
		}
		result, err := loader.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := printer(cmd)
		if jsonOutput(cmd) {
			return out.JSON(result)
		}
		out.Success("Indexed %d records into %d indices", result.Indexed, len(result.Indices))
		if result.Failed > 0 {
			out.Warn("%d records failed", result.Failed)
			for _, e := range result.Errors {
				out.Error("%s", e)
			}
		}
		return nil
	},
}

func unixOrDash(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func init() {
	rootCmd.AddCommand(flywheelCmd)
	flywheelCmd.AddCommand(flywheelStatsCmd, flywheelTailCmd, flywheelLoadCmd)

	flywheelTailCmd.Flags().IntP("lines", "n", 10, "number of records (0 for all)")
}
