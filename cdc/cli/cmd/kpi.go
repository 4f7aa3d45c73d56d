package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/cdc/cli/pkg/output"
	"github.com/leadpulse/leadpulse/cdc/internal/flywheel"
	"github.com/leadpulse/leadpulse/cdc/internal/kpi"
)

var kpiCmd = &cobra.Command{
	Use:   "kpi",
	Short: "Response-time and routing reports",
	Long: `Summarize time to first response, SLA breaches, routing distribution and
assignment latency over a trailing period.`,
}

// kpiSetup opens the backend and builds an extractor honoring --days and
// --sla, falling back to the service config.
func kpiSetup(cmd *cobra.Command) (*kpi.Extractor, *backend, int, error) {
	b, err := openBackend(cmd)
	if err != nil {
		return nil, nil, 0, err
	}

	days, _ := cmd.Flags().GetInt("days")
	if days <= 0 {
		days = b.cfg.KPI.PeriodDays
	}
	sla, _ := cmd.Flags().GetDuration("sla")
	if sla <= 0 {
		sla = b.cfg.KPI.SLA
	}
	e := kpi.NewExtractor(b.store, flywheel.NewReader(b.cfg.Flywheel.LogDir), sla, b.logger)
	return e, b, days, nil
}

// noData reports an empty section without failing the command.
func noData(cmd *cobra.Command, err error) error {
	out := printer(cmd)
	if jsonOutput(cmd) {
		return out.JSON(map[string]string{"error": err.Error()})
	}
	out.Warn("%s", err)
	return nil
}

var kpiTTFRCmd = &cobra.Command{
	Use:   "ttfr",
	Short: "Time-to-first-response statistics and SLA breaches",
	Example: `  lpctl kpi ttfr --days 7
  lpctl kpi ttfr --sla 30m -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, days, err := kpiSetup(cmd)
		if err != nil {
			return err
		}
		report, err := e.TTFR(cmd.Context(), time.Now().UTC().AddDate(0, 0, -days))
		if errors.Is(err, kpi.ErrNoData) {
			return noData(cmd, err)
		}
		if err != nil {
			return err
		}

		out := printer(cmd)
		if jsonOutput(cmd) {
			return out.JSON(report)
		}
		renderTTFR(out, report)
		return nil
	},
}

var kpiRoutingCmd = &cobra.Command{
	Use:   "routing",
	Short: "Routing distribution and assignment latency",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, days, err := kpiSetup(cmd)
		if err != nil {
			return err
		}
		report, err := e.Routing(cmd.Context(), time.Now().UTC().AddDate(0, 0, -days))
		if errors.Is(err, kpi.ErrNoData) {
			return noData(cmd, err)
		}
		if err != nil {
			return err
		}

		out := printer(cmd)
		if jsonOutput(cmd) {
			return out.JSON(report)
		}
		renderRouting(out, report)
		return nil
	},
}

var kpiDashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Every report for the period, optionally saved as JSON",
	Example: `  lpctl kpi dashboard
  lpctl kpi dashboard --days 90 --save --report-dir ./reports`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, b, days, err := kpiSetup(cmd)
		if err != nil {
			return err
		}
		d, err := e.Dashboard(cmd.Context(), days)
		if err != nil {
			return err
		}

		out := printer(cmd)
		if save, _ := cmd.Flags().GetBool("save"); save {
			dir, _ := cmd.Flags().GetString("report-dir")
			if dir == "" {
				dir = b.cfg.KPI.ReportDir
			}
			path, err := d.Save(dir)
			if err != nil {
				return err
			}
			if !jsonOutput(cmd) {
				out.Success("Dashboard written to %s", path)
			}
		}

		if jsonOutput(cmd) {
			return out.JSON(d)
		}
		out.Info("Period: last %d days, SLA %.0f minutes", d.PeriodDays, d.SLAMinutes)
		if d.TTFR != nil {
			renderTTFR(out, d.TTFR)
		}
		if d.Routing != nil {
			renderRouting(out, d.Routing)
		}
		for _, section := range sortedKeys(d.Missing) {
			out.Warn("%s", d.Missing[section])
		}
		return nil
	},
}

func renderTTFR(out *output.Printer, r *kpi.TTFRReport) {
	summary := output.NewTable("TTFR", "VALUE")
	summary.AddRow("responses", fmt.Sprint(r.TotalResponses))
	summary.AddRow("median", fmt.Sprintf("%.1fm", r.Minutes.Median))
	summary.AddRow("p95", fmt.Sprintf("%.1fm", r.Minutes.P95))
	summary.AddRow("max", fmt.Sprintf("%.0fm", r.Minutes.Max))
	summary.AddRow("avg", fmt.Sprintf("%.1fm", r.Minutes.Avg))
	summary.AddRow("sla", fmt.Sprintf("%.0fm", r.SLA.ThresholdMinutes))
	summary.AddRow("within sla", fmt.Sprint(r.SLA.Within))
	summary.AddRow("breached", fmt.Sprint(r.SLA.Breached))
	summary.AddRow("breach rate", fmt.Sprintf("%.1f%%", r.SLA.BreachRate*100))
	out.Table(summary)

	buckets := output.NewTable("BUCKET", "COUNT")
	for _, b := range r.Distribution {
		buckets.AddRow(b.Label, fmt.Sprint(b.Count))
	}
	for _, src := range sortedKeys(r.BySource) {
		buckets.AddRow("source "+src, fmt.Sprint(r.BySource[src]))
	}
	out.Table(buckets)
}

func renderRouting(out *output.Printer, r *kpi.RoutingReport) {
	summary := output.NewTable("ROUTING", "VALUE")
	summary.AddRow("decisions", fmt.Sprint(r.TotalRouted))
	summary.AddRow("decision latency p50", fmt.Sprintf("%.1fms", r.DecisionLatencyMS.Median))
	summary.AddRow("decision latency p95", fmt.Sprintf("%.1fms", r.DecisionLatencyMS.P95))
	summary.AddRow("assigned leads", fmt.Sprint(r.AssignmentLatency.Count))
	summary.AddRow("assignment p50", fmt.Sprintf("%.0fs", r.AssignmentLatency.Median))
	summary.AddRow("assignment p95", fmt.Sprintf("%.0fs", r.AssignmentLatency.P95))
	summary.AddRow("assignment max", fmt.Sprintf("%.0fs", r.AssignmentLatency.Max))
	out.Table(summary)

	dist := output.NewTable("DIMENSION", "VALUE", "COUNT")
	for _, group := range []struct {
		name   string
		counts map[string]int
	}{
		{"outcome", r.Outcomes},
		{"segment", r.BySegment},
		{"region", r.ByRegion},
		{"policy", r.ByPolicyVersion},
	} {
		for _, k := range sortedKeys(group.counts) {
			dist.AddRow(group.name, k, fmt.Sprint(group.counts[k]))
		}
	}
	out.Table(dist)
}

func init() {
	rootCmd.AddCommand(kpiCmd)
	kpiCmd.AddCommand(kpiTTFRCmd, kpiRoutingCmd, kpiDashboardCmd)

	kpiCmd.PersistentFlags().Int("days", 0, "trailing period in days (default kpi.period_days)")
	kpiCmd.PersistentFlags().Duration("sla", 0, "response-time target (default kpi.sla)")
	kpiDashboardCmd.Flags().Bool("save", false, "write dashboard_YYYYMMDD.json to the report directory")
	kpiDashboardCmd.Flags().String("report-dir", "", "report directory (default kpi.report_dir)")
}
