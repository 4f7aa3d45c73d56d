package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/cdc/cli/internal/seeder"
	"github.com/leadpulse/leadpulse/cdc/cli/pkg/output"
	natsclient "github.com/leadpulse/leadpulse/common/messaging/nats"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate synthetic CDC traffic",
	Long:  "Generate lead, task and email change events and publish them to JetStream for testing and development",
}

var seedRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate and publish events",
	Long: `Generate leads with follow-up responses and publish their change events.

Configuration cascade (priority order):
  1. Command-line flags
  2. ./seeder.yaml (project directory)
  3. ~/.lpctl/seeder.yaml (user directory)
  4. Built-in defaults

The Salesforce records behind the events can be written to a fixtures file
that the service's memory backend loads.`,
	Example: `  # Use project config
  lpctl seed run

  # 1000 leads over 30 days, fixtures only
  lpctl seed run --leads 1000 --time-spread 30d --fixtures ./data/fixtures.json --dry-run`,
	RunE: runSeed,
}

var seedValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate seeder configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("seed-config")
		c, err := seeder.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		out := printer(cmd)
		if jsonOutput(cmd) {
			return out.JSON(c)
		}
		out.Success("Configuration is valid")
		d := c.Defaults
		table := output.NewTable("SETTING", "VALUE")
		table.AddRow("nats_url", d.NATSURL)
		table.AddRow("stream", d.Stream)
		table.AddRow("leads", fmt.Sprint(d.Leads))
		table.AddRow("time_spread", d.TimeSpread.String())
		table.AddRow("batch_size", fmt.Sprint(d.BatchSize))
		table.AddRow("response_rate", fmt.Sprintf("%.2f", d.ResponseRate))
		table.AddRow("email_share", fmt.Sprintf("%.2f", d.EmailShare))
		table.AddRow("max_response_delay", d.MaxResponseDelay.String())
		table.AddRow("fixtures_path", dash(d.FixturesPath))
		out.Table(table)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.AddCommand(seedRunCmd, seedValidateCmd)

	seedCmd.PersistentFlags().String("seed-config", "", "seeder config file (default: ./seeder.yaml or ~/.lpctl/seeder.yaml)")

	seedRunCmd.Flags().String("nats-url", "", "NATS server URL")
	seedRunCmd.Flags().IntP("leads", "c", 0, "number of leads to generate")
	seedRunCmd.Flags().StringP("time-spread", "s", "", "period to spread leads over (e.g. 24h, 7d)")
	seedRunCmd.Flags().IntP("batch-size", "b", 0, "events per publish batch")
	seedRunCmd.Flags().String("fixtures", "", "write the generated records to this fixtures file")
	seedRunCmd.Flags().Int64("seed", 0, "random seed for reproducible runs")
	seedRunCmd.Flags().Bool("dry-run", false, "generate and write fixtures without publishing")
}

func runSeed(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("seed-config")
	c, err := seeder.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("nats-url") {
		c.Defaults.NATSURL, _ = flags.GetString("nats-url")
	}
	if flags.Changed("leads") {
		c.Defaults.Leads, _ = flags.GetInt("leads")
	}
	if flags.Changed("time-spread") {
		raw, _ := flags.GetString("time-spread")
		d, err := parseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid time-spread: %w", err)
		}
		c.Defaults.TimeSpread = d
	}
	if flags.Changed("batch-size") {
		c.Defaults.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("fixtures") {
		c.Defaults.FixturesPath, _ = flags.GetString("fixtures")
	}
	if flags.Changed("seed") {
		c.Defaults.Seed, _ = flags.GetInt64("seed")
	}
	if err := c.Validate(); err != nil {
		return err
	}

	logger := commandLogger(cmd)
	runner := seeder.NewRunner(c, nil, logger)

	if dryRun, _ := flags.GetBool("dry-run"); !dryRun {
		js, err := natsclient.NewJetStreamClient(natsclient.Config{
			URL:    c.Defaults.NATSURL,
			Name:   "lpctl-seeder",
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer js.Close()

		stream := natsclient.CDCEventsStream
		if c.Defaults.Stream != "" {
			stream.Name = c.Defaults.Stream
		}
		if _, err := js.CreateOrUpdateStream(cmd.Context(), stream); err != nil {
			return err
		}
		runner.Publisher = js
	}

	result, err := runner.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("seeder failed: %w", err)
	}

	out := printer(cmd)
	if jsonOutput(cmd) {
		return out.JSON(result)
	}
	out.Success("Seeded %d leads, published %d events", result.Leads, result.Published)
	if len(result.ByChannel) > 0 {
		table := output.NewTable("CHANNEL", "EVENTS")
		for _, ch := range sortedKeys(result.ByChannel) {
			table.AddRow(ch, fmt.Sprint(result.ByChannel[ch]))
		}
		out.Table(table)
	}
	if c.Defaults.FixturesPath != "" {
		out.Info("Fixtures written to %s", c.Defaults.FixturesPath)
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d events failed to publish", result.Failed)
	}
	return nil
}

// parseDuration parses duration strings like "24h", "7d", "90d".
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		var d int
		if _, err := fmt.Sscanf(days, "%d", &d); err != nil {
			return 0, err
		}
		return time.Duration(d) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
