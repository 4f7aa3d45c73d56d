package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/cdc/cli/internal/client"
	"github.com/leadpulse/leadpulse/cdc/cli/pkg/output"
	"github.com/leadpulse/leadpulse/cdc/internal/dispatcher"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show consumer status",
	Long:  "Fetch /status from the CDC service: mode, readiness, replay cursors and the last event seen per channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		opsURL := activeProfile(cmd).OpsURL
		st, err := client.NewOpsClient(opsURL).Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fetch status from %s: %w", opsURL, err)
		}

		out := printer(cmd)
		if jsonOutput(cmd) {
			return out.JSON(st)
		}

		ready := "ready"
		if !st.Ready {
			ready = "not ready"
		}
		out.Info("Mode: %s (%s)", st.Mode, ready)
		if st.Error != "" {
			out.Warn("Last error: %s", st.Error)
		}

		channels := append([]string(nil), st.Channels...)
		sort.Strings(channels)

		registered := make(map[string]bool, len(st.HandlersRegistered))
		for _, ch := range st.HandlersRegistered {
			registered[ch] = true
		}

		// Last event times are kept per entity.
		table := output.NewTable("CHANNEL", "HANDLER", "REPLAY ID", "LAST EVENT", "AGO")
		for _, ch := range channels {
			handler := "-"
			if registered[ch] {
				handler = "yes"
			}
			last, ago := "-", "-"
			if ev, ok := st.LastEventTimes[dispatcher.Classify(ch)]; ok {
				last = ev.Timestamp.Format(time.RFC3339)
				ago = time.Duration(ev.SecondsAgo * float64(time.Second)).Round(time.Second).String()
			}
			replayID := st.ReplayIDs[ch]
			if replayID == "" {
				replayID = "-"
			}
			table.AddRow(ch, handler, replayID, last, ago)
		}
		out.Table(table)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "server-version",
	Short: "Show the CDC service build and routing policy version",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := client.NewOpsClient(activeProfile(cmd).OpsURL).Version(cmd.Context())
		if err != nil {
			return err
		}
		out := printer(cmd)
		if jsonOutput(cmd) {
			return out.JSON(v)
		}
		out.Info("%s %s (policy %s)", v.Service, v.Version, v.PolicyVersion)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, versionCmd)
}
