package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/cdc/internal/models"
	"github.com/leadpulse/leadpulse/common/messaging"
	natsclient "github.com/leadpulse/leadpulse/common/messaging/nats"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish one raw CDC event",
	Long: `Publish a single change event to the channel's JetStream subject. The event
is parsed first so malformed input never reaches the stream.`,
	Example: `  lpctl publish --channel /data/LeadChangeEvent --file lead_create.json
  cat task.json | lpctl publish --channel /data/TaskChangeEvent --file -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, _ := cmd.Flags().GetString("channel")
		file, _ := cmd.Flags().GetString("file")
		raw, _ := cmd.Flags().GetString("json")

		if channel == "" {
			return errors.New("--channel is required")
		}
		if file == "" && raw == "" {
			return errors.New("either --file or --json is required")
		}

		data := []byte(raw)
		if file != "" {
			var err error
			if data, err = readInput(cmd, file); err != nil {
				return err
			}
		}

		env, err := models.ParseEvent(channel, data)
		if err != nil {
			return fmt.Errorf("event does not parse: %w", err)
		}

		natsURL, _ := cmd.Flags().GetString("nats-url")
		if natsURL == "" {
			svc, err := serviceConfig(cmd)
			if err != nil {
				return err
			}
			natsURL = svc.NATS.URL
		}

		js, err := natsclient.NewJetStreamClient(natsclient.Config{
			URL:    natsURL,
			Name:   "lpctl",
			Logger: commandLogger(cmd),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer js.Close()

		subject := messaging.SubjectForChannel(channel)
		ack, err := js.PublishSync(cmd.Context(), subject, data)
		if err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}

		printer(cmd).Success("Published %s %s on %s (seq %d)", env.EntityName, env.ChangeType, subject, ack.Sequence)
		return nil
	},
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event: %w", err)
	}
	return data, nil
}

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().String("channel", "", "CDC channel, e.g. /data/LeadChangeEvent")
	publishCmd.Flags().StringP("file", "f", "", "event JSON file, or - for stdin")
	publishCmd.Flags().String("json", "", "inline event JSON")
	publishCmd.Flags().String("nats-url", "", "NATS server URL (default: nats.url from the service config)")
}
