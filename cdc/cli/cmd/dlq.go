package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/cdc/cli/pkg/output"
	"github.com/leadpulse/leadpulse/cdc/internal/dlq"
	natsclient "github.com/leadpulse/leadpulse/common/messaging/nats"
)

// deadLetters is what lpctl needs from either DLQ backend.
type deadLetters interface {
	List(ctx context.Context, limit int) ([]dlq.FailedEvent, error)
	Purge(ctx context.Context) error
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect the dead-letter queue",
	Long:  "List, delete and purge envelopes whose handlers failed or that could not be decoded",
}

// openDLQ opens the backend the service config selects. closeFn releases any
// connection it made.
func openDLQ(cmd *cobra.Command) (q deadLetters, closeFn func(), err error) {
	svc, err := serviceConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	switch svc.DLQ.Backend {
	case "", "file":
		fq, err := dlq.NewQueue(svc.DLQ.BasePath)
		if err != nil {
			return nil, nil, err
		}
		return fq, func() {}, nil
	case "jetstream":
		js, err := natsclient.NewJetStreamClient(natsclient.Config{
			URL:    svc.NATS.URL,
			Name:   "lpctl",
			Logger: commandLogger(cmd),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		jq, err := dlq.NewJetStreamQueue(cmd.Context(), js, commandLogger(cmd))
		if err != nil {
			js.Close()
			return nil, nil, err
		}
		return jq, func() { js.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("dlq backend %q has nothing to inspect", svc.DLQ.Backend)
	}
}

var dlqListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List dead letters, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, closeFn, err := openDLQ(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		limit, _ := cmd.Flags().GetInt("limit")
		events, err := q.List(cmd.Context(), limit)
		if err != nil {
			return err
		}

		out := printer(cmd)
		if jsonOutput(cmd) {
			return out.JSON(events)
		}
		if len(events) == 0 {
			out.Success("Dead-letter queue is empty")
			return nil
		}

		table := output.NewTable("ID", "REASON", "CHANNEL", "CHANGE", "RECORDS", "TOKEN", "ERROR")
		for _, ev := range events {
			channel, change, records, token := "-", "-", "-", "-"
			if env := ev.Envelope; env != nil {
				channel, change = env.Channel, string(env.ChangeType)
				records = strings.Join(env.RecordIDs, ",")
				if env.Token != "" {
					token = env.Token
				}
			}
			table.AddRow(strconv.FormatInt(ev.Timestamp.UnixNano(), 10), ev.Reason, channel, change, records, token, truncate(ev.Error, 60))
		}
		out.Table(table)
		return nil
	},
}

var dlqDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one dead letter (file backend)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}
		q, closeFn, err := openDLQ(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		fq, ok := q.(*dlq.Queue)
		if !ok {
			return errors.New("delete is only supported by the file backend; use purge")
		}
		if err := fq.Delete(cmd.Context(), id); err != nil {
			return err
		}
		printer(cmd).Success("Deleted dead letter %d", id)
		return nil
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every dead letter",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return errors.New("purge is irreversible; pass --yes to confirm")
		}
		q, closeFn, err := openDLQ(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := q.Purge(cmd.Context()); err != nil {
			return err
		}
		printer(cmd).Success("Dead-letter queue purged")
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd, dlqDeleteCmd, dlqPurgeCmd)

	dlqListCmd.Flags().IntP("limit", "n", 50, "maximum entries to show (0 for all)")
	dlqPurgeCmd.Flags().Bool("yes", false, "confirm the purge")
}
