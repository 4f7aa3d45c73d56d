package cmd

import (
	"errors"
	"sort"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/cdc/cli/pkg/output"
	"github.com/leadpulse/leadpulse/cdc/internal/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Inspect and manage replay cursors",
	Long: `Read or change the last applied token per channel in the service's cursor store.

Stop the CDC service before changing cursors: a running consumer overwrites
them as it commits.`,
}

func openReplay(cmd *cobra.Command) (replay.Store, error) {
	svc, err := serviceConfig(cmd)
	if err != nil {
		return nil, err
	}
	return replay.Open(cmd.Context(), svc, commandLogger(cmd))
}

var replayShowCmd = &cobra.Command{
	Use:   "show [channel]",
	Short: "Show stored cursors",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openReplay(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		cursors, err := store.GetAll(cmd.Context())
		if err != nil {
			return err
		}
		if len(args) == 1 {
			token, ok := cursors[args[0]]
			cursors = map[string]string{}
			if ok {
				cursors[args[0]] = token
			}
		}

		out := printer(cmd)
		if jsonOutput(cmd) {
			return out.JSON(cursors)
		}
		if len(cursors) == 0 {
			out.Info("No cursors stored; consumers start with new events only")
			return nil
		}

		keys := make([]string, 0, len(cursors))
		for k := range cursors {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		table := output.NewTable("CHANNEL", "TOKEN")
		for _, k := range keys {
			table.AddRow(k, cursors[k])
		}
		out.Table(table)
		return nil
	},
}

var replaySetCmd = &cobra.Command{
	Use:   "set <channel> <token>",
	Short: "Set the cursor for a channel",
	Long:  "Set the last applied token; the consumer resumes with the event after it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openReplay(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Set(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		printer(cmd).Success("Cursor for %s set to %s", args[0], args[1])
		return nil
	},
}

var replayResetCmd = &cobra.Command{
	Use:   "reset [channel]",
	Short: "Remove stored cursors",
	Long:  "Remove the cursor for one channel, or every cursor with --all. A channel without a cursor resumes with new events only.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		switch {
		case len(args) == 0 && !all:
			return errors.New("name a channel or pass --all")
		case len(args) == 1 && all:
			return errors.New("--all cannot be combined with a channel")
		}

		store, err := openReplay(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		channel := ""
		if len(args) == 1 {
			channel = args[0]
		}
		if err := store.Clear(cmd.Context(), channel); err != nil {
			return err
		}

		target := channel
		if target == "" {
			target = "all channels"
		}
		printer(cmd).Success("Cursor reset for %s", target)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.AddCommand(replayShowCmd, replaySetCmd, replayResetCmd)

	replayResetCmd.Flags().Bool("all", false, "reset every channel")
}
