package cmd

import (
	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/cdc/cli/internal/config"
	"github.com/leadpulse/leadpulse/cdc/cli/pkg/output"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage deployment profiles",
	Long:  "A profile names a CDC deployment: its ops URL and the service config file lpctl opens stores with",
}

var profileSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create or update a profile and make it current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opsURL, _ := cmd.Flags().GetString("ops-url")
		svc, _ := cmd.Flags().GetString("service-config")

		p := &config.Profile{}
		if existing, err := cfg.GetProfile(args[0]); err == nil {
			*p = *existing
		}
		if cmd.Flags().Changed("ops-url") {
			p.OpsURL = opsURL
		}
		if cmd.Flags().Changed("service-config") {
			p.ServiceConfig = svc
		}
		if err := cfg.SaveProfile(args[0], p); err != nil {
			return err
		}
		printer(cmd).Success("Profile '%s' saved and selected", args[0])
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := printer(cmd)
		if jsonOutput(cmd) {
			return out.JSON(cfg.Profiles)
		}
		names := cfg.ProfileNames()
		if len(names) == 0 {
			out.Info("No profiles configured; using defaults (%s)", cfg.Defaults.OpsURL)
			return nil
		}
		table := output.NewTable("", "NAME", "OPS URL", "SERVICE CONFIG")
		for _, name := range names {
			current := ""
			if name == cfg.CurrentProfile {
				current = "*"
			}
			p := cfg.Resolve(name)
			table.AddRow(current, name, p.OpsURL, p.ServiceConfig)
		}
		out.Table(table)
		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Select the current profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cfg.GetProfile(args[0]); err != nil {
			return err
		}
		cfg.CurrentProfile = args[0]
		if err := cfg.Save(); err != nil {
			return err
		}
		printer(cmd).Success("Using profile '%s'", args[0])
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a profile",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveProfile(args[0]); err != nil {
			return err
		}
		printer(cmd).Success("Profile '%s' removed", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd, profileListCmd, profileUseCmd, profileRemoveCmd)

	profileSetCmd.Flags().String("ops-url", "", "CDC ops endpoint, e.g. http://cdc:8080")
}
