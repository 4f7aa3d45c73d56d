package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leadpulse/leadpulse/cdc/cli/internal/config"
	"github.com/leadpulse/leadpulse/cdc/cli/pkg/output"
	svcconfig "github.com/leadpulse/leadpulse/common/config"
	"github.com/leadpulse/leadpulse/common/logging"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "lpctl",
	Short: "LeadPulse CDC CLI",
	Long: `lpctl is the command-line interface for the LeadPulse CDC service.

Inspect consumer status, rewind or reset replay cursors, work the dead-letter
queue, route leads, backfill first responses, and seed test events.`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

// Execute runs the root command, cancelling its context on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.lpctl/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().String("service-config", "", "CDC service config file (overrides the profile)")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log at debug level")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

func printer(cmd *cobra.Command) *output.Printer {
	return output.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
}

func jsonOutput(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("output")
	return format == "json"
}

func activeProfile(cmd *cobra.Command) config.Profile {
	if cfg == nil {
		cfg = config.Default()
	}
	name, _ := cmd.Flags().GetString("profile")
	return cfg.Resolve(name)
}

// serviceConfig loads the CDC service configuration the profile points at.
func serviceConfig(cmd *cobra.Command) (*svcconfig.Config, error) {
	path, _ := cmd.Flags().GetString("service-config")
	if path == "" {
		path = activeProfile(cmd).ServiceConfig
	}
	c, err := svcconfig.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load service config: %w", err)
	}
	return c, nil
}

// commandLogger writes text logs to stderr so stdout stays parseable.
func commandLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return logging.NewWithWriter(cmd.ErrOrStderr(), level, "text").With(logging.Service("lpctl")).Logger
}
