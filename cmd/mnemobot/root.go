package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCmd(version string) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "mnemobot",
		Short: "Personal memory assistant for Telegram",
		Long: `mnemobot stores the information, photos and voice notes you send it,
answers questions about them, keeps reminders and writes documents from what it knows.

Examples:
  mnemobot --config ./config.yaml
  mnemobot migrate --config ./config.yaml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to the configuration file")

	rootCmd.AddCommand(newMigrateCmd(&configPath))
	return rootCmd
}
