package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/edgard/mnemobot/internal/config"
	"github.com/edgard/mnemobot/internal/database"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			db, err := database.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer database.CloseDB(db)

			res, err := database.ApplyMigrations(db.DB, database.ExtractDBNameFromPath(cfg.Database.Path))
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", color.New(color.FgRed).Sprint("FAILED"), err)
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Database: %s\n", cfg.Database.Path)
			if res.Applied {
				fmt.Fprintf(out, "  migrations: %s\n", color.New(color.FgGreen).Sprint("applied"))
			} else {
				fmt.Fprintf(out, "  migrations: %s\n", color.New(color.FgYellow).Sprint("up to date"))
			}
			state := color.New(color.FgGreen).Sprint("clean")
			if res.Dirty {
				state = color.New(color.FgRed).Sprint("DIRTY")
			}
			fmt.Fprintf(out, "  version:    %d (%s)\n", res.Version, state)
			return nil
		},
	}
}
