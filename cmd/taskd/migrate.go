package main

import (
	"context"
	"fmt"

	"github.com/chepyr/daily-planner/internal/config"
	"github.com/chepyr/daily-planner/internal/db"
	"github.com/spf13/cobra"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the users and tasks tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := mustMakeLogger(cfg.LogLevel)

			dbConn, err := db.Connect(cfg.DB.Driver, cfg.DB.DSN)
			if err != nil {
				return fmt.Errorf("failed to connect to db: %w", err)
			}
			defer dbConn.Close()

			if err := db.Migrate(context.Background(), dbConn); err != nil {
				return fmt.Errorf("failed to migrate db: %w", err)
			}
			log.Info("schema applied", "driver", cfg.DB.Driver)
			return nil
		},
	}
}
