package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/checkout-service/internal/db"
)

func migrateCmd(envPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(migrateDirectionCmd(envPath, db.Up, "Apply all pending migrations"))
	cmd.AddCommand(migrateDirectionCmd(envPath, db.Down, "Roll back all migrations"))
	return cmd
}

func migrateDirectionCmd(envPath *string, direction db.Direction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(direction),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envPath)
			if err != nil {
				return err
			}
			log.Info().Str("path", cfg.Postgres.MigrationsPath).Str("direction", string(direction)).Msg("Running migrations")
			return db.Migrate(cfg.Postgres, direction)
		},
	}
}
