package main

import (
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/echonote/echonote/internal/infrastructure/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
	Long:  `Runs the SQL migrations of the migrations directory with sql-migrate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		down, _ := cmd.Flags().GetBool("down")
		dir, _ := cmd.Flags().GetString("dir")

		cfg, logger := bootstrap()
		defer logger.Sync()

		if dir == "" {
			dir = cfg.Database.Migrations
		}
		direction := migrate.Up
		if down {
			direction = migrate.Down
		}

		db, err := database.NewPostgresDB(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.CloseDB(db, logger)

		n, err := database.Migrate(db, dir, direction, logger)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", zap.Int("count", n), zap.Bool("down", down))
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("down", false, "Roll back migrations instead of applying them")
	migrateCmd.Flags().String("dir", "", "Migrations directory (defaults to DB_MIGRATIONS_DIR)")
}
