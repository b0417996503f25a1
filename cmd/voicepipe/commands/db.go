package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voicepipe/voicepipe/config"
	"github.com/voicepipe/voicepipe/db"
	"github.com/voicepipe/voicepipe/dispatch"
	"github.com/voicepipe/voicepipe/errors"
	"github.com/voicepipe/voicepipe/logger"
)

// DbCmd groups job database operations.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the job database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return errors.New("DATABASE_URL environment variable is required")
		}

		conn, err := db.Open(cfg.Database.URL, logger.Logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		return db.Migrate(conn, logger.Logger)
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts by lifecycle state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return errors.New("DATABASE_URL environment variable is required")
		}

		conn, err := db.Open(cfg.Database.URL, logger.Logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		counts, err := dispatch.NewStore(conn).CountByStatus()
		if err != nil {
			return err
		}

		for _, status := range []dispatch.Status{
			dispatch.StatusQueued, dispatch.StatusRunning,
			dispatch.StatusCompleted, dispatch.StatusFailed, dispatch.StatusCancelled,
		} {
			fmt.Printf("%-10s %d\n", status, counts[status])
		}
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}
