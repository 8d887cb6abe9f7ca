package main

import (
	"log/slog"

	"channelkeys/internal/migration"

	"github.com/spf13/cobra"
)

var (
	migrateBatchSize  int
	migrateMaxBatches int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Encrypt messages that were posted before encryption was on",
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress of the public message migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeStore, err := openTenant(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		status, err := migration.GetStatus(cmd.Context(), st)
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}

var migrateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Encrypt pending messages with keys held by your identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := loadIdentity()
		if err != nil {
			return err
		}
		st, closeStore, err := openTenant(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		size := migrateBatchSize
		if size <= 0 {
			size = cfg.MigrationBatchSize
		}
		r := &migration.Runner{Holder: id, BatchSize: size, Log: slog.Default()}
		status, err := r.Run(cmd.Context(), st, migrateMaxBatches)
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}

func init() {
	migrateRunCmd.Flags().IntVar(&migrateBatchSize, "batch-size", 0, "messages per batch (default MIGRATION_BATCH_SIZE)")
	migrateRunCmd.Flags().IntVar(&migrateMaxBatches, "max-batches", 0, "stop after this many batches, 0 for no limit")
	migrateCmd.AddCommand(migrateStatusCmd, migrateRunCmd)
}
