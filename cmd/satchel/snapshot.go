package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/satchel/internal/snapshot"
)

var snapshotPassphrase string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <dest>",
	Short: "Write an encrypted copy of the sync database",
	Long: `Snapshot takes a consistent copy of the local database and encrypts it
with the given passphrase, for moving a device's offline state elsewhere.

Restore with: satchel snapshot restore <src> <dest-db>`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		if snapshotPassphrase == "" {
			return fmt.Errorf("--passphrase is required")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		mgr := snapshot.NewManager(db, cfg.GetString("db_path"), logger.With("component", "snapshot"))
		if err := mgr.Create(ctx, args[0], snapshotPassphrase); err != nil {
			return err
		}
		fmt.Printf("Snapshot written to %s\n", args[0])
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <src> <dest-db>",
	Short: "Decrypt a snapshot into a database file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		if snapshotPassphrase == "" {
			return fmt.Errorf("--passphrase is required")
		}

		mgr := snapshot.NewManager(nil, "", logger.With("component", "snapshot"))
		if err := mgr.Restore(args[0], args[1], snapshotPassphrase); err != nil {
			return err
		}
		fmt.Printf("Database restored to %s\n", args[1])
		return nil
	},
}

func init() {
	snapshotCmd.PersistentFlags().StringVar(&snapshotPassphrase, "passphrase", "", "encryption passphrase (required)")
	snapshotCmd.AddCommand(snapshotRestoreCmd)
}
