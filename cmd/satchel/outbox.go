package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/satchel/internal/store"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and maintain the sync outbox",
}

var outboxListLimit int

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent outbox entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		outbox := store.NewOutboxStore(db)
		entries, err := outbox.ListRecent(outboxListLimit)
		if err != nil {
			return err
		}

		pending, failed, done, err := outbox.Counts()
		if err != nil {
			return err
		}
		fmt.Printf("pending: %d  failed: %d  done: %d\n\n", pending, failed, done)

		if len(entries) == 0 {
			fmt.Println("outbox is empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tOPERATION\tSTATUS\tTRIES\tLAST ERROR")
		for _, e := range entries {
			created := time.UnixMilli(e.CreatedAt).Format("2006-01-02 15:04:05")
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
				e.ID, created, e.Operation, e.Status, e.Tries, truncate(e.LastError, 60))
		}
		return w.Flush()
	},
}

var outboxResetFailedCmd = &cobra.Command{
	Use:   "reset-failed",
	Short: "Return failed entries to the pending queue",
	Long: `Reset-failed makes permanently-failed entries eligible for sync again
with a fresh retry schedule. Use after fixing whatever the server rejected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := store.NewOutboxStore(db).ResetFailedToPending()
		if err != nil {
			return err
		}
		fmt.Printf("Reset %d failed entries to pending\n", n)
		return nil
	},
}

var outboxClearDoneCmd = &cobra.Command{
	Use:   "clear-done",
	Short: "Delete confirmed entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := store.NewOutboxStore(db).ClearDone()
		if err != nil {
			return err
		}
		fmt.Printf("Cleared %d done entries\n", n)
		return nil
	},
}

func init() {
	outboxListCmd.Flags().IntVar(&outboxListLimit, "limit", 50, "maximum entries to show")

	outboxCmd.AddCommand(outboxListCmd)
	outboxCmd.AddCommand(outboxResetFailedCmd)
	outboxCmd.AddCommand(outboxClearDoneCmd)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
