package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/satchel/internal/remote"
	"github.com/dukerupert/satchel/internal/store"
	syncengine "github.com/dukerupert/satchel/internal/sync"
)

var importGuestForce bool

var importGuestCmd = &cobra.Command{
	Use:   "import-guest",
	Short: "Upload the guest-mode dataset to the account",
	Long: `Import-guest sends everything created before sign-in to the service of
record in one bulk call and records the returned server ids locally. The
import runs at most once per database; --force clears the completion flag
first.`,
	RunE: runImportGuest,
}

func init() {
	importGuestCmd.Flags().BoolVar(&importGuestForce, "force", false, "re-run even if the import already completed")
}

func runImportGuest(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	lists := store.NewListStore(db)
	items := store.NewItemStore(db)
	outbox := store.NewOutboxStore(db)
	meta := store.NewMetaStore(db)

	if importGuestForce {
		if err := meta.Delete(store.MetaGuestImportDone); err != nil {
			return err
		}
	}

	client := remote.NewHTTPClient(cfg.GetString("base_url"), 30*time.Second)
	creds := func() remote.Credentials {
		return remote.Credentials{Token: cfg.GetString("token")}
	}

	engine := syncengine.NewEngine(
		syncengine.Stores{Lists: lists, Items: items, Outbox: outbox, Meta: meta},
		client, creds, nil, nil,
		syncengine.Config{},
		logger.With("component", "sync"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := engine.ImportGuest(ctx); err != nil {
		if errors.Is(err, syncengine.ErrAlreadyImported) {
			fmt.Println("Guest import already completed (use --force to re-run)")
			return nil
		}
		return err
	}

	fmt.Println("Guest import completed")
	return nil
}
