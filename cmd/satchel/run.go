package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/satchel/internal/connectivity"
	"github.com/dukerupert/satchel/internal/grocery"
	"github.com/dukerupert/satchel/internal/remote"
	"github.com/dukerupert/satchel/internal/server"
	"github.com/dukerupert/satchel/internal/store"
	syncengine "github.com/dukerupert/satchel/internal/sync"
	ws "github.com/dukerupert/satchel/internal/websocket"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon",
	Long: `Run opens the local database, starts the connectivity probe and the
outbox drain loop, and serves the status API on localhost for the UI shell.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	db, err := openDatabase()
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return err
	}
	defer db.Close()

	lists := store.NewListStore(db)
	items := store.NewItemStore(db)
	outbox := store.NewOutboxStore(db)
	meta := store.NewMetaStore(db)

	client := remote.NewHTTPClient(cfg.GetString("base_url"), 15*time.Second)
	creds := func() remote.Credentials {
		return remote.Credentials{Token: cfg.GetString("token")}
	}

	hub := ws.NewHub(logger.With("component", "websocket"))
	gate := connectivity.NewGate(client, cfg.GetDuration("probe_interval"), logger.With("component", "gate"))

	engine := syncengine.NewEngine(
		syncengine.Stores{Lists: lists, Items: items, Outbox: outbox, Meta: meta},
		client, creds, gate, hub,
		syncengine.Config{
			BatchSize:     cfg.GetInt("batch_size"),
			DrainInterval: cfg.GetDuration("drain_interval"),
		},
		logger.With("component", "sync"),
	)
	gate.OnOpen(engine.Nudge)

	svc := grocery.NewService(db, lists, items, outbox, hub, engine.Nudge, logger.With("component", "grocery"))

	srv := server.New(svc, outbox, meta, gate, hub, logger)
	httpServer := &http.Server{
		Addr:              cfg.GetString("listen_addr"),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gate.Start(ctx)
	defer gate.Stop()

	go engine.Run(ctx)
	engine.Nudge() // pick up anything left over from the previous run

	go func() {
		logger.Info("satchel daemon starting", "addr", httpServer.Addr, "base_url", cfg.GetString("base_url"))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}
	return nil
}
