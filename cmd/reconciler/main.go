package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatingest/chatcore/internal/config"
	"github.com/chatingest/chatcore/internal/db"
	"github.com/chatingest/chatcore/internal/reconcile"
	"github.com/chatingest/chatcore/internal/repo"
)

// cmd/reconciler is the third binary of SPEC_FULL.md §4.F: it runs only
// the periodic CountReconciler loop, independent of the HTTP front-end
// and the asynq worker pool, so that count drift is repaired even when
// the job queue itself is the thing misbehaving.
func main() {
	cfg := config.Load()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "chatcore-reconciler").Logger()
	if cfg.IsDev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	if cfg.DBDSN == "" {
		log.Fatal().Msg("DB_DSN is required")
	}

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	apps := repo.NewApplicationRepo(pool)
	chats := repo.NewChatRepo(pool)

	countRecon := &reconcile.CountReconciler{
		DB: pool, Apps: apps, Chats: chats, Log: log.Logger,
	}

	spec := fmt.Sprintf("@every %s", cfg.ReconcileInterval)
	if err := countRecon.Start(spec); err != nil {
		log.Fatal().Err(err).Msg("failed to start count reconciler")
	}

	log.Info().Str("interval", cfg.ReconcileInterval.String()).Msg("count reconciler started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down reconciler...")
	countRecon.Stop()
	log.Info().Msg("reconciler stopped")
}
