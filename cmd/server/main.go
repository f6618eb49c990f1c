package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatingest/chatcore/internal/config"
	"github.com/chatingest/chatcore/internal/counterstore"
	"github.com/chatingest/chatcore/internal/db"
	"github.com/chatingest/chatcore/internal/httpapi"
	"github.com/chatingest/chatcore/internal/jobs"
	"github.com/chatingest/chatcore/internal/reconcile"
	"github.com/chatingest/chatcore/internal/repo"
	"github.com/chatingest/chatcore/internal/searchindex"
)

func main() {
	cfg := config.Load()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "chatcore-server").Logger()
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

	if _, err := pool.Exec(ctx, repo.Schema); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	counter, err := counterstore.New(ctx, cfg.KVURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to counter store")
	}
	defer counter.Close()

	index, err := searchindex.New(cfg.SearchURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build search index client")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.KVURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse KV_URL for job queue")
	}
	jobClient := jobs.NewClient(redisOpt)
	defer jobClient.Close()

	apps := repo.NewApplicationRepo(pool)
	chats := repo.NewChatRepo(pool)
	messages := repo.NewMessageRepo(pool)

	// Startup reconciliation: recover from a wiped counter store or a
	// search index that drifted from the Durable Log Store before
	// accepting traffic.
	counterRecon := &reconcile.CounterReconciler{
		Apps: apps, Chats: chats, Counter: counter, Jobs: jobClient,
		SampleSize: cfg.CounterSampleSize, Log: log.Logger,
	}
	if err := counterRecon.Run(ctx); err != nil {
		log.Error().Err(err).Msg("startup counter reconciliation failed")
	}

	indexRecon := &reconcile.IndexReconciler{Messages: messages, Index: index, Jobs: jobClient, Log: log.Logger}
	if err := indexRecon.Run(ctx); err != nil {
		log.Error().Err(err).Msg("startup index reconciliation failed")
	}

	srv := &httpapi.Server{
		Apps: apps, Chats: chats, Messages: messages,
		Counter: counter, Jobs: jobClient, Index: index,
		Health: &httpapi.HealthChecker{DB: pool, Counter: counter, Index: index},
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
