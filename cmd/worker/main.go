package main

import (
	"context"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatingest/chatcore/internal/config"
	"github.com/chatingest/chatcore/internal/counterstore"
	"github.com/chatingest/chatcore/internal/db"
	"github.com/chatingest/chatcore/internal/jobs"
	"github.com/chatingest/chatcore/internal/reconcile"
	"github.com/chatingest/chatcore/internal/repo"
	"github.com/chatingest/chatcore/internal/searchindex"
)

func main() {
	cfg := config.Load()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "chatcore-worker").Logger()
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

	counter, err := counterstore.New(ctx, cfg.KVURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to counter store")
	}
	defer counter.Close()

	index, err := searchindex.New(cfg.SearchURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build search index client")
	}
	if err := index.EnsureIndex(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure search index")
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

	handlers := jobs.NewHandlers(pool, apps, chats, messages, index, jobClient, log.Logger)
	handlers.RebuildCountersFn = func(ctx context.Context) error {
		return reconcile.RebuildAll(ctx, apps, chats, counter)
	}

	asynqSrv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Logger:      asynqZerologAdapter{log.Logger},
	})

	log.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("starting worker")
	if err := asynqSrv.Run(handlers.Mux()); err != nil {
		log.Fatal().Err(err).Msg("worker server failed")
	}
}

// asynqZerologAdapter satisfies asynq.Logger with the service's own
// zerolog.Logger, so worker-internal log lines share the same
// structured sink as the rest of the fleet instead of asynq's default
// stdlib logger.
type asynqZerologAdapter struct {
	log zerolog.Logger
}

func (a asynqZerologAdapter) Debug(args ...interface{}) { a.log.Debug().Msg(sprint(args)) }
func (a asynqZerologAdapter) Info(args ...interface{})  { a.log.Info().Msg(sprint(args)) }
func (a asynqZerologAdapter) Warn(args ...interface{})  { a.log.Warn().Msg(sprint(args)) }
func (a asynqZerologAdapter) Error(args ...interface{}) { a.log.Error().Msg(sprint(args)) }
func (a asynqZerologAdapter) Fatal(args ...interface{}) { a.log.Fatal().Msg(sprint(args)) }

func sprint(args []interface{}) string {
	s := ""
	for i, a := range args {
		if i > 0 {
			s += " "
		}
		s += toString(a)
	}
	return s
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return ""
}
