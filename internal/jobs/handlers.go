package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/chatingest/chatcore/internal/repo"
	"github.com/chatingest/chatcore/internal/searchindex"
)

// Handlers holds everything a worker process needs to execute jobs:
// the Durable Log Store repos, the Search Index, and a job client to
// enqueue the follow-on jobs a handler triggers (e.g. PersistMessage
// enqueues IndexMessage once the row exists).
type Handlers struct {
	DB       *pgxpool.Pool
	Apps     *repo.ApplicationRepo
	Chats    *repo.ChatRepo
	Messages *repo.MessageRepo
	Index    *searchindex.Index
	Client   *Client
	Log      zerolog.Logger

	// RebuildCountersFn, when set, performs the actual counter rebuild.
	// Kept as a field (rather than an import of internal/reconcile,
	// which itself depends on this package's Client) to avoid an
	// import cycle; cmd/worker wires it at startup.
	RebuildCountersFn func(context.Context) error
}

// NewHandlers wires a Handlers from its dependencies.
func NewHandlers(db *pgxpool.Pool, apps *repo.ApplicationRepo, chats *repo.ChatRepo, messages *repo.MessageRepo, idx *searchindex.Index, client *Client, log zerolog.Logger) *Handlers {
	return &Handlers{DB: db, Apps: apps, Chats: chats, Messages: messages, Index: idx, Client: client, Log: log}
}

// Mux builds the asynq.ServeMux that dispatches each task type to its
// handler. The worker binary passes this straight to asynq.Server.Run.
func (h *Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePersistChat, h.HandlePersistChat)
	mux.HandleFunc(TypePersistMessage, h.HandlePersistMessage)
	mux.HandleFunc(TypeRecomputeAppCount, h.HandleRecomputeAppCount)
	mux.HandleFunc(TypeRecomputeChatCount, h.HandleRecomputeChatCount)
	mux.HandleFunc(TypeIndexMessage, h.HandleIndexMessage)
	mux.HandleFunc(TypeReindexAll, h.HandleReindexAll)
	mux.HandleFunc(TypeRebuildCounters, h.HandleRebuildCounters)
	return mux
}

// HandlePersistChat writes the chat row at its already-allocated
// number. A duplicate-number collision is a data integrity problem the
// Counter Store should never produce — retrying will not fix it, so it
// is reported via asynq.SkipRetry rather than burning the retry budget.
func (h *Handlers) HandlePersistChat(ctx context.Context, t *asynq.Task) error {
	var p PersistChatPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	chat, err := h.Chats.Create(ctx, p.AppID, p.Number)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateNumber) {
			h.Log.Error().Int64("app_id", p.AppID).Int64("number", p.Number).Msg("persist:chat duplicate number, dropping")
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return fmt.Errorf("persist chat: %w", err)
	}

	if err := h.Client.EnqueueRecomputeAppCount(ctx, p.AppID); err != nil {
		h.Log.Error().Err(err).Int64("app_id", p.AppID).Msg("enqueue recompute app count after persist:chat failed")
	}
	h.Log.Debug().Int64("chat_id", chat.ID).Int64("number", chat.Number).Msg("persisted chat")
	return nil
}

// HandlePersistMessage writes the message row, then chains an
// IndexMessage job — persistence and indexing are two different
// systems of record, so a message exists durably before it becomes
// searchable.
func (h *Handlers) HandlePersistMessage(ctx context.Context, t *asynq.Task) error {
	var p PersistMessagePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	msg, err := h.Messages.Create(ctx, p.ChatID, p.Number, p.Body)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateNumber) {
			h.Log.Error().Int64("chat_id", p.ChatID).Int64("number", p.Number).Msg("persist:message duplicate number, dropping")
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return fmt.Errorf("persist message: %w", err)
	}

	if err := h.Client.EnqueueRecomputeChatCount(ctx, p.ChatID); err != nil {
		h.Log.Error().Err(err).Int64("chat_id", p.ChatID).Msg("enqueue recompute chat count after persist:message failed")
	}
	if err := h.Client.EnqueueIndexMessage(ctx, msg.ID); err != nil {
		h.Log.Error().Err(err).Int64("message_id", msg.ID).Msg("enqueue index:message after persist:message failed")
	}
	h.Log.Debug().Int64("message_id", msg.ID).Int64("number", msg.Number).Msg("persisted message")
	return nil
}

// HandleRecomputeAppCount recomputes chats_count for one application
// under a row lock, so concurrent recounts of the same application
// serialize instead of racing a read-then-write-back. Idempotent:
// running it twice in a row converges on the same true count.
func (h *Handlers) HandleRecomputeAppCount(ctx context.Context, t *asynq.Task) error {
	var p RecomputeAppCountPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	return withTx(ctx, h.DB, func(tx pgx.Tx) error {
		if err := h.Apps.LockForCount(ctx, tx, p.AppID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: application %d gone", asynq.SkipRetry, p.AppID)
			}
			return err
		}
		count, err := h.Apps.CountChats(ctx, tx, p.AppID)
		if err != nil {
			return err
		}
		return h.Apps.SetChatsCount(ctx, p.AppID, count)
	})
}

// HandleRecomputeChatCount recomputes messages_count for one chat
// under a row lock, mirroring HandleRecomputeAppCount one level down.
func (h *Handlers) HandleRecomputeChatCount(ctx context.Context, t *asynq.Task) error {
	var p RecomputeChatCountPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	return withTx(ctx, h.DB, func(tx pgx.Tx) error {
		if err := h.Chats.LockForCount(ctx, tx, p.ChatID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: chat %d gone", asynq.SkipRetry, p.ChatID)
			}
			return err
		}
		count, err := h.Chats.CountMessages(ctx, tx, p.ChatID)
		if err != nil {
			return err
		}
		return h.Chats.SetMessagesCount(ctx, p.ChatID, count)
	})
}

// HandleIndexMessage indexes one message into the Search Index. It
// retries the Elasticsearch call itself with a short 1s/2s/4s backoff
// (SPEC_FULL.md §4.C) before surfacing a final error to asynq's own
// retry machinery, since most Elasticsearch hiccups clear in well
// under asynq's coarser retry interval.
func (h *Handlers) HandleIndexMessage(ctx context.Context, t *asynq.Task) error {
	var p IndexMessagePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	msg, err := h.Messages.FindByID(ctx, p.MessageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: message %d gone", asynq.SkipRetry, p.MessageID)
		}
		return err
	}

	doc := searchindex.Document{ChatID: msg.ChatID, Body: msg.Body, CreatedAt: msg.CreatedAt}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		return h.Index.IndexMessage(ctx, p.MessageID, doc)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx))
}

// HandleReindexAll streams every message out of the Durable Log Store
// and bulk-imports it into the Search Index, overwriting whatever is
// there. Triggered only by the index reconciler when it detects
// drift, so it runs rarely and is allowed a long timeout.
func (h *Handlers) HandleReindexAll(ctx context.Context, t *asynq.Task) error {
	const batchSize = 500
	batch := make(map[int64]searchindex.Document, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := h.Index.BulkImport(ctx, batch); err != nil {
			return err
		}
		for k := range batch {
			delete(batch, k)
		}
		return nil
	}

	err := h.Messages.AllForReindex(ctx, func(m repo.Message) error {
		batch[m.ID] = searchindex.Document{ChatID: m.ChatID, Body: m.Body, CreatedAt: m.CreatedAt}
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reindex all: %w", err)
	}
	return flush()
}

// HandleRebuildCounters triggers a full counter rebuild, raising each
// Counter Store entry to at least the true max allocated number found
// in the Durable Log Store. It only ever raises a counter (I3):
// lowering one could hand out a number that was already used. The
// actual comparison logic lives in internal/reconcile and is wired in
// by cmd/worker at startup to avoid an import cycle.
func (h *Handlers) HandleRebuildCounters(ctx context.Context, t *asynq.Task) error {
	if h.RebuildCountersFn == nil {
		return fmt.Errorf("%w: rebuild counters not wired", asynq.SkipRetry)
	}
	return h.RebuildCountersFn(ctx)
}

func withTx(ctx context.Context, db *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
