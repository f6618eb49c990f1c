// Package reconcile implements the three reconciliation loops of
// SPEC_FULL.md §4.F: a startup counter sampler, a startup index count
// comparator, and a periodic row-locked count recomputation.
package reconcile

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/chatingest/chatcore/internal/counterstore"
	"github.com/chatingest/chatcore/internal/jobs"
	"github.com/chatingest/chatcore/internal/repo"
	"github.com/chatingest/chatcore/internal/searchindex"
)

// CounterReconciler samples up to SampleSize parents at startup and
// enqueues a full rebuild if the Counter Store has fallen behind the
// Durable Log Store's true max allocated number — the recovery
// protocol for a wiped or newly provisioned Redis instance.
type CounterReconciler struct {
	Apps       *repo.ApplicationRepo
	Chats      *repo.ChatRepo
	Counter    counterstore.Store
	Jobs       *jobs.Client
	SampleSize int
	Log        zerolog.Logger
}

// Run performs one sampling pass and enqueues rebuild:counters if any
// sampled parent's counter is behind its true max child number.
func (c *CounterReconciler) Run(ctx context.Context) error {
	appIDs, err := c.sampleAppIDs(ctx)
	if err != nil {
		return fmt.Errorf("counter reconciler: list applications: %w", err)
	}
	chatIDs, err := c.sampleChatIDs(ctx)
	if err != nil {
		return fmt.Errorf("counter reconciler: list chats: %w", err)
	}

	deficit := false
	for _, id := range appIDs {
		max, err := c.Apps.MaxChatNumber(ctx, id)
		if err != nil {
			return fmt.Errorf("counter reconciler: max chat number for app %d: %w", id, err)
		}
		cur, _, err := c.Counter.Get(ctx, counterstore.AppChatCounterKey(id))
		if err != nil {
			return fmt.Errorf("counter reconciler: get counter for app %d: %w", id, err)
		}
		if cur < max {
			c.Log.Warn().Int64("app_id", id).Int64("counter", cur).Int64("max", max).Msg("counter deficit detected")
			deficit = true
		}
	}
	for _, id := range chatIDs {
		max, err := c.Chats.MaxMessageNumber(ctx, id)
		if err != nil {
			return fmt.Errorf("counter reconciler: max message number for chat %d: %w", id, err)
		}
		cur, _, err := c.Counter.Get(ctx, counterstore.ChatMessageCounterKey(id))
		if err != nil {
			return fmt.Errorf("counter reconciler: get counter for chat %d: %w", id, err)
		}
		if cur < max {
			c.Log.Warn().Int64("chat_id", id).Int64("counter", cur).Int64("max", max).Msg("counter deficit detected")
			deficit = true
		}
	}

	if deficit {
		c.Log.Info().Msg("enqueueing rebuild:counters")
		return c.Jobs.EnqueueRebuildCounters(ctx)
	}
	return nil
}

func (c *CounterReconciler) sampleAppIDs(ctx context.Context) ([]int64, error) {
	apps, err := c.Apps.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(apps))
	for _, a := range apps {
		ids = append(ids, a.ID)
	}
	return capSlice(ids, c.SampleSize), nil
}

func (c *CounterReconciler) sampleChatIDs(ctx context.Context) ([]int64, error) {
	ids, err := c.Chats.AllIDs(ctx)
	if err != nil {
		return nil, err
	}
	return capSlice(ids, c.SampleSize), nil
}

func capSlice(ids []int64, n int) []int64 {
	if n <= 0 || len(ids) <= n {
		return ids
	}
	return ids[:n]
}

// RebuildAll raises every application's and chat's counter to at least
// its true max allocated number, never lowering one (I3). This is what
// HandleRebuildCounters calls, and what CounterReconciler.Run enqueues
// when it finds a deficit.
func RebuildAll(ctx context.Context, apps *repo.ApplicationRepo, chats *repo.ChatRepo, counter counterstore.Store) error {
	appList, err := apps.List(ctx)
	if err != nil {
		return fmt.Errorf("rebuild counters: list applications: %w", err)
	}
	for _, a := range appList {
		max, err := apps.MaxChatNumber(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("rebuild counters: max chat number for app %d: %w", a.ID, err)
		}
		key := counterstore.AppChatCounterKey(a.ID)
		cur, ok, err := counter.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("rebuild counters: get counter for app %d: %w", a.ID, err)
		}
		if !ok || cur < max {
			if err := counter.Set(ctx, key, max); err != nil {
				return fmt.Errorf("rebuild counters: set counter for app %d: %w", a.ID, err)
			}
		}
	}

	chatIDs, err := chats.AllIDs(ctx)
	if err != nil {
		return fmt.Errorf("rebuild counters: list chats: %w", err)
	}
	for _, id := range chatIDs {
		max, err := chats.MaxMessageNumber(ctx, id)
		if err != nil {
			return fmt.Errorf("rebuild counters: max message number for chat %d: %w", id, err)
		}
		key := counterstore.ChatMessageCounterKey(id)
		cur, ok, err := counter.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("rebuild counters: get counter for chat %d: %w", id, err)
		}
		if !ok || cur < max {
			if err := counter.Set(ctx, key, max); err != nil {
				return fmt.Errorf("rebuild counters: set counter for chat %d: %w", id, err)
			}
		}
	}
	return nil
}

// IndexReconciler compares the Durable Log Store's message count to
// the Search Index's document count at startup and enqueues a full
// reindex on any mismatch, in either direction.
type IndexReconciler struct {
	Messages *repo.MessageRepo
	Index    *searchindex.Index
	Jobs     *jobs.Client
	Log      zerolog.Logger
}

// Run performs one comparison pass.
func (r *IndexReconciler) Run(ctx context.Context) error {
	if err := r.Index.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("index reconciler: ensure index: %w", err)
	}

	dbCount, err := r.Messages.Count(ctx)
	if err != nil {
		return fmt.Errorf("index reconciler: count messages: %w", err)
	}
	idxCount, err := r.Index.Count(ctx)
	if err != nil {
		return fmt.Errorf("index reconciler: count index: %w", err)
	}

	if dbCount != idxCount {
		r.Log.Warn().Int64("db_count", dbCount).Int64("index_count", idxCount).Msg("search index drift detected, enqueueing reindex:all")
		return r.Jobs.EnqueueReindexAll(ctx)
	}
	return nil
}

// CountReconciler periodically recomputes chats_count/messages_count
// for every application and chat under a row lock, run on a
// robfig/cron schedule. Idempotent by construction: each tick simply
// overwrites the advisory columns with the true count.
type CountReconciler struct {
	DB    *pgxpool.Pool
	Apps  *repo.ApplicationRepo
	Chats *repo.ChatRepo
	Log   zerolog.Logger

	cronSched *cron.Cron
}

// Start schedules the reconciler at the given cron spec (e.g. "@every
// 30s") and begins running it in the background. Call Stop to halt it.
func (c *CountReconciler) Start(spec string) error {
	c.cronSched = cron.New()
	_, err := c.cronSched.AddFunc(spec, func() {
		ctx := context.Background()
		if err := c.Run(ctx); err != nil {
			c.Log.Error().Err(err).Msg("count reconciler tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("count reconciler: schedule: %w", err)
	}
	c.cronSched.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight tick.
func (c *CountReconciler) Stop() {
	if c.cronSched != nil {
		<-c.cronSched.Stop().Done()
	}
}

// Run performs one full recompute pass over every application and chat.
func (c *CountReconciler) Run(ctx context.Context) error {
	appList, err := c.Apps.List(ctx)
	if err != nil {
		return fmt.Errorf("count reconciler: list applications: %w", err)
	}
	for _, a := range appList {
		if err := c.recomputeApp(ctx, a.ID); err != nil {
			c.Log.Error().Err(err).Int64("app_id", a.ID).Msg("recompute app count failed")
		}
	}

	for _, a := range appList {
		chatList, err := c.Chats.ListByApp(ctx, a.ID)
		if err != nil {
			c.Log.Error().Err(err).Int64("app_id", a.ID).Msg("list chats for recompute failed")
			continue
		}
		for _, chat := range chatList {
			if err := c.recomputeChat(ctx, chat.ID); err != nil {
				c.Log.Error().Err(err).Int64("chat_id", chat.ID).Msg("recompute chat count failed")
			}
		}
	}
	return nil
}

func (c *CountReconciler) recomputeApp(ctx context.Context, id int64) error {
	tx, err := c.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := c.Apps.LockForCount(ctx, tx, id); err != nil {
		if err == pgx.ErrNoRows {
			return nil
		}
		return err
	}
	count, err := c.Apps.CountChats(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := c.Apps.SetChatsCount(ctx, id, count); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (c *CountReconciler) recomputeChat(ctx context.Context, id int64) error {
	tx, err := c.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := c.Chats.LockForCount(ctx, tx, id); err != nil {
		if err == pgx.ErrNoRows {
			return nil
		}
		return err
	}
	count, err := c.Chats.CountMessages(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := c.Chats.SetMessagesCount(ctx, id, count); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
