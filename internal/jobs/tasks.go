// Package jobs defines the job queue contract shared between the
// ingest front-end (enqueues) and the worker binary (handles): the
// task types of SPEC_FULL.md §4.C, their JSON payloads, and a thin
// client wrapper for enqueueing with the right retry/timeout options.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task type strings, one per job class in SPEC_FULL.md §4.C. These are
// the wire-level names asynq stores in Redis; the worker mux dispatches
// on them.
const (
	TypePersistChat        = "persist:chat"
	TypePersistMessage     = "persist:message"
	TypeRecomputeAppCount  = "recompute:app_count"
	TypeRecomputeChatCount = "recompute:chat_count"
	TypeIndexMessage       = "index:message"
	TypeReindexAll         = "reindex:all"
	TypeRebuildCounters    = "rebuild:counters"
)

// PersistChatPayload carries the allocated number for a chat that the
// worker must write to the Durable Log Store.
type PersistChatPayload struct {
	AppID  int64 `json:"app_id"`
	Number int64 `json:"number"`
}

// PersistMessagePayload carries the allocated number and body for a
// message the worker must write.
type PersistMessagePayload struct {
	ChatID int64  `json:"chat_id"`
	Number int64  `json:"number"`
	Body   string `json:"body"`
}

// RecomputeAppCountPayload names the application to recount.
type RecomputeAppCountPayload struct {
	AppID int64 `json:"app_id"`
}

// RecomputeChatCountPayload names the chat to recount.
type RecomputeChatCountPayload struct {
	ChatID int64 `json:"chat_id"`
}

// IndexMessagePayload names the message to index.
type IndexMessagePayload struct {
	MessageID int64 `json:"message_id"`
}

// Client enqueues jobs onto the shared Redis-backed queue. It is a
// thin wrapper over asynq.Client so the ingest front-end never talks
// to asynq's API directly — only to the job classes SPEC_FULL.md
// names.
type Client struct {
	ac *asynq.Client
}

// NewClient builds a job queue client from a Redis connection option
// set (same Redis instance the Counter Store uses, by default).
func NewClient(redisOpt asynq.RedisConnOpt) *Client {
	return &Client{ac: asynq.NewClient(redisOpt)}
}

// Close releases the underlying asynq client's connections.
func (c *Client) Close() error {
	return c.ac.Close()
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("jobs: marshal %s payload: %w", taskType, err)
	}
	task := asynq.NewTask(taskType, b)
	if _, err := c.ac.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", taskType, err)
	}
	return nil
}

// EnqueuePersistChat enqueues a PersistChat job. Transient DB failures
// get a bounded retry budget per SPEC_FULL.md §4.C.
func (c *Client) EnqueuePersistChat(ctx context.Context, appID, number int64) error {
	return c.enqueue(ctx, TypePersistChat, PersistChatPayload{AppID: appID, Number: number},
		asynq.MaxRetry(5), asynq.Timeout(10*time.Second))
}

// EnqueuePersistMessage enqueues a PersistMessage job.
func (c *Client) EnqueuePersistMessage(ctx context.Context, chatID, number int64, body string) error {
	return c.enqueue(ctx, TypePersistMessage, PersistMessagePayload{ChatID: chatID, Number: number, Body: body},
		asynq.MaxRetry(5), asynq.Timeout(10*time.Second))
}

// EnqueueRecomputeAppCount enqueues a RecomputeAppCount job. Idempotent,
// so it needs no more than a couple of retries.
func (c *Client) EnqueueRecomputeAppCount(ctx context.Context, appID int64) error {
	return c.enqueue(ctx, TypeRecomputeAppCount, RecomputeAppCountPayload{AppID: appID},
		asynq.MaxRetry(3), asynq.Timeout(10*time.Second))
}

// EnqueueRecomputeChatCount enqueues a RecomputeChatCount job.
func (c *Client) EnqueueRecomputeChatCount(ctx context.Context, chatID int64) error {
	return c.enqueue(ctx, TypeRecomputeChatCount, RecomputeChatCountPayload{ChatID: chatID},
		asynq.MaxRetry(3), asynq.Timeout(10*time.Second))
}

// EnqueueIndexMessage enqueues an IndexMessage job. MaxRetry is 3 at
// the asynq level; the 1s/2s/4s schedule of SPEC_FULL.md §4.C is the
// handler's own internal retry loop, and each asynq retry after that
// waits for asynq's default retry delay, which is far longer.
func (c *Client) EnqueueIndexMessage(ctx context.Context, messageID int64) error {
	return c.enqueue(ctx, TypeIndexMessage, IndexMessagePayload{MessageID: messageID},
		asynq.MaxRetry(3), asynq.Timeout(10*time.Second))
}

// EnqueueReindexAll enqueues a full reindex. Runs as a single long job
// rather than one task per message, since it is triggered rarely (only
// by the index reconciler) and needs to see a consistent row count.
func (c *Client) EnqueueReindexAll(ctx context.Context) error {
	return c.enqueue(ctx, TypeReindexAll, struct{}{}, asynq.MaxRetry(1), asynq.Timeout(10*time.Minute))
}

// EnqueueRebuildCounters enqueues a full counter rebuild.
func (c *Client) EnqueueRebuildCounters(ctx context.Context) error {
	return c.enqueue(ctx, TypeRebuildCounters, struct{}{}, asynq.MaxRetry(1), asynq.Timeout(5*time.Minute))
}
