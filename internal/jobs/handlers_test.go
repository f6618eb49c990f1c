package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chatingest/chatcore/internal/db"
	"github.com/chatingest/chatcore/internal/repo"
)

func getTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	dbURL := os.Getenv("TEST_DATABASE_URL")
	redisURL := os.Getenv("TEST_REDIS_URL")
	if dbURL == "" || redisURL == "" {
		t.Skip("TEST_DATABASE_URL and TEST_REDIS_URL must both be set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, repo.Schema)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `TRUNCATE chat_message, chat, chat_application RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	redisOpt, err := asynq.ParseRedisURI(redisURL)
	require.NoError(t, err)
	client := NewClient(redisOpt)
	t.Cleanup(func() { client.Close() })

	apps := repo.NewApplicationRepo(pool)
	chats := repo.NewChatRepo(pool)
	messages := repo.NewMessageRepo(pool)

	return NewHandlers(pool, apps, chats, messages, nil, client, zerolog.Nop())
}

func newTask(t *testing.T, taskType string, payload any) *asynq.Task {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(taskType, b)
}

func createTestApp(t *testing.T, h *Handlers) repo.Application {
	t.Helper()
	app, err := h.Apps.Create(context.Background(), uuid.New().String(), "Test App")
	require.NoError(t, err)
	return app
}

func TestHandlePersistChat(t *testing.T) {
	h := getTestHandlers(t)
	app := createTestApp(t, h)

	task := newTask(t, TypePersistChat, PersistChatPayload{AppID: app.ID, Number: 1})
	require.NoError(t, h.HandlePersistChat(context.Background(), task))

	chat, err := h.Chats.FindByNumber(context.Background(), app.ID, 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, chat.Number)
}

func TestHandlePersistChatDuplicateNumberSkipsRetry(t *testing.T) {
	h := getTestHandlers(t)
	app := createTestApp(t, h)

	task := newTask(t, TypePersistChat, PersistChatPayload{AppID: app.ID, Number: 1})
	require.NoError(t, h.HandlePersistChat(context.Background(), task))

	err := h.HandlePersistChat(context.Background(), task)
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandlePersistMessage(t *testing.T) {
	h := getTestHandlers(t)
	app := createTestApp(t, h)
	chat, err := h.Chats.Create(context.Background(), app.ID, 1)
	require.NoError(t, err)

	task := newTask(t, TypePersistMessage, PersistMessagePayload{ChatID: chat.ID, Number: 1, Body: "hi"})
	require.NoError(t, h.HandlePersistMessage(context.Background(), task))

	msg, err := h.Messages.FindByNumber(context.Background(), chat.ID, 1)
	require.NoError(t, err)
	require.Equal(t, "hi", msg.Body)
}

func TestHandleRecomputeAppCount(t *testing.T) {
	h := getTestHandlers(t)
	app := createTestApp(t, h)
	for i := int64(1); i <= 3; i++ {
		_, err := h.Chats.Create(context.Background(), app.ID, i)
		require.NoError(t, err)
	}

	task := newTask(t, TypeRecomputeAppCount, RecomputeAppCountPayload{AppID: app.ID})
	require.NoError(t, h.HandleRecomputeAppCount(context.Background(), task))

	refreshed, err := h.Apps.FindByToken(context.Background(), app.Token)
	require.NoError(t, err)
	require.EqualValues(t, 3, refreshed.ChatsCount)

	// Idempotent: running it again converges on the same count.
	require.NoError(t, h.HandleRecomputeAppCount(context.Background(), task))
	refreshed, err = h.Apps.FindByToken(context.Background(), app.Token)
	require.NoError(t, err)
	require.EqualValues(t, 3, refreshed.ChatsCount)
}

func TestHandleRecomputeChatCount(t *testing.T) {
	h := getTestHandlers(t)
	app := createTestApp(t, h)
	chat, err := h.Chats.Create(context.Background(), app.ID, 1)
	require.NoError(t, err)
	for i := int64(1); i <= 5; i++ {
		_, err := h.Messages.Create(context.Background(), chat.ID, i, "m")
		require.NoError(t, err)
	}

	task := newTask(t, TypeRecomputeChatCount, RecomputeChatCountPayload{ChatID: chat.ID})
	require.NoError(t, h.HandleRecomputeChatCount(context.Background(), task))

	refreshed, err := h.Chats.FindByNumber(context.Background(), app.ID, 1)
	require.NoError(t, err)
	require.EqualValues(t, 5, refreshed.MessagesCount)
}

func TestHandleIndexMessageSkipsRetryWhenMessageGone(t *testing.T) {
	h := getTestHandlers(t)

	task := newTask(t, TypeIndexMessage, IndexMessagePayload{MessageID: 999999})
	err := h.HandleIndexMessage(context.Background(), task)
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleRebuildCountersUnwiredSkipsRetry(t *testing.T) {
	h := getTestHandlers(t)
	h.RebuildCountersFn = nil

	task := newTask(t, TypeRebuildCounters, struct{}{})
	err := h.HandleRebuildCounters(context.Background(), task)
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleRebuildCountersCallsFn(t *testing.T) {
	h := getTestHandlers(t)
	called := false
	h.RebuildCountersFn = func(ctx context.Context) error {
		called = true
		return nil
	}

	task := newTask(t, TypeRebuildCounters, struct{}{})
	require.NoError(t, h.HandleRebuildCounters(context.Background(), task))
	require.True(t, called, "expected RebuildCountersFn to be called")
}

func TestBadPayloadSkipsRetry(t *testing.T) {
	h := getTestHandlers(t)
	task := asynq.NewTask(TypePersistChat, []byte("not json"))

	err := h.HandlePersistChat(context.Background(), task)
	require.True(t, errors.Is(err, asynq.SkipRetry))
}
