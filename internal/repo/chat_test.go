package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func createTestApp(t *testing.T, ctx context.Context, apps *ApplicationRepo) Application {
	t.Helper()
	app, err := apps.Create(ctx, uuid.New().String(), "Test App")
	require.NoError(t, err)
	return app
}

func TestChatCreateAndFind(t *testing.T) {
	pool := getTestDB(t)
	apps := NewApplicationRepo(pool)
	chats := NewChatRepo(pool)
	ctx := context.Background()

	app := createTestApp(t, ctx, apps)

	created, err := chats.Create(ctx, app.ID, 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, created.Number)

	found, err := chats.FindByNumber(ctx, app.ID, 1)
	require.NoError(t, err)
	require.Equal(t, created.ID, found.ID)
}

func TestChatFindByNumberNotFound(t *testing.T) {
	pool := getTestDB(t)
	apps := NewApplicationRepo(pool)
	chats := NewChatRepo(pool)
	ctx := context.Background()

	app := createTestApp(t, ctx, apps)

	_, err := chats.FindByNumber(ctx, app.ID, 99)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestChatCreateDuplicateNumber(t *testing.T) {
	pool := getTestDB(t)
	apps := NewApplicationRepo(pool)
	chats := NewChatRepo(pool)
	ctx := context.Background()

	app := createTestApp(t, ctx, apps)

	_, err := chats.Create(ctx, app.ID, 1)
	require.NoError(t, err)

	_, err = chats.Create(ctx, app.ID, 1)
	require.True(t, errors.Is(err, ErrDuplicateNumber))
}

func TestChatListByAppAfterPagination(t *testing.T) {
	pool := getTestDB(t)
	apps := NewApplicationRepo(pool)
	chats := NewChatRepo(pool)
	ctx := context.Background()

	app := createTestApp(t, ctx, apps)
	for i := int64(1); i <= 5; i++ {
		_, err := chats.Create(ctx, app.ID, i)
		require.NoError(t, err)
	}

	page1, err := chats.ListByAppAfter(ctx, app.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.EqualValues(t, 1, page1[0].Number)
	require.EqualValues(t, 2, page1[1].Number)

	page2, err := chats.ListByAppAfter(ctx, app.ID, page1[len(page1)-1].Number, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.EqualValues(t, 3, page2[0].Number)
	require.EqualValues(t, 4, page2[1].Number)

	page3, err := chats.ListByAppAfter(ctx, app.ID, page2[len(page2)-1].Number, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	require.EqualValues(t, 5, page3[0].Number)
}

func TestChatSetMessagesCountAndRecompute(t *testing.T) {
	pool := getTestDB(t)
	apps := NewApplicationRepo(pool)
	chats := NewChatRepo(pool)
	messages := NewMessageRepo(pool)
	ctx := context.Background()

	app := createTestApp(t, ctx, apps)
	chat, err := chats.Create(ctx, app.ID, 1)
	require.NoError(t, err)
	for i := int64(1); i <= 4; i++ {
		_, err := messages.Create(ctx, chat.ID, i, "hello")
		require.NoError(t, err)
	}

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	require.NoError(t, chats.LockForCount(ctx, tx, chat.ID))
	count, err := chats.CountMessages(ctx, tx, chat.ID)
	require.NoError(t, err)
	require.EqualValues(t, 4, count)

	require.NoError(t, chats.SetMessagesCount(ctx, chat.ID, count))
	refreshed, err := chats.FindByNumber(ctx, app.ID, 1)
	require.NoError(t, err)
	require.EqualValues(t, 4, refreshed.MessagesCount)
}
