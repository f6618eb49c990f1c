package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Chat is the durable record for a chat within an application.
type Chat struct {
	ID            int64
	AppID         int64
	Number        int64
	MessagesCount int64
	CreatedAt     time.Time
}

// ChatRepo is the Durable Log Store's chat table access.
type ChatRepo struct {
	DB *pgxpool.Pool
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *pgxpool.Pool) *ChatRepo {
	return &ChatRepo{DB: db}
}

// Create inserts a chat row at the given, already-allocated number.
// A unique violation means the Counter Store handed out a number that
// collides with an existing row — the caller (worker) decides whether
// to retry with a fresh allocation or drop the job.
func (r *ChatRepo) Create(ctx context.Context, appID, number int64) (Chat, error) {
	var c Chat
	err := r.DB.QueryRow(ctx, `
		INSERT INTO chat (chat_application_id, number)
		VALUES ($1, $2)
		RETURNING id, chat_application_id, number, messages_count, created_at
	`, appID, number).Scan(&c.ID, &c.AppID, &c.Number, &c.MessagesCount, &c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Chat{}, ErrDuplicateNumber
		}
		return Chat{}, err
	}
	return c, nil
}

// FindByNumber looks up a chat by (appID, number).
func (r *ChatRepo) FindByNumber(ctx context.Context, appID, number int64) (Chat, error) {
	var c Chat
	err := r.DB.QueryRow(ctx, `
		SELECT id, chat_application_id, number, messages_count, created_at
		FROM chat WHERE chat_application_id = $1 AND number = $2
	`, appID, number).Scan(&c.ID, &c.AppID, &c.Number, &c.MessagesCount, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Chat{}, ErrNotFound
		}
		return Chat{}, err
	}
	return c, nil
}

// ListByApp returns every chat under an application, ordered by number.
func (r *ChatRepo) ListByApp(ctx context.Context, appID int64) ([]Chat, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, chat_application_id, number, messages_count, created_at
		FROM chat WHERE chat_application_id = $1 ORDER BY number
	`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.AppID, &c.Number, &c.MessagesCount, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListByAppAfter returns up to limit chats under an application with
// number > after, ordered by number — the keyset-paginated form of
// ListByApp used by the HTTP list endpoint.
func (r *ChatRepo) ListByAppAfter(ctx context.Context, appID, after int64, limit int) ([]Chat, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, chat_application_id, number, messages_count, created_at
		FROM chat WHERE chat_application_id = $1 AND number > $2
		ORDER BY number LIMIT $3
	`, appID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.AppID, &c.Number, &c.MessagesCount, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetMessagesCount overwrites the advisory messages_count column.
func (r *ChatRepo) SetMessagesCount(ctx context.Context, id int64, count int64) error {
	_, err := r.DB.Exec(ctx, `UPDATE chat SET messages_count = $2 WHERE id = $1`, id, count)
	return err
}

// LockForCount acquires a row-level lock on the chat, for use inside a
// transaction by RecomputeChatCount.
func (r *ChatRepo) LockForCount(ctx context.Context, tx pgx.Tx, id int64) error {
	var discard int64
	return tx.QueryRow(ctx, `SELECT id FROM chat WHERE id = $1 FOR UPDATE`, id).Scan(&discard)
}

// CountMessages returns the true number of messages under a chat.
func (r *ChatRepo) CountMessages(ctx context.Context, tx pgx.Tx, id int64) (int64, error) {
	var n int64
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM chat_message WHERE chat_id = $1`, id).Scan(&n)
	return n, err
}

// MaxMessageNumber returns the highest message number under a chat, or
// 0 if it has no messages.
func (r *ChatRepo) MaxMessageNumber(ctx context.Context, id int64) (int64, error) {
	var n *int64
	err := r.DB.QueryRow(ctx, `SELECT MAX(number) FROM chat_message WHERE chat_id = $1`, id).Scan(&n)
	if err != nil {
		return 0, err
	}
	if n == nil {
		return 0, nil
	}
	return *n, nil
}

// AllIDs returns every chat's internal ID, for the counter reconciler's
// sampling pass.
func (r *ChatRepo) AllIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.DB.Query(ctx, `SELECT id FROM chat ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
