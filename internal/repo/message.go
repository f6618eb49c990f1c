package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Message is the durable, immutable record for a chat message.
type Message struct {
	ID        int64
	ChatID    int64
	Number    int64
	Body      string
	CreatedAt time.Time
}

// MessageRepo is the Durable Log Store's chat_message table access.
type MessageRepo struct {
	DB *pgxpool.Pool
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{DB: db}
}

// Create inserts a message row at the given, already-allocated number.
func (r *MessageRepo) Create(ctx context.Context, chatID, number int64, body string) (Message, error) {
	var m Message
	err := r.DB.QueryRow(ctx, `
		INSERT INTO chat_message (chat_id, number, body)
		VALUES ($1, $2, $3)
		RETURNING id, chat_id, number, body, created_at
	`, chatID, number, body).Scan(&m.ID, &m.ChatID, &m.Number, &m.Body, &m.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Message{}, ErrDuplicateNumber
		}
		return Message{}, err
	}
	return m, nil
}

// FindByNumber looks up a message by (chatID, number).
func (r *MessageRepo) FindByNumber(ctx context.Context, chatID, number int64) (Message, error) {
	var m Message
	err := r.DB.QueryRow(ctx, `
		SELECT id, chat_id, number, body, created_at
		FROM chat_message WHERE chat_id = $1 AND number = $2
	`, chatID, number).Scan(&m.ID, &m.ChatID, &m.Number, &m.Body, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, err
	}
	return m, nil
}

// ListByChat returns every message under a chat, ordered by number.
func (r *MessageRepo) ListByChat(ctx context.Context, chatID int64) ([]Message, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, chat_id, number, body, created_at
		FROM chat_message WHERE chat_id = $1 ORDER BY number
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Number, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListByChatAfter returns up to limit messages under a chat with
// number > after, ordered by number — the keyset-paginated form of
// ListByChat used by the HTTP list endpoint so a chat with a very long
// history doesn't require materializing every message per request.
func (r *MessageRepo) ListByChatAfter(ctx context.Context, chatID, after int64, limit int) ([]Message, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, chat_id, number, body, created_at
		FROM chat_message WHERE chat_id = $1 AND number > $2
		ORDER BY number LIMIT $3
	`, chatID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Number, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// FindByID looks up a message by its internal ID, used by IndexMessage
// workers and by SearchMessages to resolve index hits.
func (r *MessageRepo) FindByID(ctx context.Context, id int64) (Message, error) {
	var m Message
	err := r.DB.QueryRow(ctx, `
		SELECT id, chat_id, number, body, created_at
		FROM chat_message WHERE id = $1
	`, id).Scan(&m.ID, &m.ChatID, &m.Number, &m.Body, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, err
	}
	return m, nil
}

// Count returns the total number of messages ever persisted, used by
// the index reconciler to compare against the Search Index's document
// count.
func (r *MessageRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM chat_message`).Scan(&n)
	return n, err
}

// AllForReindex streams every message for a full ReindexAll bulk
// import, invoking fn for each row. Using a callback instead of
// materializing the whole table keeps ReindexAll's memory flat
// regardless of table size.
func (r *MessageRepo) AllForReindex(ctx context.Context, fn func(Message) error) error {
	rows, err := r.DB.Query(ctx, `
		SELECT id, chat_id, number, body, created_at FROM chat_message ORDER BY id
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Number, &m.Body, &m.CreatedAt); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}
