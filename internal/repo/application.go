package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint
// violation (23505). Centralized here so every repo checks it the
// same way instead of string-matching driver errors.
const uniqueViolation = "23505"

// Application is the durable record for a tenant.
type Application struct {
	ID         int64
	Token      string
	Name       string
	ChatsCount int64
	CreatedAt  time.Time
}

// ApplicationRepo is the Durable Log Store's application table access.
type ApplicationRepo struct {
	DB *pgxpool.Pool
}

// NewApplicationRepo constructs an ApplicationRepo.
func NewApplicationRepo(db *pgxpool.Pool) *ApplicationRepo {
	return &ApplicationRepo{DB: db}
}

// Create inserts a new application with the given token and name.
func (r *ApplicationRepo) Create(ctx context.Context, token, name string) (Application, error) {
	var app Application
	err := r.DB.QueryRow(ctx, `
		INSERT INTO chat_application (token, name)
		VALUES ($1, $2)
		RETURNING id, token, name, chats_count, created_at
	`, token, name).Scan(&app.ID, &app.Token, &app.Name, &app.ChatsCount, &app.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Application{}, ErrDuplicateToken
		}
		return Application{}, err
	}
	return app, nil
}

// FindByToken looks up an application by its external token.
func (r *ApplicationRepo) FindByToken(ctx context.Context, token string) (Application, error) {
	var app Application
	err := r.DB.QueryRow(ctx, `
		SELECT id, token, name, chats_count, created_at
		FROM chat_application WHERE token = $1
	`, token).Scan(&app.ID, &app.Token, &app.Name, &app.ChatsCount, &app.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, err
	}
	return app, nil
}

// List returns every application, ordered by creation time.
func (r *ApplicationRepo) List(ctx context.Context) ([]Application, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, token, name, chats_count, created_at
		FROM chat_application ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Application
	for rows.Next() {
		var app Application
		if err := rows.Scan(&app.ID, &app.Token, &app.Name, &app.ChatsCount, &app.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

// UpdateName changes the mutable name field.
func (r *ApplicationRepo) UpdateName(ctx context.Context, token, name string) (Application, error) {
	var app Application
	err := r.DB.QueryRow(ctx, `
		UPDATE chat_application SET name = $2
		WHERE token = $1
		RETURNING id, token, name, chats_count, created_at
	`, token, name).Scan(&app.ID, &app.Token, &app.Name, &app.ChatsCount, &app.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, err
	}
	return app, nil
}

// SetChatsCount overwrites the advisory chats_count column. Callers
// (RecomputeAppCount) are responsible for holding the row lock.
func (r *ApplicationRepo) SetChatsCount(ctx context.Context, id int64, count int64) error {
	_, err := r.DB.Exec(ctx, `UPDATE chat_application SET chats_count = $2 WHERE id = $1`, id, count)
	return err
}

// LockForCount acquires a row-level lock on the application and
// returns its internal ID, for use inside a transaction by
// RecomputeAppCount. Using SELECT ... FOR UPDATE serializes concurrent
// recounts of the same application, avoiding the classic
// read-then-write-back race under concurrency.
func (r *ApplicationRepo) LockForCount(ctx context.Context, tx pgx.Tx, id int64) error {
	var discard int64
	return tx.QueryRow(ctx, `SELECT id FROM chat_application WHERE id = $1 FOR UPDATE`, id).Scan(&discard)
}

// CountChats returns the true number of chats under an application.
func (r *ApplicationRepo) CountChats(ctx context.Context, tx pgx.Tx, id int64) (int64, error) {
	var n int64
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM chat WHERE chat_application_id = $1`, id).Scan(&n)
	return n, err
}

// MaxChatNumber returns the highest chat number under an application,
// or 0 if it has no chats.
func (r *ApplicationRepo) MaxChatNumber(ctx context.Context, id int64) (int64, error) {
	var n *int64
	err := r.DB.QueryRow(ctx, `SELECT MAX(number) FROM chat WHERE chat_application_id = $1`, id).Scan(&n)
	if err != nil {
		return 0, err
	}
	if n == nil {
		return 0, nil
	}
	return *n, nil
}
