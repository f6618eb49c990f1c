package repo

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatingest/chatcore/internal/db"
)

// getTestDB connects to TEST_DATABASE_URL, applies the schema, and
// truncates every table so each test starts from a clean slate.
// Skipped outside integration runs, matching the rest of this codebase.
func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE chat_message, chat, chat_application RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}

	t.Cleanup(pool.Close)
	return pool
}
