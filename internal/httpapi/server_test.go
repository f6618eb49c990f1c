package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/chatingest/chatcore/internal/counterstore"
	"github.com/chatingest/chatcore/internal/db"
	"github.com/chatingest/chatcore/internal/jobs"
	"github.com/chatingest/chatcore/internal/repo"
	"github.com/chatingest/chatcore/internal/searchindex"
)

// getTestServer wires a Server against real Postgres and Redis test
// instances. Index is set only when TEST_SEARCH_URL is set and is nil
// otherwise; only SearchMessages and HealthCheck touch it, and no test
// here reaches the index.
func getTestServer(t *testing.T) *Server {
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
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, repo.Schema); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE chat_message, chat, chat_application RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}

	counter, err := counterstore.New(ctx, redisURL)
	if err != nil {
		t.Fatalf("failed to connect to test redis: %v", err)
	}
	t.Cleanup(func() { counter.Close() })

	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		t.Fatalf("failed to parse TEST_REDIS_URL: %v", err)
	}
	jobClient := jobs.NewClient(redisOpt)
	t.Cleanup(func() { jobClient.Close() })

	var index *searchindex.Index
	if searchURL := os.Getenv("TEST_SEARCH_URL"); searchURL != "" {
		idx, err := searchindex.New(searchURL)
		if err != nil {
			t.Fatalf("failed to build search index client: %v", err)
		}
		index = idx
	}

	return &Server{
		Apps:     repo.NewApplicationRepo(pool),
		Chats:    repo.NewChatRepo(pool),
		Messages: repo.NewMessageRepo(pool),
		Counter:  counter,
		Jobs:     jobClient,
		Index:    index,
		Health:   &HealthChecker{DB: pool, Counter: counter, Index: index},
	}
}

func decodeJSON(t *testing.T, body *bytes.Buffer, v any) {
	t.Helper()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateApplicationAndNoIDOnWire(t *testing.T) {
	srv := getTestServer(t)
	router := srv.Routes()

	w := doRequest(t, router, http.MethodPost, "/api/v1/chat_applications", map[string]any{
		"chat_application": map[string]string{"name": "Acme Support"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var raw map[string]any
	decodeJSON(t, w.Body, &raw)
	if _, hasID := raw["id"]; hasID {
		t.Error("response leaked an internal \"id\" field")
	}
	if raw["name"] != "Acme Support" {
		t.Errorf("name = %v, want %q", raw["name"], "Acme Support")
	}
	if raw["token"] == "" || raw["token"] == nil {
		t.Error("expected a non-empty token")
	}
}

func TestCreateApplicationValidation(t *testing.T) {
	srv := getTestServer(t)
	router := srv.Routes()

	w := doRequest(t, router, http.MethodPost, "/api/v1/chat_applications", map[string]any{
		"chat_application": map[string]string{"name": ""},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}

	var body validationBody
	decodeJSON(t, w.Body, &body)
	if len(body.Errors["name"]) == 0 {
		t.Error("expected a validation error on \"name\"")
	}
}

func TestGetApplicationNotFound(t *testing.T) {
	srv := getTestServer(t)
	router := srv.Routes()

	w := doRequest(t, router, http.MethodGet, "/api/v1/chat_applications/does-not-exist", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func createApp(t *testing.T, router http.Handler, name string) map[string]any {
	t.Helper()
	w := doRequest(t, router, http.MethodPost, "/api/v1/chat_applications", map[string]any{
		"chat_application": map[string]string{"name": name},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("createApp: status = %d, body = %s", w.Code, w.Body.String())
	}
	var app map[string]any
	decodeJSON(t, w.Body, &app)
	return app
}

// persistChat writes the chat row the way the persist:chat worker
// would. CreateChat only allocates a number and enqueues the job, and
// no worker runs in these tests.
func persistChat(t *testing.T, srv *Server, token string, number int64) repo.Chat {
	t.Helper()
	ctx := context.Background()
	app, err := srv.Apps.FindByToken(ctx, token)
	if err != nil {
		t.Fatalf("persistChat: find application: %v", err)
	}
	chat, err := srv.Chats.Create(ctx, app.ID, number)
	if err != nil {
		t.Fatalf("persistChat: create chat: %v", err)
	}
	return chat
}

func TestUpdateApplication(t *testing.T) {
	srv := getTestServer(t)
	router := srv.Routes()

	app := createApp(t, router, "Old Name")
	token := app["token"].(string)

	w := doRequest(t, router, http.MethodPatch, "/api/v1/chat_applications/"+token, map[string]any{
		"chat_application": map[string]string{"name": "New Name"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	var updated map[string]any
	decodeJSON(t, w.Body, &updated)
	if updated["name"] != "New Name" {
		t.Errorf("name = %v, want %q", updated["name"], "New Name")
	}
}

func TestCreateChatAndList(t *testing.T) {
	srv := getTestServer(t)
	router := srv.Routes()

	app := createApp(t, router, "Chats App")
	token := app["token"].(string)

	w := doRequest(t, router, http.MethodPost, fmt.Sprintf("/api/v1/chat_applications/%s/chats", token), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("CreateChat status = %d, body = %s", w.Code, w.Body.String())
	}
	var chat map[string]any
	decodeJSON(t, w.Body, &chat)
	if _, hasID := chat["id"]; hasID {
		t.Error("chat response leaked an internal \"id\" field")
	}
	if chat["number"] != float64(1) {
		t.Errorf("number = %v, want 1", chat["number"])
	}
	number, _ := chat["number"].(float64)
	persistChat(t, srv, token, int64(number))

	w = doRequest(t, router, http.MethodGet, fmt.Sprintf("/api/v1/chat_applications/%s/chats", token), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ListChats status = %d, body = %s", w.Code, w.Body.String())
	}
	var page []chatView
	decodeJSON(t, w.Body, &page)
	if len(page) != 1 {
		t.Fatalf("ListChats returned %d chats, want 1", len(page))
	}
}

func TestGetChatInvalidNumber(t *testing.T) {
	srv := getTestServer(t)
	router := srv.Routes()

	app := createApp(t, router, "Invalid Number App")
	token := app["token"].(string)

	w := doRequest(t, router, http.MethodGet, fmt.Sprintf("/api/v1/chat_applications/%s/chats/not-a-number", token), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCreateMessageValidation(t *testing.T) {
	srv := getTestServer(t)
	router := srv.Routes()

	app := createApp(t, router, "Messages App")
	token := app["token"].(string)

	w := doRequest(t, router, http.MethodPost, fmt.Sprintf("/api/v1/chat_applications/%s/chats", token), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("CreateChat status = %d, body = %s", w.Code, w.Body.String())
	}
	var created chatView
	decodeJSON(t, w.Body, &created)
	persistChat(t, srv, token, created.Number)

	w = doRequest(t, router, http.MethodPost, fmt.Sprintf("/api/v1/chat_applications/%s/chats/%d/messages", token, created.Number), map[string]any{
		"message": map[string]string{"body": ""},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}
}

func TestCreateAndGetMessage(t *testing.T) {
	srv := getTestServer(t)
	router := srv.Routes()

	app := createApp(t, router, "Full Flow App")
	token := app["token"].(string)

	w := doRequest(t, router, http.MethodPost, fmt.Sprintf("/api/v1/chat_applications/%s/chats", token), nil)
	var createdChat chatView
	decodeJSON(t, w.Body, &createdChat)
	chat := persistChat(t, srv, token, createdChat.Number)

	w = doRequest(t, router, http.MethodPost, fmt.Sprintf("/api/v1/chat_applications/%s/chats/%d/messages", token, chat.Number), map[string]any{
		"message": map[string]string{"body": "hello there"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("CreateMessage status = %d, body = %s", w.Code, w.Body.String())
	}
	var createdMsg messageView
	decodeJSON(t, w.Body, &createdMsg)

	// CreateMessage only enqueues persist:message; write the row the way
	// the worker would.
	if _, err := srv.Messages.Create(context.Background(), chat.ID, createdMsg.Number, "hello there"); err != nil {
		t.Fatalf("persist message: %v", err)
	}

	w = doRequest(t, router, http.MethodGet, fmt.Sprintf("/api/v1/chat_applications/%s/chats/%d/messages/%d", token, chat.Number, createdMsg.Number), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GetMessage status = %d, body = %s", w.Code, w.Body.String())
	}
	var msg messageView
	decodeJSON(t, w.Body, &msg)
	if msg.Body != "hello there" {
		t.Errorf("Body = %q, want %q", msg.Body, "hello there")
	}
}

func TestCreateMessageChatNotFound(t *testing.T) {
	srv := getTestServer(t)
	router := srv.Routes()

	app := createApp(t, router, "No Chat App")
	token := app["token"].(string)

	w := doRequest(t, router, http.MethodPost, fmt.Sprintf("/api/v1/chat_applications/%s/chats/99/messages", token), map[string]any{
		"message": map[string]string{"body": "hi"},
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusNotFound, w.Body.String())
	}
}

func TestSearchMessagesMissingQuery(t *testing.T) {
	srv := getTestServer(t)
	router := srv.Routes()

	app := createApp(t, router, "Search App")
	token := app["token"].(string)
	w := doRequest(t, router, http.MethodPost, fmt.Sprintf("/api/v1/chat_applications/%s/chats", token), nil)
	var created chatView
	decodeJSON(t, w.Body, &created)
	persistChat(t, srv, token, created.Number)

	w = doRequest(t, router, http.MethodGet, fmt.Sprintf("/api/v1/chat_applications/%s/chats/%d/messages/search", token, created.Number), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}
