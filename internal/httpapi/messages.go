package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/chatingest/chatcore/internal/counterstore"
	"github.com/chatingest/chatcore/internal/pagination"
	"github.com/chatingest/chatcore/internal/repo"
)

// messageView is the wire shape for a message — number and body only.
type messageView struct {
	Number int64  `json:"number"`
	Body   string `json:"body"`
}

func viewMessage(m repo.Message) messageView {
	return messageView{Number: m.Number, Body: m.Body}
}

type messageEnvelope struct {
	Message struct {
		Body string `json:"body"`
	} `json:"message"`
}

// CreateMessage handles
// POST /api/v1/chat_applications/:token/chats/:number/messages. Same
// five-step algorithm as CreateChat, with an added validation step for
// the message body.
func (s *Server) CreateMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	// 1. resolve parent
	_, chat, ok := s.chatContext(w, r)
	if !ok {
		return
	}

	// 2. validate
	var env messageEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if env.Message.Body == "" {
		writeValidation(w, map[string][]string{"body": {"can't be blank"}})
		return
	}

	// 3. allocate
	number, err := s.Counter.Next(ctx, counterstore.ChatMessageCounterKey(chat.ID))
	if err != nil {
		logger.Error().Err(err).Int64("chat_id", chat.ID).Msg("counter store allocation failed")
		writeError(w, http.StatusInternalServerError, "counter store unavailable")
		return
	}

	// 4. enqueue
	if err := s.Jobs.EnqueuePersistMessage(ctx, chat.ID, number, env.Message.Body); err != nil {
		logger.Error().Err(err).Int64("chat_id", chat.ID).Int64("number", number).Msg("enqueue persist:message failed")
		writeError(w, http.StatusInternalServerError, "failed to enqueue persistence")
		return
	}

	// 5. reply
	writeJSON(w, http.StatusCreated, struct {
		Number int64 `json:"number"`
	}{Number: number})
}

// ListMessages handles
// GET /api/v1/chat_applications/:token/chats/:number/messages. Pages
// are keyset-paginated on number via the optional `cursor`/`limit`
// query params, since a long-lived chat can accumulate far more
// messages than a single response should carry. The body stays the
// bare array SPEC_FULL.md §6 mandates; the next page's cursor is
// carried out-of-band in the X-Next-Cursor response header.
func (s *Server) ListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	_, chat, ok := s.chatContext(w, r)
	if !ok {
		return
	}

	after, _ := pagination.DecodeCursor(r.URL.Query().Get("cursor"))
	limit := pagination.Limit(r.URL.Query().Get("limit"))

	msgs, err := s.Messages.ListByChatAfter(ctx, chat.ID, after, limit)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list messages")
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	out := make([]messageView, 0, len(msgs))
	var lastNumber int64
	for _, m := range msgs {
		out = append(out, viewMessage(m))
		lastNumber = m.Number
	}

	if len(msgs) == limit {
		w.Header().Set("X-Next-Cursor", pagination.EncodeCursor(lastNumber))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetMessage handles
// GET /api/v1/chat_applications/:token/chats/:number/messages/:mnumber.
func (s *Server) GetMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	_, chat, ok := s.chatContext(w, r)
	if !ok {
		return
	}

	mnumber, err := strconv.ParseInt(chi.URLParam(r, "mnumber"), 10, 64)
	if err != nil || mnumber <= 0 {
		writeError(w, http.StatusBadRequest, "invalid message number")
		return
	}

	msg, err := s.Messages.FindByNumber(ctx, chat.ID, mnumber)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		logger.Error().Err(err).Msg("failed to get message")
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}

	writeJSON(w, http.StatusOK, viewMessage(msg))
}
