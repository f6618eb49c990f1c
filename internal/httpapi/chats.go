package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/chatingest/chatcore/internal/counterstore"
	"github.com/chatingest/chatcore/internal/pagination"
	"github.com/chatingest/chatcore/internal/repo"
)

// chatView is the wire shape for a chat — number and the advisory
// count only, never an internal id.
type chatView struct {
	Number        int64 `json:"number"`
	MessagesCount int64 `json:"messages_count"`
}

func viewChat(c repo.Chat) chatView {
	return chatView{Number: c.Number, MessagesCount: c.MessagesCount}
}

// CreateChat handles POST /api/v1/chat_applications/:token/chats. This
// is the five-step create algorithm from SPEC_FULL.md §4.D: resolve
// parent, validate, allocate, enqueue, reply — each a distinct call,
// with no implicit lifecycle hook doing any of it behind the scenes.
func (s *Server) CreateChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)
	token := chi.URLParam(r, "token")

	// 1. resolve parent
	app, err := s.Apps.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "application not found")
			return
		}
		logger.Error().Err(err).Msg("failed to resolve application")
		writeError(w, http.StatusInternalServerError, "failed to resolve application")
		return
	}

	// 2. validate — chat creation carries no client-supplied fields to
	// validate, so this step is a no-op here (unlike CreateMessage).

	// 3. allocate
	number, err := s.Counter.Next(ctx, counterstore.AppChatCounterKey(app.ID))
	if err != nil {
		logger.Error().Err(err).Int64("app_id", app.ID).Msg("counter store allocation failed")
		writeError(w, http.StatusInternalServerError, "counter store unavailable")
		return
	}

	// 4. enqueue
	if err := s.Jobs.EnqueuePersistChat(ctx, app.ID, number); err != nil {
		// The number is already allocated but the caller gets a 500,
		// not the number; per SPEC_FULL.md §7 it is deliberately
		// skipped rather than retried here, since retrying blind could
		// persist it twice if the enqueue actually landed.
		logger.Error().Err(err).Int64("app_id", app.ID).Int64("number", number).Msg("enqueue persist:chat failed")
		writeError(w, http.StatusInternalServerError, "failed to enqueue persistence")
		return
	}

	// 5. reply
	writeJSON(w, http.StatusCreated, chatView{Number: number, MessagesCount: 0})
}

// ListChats handles GET /api/v1/chat_applications/:token/chats. Pages
// are keyset-paginated on number via the optional `cursor`/`limit`
// query params; the body stays the bare array SPEC_FULL.md §6 mandates,
// with the next page's cursor carried out-of-band in the
// X-Next-Cursor response header so the caller can keep paging without
// an offset scan.
func (s *Server) ListChats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)
	token := chi.URLParam(r, "token")

	app, err := s.Apps.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "application not found")
			return
		}
		logger.Error().Err(err).Msg("failed to resolve application")
		writeError(w, http.StatusInternalServerError, "failed to resolve application")
		return
	}

	after, _ := pagination.DecodeCursor(r.URL.Query().Get("cursor"))
	limit := pagination.Limit(r.URL.Query().Get("limit"))

	chats, err := s.Chats.ListByAppAfter(ctx, app.ID, after, limit)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list chats")
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}

	out := make([]chatView, 0, len(chats))
	var lastNumber int64
	for _, c := range chats {
		out = append(out, viewChat(c))
		lastNumber = c.Number
	}

	if len(chats) == limit {
		w.Header().Set("X-Next-Cursor", pagination.EncodeCursor(lastNumber))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetChat handles GET /api/v1/chat_applications/:token/chats/:number.
func (s *Server) GetChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)
	token := chi.URLParam(r, "token")

	number, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, "invalid chat number")
		return
	}

	app, err := s.Apps.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "application not found")
			return
		}
		logger.Error().Err(err).Msg("failed to resolve application")
		writeError(w, http.StatusInternalServerError, "failed to resolve application")
		return
	}

	chat, err := s.Chats.FindByNumber(ctx, app.ID, number)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		logger.Error().Err(err).Msg("failed to get chat")
		writeError(w, http.StatusInternalServerError, "failed to get chat")
		return
	}

	writeJSON(w, http.StatusOK, viewChat(chat))
}

// chatContext resolves (app, chat) for the messages sub-routes, shared
// by CreateMessage/ListMessages/GetMessage/SearchMessages.
func (s *Server) chatContext(w http.ResponseWriter, r *http.Request) (repo.Application, repo.Chat, bool) {
	ctx := r.Context()
	logger := log.Ctx(ctx)
	token := chi.URLParam(r, "token")

	number, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, "invalid chat number")
		return repo.Application{}, repo.Chat{}, false
	}

	app, err := s.Apps.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "application not found")
			return repo.Application{}, repo.Chat{}, false
		}
		logger.Error().Err(err).Msg("failed to resolve application")
		writeError(w, http.StatusInternalServerError, "failed to resolve application")
		return repo.Application{}, repo.Chat{}, false
	}

	chat, err := s.Chats.FindByNumber(ctx, app.ID, number)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return repo.Application{}, repo.Chat{}, false
		}
		logger.Error().Err(err).Msg("failed to resolve chat")
		writeError(w, http.StatusInternalServerError, "failed to resolve chat")
		return repo.Application{}, repo.Chat{}, false
	}

	return app, chat, true
}
