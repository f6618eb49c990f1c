package httpapi

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/chatingest/chatcore/internal/repo"
)

// SearchMessages handles
// GET /api/v1/chat_applications/:token/chats/:number/messages/search?q=.
// Missing q is a 400 per SPEC_FULL.md §8; an unreachable Search Index
// is a 500, matching spec.md §6's documented response set.
func (s *Server) SearchMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	_, chat, ok := s.chatContext(w, r)
	if !ok {
		return
	}

	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q")
		return
	}

	hits, err := s.Index.Search(ctx, chat.ID, q)
	if err != nil {
		logger.Error().Err(err).Int64("chat_id", chat.ID).Msg("search index query failed")
		writeError(w, http.StatusInternalServerError, "search unavailable")
		return
	}

	out := make([]messageView, 0, len(hits))
	for _, h := range hits {
		msg, err := s.Messages.FindByID(ctx, h.MessageID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				// Indexed but since deleted from the log store — can't
				// happen under current Non-goals (no deletes), but skip
				// rather than fail the whole search if it ever does.
				continue
			}
			logger.Error().Err(err).Int64("message_id", h.MessageID).Msg("failed to resolve search hit")
			writeError(w, http.StatusInternalServerError, "search unavailable")
			return
		}
		out = append(out, viewMessage(msg))
	}

	writeJSON(w, http.StatusOK, out)
}
