package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chatingest/chatcore/internal/repo"
)

// applicationView is what SPEC_FULL.md §3 allows on the wire for an
// application — no internal id, ever.
type applicationView struct {
	Name       string `json:"name"`
	Token      string `json:"token"`
	ChatsCount int64  `json:"chats_count"`
}

func viewApplication(a repo.Application) applicationView {
	return applicationView{Name: a.Name, Token: a.Token, ChatsCount: a.ChatsCount}
}

type applicationEnvelope struct {
	ChatApplication struct {
		Name string `json:"name"`
	} `json:"chat_application"`
}

// CreateApplication handles POST /api/v1/chat_applications.
func (s *Server) CreateApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	var env applicationEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if env.ChatApplication.Name == "" {
		writeValidation(w, map[string][]string{"name": {"can't be blank"}})
		return
	}

	token := uuid.New().String()
	app, err := s.Apps.Create(ctx, token, env.ChatApplication.Name)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create application")
		writeError(w, http.StatusInternalServerError, "failed to create application")
		return
	}

	writeJSON(w, http.StatusCreated, viewApplication(app))
}

// ListApplications handles GET /api/v1/chat_applications.
func (s *Server) ListApplications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	apps, err := s.Apps.List(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list applications")
		writeError(w, http.StatusInternalServerError, "failed to list applications")
		return
	}

	out := make([]applicationView, 0, len(apps))
	for _, a := range apps {
		out = append(out, viewApplication(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetApplication handles GET /api/v1/chat_applications/:token.
func (s *Server) GetApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)
	token := chi.URLParam(r, "token")

	app, err := s.Apps.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "application not found")
			return
		}
		logger.Error().Err(err).Msg("failed to get application")
		writeError(w, http.StatusInternalServerError, "failed to get application")
		return
	}

	writeJSON(w, http.StatusOK, viewApplication(app))
}

// UpdateApplication handles PATCH /api/v1/chat_applications/:token.
func (s *Server) UpdateApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)
	token := chi.URLParam(r, "token")

	var env applicationEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if env.ChatApplication.Name == "" {
		writeValidation(w, map[string][]string{"name": {"can't be blank"}})
		return
	}

	app, err := s.Apps.UpdateName(ctx, token, env.ChatApplication.Name)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "application not found")
			return
		}
		logger.Error().Err(err).Msg("failed to update application")
		writeError(w, http.StatusInternalServerError, "failed to update application")
		return
	}

	writeJSON(w, http.StatusOK, viewApplication(app))
}
