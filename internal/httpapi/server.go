// Package httpapi is the Ingest Front-End described in SPEC_FULL.md
// §4.D: a chi router that resolves tenants/chats by their opaque
// token/number, allocates sequence numbers, enqueues persistence jobs,
// and replies — never touching an internal id on the wire.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/chatingest/chatcore/internal/counterstore"
	"github.com/chatingest/chatcore/internal/jobs"
	"github.com/chatingest/chatcore/internal/repo"
	"github.com/chatingest/chatcore/internal/searchindex"
)

// Server holds every dependency the HTTP handlers need.
type Server struct {
	Apps     *repo.ApplicationRepo
	Chats    *repo.ChatRepo
	Messages *repo.MessageRepo
	Counter  counterstore.Store
	Jobs     *jobs.Client
	Index    *searchindex.Index

	// Health reports liveness of each backing service for /health.
	Health *HealthChecker
}

// Routes builds the full router. Only /health is unauthenticated in
// spirit — SPEC_FULL.md's Non-goals explicitly exclude tenant
// authentication, so every route here is reachable by any caller that
// knows (or guesses) a token; an API gateway upstream is assumed to
// gate access before traffic reaches this service.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.HealthCheck)

	r.Route("/api/v1/chat_applications", func(r chi.Router) {
		r.Post("/", s.CreateApplication)
		r.Get("/", s.ListApplications)

		r.Route("/{token}", func(r chi.Router) {
			r.Get("/", s.GetApplication)
			r.Patch("/", s.UpdateApplication)

			r.Route("/chats", func(r chi.Router) {
				r.Post("/", s.CreateChat)
				r.Get("/", s.ListChats)

				r.Route("/{number}", func(r chi.Router) {
					r.Get("/", s.GetChat)

					r.Route("/messages", func(r chi.Router) {
						r.Post("/", s.CreateMessage)
						r.Get("/", s.ListMessages)
						r.Get("/search", s.SearchMessages)
						r.Get("/{mnumber}", s.GetMessage)
					})
				})
			})
		})
	})

	log.Info().Msg("http routes registered")
	return r
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// errorBody is the envelope for every non-validation error response,
// per SPEC_FULL.md §6.
type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorBody{Error: message})
}

// validationBody is the 422 envelope: field name to list of messages.
type validationBody struct {
	Errors map[string][]string `json:"errors"`
}

func writeValidation(w http.ResponseWriter, fields map[string][]string) {
	writeJSON(w, http.StatusUnprocessableEntity, validationBody{Errors: fields})
}
