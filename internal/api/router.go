package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mwhitley/ticketsync/internal/ledger"
	"github.com/mwhitley/ticketsync/internal/syncservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *syncservice.Service, store *ledger.Store, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, store)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/status", h.Status)
	r.Post("/process", h.Process)
	r.Put("/interval", h.SetInterval)
	r.Get("/submissions", h.Submissions)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
