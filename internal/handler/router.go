package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/voice-journal/backend/internal/handler/journal"
	"github.com/zhouzirui/voice-journal/backend/internal/handler/voice"
	middlewarePkg "github.com/zhouzirui/voice-journal/backend/internal/middleware"
	"github.com/zhouzirui/voice-journal/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(journalSvc journal.Service, bridge voice.Bridge) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	journalHandler := journal.New(journalSvc)
	journalHandler.RegisterRoutes(r)

	voice.New(bridge).RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		journalHandler.RegisterAPIRoutes(api)
	})

	return r
}
