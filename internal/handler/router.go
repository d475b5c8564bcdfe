package handler

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mindwell-ai/mindwell/backend/internal/handler/chat"
	"github.com/mindwell-ai/mindwell/backend/internal/handler/events"
	"github.com/mindwell-ai/mindwell/backend/internal/handler/stream"
	middlewarePkg "github.com/mindwell-ai/mindwell/backend/internal/middleware"
	"github.com/mindwell-ai/mindwell/backend/internal/service/session"
	"github.com/mindwell-ai/mindwell/backend/internal/store"
	"github.com/mindwell-ai/mindwell/backend/pkg/utils"
)

// NewRouter wires HTTP routes to the session engine and the archive.
func NewRouter(engine *session.Engine, st store.Store) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(engine, st)
	streamHandler := stream.New(engine)
	eventsHandler := events.New(engine)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		eventsHandler.RegisterRoutes(api)

		api.Get("/stream", func(w http.ResponseWriter, r *http.Request) {
			userMessage := r.URL.Query().Get("message")
			if userMessage == "" {
				utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
				return
			}

			if err := streamHandler.HandleStreamRequest(r.Context(), w, userMessage); err != nil {
				log.Printf("[stream] error handling request: %v", err)
			}
		})

		api.Post("/stream/cancel", func(w http.ResponseWriter, r *http.Request) {
			engine.CancelReply()
			utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
		})
	})

	return r
}
