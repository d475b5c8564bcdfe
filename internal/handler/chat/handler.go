package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mindwell-ai/mindwell/backend/internal/service/inference"
	"github.com/mindwell-ai/mindwell/backend/internal/service/session"
	"github.com/mindwell-ai/mindwell/backend/internal/store"
	"github.com/mindwell-ai/mindwell/backend/pkg/utils"
)

const defaultConversationLimit = 10

// Handler exposes the session engine and conversation archive over REST.
type Handler struct {
	engine *session.Engine
	store  store.Store
}

// New creates the chat handler.
func New(engine *session.Engine, st store.Store) *Handler {
	return &Handler{engine: engine, store: st}
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Post("/messages", h.handleSendMessage)
	r.Get("/history", h.handleHistory)
	r.Get("/analysis", h.handleAnalysis)
	r.Post("/session/reset", h.handleReset)
	r.Get("/conversations", h.handleListConversations)
	r.Get("/conversations/{conversationID}/metrics", h.handleMetrics)
	r.Get("/conversations/{conversationID}/export", h.handleExport)
}

// handleHealth reports service liveness and whether the model backend is
// reachable.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	backend := "up"
	if err := h.engine.Ready(r.Context()); err != nil {
		backend = "down"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"backend":   backend,
		"sessionId": h.engine.SessionID(),
	})
}

// handleSendMessage runs a full blocking turn cycle and returns the
// assistant's reply.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	assistant, err := h.engine.SubmitUserMessage(r.Context(), payload.Message, nil)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, assistant)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	turns, err := h.engine.History(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"conversationId": h.engine.ConversationID(),
		"turns":          turns,
	})
}

func (h *Handler) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.engine.RequestAnalysis(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrNoTurns) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, analytics)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	conversationID, err := h.engine.Reset(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"conversationId": conversationID})
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := defaultConversationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	summaries, err := h.store.ListRecentConversations(r.Context(), limit)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	utils.RespondJSON(w, http.StatusOK, summaries)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	metrics, err := h.store.ConversationMetrics(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrUnknownConversation) {
			utils.RespondError(w, http.StatusNotFound, "conversation not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}
	utils.RespondJSON(w, http.StatusOK, metrics)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	format := store.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = store.ExportJSON
	}

	payload, err := h.store.ExportConversation(r.Context(), conversationID, format)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrUnknownConversation):
			utils.RespondError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, store.ErrUnsupportedFormat):
			utils.RespondError(w, http.StatusBadRequest, "format must be json or txt")
		default:
			utils.RespondError(w, http.StatusInternalServerError, "export failed")
		}
		return
	}

	contentType := "application/json"
	if format == store.ExportText {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="conversation-`+conversationID+`.`+string(format)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(payload))
}

// respondEngineError maps engine errors onto HTTP statuses.
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrBusy):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, inference.ErrBackendUnavailable):
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
