// Package stream serves assistant replies over Server-Sent Events.
package stream

import (
	"context"
	"log"
	"net/http"

	"github.com/mindwell-ai/mindwell/backend/internal/service/session"
	"github.com/mindwell-ai/mindwell/backend/pkg/utils"
)

// Handler streams reply generation for the active session.
type Handler struct {
	engine *session.Engine
}

// New creates a stream handler.
func New(engine *session.Engine) *Handler {
	return &Handler{engine: engine}
}

// StreamResponse is one SSE frame.
type StreamResponse struct {
	Event          string `json:"event"`
	Content        string `json:"content,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Finished       bool   `json:"finished,omitempty"`
	Error          string `json:"error,omitempty"`
}

// HandleStreamRequest runs a turn cycle and emits start, delta, message and
// end events. Each delta carries the full reply accumulated so far, so a
// client can render the latest frame without stitching fragments.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return nil
	}

	utils.SetupSSEHeaders(w)

	conversationID := h.engine.ConversationID()
	h.send(w, flusher, StreamResponse{
		Event:          "start",
		ConversationID: conversationID,
	})

	assistant, err := h.engine.SubmitUserMessage(ctx, userMessage, func(partial string) {
		h.send(w, flusher, StreamResponse{
			Event:          "delta",
			ConversationID: conversationID,
			Content:        partial,
		})
	})
	if err != nil {
		h.sendError(w, flusher, err.Error())
		return err
	}

	h.send(w, flusher, StreamResponse{
		Event:          "message",
		ConversationID: conversationID,
		Content:        assistant.Content,
	})
	h.send(w, flusher, StreamResponse{
		Event:          "end",
		ConversationID: conversationID,
		Finished:       true,
	})

	log.Printf("[stream] completed response for conversation=%s", conversationID)
	return nil
}

func (h *Handler) send(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	utils.SendSSEChunk(w, flusher, response)
}

func (h *Handler) sendError(w http.ResponseWriter, flusher http.Flusher, errorMsg string) {
	h.send(w, flusher, StreamResponse{
		Event: "error",
		Error: errorMsg,
	})
}
