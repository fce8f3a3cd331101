package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/delaight/waiter/internal/log"
	"github.com/delaight/waiter/internal/waiter"
)

// maxChatBody bounds JSON request bodies.
const maxChatBody = 1 << 20 // 1 MB

// chatRequest is the body of /ai/chat, /ai/stream and /ai/speech.
type chatRequest struct {
	Message        string    `json:"message"`
	ConversationID string    `json:"conversationId"`
	Location       *location `json:"location,omitempty"`
}

// location is accepted for forward compatibility with clients that send
// their position; the waiter does not use it yet.
type location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type chatHandler struct {
	agent        *waiter.Agent
	logger       log.Logger
	streamBuffer int
}

// decodeChat parses and validates the chat request body. A missing
// conversationId starts a new conversation; the id is echoed in the
// X-Conversation-Id header either way.
func decodeChat(w http.ResponseWriter, r *http.Request, logger log.Logger) (chatRequest, bool) {
	var req chatRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", logger)
			return req, false
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", logger)
		return req, false
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required", logger)
		return req, false
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.New().String()
	}

	w.Header().Set("X-Conversation-Id", req.ConversationID)
	return req, true
}

// send handles POST /ai/chat: one full turn, answered as plain text.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r, h.logger)
	if !ok {
		return
	}

	resp, err := h.agent.Execute(r.Context(), req.ConversationID, req.Message)
	if err != nil {
		writeTurnError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := w.Write([]byte(resp.Text)); err != nil {
		h.logger.Debug("failed to write chat response", "error", err)
	}
}

// stream handles POST /ai/stream: one turn, text delivered as chunks.
//
// Headers are deferred until the first token so errors that occur before any
// output still get a proper status code. Once streaming has started a failed
// turn can only be logged; the connection is closed mid-body.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r, h.logger)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	stream := h.agent.Stream(r.Context(), req.ConversationID, req.Message, h.streamBuffer)

	wrote := false
	for token := range stream.Tokens() {
		if !wrote {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusOK)
			wrote = true
		}
		if _, err := w.Write([]byte(token)); err != nil {
			h.logger.Debug("client gone mid-stream", "error", err)
			break
		}
		if err := rc.Flush(); err != nil {
			h.logger.Debug("flush failed mid-stream", "error", err)
			break
		}
	}

	if _, err := stream.Result(); err != nil {
		if wrote {
			h.logger.Error("stream failed after output started", "error", err)
			return
		}
		writeTurnError(w, err, h.logger)
	}
}
