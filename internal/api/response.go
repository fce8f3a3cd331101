package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/delaight/waiter/internal/log"
	"github.com/delaight/waiter/internal/tools"
	"github.com/delaight/waiter/internal/waiter"
)

// writeJSON writes a JSON response with the given status code.
// Uses buffer-first strategy to ensure headers are only sent after successful
// encoding, so an encoding failure can still produce a proper 500.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("failed to write response body", "error", err)
	}
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string, logger log.Logger) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message}, logger)
}

// writeTurnError maps an orchestrator error to a status code and safe body.
// Tool failures never leak internals to the caller; full detail is logged.
func writeTurnError(w http.ResponseWriter, err error, logger log.Logger) {
	var provErr *waiter.ModelProviderError

	switch {
	case errors.Is(err, waiter.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required", logger)

	case errors.As(err, &provErr):
		logger.Error("model provider failure", "reason", provErr.Reason, "error", err)
		status := http.StatusBadGateway
		if provErr.Reason == waiter.ReasonTimeout {
			status = http.StatusGatewayTimeout
		}
		writeError(w, status, "model_provider_error", "the model provider failed to answer", logger)

	case errors.Is(err, waiter.ErrToolLoopLimit),
		errors.Is(err, tools.ErrUnknownTool),
		errors.Is(err, tools.ErrInvalidArguments),
		errors.Is(err, tools.ErrExecution):
		logger.Error("tool execution failure", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)

	default:
		logger.Error("chat turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
	}
}
