package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/delaight/waiter/internal/log"
	"github.com/delaight/waiter/internal/tools"
)

// foodHandler exposes the food tools directly over HTTP, bypassing the
// model. The same registry path the model uses runs here, so arguments are
// schema-validated either way.
type foodHandler struct {
	registry *tools.Registry
	logger   log.Logger
}

// orderDish handles POST /ai/order-dish.
func (h *foodHandler) orderDish(w http.ResponseWriter, r *http.Request) {
	var req tools.OrderRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if len(req.Meals) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "meals is required", h.logger)
		return
	}

	out, err := h.registry.Invoke(r.Context(), tools.OrderDishName, req)
	if err != nil {
		h.writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out, h.logger)
}

// findDishes handles GET /ai/find-dishes?foodElements=...&foodElements=...
// and answers with the matching dish descriptions, best first.
func (h *foodHandler) findDishes(w http.ResponseWriter, r *http.Request) {
	var elements []string
	for _, e := range r.URL.Query()["foodElements"] {
		if e = strings.TrimSpace(e); e != "" {
			elements = append(elements, e)
		}
	}
	if len(elements) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "foodElements is required", h.logger)
		return
	}

	out, err := h.registry.Invoke(r.Context(), tools.FindDishesName, tools.FindDishesInput{
		Preferences: strings.Join(elements, ", "),
	})
	if err != nil {
		h.writeToolError(w, err)
		return
	}

	result, ok := out.(tools.FindDishesOutput)
	if !ok {
		h.logger.Error("unexpected find-dishes output type")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	descriptions := make([]string, 0, len(result.Dishes))
	for _, d := range result.Dishes {
		descriptions = append(descriptions, d.Description)
	}
	writeJSON(w, http.StatusOK, descriptions, h.logger)
}

// classifyPrompt handles GET /ai/prompt-classifier?prompt=...
func (h *foodHandler) classifyPrompt(w http.ResponseWriter, r *http.Request) {
	promptText := strings.TrimSpace(r.URL.Query().Get("prompt"))
	if promptText == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "prompt is required", h.logger)
		return
	}

	out, err := h.registry.Invoke(r.Context(), tools.ClassifyPromptName, tools.ClassifyInput{
		Prompt: promptText,
	})
	if err != nil {
		h.writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out, h.logger)
}

// writeToolError maps a registry failure from a direct HTTP invocation.
// Argument rejections are the caller's fault here, unlike in the model loop.
func (h *foodHandler) writeToolError(w http.ResponseWriter, err error) {
	if errors.Is(err, tools.ErrInvalidArguments) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid tool arguments", h.logger)
		return
	}
	h.logger.Error("tool invocation failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
}
