package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delaight/waiter/internal/log"
	"github.com/delaight/waiter/internal/tools"
	"github.com/delaight/waiter/internal/waiter"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]string{"status": "ok"}, log.NewNop())

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestWriteTurnErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "empty message",
			err:        waiter.ErrEmptyMessage,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "provider timeout",
			err:        &waiter.ModelProviderError{Reason: waiter.ReasonTimeout, Err: context.DeadlineExceeded},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "model_provider_error",
		},
		{
			name:       "provider rate limit",
			err:        &waiter.ModelProviderError{Reason: waiter.ReasonRateLimit, Err: errors.New("429")},
			wantStatus: http.StatusBadGateway,
			wantCode:   "model_provider_error",
		},
		{
			name:       "provider unavailable",
			err:        &waiter.ModelProviderError{Reason: waiter.ReasonUnavailable, Err: errors.New("boom")},
			wantStatus: http.StatusBadGateway,
			wantCode:   "model_provider_error",
		},
		{
			name:       "tool loop limit",
			err:        fmt.Errorf("%w: depth 6", waiter.ErrToolLoopLimit),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
		{
			name:       "unknown tool",
			err:        fmt.Errorf("executing tool %q: %w", "drop-all-tables", tools.ErrUnknownTool),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
		{
			name:       "invalid tool arguments",
			err:        fmt.Errorf("%w: bad meals", tools.ErrInvalidArguments),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
		{
			name:       "tool execution failure",
			err:        fmt.Errorf("%w: kitchen on fire", tools.ErrExecution),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
		{
			name:       "unclassified",
			err:        errors.New("something else"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeTurnError(rec, tt.err, log.NewNop())

			assert.Equal(t, tt.wantStatus, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error)
			// Internal detail never leaks to the caller.
			assert.NotContains(t, body.Message, "kitchen on fire")
			assert.NotContains(t, body.Message, "drop-all-tables")
		})
	}
}
