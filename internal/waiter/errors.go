package waiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for agent operations.
var (
	// ErrEmptyMessage indicates a turn with no user text.
	ErrEmptyMessage = errors.New("empty message")

	// ErrToolLoopLimit indicates the model kept requesting tools past the
	// configured depth.
	ErrToolLoopLimit = errors.New("tool loop limit exceeded")
)

// ProviderReason classifies why a model call failed.
type ProviderReason string

const (
	ReasonTimeout     ProviderReason = "timeout"
	ReasonRateLimit   ProviderReason = "rate_limit"
	ReasonMalformed   ProviderReason = "malformed_response"
	ReasonUnavailable ProviderReason = "unavailable"
)

// ModelProviderError wraps a failure from the model provider with a
// classified reason, so the HTTP layer can map it to a status code without
// string matching.
type ModelProviderError struct {
	Reason ProviderReason
	Err    error
}

func (e *ModelProviderError) Error() string {
	return fmt.Sprintf("model provider error (%s): %v", e.Reason, e.Err)
}

func (e *ModelProviderError) Unwrap() error { return e.Err }

// classifyProviderError wraps err as a ModelProviderError with a reason
// derived from the error shape.
func classifyProviderError(err error) *ModelProviderError {
	reason := ReasonUnavailable
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		reason = ReasonTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "quota"):
		reason = ReasonRateLimit
	case strings.Contains(msg, "unmarshal") || strings.Contains(msg, "parse") || strings.Contains(msg, "unexpected"):
		reason = ReasonMalformed
	}
	return &ModelProviderError{Reason: reason, Err: err}
}
