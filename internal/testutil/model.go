// Package testutil provides shared test doubles for the delaight service:
// a scripted chat model, a deterministic embedder, and a pgvector-enabled
// PostgreSQL container helper.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockModel is a scripted chat model for orchestrator tests.
//
// It matches the last user or tool message against registered rules and
// replies with the scripted text or tool requests. It can also inject
// latency or a provider error to exercise timeout and failure paths.
//
// Safe for concurrent use.
type MockModel struct {
	mu       sync.Mutex
	rules    []modelRule
	fallback string
	failWith error
	delay    time.Duration
	requests []*ai.ModelRequest
}

type modelRule struct {
	pattern      string
	text         string
	toolRequests []*ai.ToolRequest
}

// NewMockModel creates a mock model returning fallback when no rule matches.
func NewMockModel(fallback string) *MockModel {
	return &MockModel{fallback: fallback}
}

// Reply registers a text reply for messages containing pattern.
// Matching is case-insensitive; rules are tried in registration order.
func (m *MockModel) Reply(pattern, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, modelRule{pattern: strings.ToLower(pattern), text: text})
}

// ReplyWithTools registers tool requests (plus optional text) for messages
// containing pattern.
func (m *MockModel) ReplyWithTools(pattern string, toolRequests []*ai.ToolRequest, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, modelRule{
		pattern:      strings.ToLower(pattern),
		text:         text,
		toolRequests: toolRequests,
	})
}

// FailWith makes every subsequent call return err instead of a response.
// Pass nil to restore normal behavior.
func (m *MockModel) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Delay makes every subsequent call sleep for d before responding, honoring
// context cancellation. Used to exercise per-call timeouts.
func (m *MockModel) Delay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// CallCount reports how many times the model was invoked.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of all recorded model requests.
func (m *MockModel) Requests() []*ai.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ai.ModelRequest(nil), m.requests...)
}

// LastRequest returns the most recent request, or nil.
func (m *MockModel) LastRequest() *ai.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// Register defines the mock as a Genkit model named "mock/waiter-model".
func (m *MockModel) Register(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, "mock/waiter-model", &ai.ModelOptions{
		Label: "Scripted Waiter Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
		},
	}, m.generate)
}

func (m *MockModel) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	failWith, delay := m.failWith, m.delay
	rule := m.match(lastMeaningfulText(req.Messages))
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failWith != nil {
		return nil, failWith
	}

	text := m.fallback
	var toolRequests []*ai.ToolRequest
	if rule != nil {
		text = rule.text
		toolRequests = rule.toolRequests
	}

	// Stream word by word so backpressure tests see multiple chunks.
	if cb != nil && len(toolRequests) == 0 {
		for _, word := range strings.SplitAfter(text, " ") {
			if err := cb(ctx, &ai.ModelResponseChunk{
				Content: []*ai.Part{ai.NewTextPart(word)},
			}); err != nil {
				return nil, err
			}
		}
	}

	var parts []*ai.Part
	for _, tr := range toolRequests {
		parts = append(parts, &ai.Part{Kind: ai.PartToolRequest, ToolRequest: tr})
	}
	if text != "" {
		parts = append(parts, ai.NewTextPart(text))
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{Role: ai.RoleModel, Content: parts},
	}, nil
}

// match returns the first rule whose pattern the text contains.
// Caller holds m.mu.
func (m *MockModel) match(text string) *modelRule {
	lower := strings.ToLower(text)
	for i := range m.rules {
		if strings.Contains(lower, m.rules[i].pattern) {
			return &m.rules[i]
		}
	}
	return nil
}

// lastMeaningfulText returns the text of the last user message, or the last
// tool response output when the turn is resuming after tool execution.
func lastMeaningfulText(messages []*ai.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		switch msg.Role {
		case ai.RoleUser:
			return msg.Text()
		case ai.RoleTool:
			var sb strings.Builder
			for _, p := range msg.Content {
				if p.ToolResponse != nil {
					sb.WriteString("tool:")
					sb.WriteString(p.ToolResponse.Name)
				}
			}
			return sb.String()
		}
	}
	return ""
}
