// Package waiter implements the conversational waiter agent.
//
// A turn runs as: retrieve dish context for the customer's message, render
// the prompts, then loop with the model while it requests tools. Tool calls
// execute through the explicit registry with schema validation. History is
// committed only when the turn completes, so a failed or cancelled turn
// leaves the conversation unchanged.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/delaight/waiter/internal/log"
	"github.com/delaight/waiter/internal/menu"
	"github.com/delaight/waiter/internal/prompt"
	"github.com/delaight/waiter/internal/session"
	"github.com/delaight/waiter/internal/tools"
)

const (
	// fallbackResponse is returned when the model produces no usable text.
	fallbackResponse = "I am sorry, I did not catch that. Could you tell me what you would like to eat?"

	// noDishContext stands in for retrieval output when no dishes matched
	// or the menu store is unavailable. The prompt renderer fails closed on
	// empty parameters, so degradation is explicit.
	noDishContext = "(no matching dishes available)"

	// defaultMaxToolDepth bounds tool-call iterations per turn.
	defaultMaxToolDepth = 5

	// defaultModelTimeout bounds a single model call.
	defaultModelTimeout = 60 * time.Second
)

// Retriever is the menu surface the agent needs. *menu.Store satisfies it.
type Retriever interface {
	Search(ctx context.Context, query string, topK int, minScore float64) ([]menu.Result, error)
}

// Response is the completed result of a turn.
type Response struct {
	Text      string   // final model text
	ToolsUsed []string // tool names executed during the turn, in order
}

// StreamCallback receives response text chunks as they are generated.
// Returning an error aborts the stream.
type StreamCallback func(ctx context.Context, chunk string) error

// Config carries the agent's dependencies.
type Config struct {
	Genkit   *genkit.Genkit
	Sessions *session.Store
	Menu     Retriever
	Prompts  *prompt.Renderer
	Registry *tools.Registry
	Logger   log.Logger

	ModelName         string        // provider-qualified, e.g. "openai/gpt-4o-mini"
	Temperature       float32       // sampling temperature; 0 = provider default
	MaxToolDepth      int           // 0 = default
	ModelTimeout      time.Duration // 0 = default
	RetrievalTopK     int
	RetrievalMinScore float64

	// RateLimiter throttles model calls across all conversations.
	// nil disables proactive limiting.
	RateLimiter *rate.Limiter
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Sessions == nil {
		return errors.New("session store is required")
	}
	if cfg.Menu == nil {
		return errors.New("menu retriever is required")
	}
	if cfg.Prompts == nil {
		return errors.New("prompt renderer is required")
	}
	if cfg.Registry == nil {
		return errors.New("tool registry is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Agent orchestrates waiter conversations.
// All configuration is captured at construction; safe for concurrent use.
type Agent struct {
	g        *genkit.Genkit
	sessions *session.Store
	menu     Retriever
	prompts  *prompt.Renderer
	registry *tools.Registry
	logger   log.Logger
	limiter  *rate.Limiter

	modelName    string
	temperature  float32
	maxToolDepth int
	modelTimeout time.Duration
	topK         int
	minScore     float64

	systemPrompt string
	toolRefs     []ai.ToolRef
}

// New creates the agent and registers the tool schemas with Genkit so the
// model sees them on every call.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxDepth := cfg.MaxToolDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxToolDepth
	}
	timeout := cfg.ModelTimeout
	if timeout <= 0 {
		timeout = defaultModelTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	a := &Agent{
		g:            cfg.Genkit,
		sessions:     cfg.Sessions,
		menu:         cfg.Menu,
		prompts:      cfg.Prompts,
		registry:     cfg.Registry,
		logger:       logger,
		limiter:      cfg.RateLimiter,
		modelName:    cfg.ModelName,
		temperature:  cfg.Temperature,
		maxToolDepth: maxDepth,
		modelTimeout: timeout,
		topK:         cfg.RetrievalTopK,
		minScore:     cfg.RetrievalMinScore,
		systemPrompt: cfg.Prompts.MustRender(prompt.ScenarioWaiterSystem),
		toolRefs:     cfg.Registry.DefineAll(cfg.Genkit),
	}

	a.logger.Info("waiter agent initialized",
		"model", a.modelName,
		"tools", strings.Join(cfg.Registry.Names(), ", "),
		"max_tool_depth", a.maxToolDepth)
	return a, nil
}

// Execute runs one turn without streaming.
func (a *Agent) Execute(ctx context.Context, conversationID, input string) (*Response, error) {
	return a.ExecuteStream(ctx, conversationID, input, nil)
}

// ExecuteStream runs one turn, delivering response text through callback as
// it is generated when callback is non-nil. The complete response is always
// returned.
func (a *Agent) ExecuteStream(ctx context.Context, conversationID, input string, callback StreamCallback) (*Response, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyMessage
	}
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}

	// Serialize turns per conversation so interleaved requests cannot
	// corrupt history ordering.
	guard := a.sessions.Guard(conversationID)
	guard.Lock()
	defer guard.Unlock()

	history := a.sessions.HistoryLocked(conversationID)

	userPrompt, err := a.prompts.Render(prompt.ScenarioWaiterUser, map[string]string{
		"query":   input,
		"context": a.dishContext(ctx, input),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering user prompt: %w", err)
	}

	messages := append(history, ai.NewUserMessage(ai.NewTextPart(userPrompt)))

	text, toolsUsed, err := a.runToolLoop(ctx, messages, callback)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		a.logger.Warn("model returned empty response", "conversation_id", conversationID)
		text = fallbackResponse
	}

	// Commit on completion only: the raw input, not the RAG-wrapped prompt,
	// becomes history.
	a.sessions.CommitLocked(conversationID,
		ai.NewUserMessage(ai.NewTextPart(input)),
		ai.NewModelMessage(ai.NewTextPart(text)),
	)

	return &Response{Text: text, ToolsUsed: toolsUsed}, nil
}

// runToolLoop calls the model, executing requested tools and feeding results
// back, until the model answers with text or the depth limit is hit.
func (a *Agent) runToolLoop(ctx context.Context, messages []*ai.Message, callback StreamCallback) (string, []string, error) {
	var toolsUsed []string

	for depth := 0; ; depth++ {
		resp, err := a.generate(ctx, messages, callback)
		if err != nil {
			return "", nil, err
		}

		requests := resp.ToolRequests()
		if len(requests) == 0 {
			return resp.Text(), toolsUsed, nil
		}

		if depth+1 > a.maxToolDepth {
			a.logger.Error("tool loop limit exceeded",
				"depth", depth+1, "last_tools", toolNames(requests))
			return "", nil, fmt.Errorf("%w: depth %d", ErrToolLoopLimit, depth+1)
		}

		toolMsg := &ai.Message{Role: ai.RoleTool}
		for _, req := range requests {
			out, err := a.registry.Invoke(ctx, req.Name, req.Input)
			if err != nil {
				return "", nil, fmt.Errorf("executing tool %q: %w", req.Name, err)
			}
			toolsUsed = append(toolsUsed, req.Name)
			toolMsg.Content = append(toolMsg.Content, &ai.Part{
				Kind: ai.PartToolResponse,
				ToolResponse: &ai.ToolResponse{
					Name:   req.Name,
					Ref:    req.Ref,
					Output: out,
				},
			})
		}

		messages = append(messages, resp.Message, toolMsg)
	}
}

// generate performs one model call with the per-call timeout and proactive
// rate limit. Tool requests are returned to the loop, never auto-executed.
func (a *Agent) generate(ctx context.Context, messages []*ai.Message, callback StreamCallback) (*ai.ModelResponse, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			// A caller cancellation during the wait is not a provider failure.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, classifyProviderError(err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.modelTimeout)
	defer cancel()

	opts := []ai.GenerateOption{
		ai.WithModelName(a.modelName),
		ai.WithSystem(a.systemPrompt),
		ai.WithMessages(messages...),
		ai.WithTools(a.toolRefs...),
		ai.WithReturnToolRequests(true),
	}
	if a.temperature > 0 {
		opts = append(opts, ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature: float64(a.temperature),
		}))
	}
	if callback != nil {
		opts = append(opts, ai.WithStreaming(func(cbCtx context.Context, chunk *ai.ModelResponseChunk) error {
			if text := chunk.Text(); text != "" {
				return callback(cbCtx, text)
			}
			return nil
		}))
	}

	resp, err := genkit.Generate(callCtx, a.g, opts...)
	if err != nil {
		// The turn's context may have been cancelled by the caller; only
		// provider-side failures get classified.
		if ctx.Err() != nil && callCtx.Err() != context.DeadlineExceeded {
			return nil, ctx.Err()
		}
		return nil, classifyProviderError(err)
	}
	return resp, nil
}

// dishContext retrieves matching dishes and formats them for the user
// prompt. Retrieval failures degrade to the empty-context placeholder; the
// turn still runs.
func (a *Agent) dishContext(ctx context.Context, query string) string {
	results, err := a.menu.Search(ctx, query, a.topK, a.minScore)
	if err != nil {
		a.logger.Warn("dish retrieval failed, continuing without context", "error", err)
		return noDishContext
	}
	if len(results) == 0 {
		return noDishContext
	}

	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = fmt.Sprintf("Dish: %s Dish with Ingredients: %s", r.Name(), r.Content)
	}
	return "- " + strings.Join(lines, "\n - ")
}

func toolNames(requests []*ai.ToolRequest) string {
	names := make([]string, len(requests))
	for i, r := range requests {
		names[i] = r.Name
	}
	return strings.Join(names, ", ")
}
