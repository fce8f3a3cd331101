// Package mcp exposes the food tools and the meal-agent prompt over the
// Model Context Protocol, so external MCP clients can drive the same tool
// surface the chat model uses.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/delaight/waiter/internal/log"
	"github.com/delaight/waiter/internal/prompt"
	"github.com/delaight/waiter/internal/tools"
)

// MealAgentPromptName is the MCP name of the tool-first agent prompt.
const MealAgentPromptName = "meal-agent"

// Config holds MCP server configuration.
type Config struct {
	Name     string
	Version  string
	Registry *tools.Registry
	Prompts  *prompt.Renderer
	Logger   log.Logger
}

// Server wraps the MCP SDK server around the tool registry.
type Server struct {
	mcpServer *mcp.Server
	registry  *tools.Registry
	prompts   *prompt.Renderer
	logger    log.Logger
}

// NewServer creates the MCP server and registers the food tools and the
// meal-agent prompt.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("prompt renderer is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		registry: cfg.Registry,
		prompts:  cfg.Prompts,
		logger:   logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	s.registerPrompts()

	return s, nil
}

// Run starts the MCP server on the given transport. Blocking.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

func (s *Server) registerTools() error {
	if err := addTool[tools.FindDishesInput](s, tools.FindDishesName,
		"Find dishes on the menu matching food preferences such as dish names or ingredients."); err != nil {
		return err
	}
	if err := addTool[tools.OrderRequest](s, tools.OrderDishName,
		"Place an order for the given meals once the customer has confirmed."); err != nil {
		return err
	}
	return addTool[tools.ClassifyInput](s, tools.ClassifyPromptName,
		"Classifies a prompt to verify whether it is food or something else. "+
			"If classified as food, extracted food items are returned.")
}

// addTool registers one registry tool with the MCP server. The handler goes
// through Registry.Invoke, so MCP callers get the same schema validation as
// the chat model.
func addTool[In any](s *Server, name, description string) error {
	inputSchema, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", name, err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		out, err := s.registry.Invoke(ctx, name, in)
		if err != nil {
			// Argument rejections go back to the caller as tool errors;
			// everything else is a protocol-level failure.
			if errors.Is(err, tools.ErrInvalidArguments) {
				return &mcp.CallToolResult{
					Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
					IsError: true,
				}, nil, nil
			}
			return nil, nil, fmt.Errorf("%s failed: %w", name, err)
		}

		data, err := json.Marshal(out)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding %s result: %w", name, err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil, nil
	})

	return nil
}

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        MealAgentPromptName,
		Description: "Instruction set for a tool-driven Italian waiter agent.",
	}, func(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		text, err := s.prompts.Render(prompt.ScenarioMealAgent, nil)
		if err != nil {
			return nil, fmt.Errorf("rendering meal-agent prompt: %w", err)
		}
		return &mcp.GetPromptResult{
			Description: "Italian waiter meal agent",
			Messages: []*mcp.PromptMessage{
				{Role: "user", Content: &mcp.TextContent{Text: text}},
			},
		}, nil
	})
}
