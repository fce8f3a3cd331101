package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/delaight/waiter/internal/menu"
	"github.com/delaight/waiter/internal/prompt"
	"github.com/delaight/waiter/internal/tools"
)

type fakeFinder struct {
	results []menu.Result
	err     error
}

func (f *fakeFinder) Search(_ context.Context, _ string, _ int, _ float64) ([]menu.Result, error) {
	return f.results, f.err
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()

	finder := &fakeFinder{results: []menu.Result{
		{Document: menu.Document{
			Content:  "Margherita Pizza [tomato, mozzarella, basil]",
			Metadata: map[string]string{"Name": "Margherita"},
		}, Score: 0.9},
	}}

	registry := tools.NewRegistry(nil)
	findDishes, err := tools.NewFindDishes(finder, 4, 0)
	if err != nil {
		t.Fatalf("NewFindDishes: %v", err)
	}
	orderDish, err := tools.NewOrderDish(nil)
	if err != nil {
		t.Fatalf("NewOrderDish: %v", err)
	}
	for _, def := range []*tools.Definition{findDishes, orderDish} {
		if err := registry.Register(def); err != nil {
			t.Fatalf("registering tool: %v", err)
		}
	}
	return registry
}

func testConfig(t *testing.T) Config {
	t.Helper()
	renderer, err := prompt.New()
	if err != nil {
		t.Fatalf("prompt.New: %v", err)
	}
	return Config{
		Name:     "test-server",
		Version:  "1.0.0",
		Registry: testRegistry(t),
		Prompts:  renderer,
	}
}

// connectServer wires a server to an in-process client session.
func connectServer(t *testing.T, cfg Config) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.mcpServer.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { _ = clientSession.Close() })

	return clientSession
}

func TestNewServerValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing name", func(c *Config) { c.Name = "" }},
		{"missing version", func(c *Config) { c.Version = "" }},
		{"missing registry", func(c *Config) { c.Registry = nil }},
		{"missing prompts", func(c *Config) { c.Prompts = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			if _, err := NewServer(cfg); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestListTools(t *testing.T) {
	session := connectServer(t, testConfig(t))

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	names := make(map[string]bool, len(result.Tools))
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{tools.FindDishesName, tools.OrderDishName, tools.ClassifyPromptName} {
		if !names[want] {
			t.Errorf("tool %q not advertised; got %v", want, names)
		}
	}
}

func TestCallOrderDish(t *testing.T) {
	session := connectServer(t, testConfig(t))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      tools.OrderDishName,
		Arguments: map[string]any{"meals": []string{"Margherita"}},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError {
		t.Fatalf("CallTool returned tool error: %v", result.Content)
	}

	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] type = %T, want *mcp.TextContent", result.Content[0])
	}
	var order tools.OrderResponse
	if err := json.Unmarshal([]byte(text.Text), &order); err != nil {
		t.Fatalf("decoding order result: %v", err)
	}
	if order.DeliveredInMinutes != 20 {
		t.Errorf("deliveredInMinutes = %d, want 20", order.DeliveredInMinutes)
	}
}

func TestCallFindDishes(t *testing.T) {
	session := connectServer(t, testConfig(t))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      tools.FindDishesName,
		Arguments: map[string]any{"preferences": "tomato"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError {
		t.Fatalf("CallTool returned tool error: %v", result.Content)
	}

	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] type = %T, want *mcp.TextContent", result.Content[0])
	}
	var out tools.FindDishesOutput
	if err := json.Unmarshal([]byte(text.Text), &out); err != nil {
		t.Fatalf("decoding find-dishes result: %v", err)
	}
	if len(out.Dishes) != 1 || out.Dishes[0].Name != "Margherita" {
		t.Errorf("dishes = %+v", out.Dishes)
	}
}

func TestGetMealAgentPrompt(t *testing.T) {
	session := connectServer(t, testConfig(t))

	result, err := session.GetPrompt(context.Background(), &mcp.GetPromptParams{
		Name: MealAgentPromptName,
	})
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(result.Messages))
	}
	text, ok := result.Messages[0].Content.(*mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want *mcp.TextContent", result.Messages[0].Content)
	}
	if !strings.Contains(text.Text, "Italian waiter") {
		t.Errorf("prompt text missing persona: %q", text.Text)
	}
	if !strings.Contains(text.Text, tools.OrderDishName) {
		t.Errorf("prompt text does not mention %q", tools.OrderDishName)
	}
}
