package prompt

import (
	"errors"
	"strings"
	"testing"
)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return r
}

func TestRenderWaiterUser(t *testing.T) {
	r := newRenderer(t)

	out, err := r.Render(ScenarioWaiterUser, map[string]string{
		"query":   "I'd like something with cheese",
		"context": "- Dish: Quattro Formaggi Dish with Ingredients: mozzarella, gorgonzola",
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !strings.Contains(out, "I'd like something with cheese") {
		t.Error("rendered prompt missing query")
	}
	if !strings.Contains(out, "Quattro Formaggi") {
		t.Error("rendered prompt missing context")
	}
	if !strings.Contains(out, "User Query:") {
		t.Error("rendered prompt missing frame text")
	}
}

func TestRenderMissingParameter(t *testing.T) {
	r := newRenderer(t)

	tests := []struct {
		name     string
		scenario Scenario
		params   map[string]string
	}{
		{"no params at all", ScenarioWaiterUser, nil},
		{"missing context", ScenarioWaiterUser, map[string]string{"query": "pasta"}},
		{"empty value counts as missing", ScenarioWaiterUser, map[string]string{"query": "pasta", "context": ""}},
		{"classifier without prompt", ScenarioClassifier, map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Render(tt.scenario, tt.params); !errors.Is(err, ErrMissingParameter) {
				t.Fatalf("Render() = %v, want ErrMissingParameter", err)
			}
		})
	}
}

func TestRenderUnknownScenario(t *testing.T) {
	r := newRenderer(t)
	if _, err := r.Render("no_such_scenario", nil); !errors.Is(err, ErrUnknownScenario) {
		t.Fatalf("Render() = %v, want ErrUnknownScenario", err)
	}
}

func TestRenderClassifier(t *testing.T) {
	r := newRenderer(t)
	out, err := r.Render(ScenarioClassifier, map[string]string{"prompt": "do you have ravioli?"})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !strings.Contains(out, "[do you have ravioli?]") {
		t.Errorf("classifier prompt missing bracketed input, got: %s", out)
	}
}

func TestStaticScenarios(t *testing.T) {
	r := newRenderer(t)

	system := r.MustRender(ScenarioWaiterSystem)
	for _, want := range []string{"Italian waiter", "order-dish-service", "Thank you for your order"} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}

	agent := r.MustRender(ScenarioMealAgent)
	for _, want := range []string{"classify-prompt-if-food-or-other", "find-dishes-service"} {
		if !strings.Contains(agent, want) {
			t.Errorf("agent prompt missing %q", want)
		}
	}
}
