// Package prompt renders the conversation prompts from embedded templates.
//
// Each template is keyed by a scenario ID and declares the parameters it
// requires. Rendering fails closed: a missing required parameter returns
// ErrMissingParameter instead of producing a prompt with a hole in it.
package prompt

import (
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Scenario identifies a prompt template.
type Scenario string

const (
	// ScenarioWaiterSystem is the system prompt for the waiter persona.
	ScenarioWaiterSystem Scenario = "waiter_system"

	// ScenarioWaiterUser wraps the customer query with retrieved dish context.
	// Requires: query, context.
	ScenarioWaiterUser Scenario = "waiter_user"

	// ScenarioClassifier asks the model to classify a prompt as food or other.
	// Requires: prompt.
	ScenarioClassifier Scenario = "classifier"

	// ScenarioMealAgent is the tool-first agent instruction set.
	ScenarioMealAgent Scenario = "meal_agent"
)

var (
	// ErrUnknownScenario indicates no template exists for the scenario ID.
	ErrUnknownScenario = errors.New("unknown prompt scenario")

	// ErrMissingParameter indicates a required template parameter was not provided.
	ErrMissingParameter = errors.New("missing prompt parameter")
)

// required lists the parameters each scenario must receive.
var required = map[Scenario][]string{
	ScenarioWaiterSystem: nil,
	ScenarioWaiterUser:   {"query", "context"},
	ScenarioClassifier:   {"prompt"},
	ScenarioMealAgent:    nil,
}

// Renderer renders prompt templates by scenario ID.
// Safe for concurrent use after New.
type Renderer struct {
	templates map[Scenario]*template.Template
}

// New parses all embedded templates.
// Returns an error if any template fails to parse, so a broken template is
// caught at startup rather than on first use.
func New() (*Renderer, error) {
	r := &Renderer{templates: make(map[Scenario]*template.Template, len(required))}
	for scenario := range required {
		name := string(scenario) + ".tmpl"
		tmpl, err := template.New(name).Option("missingkey=error").ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		r.templates[scenario] = tmpl
	}
	return r, nil
}

// Render renders the template for the given scenario with the given
// parameters. Every parameter the scenario requires must be present and
// non-empty.
func (r *Renderer) Render(scenario Scenario, params map[string]string) (string, error) {
	tmpl, ok := r.templates[scenario]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownScenario, scenario)
	}

	for _, key := range required[scenario] {
		if params[key] == "" {
			return "", fmt.Errorf("%w: %q required by scenario %q", ErrMissingParameter, key, scenario)
		}
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, params); err != nil {
		return "", fmt.Errorf("rendering scenario %q: %w", scenario, err)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// MustRender renders a scenario with no required parameters.
// Panics on error; use only for static scenarios validated by New.
func (r *Renderer) MustRender(scenario Scenario) string {
	out, err := r.Render(scenario, nil)
	if err != nil {
		panic(fmt.Sprintf("BUG: rendering static scenario %q: %v", scenario, err))
	}
	return out
}
