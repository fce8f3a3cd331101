package tools

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/delaight/waiter/internal/log"
	"github.com/delaight/waiter/internal/menu"
	"github.com/delaight/waiter/internal/prompt"
)

// Tool names as advertised to the model.
const (
	FindDishesName     = "find-dishes-service"
	OrderDishName      = "order-dish-service"
	ClassifyPromptName = "classify-prompt-if-food-or-other"
)

// orderDeliveryMinutes is the kitchen's fixed delivery estimate.
const orderDeliveryMinutes = 20

// FindDishesInput carries the customer's food preferences.
type FindDishesInput struct {
	Preferences string `json:"preferences" jsonschema:"food preferences such as dish names or ingredients"`
}

// DishMatch is one dish suggestion returned to the model.
type DishMatch struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// FindDishesOutput lists the matching dishes, best first.
type FindDishesOutput struct {
	Dishes []DishMatch `json:"dishes"`
}

// DishFinder is the menu surface the search tool needs.
// *menu.Store satisfies it.
type DishFinder interface {
	Search(ctx context.Context, query string, topK int, minScore float64) ([]menu.Result, error)
}

// NewFindDishes creates the dish search tool backed by the menu store.
func NewFindDishes(finder DishFinder, topK int, minScore float64) (*Definition, error) {
	return New(FindDishesName,
		"Find dishes on the menu matching food preferences such as dish names or ingredients.",
		func(ctx context.Context, in FindDishesInput) (FindDishesOutput, error) {
			results, err := finder.Search(ctx, in.Preferences, topK, minScore)
			if err != nil {
				return FindDishesOutput{}, fmt.Errorf("searching menu: %w", err)
			}
			out := FindDishesOutput{Dishes: make([]DishMatch, len(results))}
			for i, r := range results {
				out.Dishes[i] = DishMatch{
					Name:        r.Name(),
					Description: r.Content,
					Score:       r.Score,
				}
			}
			return out, nil
		})
}

// OrderRequest carries the meals the customer confirmed.
type OrderRequest struct {
	Meals []string `json:"meals" jsonschema:"names of the meals to order"`
}

// OrderResponse is the kitchen's confirmation.
type OrderResponse struct {
	DeliveredInMinutes int `json:"deliveredInMinutes"`
}

// NewOrderDish creates the order placement tool.
// The demo kitchen always promises delivery in a fixed number of minutes.
func NewOrderDish(logger log.Logger) (*Definition, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	return New(OrderDishName,
		"Place an order for the given meals once the customer has confirmed.",
		func(_ context.Context, in OrderRequest) (OrderResponse, error) {
			if len(in.Meals) == 0 {
				return OrderResponse{}, fmt.Errorf("no meals in order")
			}
			logger.Info("order placed", "meals", in.Meals)
			return OrderResponse{DeliveredInMinutes: orderDeliveryMinutes}, nil
		})
}

// Classification of a customer prompt.
type Classification string

const (
	ClassificationFood  Classification = "FOOD"
	ClassificationOther Classification = "OTHER"
)

// ClassifyInput carries the prompt to classify.
type ClassifyInput struct {
	Prompt string `json:"prompt" jsonschema:"the customer prompt to classify"`
}

// PromptClassification is the structured classifier verdict.
type PromptClassification struct {
	Classification Classification `json:"classification" jsonschema:"FOOD or OTHER"`
	FoodElements   []string       `json:"foodElements" jsonschema:"extracted dish names or ingredients"`
}

// NewClassifyPrompt creates the food-or-other classifier tool.
// It delegates to the model with structured output, so the verdict always
// decodes into PromptClassification.
func NewClassifyPrompt(g *genkit.Genkit, renderer *prompt.Renderer, modelName string) (*Definition, error) {
	return New(ClassifyPromptName,
		"Classifies a prompt to verify whether it is food or something else. If classified as food, extracted food items are returned.",
		func(ctx context.Context, in ClassifyInput) (PromptClassification, error) {
			text, err := renderer.Render(prompt.ScenarioClassifier, map[string]string{"prompt": in.Prompt})
			if err != nil {
				return PromptClassification{}, fmt.Errorf("rendering classifier prompt: %w", err)
			}

			verdict, _, err := genkit.GenerateData[PromptClassification](ctx, g,
				ai.WithModelName(modelName),
				ai.WithPrompt(text),
			)
			if err != nil {
				return PromptClassification{}, fmt.Errorf("classifying prompt: %w", err)
			}
			if verdict.FoodElements == nil {
				verdict.FoodElements = []string{}
			}
			return *verdict, nil
		})
}
