package tools

import (
	"context"

	"github.com/tmc/langchaingo/tools"
)

// Calculator evaluates arithmetic expressions
type Calculator struct{}

var _ Function = Calculator{}

func (t Calculator) Name() string {
	return "calculator"
}

func (t Calculator) Description() string {
	return "Evaluate a math expression, e.g. `1200 * 0.07 + 15`. Use it for any arithmetic."
}

func (t Calculator) Parameters() map[string]any {
	return properties([]string{"expression"}, map[string]any{
		"expression": stringProperty("The expression to evaluate"),
	})
}

func (t Calculator) Call(ctx context.Context, input string) (string, error) {
	return tools.Calculator{}.Call(ctx, argument(input, "expression"))
}
