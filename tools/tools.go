package tools

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tmc/langchaingo/tools"
)

// Function is a tool the assistant can call. Call receives the JSON encoded
// arguments produced by the model.
type Function interface {
	tools.Tool
	Parameters() map[string]any
}

// Defaults returns the functions registered with the assistant on startup
func Defaults() []Function {
	return []Function{
		WebSearch{},
		GetCryptoRate{},
		ReadPage{},
		Calculator{},
	}
}

// argument returns the named argument from a JSON object, or the raw input
// when the model passed a bare string instead of an object
func argument(input, name string) string {
	input = strings.TrimSpace(input)
	if gjson.Valid(input) {
		res := gjson.Get(input, name)
		if res.Exists() {
			return strings.TrimSpace(res.String())
		}
		if gjson.Parse(input).IsObject() {
			return ""
		}
	}

	return strings.TrimSpace(strings.Trim(input, `"`))
}

func properties(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func stringProperty(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
