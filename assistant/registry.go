package assistant

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
	"github.com/tectiv3/docchat/tools"
)

var ErrUnknownTool = errors.New("unknown tool function")

// Registry maps tool function names to their handlers
type Registry struct {
	handlers map[string]tools.Function
}

func NewRegistry(functions ...tools.Function) (*Registry, error) {
	r := &Registry{handlers: make(map[string]tools.Function, len(functions))}
	for _, f := range functions {
		if _, ok := r.handlers[f.Name()]; ok {
			return nil, fmt.Errorf("duplicate tool function %q", f.Name())
		}
		r.handlers[f.Name()] = f
	}

	return r, nil
}

// Names returns the registered function names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Validate fails when any of the names has no registered handler
func (r *Registry) Validate(names []string) error {
	for _, name := range names {
		if _, ok := r.handlers[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTool, name)
		}
	}

	return nil
}

// Tools describes the registered functions in the assistant tool format
func (r *Registry) Tools() []openai.AssistantTool {
	var list []openai.AssistantTool
	for _, name := range r.Names() {
		f := r.handlers[name]
		list = append(list, openai.AssistantTool{
			Type: openai.AssistantToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        f.Name(),
				Description: f.Description(),
				Parameters:  f.Parameters(),
			},
		})
	}

	return list
}

// Dispatch runs the named function with the model supplied arguments
func (r *Registry) Dispatch(ctx context.Context, name, arguments string) (string, error) {
	f, ok := r.handlers[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	log.WithField("function", name).WithField("arguments", arguments).Info("calling tool")

	return f.Call(ctx, arguments)
}
