package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultName         = "Financial Analyst Assistant"
	DefaultInstructions = "You are an expert financial analyst. Use your knowledge base to answer questions about financial statements and also the other queries of the user."
	DefaultModel        = "gpt-4-turbo-preview"
)

// Descriptor is the locally persisted record of the remote assistant
type Descriptor struct {
	AssistantID  string                 `json:"assistantId"`
	Name         string                 `json:"name"`
	Instructions string                 `json:"instructions"`
	Model        string                 `json:"model"`
	Tools        []openai.AssistantTool `json:"tools"`
	FileIDs      []string               `json:"file_ids"`
}

// FunctionNames returns the names of the function tools the assistant was created with
func (d *Descriptor) FunctionNames() []string {
	var names []string
	for _, t := range d.Tools {
		if t.Type == openai.AssistantToolTypeFunction && t.Function != nil {
			names = append(names, t.Function.Name)
		}
	}

	return names
}

// LoadDescriptor reads a descriptor file. A descriptor without an assistant id is
// treated as missing.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if d.AssistantID == "" {
		return nil, errors.New("descriptor has no assistant id")
	}

	return d, nil
}

// Save writes the descriptor as indented json
func (d *Descriptor) Save(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
