package service

import (
	"encoding/json"

	"github.com/sashabaranov/go-openai/jsonschema"
	"google.golang.org/genai"
)

const jsonMIMEType = "application/json"

// ResponseSchema is a structured-output contract: a JSON object with exactly one
// required string property.
type ResponseSchema struct {
	Name        string // schema name, required by OpenAI-style APIs
	Field       string
	Description string
}

func (s ResponseSchema) genaiSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			s.Field: {
				Type:        genai.TypeString,
				Description: s.Description,
			},
		},
		Required: []string{s.Field},
	}
}

func (s ResponseSchema) openAIDefinition() *jsonschema.Definition {
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			s.Field: {
				Type:        jsonschema.String,
				Description: s.Description,
			},
		},
		Required:             []string{s.Field},
		AdditionalProperties: false,
	}
}

// JSONSchema renders the contract as a plain JSON Schema document.
func (s ResponseSchema) JSONSchema() json.RawMessage {
	doc := map[string]any{
		"type": "object",
		"properties": map[string]any{
			s.Field: map[string]any{
				"type":        "string",
				"description": s.Description,
			},
		},
		"required":             []string{s.Field},
		"additionalProperties": false,
	}
	// A map of strings and slices always marshals.
	raw, _ := json.Marshal(doc)
	return raw
}
