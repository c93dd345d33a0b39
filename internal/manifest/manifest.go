// Package manifest loads declarative pipeline configuration: a JSON document
// naming registered behaviors to assemble into steps, plus removals and
// replacements, validated against an embedded JSON Schema before it touches
// the coordinator.
package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/conduit/pkg/pipeline"
)

// documentSchemaJSON is the JSON Schema for pipeline manifests. Embedded as a
// constant to avoid filesystem dependencies.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://conduit.dev/schemas/manifest.json",
  "type": "object",
  "required": ["pipeline", "root"],
  "properties": {
    "pipeline": {
      "type": "string",
      "minLength": 1
    },
    "root": {
      "type": "string",
      "minLength": 1
    },
    "settings": {
      "type": "object"
    },
    "register": {
      "type": "array",
      "items": { "$ref": "#/$defs/step" }
    },
    "remove": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "replace": {
      "type": "array",
      "items": { "$ref": "#/$defs/replacement" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "behavior"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "behavior": {
          "type": "string",
          "minLength": 1
        },
        "description": { "type": "string" },
        "before": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "before_if_present": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "after": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "after_if_present": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "condition": { "type": "string" }
      },
      "additionalProperties": false
    },
    "replacement": {
      "type": "object",
      "required": ["id", "behavior"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "behavior": {
          "type": "string",
          "minLength": 1
        },
        "description": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// StepEntry declares one step assembled from a named behavior registration.
type StepEntry struct {
	ID              string   `json:"id"`
	Behavior        string   `json:"behavior"`
	Description     string   `json:"description,omitempty"`
	Before          []string `json:"before,omitempty"`
	BeforeIfPresent []string `json:"before_if_present,omitempty"`
	After           []string `json:"after,omitempty"`
	AfterIfPresent  []string `json:"after_if_present,omitempty"`
	Condition       string   `json:"condition,omitempty"`
}

// ReplaceEntry swaps the behavior behind an already declared step.
type ReplaceEntry struct {
	ID          string `json:"id"`
	Behavior    string `json:"behavior"`
	Description string `json:"description,omitempty"`
}

// Document is a parsed pipeline manifest.
type Document struct {
	Pipeline string         `json:"pipeline"`
	Root     string         `json:"root"`
	Settings map[string]any `json:"settings,omitempty"`
	Register []StepEntry    `json:"register,omitempty"`
	Remove   []string       `json:"remove,omitempty"`
	Replace  []ReplaceEntry `json:"replace,omitempty"`
}

// Loader validates and parses manifests. Safe for concurrent use; the schema
// is compiled once at construction.
type Loader struct {
	schema *jsonschema.Schema
}

// NewLoader compiles the embedded manifest schema.
func NewLoader() (*Loader, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal manifest schema: %w", err)
	}
	if err := c.AddResource("https://conduit.dev/schemas/manifest.json", doc); err != nil {
		return nil, fmt.Errorf("add manifest schema resource: %w", err)
	}
	compiled, err := c.Compile("https://conduit.dev/schemas/manifest.json")
	if err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}
	return &Loader{schema: compiled}, nil
}

// Load reads, validates and parses one manifest document.
func (l *Loader) Load(r io.Reader) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, pipeline.NewError(pipeline.ErrCodeConfig, "read manifest").WithCause(err)
	}

	value, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, pipeline.NewError(pipeline.ErrCodeConfig, "manifest is not valid JSON").WithCause(err)
	}
	if err := l.schema.Validate(value); err != nil {
		return nil, toConfigError(err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, pipeline.NewError(pipeline.ErrCodeConfig, "decode manifest").WithCause(err)
	}
	return &doc, nil
}

// Apply translates a document into coordinator mutations, resolving each
// named behavior through the registry, and writes manifest settings into the
// settings store. Validation of the resulting step set still happens at
// Resolve and model-build time.
func Apply(doc *Document, registry *pipeline.Registry, coordinator *pipeline.Coordinator, settings *pipeline.Settings) error {
	if doc == nil {
		return pipeline.NewError(pipeline.ErrCodeConfig, "nil manifest document")
	}

	if settings != nil {
		for k, v := range doc.Settings {
			if err := settings.Set(k, v); err != nil {
				return err
			}
		}
	}

	for _, entry := range doc.Register {
		step, err := registry.NewStep(entry.ID, entry.Behavior)
		if err != nil {
			return err
		}
		if entry.Description != "" {
			step.WithDescription(entry.Description)
		}
		for _, id := range entry.Before {
			step.InsertBefore(id)
		}
		for _, id := range entry.BeforeIfPresent {
			step.InsertBeforeIfPresent(id)
		}
		for _, id := range entry.After {
			step.InsertAfter(id)
		}
		for _, id := range entry.AfterIfPresent {
			step.InsertAfterIfPresent(id)
		}
		if entry.Condition != "" {
			step.EnableIf(entry.Condition)
		}
		coordinator.Register(step)
	}

	for _, id := range doc.Remove {
		coordinator.Remove(id)
	}

	for _, entry := range doc.Replace {
		reg, err := registry.Get(entry.Behavior)
		if err != nil {
			return err
		}
		coordinator.Replace(entry.ID, reg.Factory, entry.Description)
	}

	return nil
}

// toConfigError converts a jsonschema.ValidationError into a configuration
// error listing every leaf violation.
func toConfigError(err error) *pipeline.Error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return pipeline.NewError(pipeline.ErrCodeConfig, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return pipeline.NewError(pipeline.ErrCodeConfig, verr.Error())
	}
	if len(violations) == 1 {
		return pipeline.NewError(pipeline.ErrCodeConfig, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return pipeline.NewErrorf(pipeline.ErrCodeConfig, "manifest validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
