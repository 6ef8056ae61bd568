package tools

import (
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Spec is one tool's advertised contract: the name and description the
// model sees plus the JSON Schema its arguments must satisfy. The
// compiled schema validates arguments before dispatch so malformed
// model output fails fast with a structured error instead of reaching
// an executor.
type Spec struct {
	Name        string
	Description string
	Schema      json.RawMessage

	compiled *jsonschema.Schema
}

// NewSpec compiles schema and returns the Spec.
func NewSpec(name, description, schema string) (Spec, error) {
	compiled, err := jsonschema.CompileString(name+".json", schema)
	if err != nil {
		return Spec{}, fmt.Errorf("tools: compile schema for %s: %w", name, err)
	}
	return Spec{
		Name:        name,
		Description: description,
		Schema:      json.RawMessage(schema),
		compiled:    compiled,
	}, nil
}

// MustSpec is NewSpec for the static built-in table; it panics on a
// malformed schema, which is a programming error.
func MustSpec(name, description, schema string) Spec {
	s, err := NewSpec(name, description, schema)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks params against the spec's schema.
func (s Spec) Validate(params json.RawMessage) error {
	if s.compiled == nil {
		return nil
	}
	var v any
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if err := json.Unmarshal(params, &v); err != nil {
		return fmt.Errorf("tools: %s: arguments are not valid JSON: %w", s.Name, err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return fmt.Errorf("tools: %s: %w", s.Name, err)
	}
	return nil
}

// builtinSpecs is the advertised contract for every KnownTool.
var builtinSpecs = []Spec{
	MustSpec(ReadFile, "Read a file from the workspace and return its contents.", `{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative file path"}
		},
		"required": ["path"]
	}`),
	MustSpec(WriteFile, "Create or overwrite a file in the workspace.", `{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative file path"},
			"content": {"type": "string", "description": "Full file contents"}
		},
		"required": ["path", "content"]
	}`),
	MustSpec(DeleteFile, "Delete a file from the workspace.", `{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative file path"}
		},
		"required": ["path"]
	}`),
	MustSpec(ListFiles, "List directory entries in the workspace.", `{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative directory, defaults to ."}
		}
	}`),
	MustSpec(Grep, "Search file contents with a regular expression.", `{
		"type": "object",
		"properties": {
			"pattern": {"type": "string", "description": "Regular expression to search for"},
			"path": {"type": "string", "description": "Directory or file to search, defaults to ."}
		},
		"required": ["pattern"]
	}`),
	MustSpec(Search, "Find files whose names match a query.", `{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Filename substring or glob"}
		},
		"required": ["query"]
	}`),
	MustSpec(WebFetch, "Fetch a public HTTP(S) URL and return its body.", `{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "Absolute http or https URL"}
		},
		"required": ["url"]
	}`),
	MustSpec(RunPtyCmd, "Run a shell command in the workspace and return stdout, stderr, and the exit code.", `{
		"type": "object",
		"properties": {
			"command": {
				"description": "Command line; an array form is joined with spaces",
				"anyOf": [
					{"type": "string"},
					{"type": "array", "items": {"type": "string"}}
				]
			},
			"cwd": {"type": "string", "description": "Working directory, defaults to the workspace root"},
			"timeout_seconds": {"type": "integer", "minimum": 1}
		},
		"required": ["command"]
	}`),
	MustSpec(UpdatePlan, "Replace the current task plan. At most one step may be in_progress.", `{
		"type": "object",
		"properties": {
			"explanation": {"type": "string"},
			"plan": {
				"type": "array",
				"minItems": 1,
				"maxItems": 12,
				"items": {
					"type": "object",
					"properties": {
						"step": {"type": "string"},
						"status": {"type": "string", "enum": ["pending", "in_progress", "completed"]}
					},
					"required": ["step", "status"]
				}
			}
		},
		"required": ["plan"]
	}`),
	MustSpec("workflow", "Run a named workflow pipeline through the configured runner.", `{
		"type": "object",
		"properties": {
			"pipeline": {"type": "string", "description": "Pipeline name"},
			"args": {"type": "object", "additionalProperties": {"type": "string"}}
		},
		"required": ["pipeline"]
	}`),
}

// BuiltinSpecs returns the advertised contract for the built-in tools.
// The run_command alias is not advertised: the model is told the
// canonical name and the alias exists only for compatibility with
// models that emit it anyway.
func BuiltinSpecs() []Spec {
	out := make([]Spec, len(builtinSpecs))
	copy(out, builtinSpecs)
	return out
}

// SubAgentSpec builds the advertised contract for one sub-agent
// delegation tool.
func SubAgentSpec(id, name, description string) Spec {
	desc := fmt.Sprintf("Delegate a self-contained task to the %s sub-agent. %s", name, description)
	return MustSpec(subAgentPrefix+id, desc, `{
		"type": "object",
		"properties": {
			"task": {"type": "string", "description": "The complete task for the sub-agent, with all context it needs"}
		},
		"required": ["task"]
	}`)
}
