package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrKind distinguishes the three failure shapes the loader can produce.
type ErrKind int

const (
	ErrFileNotFound ErrKind = iota
	ErrInvalidSyntax
	ErrSchemaViolation
)

// LoadError is returned by Load and carries the offending server name, if any.
type LoadError struct {
	Kind   ErrKind
	Server string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Server != "" {
		return fmt.Sprintf("config: %s: %v", e.Server, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

var (
	documentSchema     *jsonschema.Resolved
	documentSchemaOnce sync.Once
	documentSchemaErr  error
)

// resolvedDocumentSchema describes a mapping from arbitrary server name to
// ServerSpec; command is the only required field, matching the invariants
// in spec.md §4.1.
func resolvedDocumentSchema() (*jsonschema.Resolved, error) {
	documentSchemaOnce.Do(func() {
		schema := &jsonschema.Schema{
			Type:     "object",
			Required: []string{"mcpServers"},
			Properties: map[string]*jsonschema.Schema{
				"mcpServers": {
					Type: "object",
					AdditionalProperties: &jsonschema.Schema{
						Type:     "object",
						Required: []string{"command"},
						Properties: map[string]*jsonschema.Schema{
							"command": {Type: "string"},
							"args":    {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
							"env":     {Type: "object"},
						},
					},
				},
			},
		}
		documentSchema, documentSchemaErr = schema.Resolve(nil)
	})
	return documentSchema, documentSchemaErr
}

// Load reads the config document at path, strips JSONC comments, validates
// it against the document schema, and returns the resulting Config.
//
// A config whose mcpServers mapping is empty is rejected at load time per
// spec.md §3.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Kind: ErrFileNotFound, Err: err}
	}

	stripped := StripJSONComments(raw)

	var generic any
	if err := json.Unmarshal(stripped, &generic); err != nil {
		return nil, &LoadError{Kind: ErrInvalidSyntax, Err: err}
	}

	resolved, err := resolvedDocumentSchema()
	if err != nil {
		return nil, &LoadError{Kind: ErrSchemaViolation, Err: err}
	}
	if err := resolved.Validate(generic); err != nil {
		return nil, &LoadError{Kind: ErrSchemaViolation, Err: err}
	}

	var doc document
	if err := json.Unmarshal(stripped, &doc); err != nil {
		return nil, &LoadError{Kind: ErrInvalidSyntax, Err: err}
	}

	if len(doc.MCPServers) == 0 {
		return nil, &LoadError{Kind: ErrSchemaViolation, Err: errors.New("mcpServers must not be empty")}
	}

	cfg := &Config{Servers: make(map[string]ServerSpec, len(doc.MCPServers))}
	for name, raw := range doc.MCPServers {
		if raw.Command == "" {
			return nil, &LoadError{Kind: ErrSchemaViolation, Server: name, Err: errors.New("command must be a non-empty string")}
		}
		spec := ServerSpec{Command: raw.Command, Args: raw.Args, Env: raw.Env}
		if spec.Args == nil {
			spec.Args = []string{}
		}
		if spec.Env == nil {
			spec.Env = map[string]string{}
		}
		cfg.Servers[name] = spec
	}

	return cfg, nil
}
