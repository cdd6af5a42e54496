// Package mcputil provides JSON Schema helpers for tool registration:
// deriving input schemas from Go structs and validating call arguments
// against declared schemas.
package mcputil

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaFor derives a JSON Schema from a Go struct type, inlining all
// definitions so the result is self-contained on the wire.
func SchemaFor(v any) (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference: true, // inline defs
		ExpandedStruct: true, // put the struct at the schema root
	}
	schema := reflector.Reflect(v)
	schema.Version = "" // wire schemas stay draft-agnostic
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal derived schema: %w", err)
	}
	return data, nil
}

// CompiledSchema is a validated, reusable argument schema.
type CompiledSchema struct {
	schema *jsv.Schema
}

// CompileSchema compiles a declared schema once, at registration time,
// so invalid schemas surface as registration errors rather than
// call-time faults.
func CompileSchema(name string, schema json.RawMessage) (*CompiledSchema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	compiler := jsv.NewCompiler()
	url := "mcp://schema/" + name
	if err := compiler.AddResource(url, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("schema for %q: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema for %q: %w", name, err)
	}
	return &CompiledSchema{schema: compiled}, nil
}

// Validate checks arguments against the schema. A nil CompiledSchema
// accepts everything. Empty arguments validate as an empty object so
// schemas without required fields accept calls that omit arguments.
func (s *CompiledSchema) Validate(args json.RawMessage) error {
	if s == nil {
		return nil
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := s.schema.Validate(v); err != nil {
		return err
	}
	return nil
}
