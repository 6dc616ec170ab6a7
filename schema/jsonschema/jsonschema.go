// Package jsonschema provides a schema.Schema reference implementation backed
// by github.com/santhosh-tekuri/jsonschema/v6. A JSON Schema document is
// compiled once at construction; Parse then validates-then-decodes a raw
// value against that compiled schema into a caller-supplied Go type.
package jsonschema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/flowkernel/schema"
)

// Schema wraps a compiled JSON Schema document. The zero value is not usable;
// construct with Compile.
type Schema struct {
	compiled *jsonschema.Schema
	doc      any
	// decodeInto, when non-nil, is a constructor returning a fresh pointer
	// that json.Unmarshal decodes the validated value into before Parse
	// returns it. When nil, Parse returns the validated value as a generic
	// any (typically map[string]any / []any / scalars).
	decodeInto func() any
}

var _ schema.Schema = (*Schema)(nil)

// Compile parses and compiles a JSON Schema document (as raw JSON bytes). The
// resourceName is used as the internal resource identifier for the compiler
// and has no effect on Parse/Structure output.
func Compile(resourceName string, document []byte) (*Schema, error) {
	var doc any
	if err := json.Unmarshal(document, &doc); err != nil {
		return nil, fmt.Errorf("jsonschema: decode document: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("jsonschema: add resource: %w", err)
	}
	compiled, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("jsonschema: compile: %w", err)
	}
	return &Schema{compiled: compiled, doc: doc}, nil
}

// DecodeInto configures Parse to unmarshal the validated value into a fresh
// instance produced by newT (typically `func() any { return new(MyType) }`)
// instead of returning the raw decoded any. Returns the receiver for
// chaining.
func (s *Schema) DecodeInto(newT func() any) *Schema {
	s.decodeInto = newT
	return s
}

// Parse validates value against the compiled schema. value may be a raw
// []byte/json.RawMessage (decoded first) or an already-decoded Go value
// (map[string]any, []any, or a scalar). On success, returns either the
// validated value unchanged or, if DecodeInto was configured, a freshly
// decoded instance of the configured type.
func (s *Schema) Parse(value any) (any, error) {
	decoded, err := toAny(value)
	if err != nil {
		return nil, fmt.Errorf("jsonschema: decode value: %w", err)
	}
	if err := s.compiled.Validate(decoded); err != nil {
		return nil, fmt.Errorf("jsonschema: validate: %w", err)
	}
	if s.decodeInto == nil {
		return decoded, nil
	}
	raw, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("jsonschema: re-encode validated value: %w", err)
	}
	target := s.decodeInto()
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("jsonschema: decode into target: %w", err)
	}
	return target, nil
}

// Structure returns the compiled schema's original document, used by
// fingerprint.Request.OutputSchema. Naming-only differences between two
// schema documents that describe the same shape are NOT canonicalized away
// here (see DESIGN.md Open Question resolution); this returns the document as
// written.
func (s *Schema) Structure() any { return s.doc }

func toAny(value any) (any, error) {
	switch v := value.(type) {
	case []byte:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, err
		}
		return out, nil
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		// Round-trip through JSON so struct values present the same shape
		// jsonschema.Validate expects (maps/slices/scalars).
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}
