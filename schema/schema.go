// Package schema defines the opaque output-schema contract the kernel
// consumes: a way to parse a raw provider output into a typed value, plus a
// stable structural representation used for fingerprinting. The kernel never
// imports a concrete implementation; package schema/jsonschema is one
// reference adapter among many a caller could supply.
package schema

// Schema validates and decodes a raw value (typically decoded JSON from a
// provider's structured output) into a caller-defined shape.
type Schema interface {
	// Parse validates value against the schema and returns the decoded
	// result. The concrete return type is implementation-defined; callers
	// type-assert based on what they registered the schema for.
	Parse(value any) (any, error)

	// Structure returns the schema's structural definition, used as part of
	// fingerprint.Request.OutputSchema and hashed exactly as returned: the
	// kernel strips no prose from it, and the schema/jsonschema adapter
	// returns its document as written, description and title keywords
	// included, so editing that text changes the fingerprint. Two schemas with identical
	// Structure() values fingerprint identically, even if their names or
	// descriptions differ — a known limitation documented in DESIGN.md.
	Structure() any
}
