// Package fingerprint computes the deterministic content hash used as the
// cache key for a provider request. Two logically identical requests — same
// prompt, same provider options regardless of struct field order, same tools,
// same output schema structure — must hash identically so the recorder can
// serve a cached reply instead of calling the provider again.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Request is the set of inputs that determine a provider call's outcome and
// therefore its cache key. Tools and OutputSchema are any-typed because the
// kernel treats them as opaque structural data; callers pass whatever JSON-
// marshalable representation their agent/provider pairing produces.
type Request struct {
	Prompt          any
	ProviderOptions any
	Tools           any
	OutputSchema    any
}

// Hash returns the canonical "sha256:<64hex>" fingerprint of req. Field
// ordering inside ProviderOptions (and any nested object) does not affect the
// result; empty maps, empty slices, nulls, and empty strings are dropped
// before hashing so that, for example, {"tools": []} and {} fingerprint the
// same. Other zero values (0, false) are kept and do affect the hash.
//
// Hash fails only when req's fields are not JSON-serializable.
func Hash(req Request) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	canon, err := Canonicalize(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Canonicalize normalizes a JSON document for hashing: object keys are sorted
// recursively (guaranteed by decoding into map[string]any and letting
// encoding/json re-marshal it), and empty arrays, empty objects, null values,
// and zero-length strings are pruned so that semantically-absent fields never
// perturb the hash.
func Canonicalize(data []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(prune(v))
}

// prune recursively removes empty containers and nil leaves from a decoded
// JSON value, then returns the pruned value with map keys left to
// encoding/json's own sorted-key marshaling of map[string]any.
func prune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			pv := prune(val)
			if isEmpty(pv) {
				continue
			}
			out[k] = pv
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, val := range t {
			pv := prune(val)
			if isEmpty(pv) {
				continue
			}
			out = append(out, pv)
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return v
	}
}

// isEmpty reports whether a pruned value is semantically absent: nil, an
// empty string, or a pruned-away container.
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}
