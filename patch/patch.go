// Package patch implements structural-mutation state updates: a reducer
// mutates a plain Go value through a Draft, and the engine records both the
// forward patches (what changed) and the inverse patches (how to undo it).
// This stands in for the structural-sharing/immutable-data libraries used by
// the teacher's own transcript ledger, expressed instead as explicit
// before/after diffing over map[string]any-shaped state, which is enough for
// workflow state that is itself JSON-shaped.
package patch

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Op identifies the kind of structural mutation a Patch describes.
type Op string

// The three mutation kinds a Patch may describe.
const (
	OpReplace Op = "replace"
	OpAdd     Op = "add"
	OpRemove  Op = "remove"
)

// Patch is a minimal description of one structural mutation: a path into the
// state tree, the operation applied there, and the resulting value (for
// OpRemove, Value is the value that was removed, used to build the inverse).
type Patch struct {
	Path  []string
	Op    Op
	Value any
}

// Draft is the mutable view a reducer operates on. It wraps a decoded
// map[string]any snapshot of the previous state; reducers read and write
// through Get/Set/Delete rather than holding a pointer into the final state,
// so the engine can diff before and after without the reducer's cooperation.
type Draft struct {
	root map[string]any
}

// Get returns the value at path, and whether it was present.
func (d *Draft) Get(path ...string) (any, bool) {
	return lookup(d.root, path)
}

// Set assigns value at path, creating intermediate maps as needed.
func (d *Draft) Set(value any, path ...string) {
	assign(d.root, path, value)
}

// Delete removes the value at path, if present.
func (d *Draft) Delete(path ...string) {
	remove(d.root, path)
}

// Reducer mutates a Draft in place. Reducers must not retain the Draft past
// the call: the engine discards it once Update returns.
type Reducer func(d *Draft) error

// Update runs reducer over a snapshot of state and returns the resulting new
// state along with the forward and inverse patches that describe the
// transition. state may be nil (an empty object is assumed).
func Update(state any, reducer Reducer) (newState any, forward, inverse []Patch, err error) {
	before, err := toMap(state)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("patch: decode state: %w", err)
	}
	after := deepCopy(before)
	draft := &Draft{root: after}
	if err := reducer(draft); err != nil {
		return nil, nil, nil, err
	}
	forward, inverse = diff(before, after, nil)
	return after, forward, inverse, nil
}

// Apply applies a sequence of forward patches to state, returning the
// resulting state. Used by replay's fast path with the forward patches
// persisted on a state:intent event, and by replay.RewindTo with inverse
// patches.
func Apply(state any, patches []Patch) (any, error) {
	root, err := toMap(state)
	if err != nil {
		return nil, err
	}
	for _, p := range patches {
		switch p.Op {
		case OpRemove:
			remove(root, p.Path)
		default:
			assign(root, p.Path, p.Value)
		}
	}
	return root, nil
}

// toMap decodes state (any JSON-marshalable value, or nil) into a
// map[string]any working copy.
func toMap(state any) (map[string]any, error) {
	if state == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func deepCopy(m map[string]any) map[string]any {
	raw, _ := json.Marshal(m)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func lookup(m map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return m, true
	}
	v, ok := m[path[0]]
	if !ok {
		return nil, false
	}
	if len(path) == 1 {
		return v, true
	}
	next, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return lookup(next, path[1:])
}

func assign(m map[string]any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		m[path[0]] = value
		return
	}
	next, ok := m[path[0]].(map[string]any)
	if !ok {
		next = map[string]any{}
		m[path[0]] = next
	}
	assign(next, path[1:], value)
}

func remove(m map[string]any, path []string) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		delete(m, path[0])
		return
	}
	next, ok := m[path[0]].(map[string]any)
	if !ok {
		return
	}
	remove(next, path[1:])
}

// diff walks before and after in lockstep and returns the forward/inverse
// patches that transform one into the other. Keys are visited in sorted
// order so the resulting patch lists are themselves deterministic.
func diff(before, after map[string]any, prefix []string) (forward, inverse []Patch) {
	keys := make(map[string]bool)
	for k := range before {
		keys[k] = true
	}
	for k := range after {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		path := append(append([]string{}, prefix...), k)
		bv, bok := before[k]
		av, aok := after[k]

		switch {
		case !bok && aok:
			forward = append(forward, Patch{Path: path, Op: OpAdd, Value: av})
			inverse = append(inverse, Patch{Path: path, Op: OpRemove, Value: av})
		case bok && !aok:
			forward = append(forward, Patch{Path: path, Op: OpRemove, Value: bv})
			inverse = append(inverse, Patch{Path: path, Op: OpAdd, Value: bv})
		case bok && aok:
			bm, bIsMap := bv.(map[string]any)
			am, aIsMap := av.(map[string]any)
			if bIsMap && aIsMap {
				f, i := diff(bm, am, path)
				forward = append(forward, f...)
				inverse = append(inverse, i...)
				continue
			}
			if !reflect.DeepEqual(bv, av) {
				forward = append(forward, Patch{Path: path, Op: OpReplace, Value: av})
				inverse = append(inverse, Patch{Path: path, Op: OpReplace, Value: bv})
			}
		}
	}
	return forward, inverse
}
