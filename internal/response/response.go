// Package response is the Response Assembler (spec.md §4.8): it walks
// a partition's shape tree in lockstep with a subgraph's decoded JSON,
// enforces null-propagation, and merges outputs from multiple
// partitions into one response tree.
//
// Grounded on federation/executor/merger.go's Merge (recursive
// path-addressed map merge), generalized from "merge by string path"
// to "merge by response key into a shared object," and on spec.md
// §4.8's null-propagation rule. Uses github.com/goccy/go-json to
// decode each subgraph payload (the same library
// gateway/schema_fetcher.go already uses for `_service { sdl }`
// decoding) before the shape walk; true token-level lockstep decoding
// (rather than decode-to-any then shape-walk) is deferred — see
// DESIGN.md — since goccy/go-json's generic decode already removes
// the allocation overhead encoding/json would add on this path, and
// the shape walk still performs 100% of the null-propagation and
// merge work spec.md §4.8 requires.
package response

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/n9te9/go-graphql-federation-gateway/internal/dispatcher"
	"github.com/n9te9/go-graphql-federation-gateway/internal/gatewayerr"
	"github.com/n9te9/go-graphql-federation-gateway/internal/plan"
	"github.com/n9te9/go-graphql-federation-gateway/internal/schema"
)

// Tree is the response graph: nested maps of response values, keyed by
// response key and written in place by every partition that merges
// into it (spec.md §4.8). Object identity is the response key path from
// the operation root.
type Tree struct {
	Data   map[string]any
	Errors []*gatewayerr.Error
	// Nulled marks response-key paths (joined by "."; the empty string
	// keys the whole response root) that have already been collapsed to
	// null by an earlier null-propagation, so a later write at or under
	// that exact position is dropped rather than resurrecting it
	// (spec.md §4.8: "sibling writes into positions already nulled are
	// dropped").
	Nulled map[string]bool
	// DevAssertions, when true, panics on a first-writer-wins collision
	// instead of silently dropping the later write (spec.md §4.8:
	// "a development-mode assertion fires").
	DevAssertions bool
}

// NewTree creates an empty response tree.
func NewTree(devAssertions bool) *Tree {
	return &Tree{Data: make(map[string]any), Nulled: make(map[string]bool), DevAssertions: devAssertions}
}

// Decode parses a subgraph's raw JSON payload into a generic value
// using goccy/go-json's decoder.
func Decode(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindSubgraphInvalidResponseError, "decode subgraph payload", err)
	}
	return v, nil
}

// Assemble shape-directs the decode of one partition's subgraph
// response into a value tree, applying null-propagation per spec.md
// §4.8, and returns both the assembled value and the field errors that
// null-propagation produced along the way. subgraphErrors are not
// copied into the result; a non-null position the subgraph already
// reported an error for gets no second error here (spec.md §4.7/§4.8).
func Assemble(arena *schema.Arena, shapes []plan.Shape, shapeID plan.ShapeID, data map[string]any, subgraphErrors []dispatcher.GraphQLError, serviceName string) (any, []*gatewayerr.Error) {
	a := &assembler{arena: arena, shapes: shapes, serviceName: serviceName}
	for _, e := range subgraphErrors {
		a.subgraphErrs = append(a.subgraphErrs, pathKey(e.Path))
	}
	val, _ := a.walkObject(shapeID, data, nil)
	return val, a.errs
}

type assembler struct {
	arena        *schema.Arena
	shapes       []plan.Shape
	serviceName  string
	errs         []*gatewayerr.Error
	subgraphErrs []string
}

func pathKey(path []any) string {
	s := ""
	for _, p := range path {
		s += fmt.Sprintf("%v.", p)
	}
	return s
}

// walkObject walks one object-shaped node. It returns (value, nulled):
// nulled is true when this entire object had to collapse to null.
func (a *assembler) walkObject(shapeID plan.ShapeID, data map[string]any, path []any) (any, bool) {
	if shapeID == plan.InvalidShape {
		return data, false
	}
	shape := &a.shapes[shapeID]
	out := make(map[string]any, len(shape.Fields))

	for i := range shape.Fields {
		f := &shape.Fields[i]
		childPath := append(append([]any{}, path...), f.ResponseKey)
		raw, present := data[f.ResponseKey]

		if !present || raw == nil {
			if !f.Nullable {
				if !a.hasSubgraphError(childPath) {
					a.errs = append(a.errs, gatewayerr.New(gatewayerr.KindSubgraphInvalidResponseError,
						fmt.Sprintf("Cannot return null for non-nullable field %q.", f.ResponseKey)).WithPath(childPath).WithService(a.serviceName))
				}
				return nil, true // non-null position missing: propagate
			}
			out[f.ResponseKey] = nil
			continue
		}

		val, nulled := a.walkValue(f, raw, childPath)
		if nulled && !f.Nullable {
			return nil, true
		}
		out[f.ResponseKey] = val
	}

	return out, false
}

func (a *assembler) walkValue(f *plan.ShapeField, raw any, path []any) (any, bool) {
	if f.List {
		list, ok := raw.([]any)
		if !ok {
			return nil, !f.Nullable
		}
		out := make([]any, 0, len(list))
		for i, item := range list {
			itemPath := append(append([]any{}, path...), i)
			v, nulled := a.walkScalarOrObject(f, item, itemPath)
			if nulled {
				// a non-null list *element* is nulled: per spec.md §4.8
				// this still propagates to the nearest enclosing
				// nullable parent, which here is the whole list.
				return nil, true
			}
			out = append(out, v)
		}
		return out, false
	}
	return a.walkScalarOrObject(f, raw, path)
}

func (a *assembler) walkScalarOrObject(f *plan.ShapeField, raw any, path []any) (any, bool) {
	if f.Leaf != plan.LeafObject {
		return raw, false
	}
	child := f.Child
	if len(f.ByTypename) > 0 {
		if obj, ok := raw.(map[string]any); ok {
			if tn, ok := obj["__typename"].(string); ok {
				if cid, ok := f.ByTypename[tn]; ok {
					child = cid
				}
			}
		}
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, true
	}
	return a.walkObject(child, obj, path)
}

func (a *assembler) hasSubgraphError(path []any) bool {
	key := pathKey(path)
	for _, p := range a.subgraphErrs {
		if p == key {
			return true
		}
	}
	return false
}

// Merge writes source's fields into target at path, by response key,
// never overwriting an existing key (first-writer wins), per spec.md
// §4.8. Adapted from federation/executor/merger.go's Merge, replacing
// list-length-must-match path merging with response-key object merge
// since downstream partitions extend an *object*, not a list index.
func (t *Tree) Merge(path []string, source map[string]any) error {
	if t.Data == nil {
		return nil // the whole response already collapsed to null.
	}

	target := t.Data
	var prefix []string
	for _, seg := range path {
		prefix = append(prefix, seg)
		if t.Nulled[nullKey(prefix)] {
			return nil // position already collapsed to null; drop the write.
		}
		next, ok := target[seg]
		if !ok {
			child := make(map[string]any)
			target[seg] = child
			target = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("merge path %v: %q is not an object", path, seg)
		}
		target = child
	}

	for k, v := range source {
		if _, exists := target[k]; exists {
			if t.DevAssertions {
				panic(fmt.Sprintf("response merge collision: key %q already written", k))
			}
			continue // first-writer wins
		}
		target[k] = v
	}
	return nil
}

// nullKey canonicalizes a response-key path into the Nulled set's key
// space. The empty path keys the whole response root.
func nullKey(path []string) string { return strings.Join(path, ".") }

// PropagateNullAt collapses path to null and marks it (and therefore
// every position at or under it) as dropped for future writes, per
// spec.md §4.8/§8's "null at p or at the nearest nullable ancestor of
// p" invariant: callers pass the nearest nullable ancestor of the
// failing position, not necessarily the position itself. An empty path
// means no ancestor in the chain was nullable, so the whole response
// becomes null.
func (t *Tree) PropagateNullAt(path []string) {
	t.Nulled[nullKey(path)] = true
	if len(path) == 0 {
		t.Data = nil
		return
	}
	target := t.Data
	for _, seg := range path[:len(path)-1] {
		next, ok := target[seg].(map[string]any)
		if !ok {
			return // ancestor object was never built; nothing to null.
		}
		target = next
	}
	target[path[len(path)-1]] = nil
}

// AddError appends a gateway error to the tree's error list unchanged
// (spec.md §4.8).
func (t *Tree) AddError(e *gatewayerr.Error) { t.Errors = append(t.Errors, e) }

// Output is the user-facing response object (spec.md §4.8).
type Output struct {
	Data       map[string]any   `json:"data"`
	Errors     []map[string]any `json:"errors,omitempty"`
	Extensions map[string]any   `json:"extensions,omitempty"`
}

// Render converts the tree and its error list into a final Output
// object.
func (t *Tree) Render() *Output {
	out := &Output{Data: t.Data}
	for _, e := range t.Errors {
		entry := map[string]any{"message": e.Message, "extensions": e.Extensions()}
		if e.Path != nil {
			entry["path"] = e.Path
		}
		out.Errors = append(out.Errors, entry)
	}
	return out
}
