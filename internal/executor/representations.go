package executor

import (
	"github.com/n9te9/go-graphql-federation-gateway/internal/operation"
	"github.com/n9te9/go-graphql-federation-gateway/internal/schema"
	"github.com/n9te9/go-graphql-federation-gateway/internal/solver"
)

// collectRepresentations walks the response tree down to part's
// MergePath and builds one `_Any` representation per object found
// there (descending into lists along the way), reading the entity's
// @key fields out of whatever the enclosing partition already merged —
// adapted from executor_v2.go's extractRepresentations/navigatePathWithArrays,
// generalized from a []interface{} path walk over ast-derived field
// names to the solver's MergePath.
func (ex *Executor) collectRepresentations(st *execState, part *solver.QueryPartition) []map[string]any {
	objs := ex.objectsAtPath(st.tree.Data, part.MergePath)

	typeName := ex.Arena.String(ex.Arena.Type(part.ParentType).Name)
	keyFields := ex.keyFieldNames(part.EntityKey)

	reps := make([]map[string]any, 0, len(objs))
	for _, obj := range objs {
		rep := map[string]any{"__typename": typeName}
		for _, name := range keyFields {
			if v, ok := obj[name]; ok {
				rep[name] = v
			}
		}
		reps = append(reps, rep)
	}
	return reps
}

// mergeEntities merges the _entities(...) result array back into the
// same positional objects collectRepresentations gathered, mirroring
// executor_v2.go's mergeEntityResults but keyed by response-tree
// position instead of a freshly rebuilt path.
func (ex *Executor) mergeEntities(st *execState, part *solver.QueryPartition, data map[string]any) {
	list, ok := data["_entities"].([]any)
	if !ok {
		return
	}
	objs := ex.objectsAtPath(st.tree.Data, part.MergePath)

	for i, raw := range list {
		if i >= len(objs) {
			break
		}
		entity, ok := raw.(map[string]any)
		if entity == nil || !ok {
			continue
		}
		target := objs[i]
		for k, v := range entity {
			if _, exists := target[k]; !exists {
				target[k] = v
			} else if st.tree.DevAssertions {
				panic("response merge collision: key " + k + " already written")
			}
		}
	}
}

// objectsAtPath descends data along path, returning every object found
// at the terminal position, flattening through any lists encountered —
// generalizing executor_v2.go's navigatePathWithArrays.
func (ex *Executor) objectsAtPath(data map[string]any, path []string) []map[string]any {
	var cur []any = []any{any(data)}
	for _, seg := range path {
		var next []any
		for _, v := range cur {
			switch t := v.(type) {
			case map[string]any:
				if child, ok := t[seg]; ok {
					next = append(next, child)
				}
			case []any:
				for _, item := range t {
					if obj, ok := item.(map[string]any); ok {
						if child, ok := obj[seg]; ok {
							next = append(next, child)
						}
					}
				}
			}
		}
		cur = next
	}

	var out []map[string]any
	var flatten func(any)
	flatten = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			out = append(out, t)
		case []any:
			for _, item := range t {
				flatten(item)
			}
		}
	}
	for _, v := range cur {
		flatten(v)
	}
	return out
}

func (ex *Executor) keyFieldNames(fsid schema.FieldSetID) []string {
	if fsid == schema.InvalidFieldSet {
		return nil
	}
	fs := ex.Arena.FieldSet(fsid)
	if fs == nil {
		return nil
	}
	names := make([]string, 0, len(fs.Items))
	for _, item := range fs.Items {
		fd := ex.Arena.Field(item.Field)
		names = append(names, ex.Arena.String(fd.Name))
	}
	return names
}

// visibleFields filters part's root selections down to the ones this
// executor decided to keep after evaluating @skip/@include and
// authorization query modifiers (spec.md §4.5/§4.6), so the
// reconstructed subgraph query never asks for a field the client
// conditionally excluded.
func (ex *Executor) visibleFields(st *execState, part *solver.QueryPartition) []*operation.BoundField {
	shapeID := st.p.PartitionShape[part.ID]
	if shapeID == -1 || int(shapeID) >= len(st.p.Shapes) {
		return part.Root
	}
	out := make([]*operation.BoundField, 0, len(part.Root))
	for i, f := range part.Root {
		if st.excluded[excludeKey{shape: shapeID, field: i}] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// rootVariablesFor returns the variable declarations (and bound
// values) a root-query's reconstructed text needs. Field arguments are
// already fully coerced into literal Go values at bind time (spec.md
// §4.2.3), so BuildRootQuery inlines them as literals via writeLiteral
// rather than referencing `$name` placeholders — root queries
// therefore declare no variables of their own.
func (ex *Executor) rootVariablesFor(st *execState, part *solver.QueryPartition) ([]string, map[string]string, map[string]any) {
	return nil, nil, nil
}
