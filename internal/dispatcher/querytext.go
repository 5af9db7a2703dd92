package dispatcher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/n9te9/go-graphql-federation-gateway/internal/operation"
	"github.com/n9te9/go-graphql-federation-gateway/internal/schema"
)

// BuildEntityQuery builds an `_entities(representations: $representations)`
// query for an entity-resolver partition, the federation convention the
// teacher's federation/executor/query_builder_v2.go's buildEntityQuery
// already follows, generalized here from ast.Selection writing to
// BoundField writing.
func BuildEntityQuery(arena *schema.Arena, typeName string, fields []*operation.BoundField) string {
	var sb strings.Builder
	sb.WriteString("query($representations: [_Any!]!) {\n")
	sb.WriteString("  _entities(representations: $representations) {\n")
	sb.WriteString("    ... on ")
	sb.WriteString(typeName)
	sb.WriteString(" {\n")
	writeSelections(arena, &sb, fields, "      ")
	sb.WriteString("    }\n  }\n}")
	return sb.String()
}

// BuildRootQuery builds a root query/mutation for a root-resolver
// partition, adapted from query_builder_v2.go's buildRootQuery, using
// already-bound variable names rather than re-inferring types from
// literal values.
func BuildRootQuery(arena *schema.Arena, opType operation.OperationType, varNames []string, varTypes map[string]string, fields []*operation.BoundField) string {
	var sb strings.Builder
	sb.WriteString(opType.String())
	if len(varNames) > 0 {
		sb.WriteString("(")
		for i, name := range varNames {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("$")
			sb.WriteString(name)
			sb.WriteString(": ")
			t := varTypes[name]
			if t == "" {
				t = "String"
			}
			sb.WriteString(t)
		}
		sb.WriteString(")")
	}
	sb.WriteString(" {\n")
	writeSelections(arena, &sb, fields, "  ")
	sb.WriteString("}")
	return sb.String()
}

// writeSelections renders fields as a GraphQL selection set body. An
// empty fields list means every field of this partition was excluded by
// a query modifier (spec.md §8 scenario 3): a selection set can't be
// syntactically empty, so it falls back to a skipped __typename, which
// asks the subgraph for nothing while staying valid GraphQL.
func writeSelections(arena *schema.Arena, sb *strings.Builder, fields []*operation.BoundField, indent string) {
	if len(fields) == 0 {
		sb.WriteString(indent)
		sb.WriteString("__typename @skip(if: true)\n")
		return
	}
	for _, f := range fields {
		sb.WriteString(indent)
		name := "__typename"
		if f.Field != schema.InvalidFieldID {
			name = arena.String(arena.Field(f.Field).Name)
		}
		if f.Alias && f.ResponseKey != name {
			sb.WriteString(f.ResponseKey)
			sb.WriteString(": ")
		}
		sb.WriteString(name)
		if len(f.Arguments) > 0 {
			sb.WriteString("(")
			first := true
			for k, v := range f.Arguments {
				if !first {
					sb.WriteString(", ")
				}
				first = false
				sb.WriteString(k)
				sb.WriteString(": ")
				writeLiteral(sb, v)
			}
			sb.WriteString(")")
		}
		if len(f.Selections) > 0 {
			sb.WriteString(" {\n")
			writeSelections(arena, sb, f.Selections, indent+"  ")
			sb.WriteString(indent)
			sb.WriteString("}")
		}
		sb.WriteString("\n")
	}
}

// writeLiteral renders a coerced Go value back into GraphQL literal
// text, the inverse of operation.coerceLiteral, following
// query_builder_v2.go's writeValue type switch but over native Go
// types instead of ast.Value.
func writeLiteral(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case string:
		sb.WriteString(strconv.Quote(val))
	case bool:
		sb.WriteString(strconv.FormatBool(val))
	case int64:
		sb.WriteString(strconv.FormatInt(val, 10))
	case int:
		sb.WriteString(strconv.Itoa(val))
	case float64:
		sb.WriteString(strconv.FormatFloat(val, 'f', -1, 64))
	case []any:
		sb.WriteString("[")
		for i, item := range val {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeLiteral(sb, item)
		}
		sb.WriteString("]")
	case map[string]any:
		sb.WriteString("{")
		first := true
		for k, item := range val {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			sb.WriteString(k)
			sb.WriteString(": ")
			writeLiteral(sb, item)
		}
		sb.WriteString("}")
	default:
		sb.WriteString(fmt.Sprintf("%v", val))
	}
}
