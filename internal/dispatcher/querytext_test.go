package dispatcher_test

import (
	"strings"
	"testing"

	"github.com/n9te9/go-graphql-federation-gateway/internal/dispatcher"
	"github.com/n9te9/go-graphql-federation-gateway/internal/operation"
	"github.com/n9te9/go-graphql-federation-gateway/internal/schema"
)

const queryTextSDL = `
type Query {
	widget: Widget
}
type Widget {
	id: ID!
	name: String
}
`

func widgetField(t *testing.T, arena *schema.Arena, typeName, fieldName, responseKey string) *operation.BoundField {
	t.Helper()
	tid, ok := arena.LookupType(typeName)
	if !ok {
		t.Fatalf("type %q not found", typeName)
	}
	fid, ok := arena.FieldByName(tid, fieldName)
	if !ok {
		t.Fatalf("field %q.%q not found", typeName, fieldName)
	}
	return &operation.BoundField{Field: fid, ResponseKey: responseKey}
}

// TestBuildRootQuery_EmptySelectionFallsBackToSkippedTypename
// reproduces spec.md §8 scenario 3: when every field of a partition is
// excluded by a query modifier, the dispatched subgraph query must stay
// syntactically valid GraphQL instead of emitting an empty `{ }` body.
func TestBuildRootQuery_EmptySelectionFallsBackToSkippedTypename(t *testing.T) {
	got := dispatcher.BuildRootQuery(nil, operation.Query, nil, nil, nil)
	if !strings.Contains(got, "__typename @skip(if: true)") {
		t.Fatalf("query body = %q, want a skipped __typename fallback for an empty selection", got)
	}
	if strings.Contains(got, "{\n}") {
		t.Fatalf("query body = %q, contains a syntactically invalid empty selection set", got)
	}
}

func TestBuildEntityQuery_EmptySelectionFallsBackToSkippedTypename(t *testing.T) {
	got := dispatcher.BuildEntityQuery(nil, "Widget", nil)
	if !strings.Contains(got, "__typename @skip(if: true)") {
		t.Fatalf("query body = %q, want a skipped __typename fallback for an empty selection", got)
	}
}

func TestBuildRootQuery_RendersFieldsAndVariables(t *testing.T) {
	arena, err := schema.Build([]schema.SubgraphSource{{Name: "widgets", URL: "http://widgets.internal", SDL: []byte(queryTextSDL)}})
	if err != nil {
		t.Fatalf("schema.Build: %v", err)
	}
	fields := []*operation.BoundField{widgetField(t, arena, "Query", "widget", "widget")}
	fields[0].Selections = []*operation.BoundField{
		widgetField(t, arena, "Widget", "id", "id"),
		widgetField(t, arena, "Widget", "name", "alias"),
	}
	fields[0].Selections[1].Alias = true

	got := dispatcher.BuildRootQuery(arena, operation.Query, []string{"limit"}, map[string]string{"limit": "Int"}, fields)

	for _, want := range []string{"query($limit: Int)", "widget {", "id\n", "alias: name\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("query body = %q, want to contain %q", got, want)
		}
	}
}

func TestBuildEntityQuery_RendersTypeConditionAndFields(t *testing.T) {
	arena, err := schema.Build([]schema.SubgraphSource{{Name: "widgets", URL: "http://widgets.internal", SDL: []byte(queryTextSDL)}})
	if err != nil {
		t.Fatalf("schema.Build: %v", err)
	}
	fields := []*operation.BoundField{widgetField(t, arena, "Widget", "id", "id")}

	got := dispatcher.BuildEntityQuery(arena, "Widget", fields)
	if !strings.Contains(got, "... on Widget") {
		t.Errorf("query body = %q, want a \"... on Widget\" fragment", got)
	}
	if !strings.Contains(got, "$representations: [_Any!]!") {
		t.Errorf("query body = %q, want the _entities representations variable", got)
	}
}
