package solver_test

import (
	"testing"

	"github.com/n9te9/go-graphql-federation-gateway/internal/operation"
	"github.com/n9te9/go-graphql-federation-gateway/internal/schema"
	"github.com/n9te9/go-graphql-federation-gateway/internal/solver"
)

func buildArena(t *testing.T, sources ...schema.SubgraphSource) *schema.Arena {
	t.Helper()
	arena, err := schema.Build(sources)
	if err != nil {
		t.Fatalf("schema.Build: %v", err)
	}
	return arena
}

func bind(t *testing.T, arena *schema.Arena, query string) *operation.BoundOperation {
	t.Helper()
	op, err := operation.Bind(arena, operation.Request{Query: query})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return op
}

// TestSolve_SingleSubgraphRootFieldsShareOnePartition grounds spec.md
// §4.4's grouping rule: sibling root fields resolved by the same
// subgraph fold into a single QueryPartition rather than one per field.
func TestSolve_SingleSubgraphRootFieldsShareOnePartition(t *testing.T) {
	sdl := `
type Query {
	a: String
	b: String
}
`
	arena := buildArena(t, schema.SubgraphSource{Name: "widgets", URL: "http://widgets.internal", SDL: []byte(sdl)})
	op := bind(t, arena, `{ a b }`)

	sol, err := solver.Solve(arena, op)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(sol.Partitions) != 1 {
		t.Fatalf("got %d partitions, want 1 (both fields share a subgraph)", len(sol.Partitions))
	}
	if len(sol.RootOrder) != 2 {
		t.Fatalf("got %d root entries, want 2", len(sol.RootOrder))
	}
	if sol.RootOrder[0] != sol.RootOrder[1] {
		t.Errorf("root fields landed in different partitions: %v", sol.RootOrder)
	}
	if len(sol.Partitions[0].Root) != 2 {
		t.Errorf("partition root field count = %d, want 2", len(sol.Partitions[0].Root))
	}
}

// TestSolve_CrossSubgraphFieldSplitsIntoDependentPartition grounds
// spec.md §4.4's cross-subgraph hop: a field resolved by a different
// subgraph than its parent selection must land in its own partition
// that depends on the enclosing one.
func TestSolve_CrossSubgraphFieldSplitsIntoDependentPartition(t *testing.T) {
	usersSDL := `
type Query { widget: Widget }
type Widget @key(fields: "id") {
	id: ID!
	name: String
}
`
	reviewsSDL := `
type Widget @key(fields: "id") {
	id: ID! @external
	rating: Int
}
`
	arena := buildArena(t,
		schema.SubgraphSource{Name: "widgets", URL: "http://widgets.internal", SDL: []byte(usersSDL)},
		schema.SubgraphSource{Name: "reviews", URL: "http://reviews.internal", SDL: []byte(reviewsSDL)},
	)
	op := bind(t, arena, `{ widget { id name rating } }`)

	sol, err := solver.Solve(arena, op)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(sol.Partitions) < 2 {
		t.Fatalf("got %d partitions, want at least 2 (widgets root + reviews entity hop)", len(sol.Partitions))
	}

	var entityPartition *solver.QueryPartition
	for _, p := range sol.Partitions {
		if p.EntityKey != schema.InvalidFieldSet {
			entityPartition = p
		}
	}
	if entityPartition == nil {
		t.Fatal("expected one partition to carry the @key entity fetch for \"rating\"")
	}
	if len(sol.DependsOn[entityPartition.ID]) == 0 {
		t.Errorf("entity partition %d has no recorded dependency on its enclosing partition", entityPartition.ID)
	}
}
