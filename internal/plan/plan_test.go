package plan_test

import (
	"testing"

	"github.com/n9te9/go-graphql-federation-gateway/internal/operation"
	"github.com/n9te9/go-graphql-federation-gateway/internal/plan"
	"github.com/n9te9/go-graphql-federation-gateway/internal/schema"
	"github.com/n9te9/go-graphql-federation-gateway/internal/solver"
)

const planSDL = `
type Query {
	widget: Widget
}
type Widget {
	id: ID!
	name: String
	owner: Widget
}
`

func buildPlanFor(t *testing.T, query string) *plan.Plan {
	t.Helper()
	arena, err := schema.Build([]schema.SubgraphSource{
		{Name: "widgets", URL: "http://widgets.internal", SDL: []byte(planSDL)},
	})
	if err != nil {
		t.Fatalf("schema.Build: %v", err)
	}
	op, err := operation.Bind(arena, operation.Request{Query: query})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	sol, err := solver.Solve(arena, op)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	p, err := plan.Build(arena, op, sol)
	if err != nil {
		t.Fatalf("plan.Build: %v", err)
	}
	return p
}

func TestBuild_ScalarFieldShape(t *testing.T) {
	p := buildPlanFor(t, `{ widget { id name } }`)

	rootShape := p.Shapes[p.PartitionShape[p.Solution.Partitions[0].ID]]
	if len(rootShape.Fields) != 1 {
		t.Fatalf("got %d root shape fields, want 1 (widget)", len(rootShape.Fields))
	}
	widgetField := rootShape.Fields[0]
	if widgetField.Leaf != plan.LeafObject {
		t.Fatalf("widget field leaf kind = %v, want LeafObject", widgetField.Leaf)
	}
	if widgetField.Child == plan.InvalidShape {
		t.Fatal("widget field has no child shape")
	}

	childShape := p.Shapes[widgetField.Child]
	if len(childShape.Fields) != 2 {
		t.Fatalf("got %d child shape fields, want 2 (id, name)", len(childShape.Fields))
	}
	for _, f := range childShape.Fields {
		if f.ResponseKey == "id" && f.Nullable {
			t.Error("id is declared ID! (non-null) but shape marked it nullable")
		}
		if f.ResponseKey == "name" && !f.Nullable {
			t.Error("name is declared nullable but shape marked it non-null")
		}
	}
}

func TestBuild_SkipDirectiveProducesQueryModifier(t *testing.T) {
	p := buildPlanFor(t, `query($cond: Boolean!) { widget { id name @skip(if: $cond) } }`)

	var found bool
	for _, m := range p.QueryModifiers {
		if m.Kind == plan.ModifierSkipInclude {
			found = true
			if m.Condition == nil {
				t.Error("skip/include modifier has a nil Condition")
			}
		}
	}
	if !found {
		t.Fatal("expected a ModifierSkipInclude query modifier for @skip")
	}
}

func TestBuild_RootOrderCarriedFromSolution(t *testing.T) {
	p := buildPlanFor(t, `{ widget { id } }`)
	if len(p.RootOrder) != len(p.Solution.RootOrder) {
		t.Fatalf("RootOrder length = %d, want %d", len(p.RootOrder), len(p.Solution.RootOrder))
	}
	for i := range p.RootOrder {
		if p.RootOrder[i] != p.Solution.RootOrder[i] {
			t.Errorf("RootOrder[%d] = %v, want %v", i, p.RootOrder[i], p.Solution.RootOrder[i])
		}
	}
}
