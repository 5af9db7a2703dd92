package response_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/n9te9/go-graphql-federation-gateway/internal/plan"
	"github.com/n9te9/go-graphql-federation-gateway/internal/response"
)

// TestAssemble_FieldErrorPathInvariant reproduces spec.md §8 scenario 5
// directly: a non-nullable leaf field ("fail: String!") is missing from
// the subgraph's data, so the whole response must collapse to
// {"data": null} with a recorded field error, not a partial object.
func TestAssemble_FieldErrorPathInvariant(t *testing.T) {
	shapes := []plan.Shape{
		{Fields: []plan.ShapeField{
			{ResponseKey: "fail", Nullable: false, Leaf: plan.LeafScalar},
		}},
	}

	data := map[string]any{"fail": nil}
	val, errs := response.Assemble(nil, shapes, plan.ShapeID(0), data, nil, "widgets")

	if val != nil {
		t.Errorf("value = %v, want nil (non-null field missing must null the whole object)", val)
	}
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	if errs[0].ServiceName != "widgets" {
		t.Errorf("error service = %q, want %q", errs[0].ServiceName, "widgets")
	}
}

func TestAssemble_NullableFieldMissingStaysInObject(t *testing.T) {
	shapes := []plan.Shape{
		{Fields: []plan.ShapeField{
			{ResponseKey: "name", Nullable: true, Leaf: plan.LeafScalar},
			{ResponseKey: "id", Nullable: false, Leaf: plan.LeafScalar},
		}},
	}
	data := map[string]any{"id": "1"}

	val, errs := response.Assemble(nil, shapes, plan.ShapeID(0), data, nil, "widgets")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want := map[string]any{"name": nil, "id": "1"}
	if diff := cmp.Diff(want, val); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestAssemble_NestedObjectNullPropagatesToNearestNullableAncestor(t *testing.T) {
	childShape := plan.Shape{Fields: []plan.ShapeField{
		{ResponseKey: "id", Nullable: false, Leaf: plan.LeafScalar},
	}}
	rootShape := plan.Shape{Fields: []plan.ShapeField{
		{ResponseKey: "owner", Nullable: true, Leaf: plan.LeafObject, Child: plan.ShapeID(1)},
	}}
	shapes := []plan.Shape{rootShape, childShape}

	data := map[string]any{"owner": map[string]any{}}
	val, errs := response.Assemble(nil, shapes, plan.ShapeID(0), data, nil, "widgets")

	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	want := map[string]any{"owner": nil}
	if diff := cmp.Diff(want, val); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestTree_MergeFirstWriterWins(t *testing.T) {
	tree := response.NewTree(false)
	tree.Data["widget"] = map[string]any{"id": "1"}

	if err := tree.Merge([]string{"widget"}, map[string]any{"id": "2", "name": "New"}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	want := map[string]any{"id": "1", "name": "New"}
	if diff := cmp.Diff(want, tree.Data["widget"]); diff != "" {
		t.Errorf("merge result mismatch (-want +got):\n%s", diff)
	}
}

func TestTree_MergeDropsWriteUnderNulledPath(t *testing.T) {
	tree := response.NewTree(false)
	tree.Data["widget"] = map[string]any{}
	tree.PropagateNullAt([]string{"widget"})

	if err := tree.Merge([]string{"widget"}, map[string]any{"id": "1"}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if tree.Data["widget"] != nil {
		t.Errorf("widget = %v, want nil to stay collapsed", tree.Data["widget"])
	}
}

func TestTree_PropagateNullAtEmptyPathNullsWholeResponse(t *testing.T) {
	tree := response.NewTree(false)
	tree.Data["widget"] = map[string]any{"id": "1"}

	tree.PropagateNullAt(nil)

	if tree.Data != nil {
		t.Errorf("Data = %v, want nil after propagating to the root", tree.Data)
	}
	out := tree.Render()
	if out.Data != nil {
		t.Errorf("rendered Data = %v, want nil", out.Data)
	}
}

func TestTree_PropagateNullAtNestedAncestor(t *testing.T) {
	tree := response.NewTree(false)
	tree.Data["widget"] = map[string]any{"owner": map[string]any{"id": "1"}}

	tree.PropagateNullAt([]string{"widget", "owner"})

	want := map[string]any{"widget": map[string]any{"owner": nil}}
	if diff := cmp.Diff(want, tree.Data); diff != "" {
		t.Errorf("Data mismatch (-want +got):\n%s", diff)
	}
}
