// Package plan refines a solver.Solution with runtime-evaluated gates
// ("modifiers") and per-partition shape trees describing exactly how
// to deserialize a subgraph response (spec.md §4.5).
//
// The teacher has no modifier or shape-tree concept; this package is
// new code written in the struct-and-method idiom of
// federation/planner/planner_v2.go's PlanV2/StepV2 (a flat slice of
// steps/partitions plus side tables), generalized to carry modifiers
// and shapes instead of only ast.Selection lists.
package plan

import (
	"github.com/n9te9/go-graphql-federation-gateway/internal/operation"
	"github.com/n9te9/go-graphql-federation-gateway/internal/schema"
	"github.com/n9te9/go-graphql-federation-gateway/internal/solver"
)

// ModifierKind tags a query modifier's predicate.
type ModifierKind uint8

const (
	ModifierSkipInclude ModifierKind = iota
	ModifierAuthenticated
	ModifierRequiresScopes
	ModifierExtensionAuthorization
)

// QueryModifier gates inclusion of a field-shape position before its
// partition is dispatched (spec.md §4.5).
type QueryModifier struct {
	Kind      ModifierKind
	Partition solver.PartitionID
	Shape     ShapeID
	// FieldIndex addresses the specific field within Shape this
	// modifier gates (index into Shape.Fields).
	FieldIndex int
	Condition  *operation.Condition
	Scopes     []string
	PolicyName string
}

// ResponseModifierKind tags a response modifier's effect.
type ResponseModifierKind uint8

const (
	ResponseAuthorization ResponseModifierKind = iota
	ResponseFieldRewrite
)

// ResponseModifier is evaluated once, after every partition's data has
// merged into the response tree (spec.md §4.5). The executor applies
// response modifiers in RespModifiers order and only to top-level
// response keys; they are not run per partition before merging, and no
// order is derived from the DAG.
type ResponseModifier struct {
	Kind       ResponseModifierKind
	Partition  solver.PartitionID
	Shape      ShapeID
	FieldIndex int
	PolicyName string
}

// ShapeID addresses a Shape in a Plan's shape table.
type ShapeID int

const InvalidShape ShapeID = -1

// LeafKind is the terminal decode strategy for a shape field with no
// child shape.
type LeafKind uint8

const (
	LeafScalar LeafKind = iota
	LeafEnum
	LeafJSON
	LeafObject // has a Child shape
)

// ShapeField records, for one selected field, the response key,
// nullability, leaf kind, child-shape id, and — for polymorphic
// objects — the mapping from __typename to concrete shape id (spec.md
// §4.5).
type ShapeField struct {
	ResponseKey string
	FieldID     schema.FieldID
	Nullable    bool
	List        bool
	Leaf        LeafKind
	Child       ShapeID
	// ByTypename maps a concrete __typename to the shape to use when
	// Child's type is an interface or union (spec.md §4.5).
	ByTypename map[string]ShapeID
}

// Shape is the structural template the response assembler walks in
// lockstep with a subgraph's JSON token stream (spec.md §4.8).
type Shape struct {
	ID       ShapeID
	TypeName schema.TypeID
	Fields   []ShapeField
}

// Plan is the Plan Builder's output: the solved partitions/DAG,
// modifiers, and the field-to-shape map (spec.md §3, §4.5).
type Plan struct {
	Solution       *solver.Solution
	QueryModifiers []QueryModifier
	RespModifiers  []ResponseModifier
	Shapes         []Shape
	// PartitionShape maps a partition to the root shape its response
	// should be decoded against.
	PartitionShape map[solver.PartitionID]ShapeID
	// RootOrder is carried from the solution for mutation serialization
	// (spec.md §3 invariant 4).
	RootOrder []solver.PartitionID
}

// Build refines a solver.Solution into a Plan: it attaches skip/include
// and authorization query modifiers, builds the per-partition shape
// tree, and derives response modifiers from @authorized fields (spec.md
// §4.5).
func Build(arena *schema.Arena, op *operation.BoundOperation, sol *solver.Solution) (*Plan, error) {
	b := &builder{arena: arena, plan: &Plan{
		Solution:       sol,
		PartitionShape: make(map[solver.PartitionID]ShapeID),
	}}

	for _, p := range sol.Partitions {
		shapeID := b.buildShape(p.ParentType, p.Root, p.ID)
		b.plan.PartitionShape[p.ID] = shapeID
	}

	b.plan.RootOrder = sol.RootOrder
	return b.plan, nil
}

type builder struct {
	arena *schema.Arena
	plan  *Plan
}

func (b *builder) newShape(t schema.TypeID) ShapeID {
	id := ShapeID(len(b.plan.Shapes))
	b.plan.Shapes = append(b.plan.Shapes, Shape{ID: id, TypeName: t})
	return id
}

// buildShape constructs the shape tree for one partition's root
// selection, attaching query modifiers for @skip/@include,
// @authenticated, @requiresScopes and extension authorization along
// the way (spec.md §4.5).
func (b *builder) buildShape(parentType schema.TypeID, fields []*operation.BoundField, partition solver.PartitionID) ShapeID {
	shapeID := b.newShape(parentType)
	shape := &b.plan.Shapes[shapeID]

	for _, f := range fields {
		sf := ShapeField{ResponseKey: f.ResponseKey, FieldID: f.Field, Child: InvalidShape}

		if f.Field != schema.InvalidFieldID {
			fd := b.arena.Field(f.Field)
			sf.Nullable = !fd.Type.NonNull
			sf.List = fd.Type.List
			if b.arena.IsComposite(fd.Type) {
				sf.Leaf = LeafObject
				sf.Child = b.buildPolymorphicShape(fd.Type.Named, f.Selections, partition, &sf)
			} else {
				td := b.arena.Type(fd.Type.Named)
				if td != nil && td.Kind == schema.KindEnum {
					sf.Leaf = LeafEnum
				} else {
					sf.Leaf = LeafScalar
				}
			}

			if fd.Authorized != nil {
				b.plan.RespModifiers = append(b.plan.RespModifiers, ResponseModifier{
					Kind: ResponseAuthorization, Partition: partition, Shape: shapeID,
					FieldIndex: len(shape.Fields), PolicyName: fd.Authorized.PolicyName,
				})
				if len(fd.Authorized.Scopes) > 0 {
					b.plan.QueryModifiers = append(b.plan.QueryModifiers, QueryModifier{
						Kind: ModifierRequiresScopes, Partition: partition, Shape: shapeID,
						FieldIndex: len(shape.Fields), Scopes: fd.Authorized.Scopes,
					})
				} else {
					b.plan.QueryModifiers = append(b.plan.QueryModifiers, QueryModifier{
						Kind: ModifierAuthenticated, Partition: partition, Shape: shapeID,
						FieldIndex: len(shape.Fields),
					})
				}
			}
		} else {
			sf.Leaf = LeafScalar // __typename and friends
		}

		for _, c := range f.Conditions {
			cond := c
			b.plan.QueryModifiers = append(b.plan.QueryModifiers, QueryModifier{
				Kind: ModifierSkipInclude, Partition: partition, Shape: shapeID,
				FieldIndex: len(shape.Fields), Condition: &cond,
			})
		}

		shape.Fields = append(shape.Fields, sf)
	}

	return shapeID
}

// buildPolymorphicShape handles spec.md §4.4's interface/union edge
// case: when the selection set carries type conditions that narrow to
// specific concrete types, each concrete type gets its own child
// shape, looked up by __typename at execution time.
func (b *builder) buildPolymorphicShape(t schema.TypeID, fields []*operation.BoundField, partition solver.PartitionID, sf *ShapeField) ShapeID {
	td := b.arena.Type(t)
	if td == nil || (td.Kind != schema.KindInterface && td.Kind != schema.KindUnion) {
		return b.buildShape(t, fields, partition)
	}

	byType := make(map[schema.TypeID][]*operation.BoundField)
	var unconditional []*operation.BoundField
	for _, f := range fields {
		if len(f.TypeConditions) == 0 {
			unconditional = append(unconditional, f)
			continue
		}
		for _, tc := range f.TypeConditions {
			byType[tc] = append(byType[tc], f)
		}
	}

	if len(byType) == 0 {
		return b.buildShape(t, unconditional, partition)
	}

	sf.ByTypename = make(map[string]ShapeID, len(byType))
	for concrete, specific := range byType {
		merged := append(append([]*operation.BoundField{}, unconditional...), specific...)
		id := b.buildShape(concrete, merged, partition)
		concreteTD := b.arena.Type(concrete)
		sf.ByTypename[b.arena.String(concreteTD.Name)] = id
	}
	return b.buildShape(t, unconditional, partition)
}
