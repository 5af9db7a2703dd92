// Package solver partitions a BoundOperation into QueryPartitions, one
// per subgraph resolver, with explicit cross-partition dependency
// edges (spec.md §4.4). It is the hardest subsystem in the pipeline.
//
// Grounded on federation/graph/weighted_graph.go's Dijkstra/GraphNode
// (the cost model: same-subgraph hops cost 0, cross-subgraph hops
// cost 1, @provides shortcuts cost 0) and
// federation/planner/planner_v2_optimized.go's PlanOptimized (the
// single-subgraph fast path and root-field-by-subgraph grouping),
// generalized from an ast.Selection-carrying StepV2 into an explicit
// PartitionID + dependency-DAG solution graph.
package solver

import (
	"fmt"
	"sort"

	"github.com/n9te9/go-graphql-federation-gateway/internal/gatewayerr"
	"github.com/n9te9/go-graphql-federation-gateway/internal/operation"
	"github.com/n9te9/go-graphql-federation-gateway/internal/schema"
)

// PartitionID addresses a QueryPartition within a Solution.
type PartitionID int

// Requirement is a cross-partition dependency edge: a FieldSet that
// must be fetched by `From` before a partition can run (spec.md §3,
// §4.4: edge kind RequiredBySubgraph/RequiredBySupergraph).
type Requirement struct {
	From     PartitionID
	FieldSet schema.FieldSetID
	// ForAuthorization marks a RequiredBySupergraph edge: data needed
	// only for an @authorized decision, not for the subgraph request
	// itself.
	ForAuthorization bool
}

// QueryPartition is (subgraph, resolver, root selection within the
// supergraph operation, required fields, produced fields) per spec.md
// §3.
type QueryPartition struct {
	ID       PartitionID
	Subgraph schema.SubgraphID
	Resolver schema.ResolverID
	// Local is true for @derive partitions resolved by the gateway
	// itself rather than dispatched to a subgraph.
	Local bool
	// ParentType is the composite type this partition's root selection
	// selects fields from.
	ParentType schema.TypeID
	// Root is the set of bound fields this partition resolves.
	Root []*operation.BoundField
	// TypeConditionMask restricts this partition's applicability to a
	// concrete type at execution time (interface/union fan-out, spec.md
	// §4.4 edge cases).
	TypeConditionMask []schema.TypeID
	// EntityKey is the @key FieldSet this partition's resolver needs
	// (set for ResolverGraphqlEntity partitions); it is also recorded
	// as the FieldSet of the Requirement pointing at this partition's
	// parent.
	EntityKey schema.FieldSetID
	Requires  []Requirement
	// Produces is every field this partition makes available to
	// downstream partitions (its own root fields, folded with any
	// @provides advertised by its resolver).
	Produces map[schema.FieldID]bool
	// Parent is the partition this one nests under (InvalidPartition
	// for a root-level partition); used only for mutation ordering and
	// diagnostics.
	Parent PartitionID
	// MergePath is the response-key path, from the overall response
	// root, at which this partition's resolved data should be merged
	// into the response tree (internal/response.Tree.Merge). Empty for
	// a root-level partition.
	MergePath []string
	// MergePathNullable reports, index-for-index with MergePath, whether
	// the field at that path segment is itself nullable. When a
	// partition fails outright, this lets the executor collapse the
	// nearest nullable ancestor of MergePath to null instead of always
	// the root (spec.md §4.8/§8's "null at p or at the nearest nullable
	// ancestor of p" invariant).
	MergePathNullable []bool
}

const InvalidPartition PartitionID = -1

// Solution is the solver's output: the partition list and the
// dependency DAG between them (spec.md §4.4 "Output").
type Solution struct {
	Partitions []*QueryPartition
	// DependsOn[p] lists the partitions p requires to have completed
	// first.
	DependsOn map[PartitionID][]PartitionID
	// RootOrder is the partitions in root-selection declaration order,
	// used to enforce mutation serialization (spec.md §3 invariant 4).
	RootOrder []PartitionID
}

type CycleError struct {
	Cycle []PartitionID
}

func (e *CycleError) Error() string { return fmt.Sprintf("RequirementCycleDetected: %v", e.Cycle) }

// Solve partitions a bound operation per spec.md §4.4's algorithm.
func Solve(arena *schema.Arena, op *operation.BoundOperation) (*Solution, error) {
	s := &solving{
		arena:    arena,
		sol:      &Solution{DependsOn: make(map[PartitionID][]PartitionID)},
		produces: make(map[PartitionID]map[schema.FieldID]bool),
	}

	for _, root := range op.Selections {
		if op.Type == operation.Mutation {
			// Each mutation root field gets a partition of its own, so the
			// executor can run them one at a time in declaration order.
			s.byKey = nil
		}
		pid, err := s.assign(root, op.RootType, InvalidPartition, schema.SubgraphID(-1), nil, nil)
		if err != nil {
			return nil, err
		}
		s.sol.RootOrder = append(s.sol.RootOrder, pid)
	}

	if err := s.detectCycles(); err != nil {
		return nil, err
	}

	return s.sol, nil
}

type solving struct {
	arena    *schema.Arena
	sol      *Solution
	produces map[PartitionID]map[schema.FieldID]bool
	byKey    map[partitionKey]PartitionID
}

// partitionKey groups sibling fields that land on the same subgraph,
// under the same parent partition, into a single QueryPartition —
// mirroring planner_v2_optimized.go's rootFieldsBySubGraph grouping
// generalized to any nesting depth.
type partitionKey struct {
	parent   PartitionID
	subgraph schema.SubgraphID
	parentTy schema.TypeID
}

// assign walks one bound field, placing it (and recursively its
// subtree) into a partition, creating a new one when the chosen
// resolver's subgraph differs from the enclosing partition's. It
// returns the id of the partition the field ultimately joined.
func (s *solving) assign(field *operation.BoundField, parentType schema.TypeID, enclosing PartitionID, enclosingSubgraph schema.SubgraphID, path []string, nullablePath []bool) (PartitionID, error) {
	if s.byKey == nil {
		s.byKey = make(map[partitionKey]PartitionID)
	}

	if field.Field == schema.InvalidFieldID {
		// introspection field (__typename etc.): joins the enclosing
		// partition verbatim, no subgraph dispatch needed.
		if enclosing == InvalidPartition {
			enclosing = s.newPartition(schema.SubgraphID(-1), schema.InvalidResolver, parentType, InvalidPartition, nil, nil)
		}
		p := s.partition(enclosing)
		p.Root = append(p.Root, field)
		return enclosing, nil
	}

	fd := s.arena.Field(field.Field)
	candidates := s.arena.ResolversFor(field.Field)
	if len(candidates) == 0 {
		return InvalidPartition, gatewayerr.New(gatewayerr.KindOperationPlanningError,
			fmt.Sprintf("no subgraph found for field %q", s.arena.String(fd.Name)))
	}

	sibling := s.siblingSet(enclosing)
	best := schema.CheapestResolver(s.arena, candidates, enclosingSubgraph, sibling)

	var pid PartitionID
	sameSubgraph := enclosing != InvalidPartition && best.Subgraph == enclosingSubgraph
	if sameSubgraph {
		key := partitionKey{parent: enclosing, subgraph: best.Subgraph, parentTy: parentType}
		var ok bool
		pid, ok = s.byKey[key]
		if !ok {
			pid = enclosing
			s.byKey[key] = pid
		}
	} else {
		key := partitionKey{parent: enclosing, subgraph: best.Subgraph, parentTy: parentType}
		var ok bool
		pid, ok = s.byKey[key]
		if !ok {
			var mergePath []string
			var mergePathNullable []bool
			if enclosing != InvalidPartition {
				// Entering a new subgraph from inside an existing
				// partition: this partition's fields extend the object
				// already being built at `path`, the object `field` is
				// selected on.
				mergePath = append([]string{}, path...)
				mergePathNullable = append([]bool{}, nullablePath...)
			}
			// enclosing == InvalidPartition: this is a fresh root-level
			// partition; its shape already matches the response root, so
			// it merges with an empty path (spec.md §4.4 "Output").
			pid = s.newPartition(best.Subgraph, best.ID, parentType, enclosing, mergePath, mergePathNullable)
			s.byKey[key] = pid
			p := s.partition(pid)
			p.TypeConditionMask = field.TypeConditions
			if best.Kind == schema.ResolverGraphqlEntity {
				p.EntityKey = best.Key
				if enclosing != InvalidPartition {
					s.requireFieldSetFrom(pid, enclosing, best.Key, false)
					s.markProducedFieldSet(enclosing, best.Key)
				}
			}
			if best.Kind == schema.ResolverDerived {
				p.Local = true
			}
		}
	}

	// @requires: the field's resolver may additionally need a FieldSet
	// from its own parent partition's ancestor (spec.md §4.4 step 2).
	if fs, ok := fd.Requires[best.Subgraph]; ok && fs != schema.InvalidFieldSet {
		src := enclosing
		if src == InvalidPartition {
			src = pid
		}
		if src != pid {
			s.requireFieldSetFrom(pid, src, fs, false)
		}
		s.markProducedFieldSet(src, fs)
	}
	if fd.Derived != nil {
		src := enclosing
		if src != InvalidPartition && src != pid {
			s.requireFieldSetFrom(pid, src, fd.Derived.SourceFields, false)
		}
	}
	if fd.Authorized != nil && enclosing != InvalidPartition {
		// RequiredBySupergraph: the authorization decision may need
		// sibling data already resolvable by the enclosing partition.
		s.sol.DependsOn[pid] = appendUniquePartition(s.sol.DependsOn[pid], enclosing)
	}

	p := s.partition(pid)
	p.Root = append(p.Root, field)
	s.markProduced(pid, field.Field)
	if fs, ok := fd.Provides[best.Subgraph]; ok && fs != schema.InvalidFieldSet {
		s.markProducedFieldSet(pid, fs)
	}

	// Children sit under this field's response key whichever partition
	// they join, so every MergePath stays absolute from the response root.
	childPath := append(append([]string{}, path...), field.ResponseKey)
	childNullablePath := append(append([]bool{}, nullablePath...), !fd.Type.NonNull)
	for _, child := range field.Selections {
		if _, err := s.assign(child, fd.Type.Named, pid, best.Subgraph, childPath, childNullablePath); err != nil {
			return InvalidPartition, err
		}
	}

	return pid, nil
}

func (s *solving) newPartition(sg schema.SubgraphID, resolver schema.ResolverID, parentType schema.TypeID, parent PartitionID, mergePath []string, mergePathNullable []bool) PartitionID {
	pid := PartitionID(len(s.sol.Partitions))
	p := &QueryPartition{
		ID: pid, Subgraph: sg, Resolver: resolver, ParentType: parentType,
		Parent: parent, Produces: make(map[schema.FieldID]bool),
		MergePath: mergePath, MergePathNullable: mergePathNullable,
	}
	s.sol.Partitions = append(s.sol.Partitions, p)
	s.produces[pid] = p.Produces
	if parent != InvalidPartition {
		s.sol.DependsOn[pid] = appendUniquePartition(s.sol.DependsOn[pid], parent)
	}
	return pid
}

func (s *solving) partition(id PartitionID) *QueryPartition { return s.sol.Partitions[id] }

func (s *solving) markProduced(pid PartitionID, f schema.FieldID) {
	s.produces[pid][f] = true
}

// markProducedFieldSet ensures every field named by a FieldSet is
// flagged as produced by pid, so a sibling ancestor partition is known
// to already be fetching the data a dependent partition will need
// (spec.md §4.4 step 4: folding @provides into the available set).
func (s *solving) markProducedFieldSet(pid PartitionID, fsid schema.FieldSetID) {
	fs := s.arena.FieldSet(fsid)
	if fs == nil {
		return
	}
	for _, item := range fs.Items {
		s.markProduced(pid, item.Field)
		if item.SubSet != schema.InvalidFieldSet {
			s.markProducedFieldSet(pid, item.SubSet)
		}
	}
}

func (s *solving) requireFieldSetFrom(pid, from PartitionID, fs schema.FieldSetID, forAuth bool) {
	p := s.partition(pid)
	p.Requires = append(p.Requires, Requirement{From: from, FieldSet: fs, ForAuthorization: forAuth})
	s.sol.DependsOn[pid] = appendUniquePartition(s.sol.DependsOn[pid], from)
}

func (s *solving) siblingSet(enclosing PartitionID) map[schema.FieldID]bool {
	if enclosing == InvalidPartition {
		return nil
	}
	return s.produces[enclosing]
}

func appendUniquePartition(list []PartitionID, v PartitionID) []PartitionID {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// detectCycles enforces spec.md §3 invariant 3 / §4.4 step 5: the
// dependency graph between partitions must be acyclic after solving.
func (s *solving) detectCycles() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[PartitionID]int, len(s.sol.Partitions))
	var stack []PartitionID

	var visit func(PartitionID) error
	visit = func(p PartitionID) error {
		color[p] = gray
		stack = append(stack, p)
		for _, dep := range s.sol.DependsOn[p] {
			switch color[dep] {
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			case gray:
				return &CycleError{Cycle: append(append([]PartitionID{}, stack...), dep)}
			}
		}
		stack = stack[:len(stack)-1]
		color[p] = black
		return nil
	}

	ids := make([]PartitionID, 0, len(s.sol.Partitions))
	for _, p := range s.sol.Partitions {
		ids = append(ids, p.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if color[id] == white {
			if err := visit(id); err != nil {
				return gatewayerr.Wrap(gatewayerr.KindOperationPlanningError, "requirement cycle detected", err)
			}
		}
	}
	return nil
}
