// Package executor drives a built Plan to completion against live
// subgraphs (spec.md §4.6). It schedules QueryPartitions as soon as
// their DAG predecessors are satisfied, serializes mutation root
// partitions in declaration order, and adapts subscription frames into
// repeated sub-executions.
//
// Grounded on federation/executor/executor_v2.go's Execute/executeSteps
// wave scheduler (errgroup fan-out per ready set, re-derive the ready
// set, repeat until the DAG drains) and its findReadySteps in-degree
// check, generalized from a flat StepV2 slice to solver.QueryPartition
// plus plan.QueryModifier gating. Uses golang.org/x/sync/errgroup (the
// same module executor_v2.go already imports) for each wave's fan-out,
// and go.opentelemetry.io/otel/trace to open one span per partition
// dispatch, matching the granularity the teacher's OpenTelemetry
// gateway option implies for subgraph calls.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/n9te9/go-graphql-federation-gateway/internal/dispatcher"
	"github.com/n9te9/go-graphql-federation-gateway/internal/extension"
	"github.com/n9te9/go-graphql-federation-gateway/internal/gatewayerr"
	"github.com/n9te9/go-graphql-federation-gateway/internal/operation"
	"github.com/n9te9/go-graphql-federation-gateway/internal/plan"
	"github.com/n9te9/go-graphql-federation-gateway/internal/response"
	"github.com/n9te9/go-graphql-federation-gateway/internal/schema"
	"github.com/n9te9/go-graphql-federation-gateway/internal/solver"
)

// Executor ties the schema arena, dispatcher, and extension pool
// together to run a Plan.
type Executor struct {
	Arena      *schema.Arena
	Dispatch   *dispatcher.Dispatcher
	Extensions *extension.Pool
	Tracer     trace.Tracer
	Log        *slog.Logger
	// DevAssertions propagates into the response.Tree: a merge
	// collision panics instead of silently dropping the later write
	// (spec.md §4.8).
	DevAssertions bool
}

// New creates an Executor. log and tracer may be nil, in which case
// slog.Default() and a tracer from a no-op TracerProvider are used.
func New(arena *schema.Arena, d *dispatcher.Dispatcher, ext *extension.Pool, tracer trace.Tracer, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("federation-gateway")
	}
	return &Executor{Arena: arena, Dispatch: d, Extensions: ext, Tracer: tracer, Log: log}
}

// Request bundles everything one Execute call needs beyond the Plan
// itself.
type Request struct {
	Operation *operation.BoundOperation
	Variables *operation.Variables
	Auth      *extension.AuthResult
	Headers   map[string]string
}

// execState is the per-request mutable execution state, mirroring
// executor_v2.go's ExecutionContext (results map + mutex) generalized
// to partitions and a shared response.Tree.
type execState struct {
	ctx       context.Context
	p         *plan.Plan
	op        *operation.BoundOperation
	req       *Request
	tree      *response.Tree
	excluded  map[excludeKey]bool // (shape, field index) -> gated out
	mu        sync.Mutex
	done      map[solver.PartitionID]bool
	haltedAll bool // a root-level non-null field nulled past the root boundary
}

type excludeKey struct {
	shape plan.ShapeID
	field int
}

// Execute runs p to completion and renders the final response,
// applying mutation ordering when op.Type is Mutation and maximal
// concurrency otherwise (spec.md §4.6).
func (ex *Executor) Execute(ctx context.Context, p *plan.Plan, req *Request) (*response.Output, int, error) {
	st := &execState{
		ctx:  ctx,
		p:    p,
		op:   req.Operation,
		req:  req,
		tree: response.NewTree(ex.DevAssertions),
		done: make(map[solver.PartitionID]bool),
	}
	st.excluded = ex.evalQueryModifiers(st)

	if h, err := ex.invokeOnRequest(ctx); err != nil {
		return nil, h, err
	}

	if req.Operation.Type == operation.Mutation {
		ex.runMutation(st)
	} else {
		ex.runWaves(st, ex.allPartitionIDs(p.Solution))
	}

	ex.applyResponseModifiers(st)

	out := st.tree.Render()
	if body, err := json.Marshal(out); err == nil {
		ex.invokeOnResponse(ctx, body)
	}
	status := gatewayerr.HighestPriorityStatus(st.tree.Errors)
	return out, status, nil
}

func (ex *Executor) allPartitionIDs(sol *solver.Solution) []solver.PartitionID {
	ids := make([]solver.PartitionID, len(sol.Partitions))
	for i, p := range sol.Partitions {
		ids[i] = p.ID
	}
	return ids
}

// runMutation groups every partition under its root-level ancestor and
// runs one group at a time, in RootOrder, per spec.md §4.6: "root-level
// partitions execute in declaration order." Within a group, partitions
// still run wave-scheduled for any internal entity fan-out.
func (ex *Executor) runMutation(st *execState) {
	groups := make(map[solver.PartitionID][]solver.PartitionID)
	for _, part := range st.p.Solution.Partitions {
		root := rootAncestor(st.p.Solution, part.ID)
		groups[root] = append(groups[root], part.ID)
	}

	for _, rootID := range st.p.RootOrder {
		ex.runWaves(st, groups[rootID])

		if st.haltsPastRootBoundary(rootID) {
			st.haltedAll = true
			break
		}
	}
}

// haltsPastRootBoundary reports whether the root partition's own
// top-level field nulled despite being non-null, which per spec.md
// §4.6 is the only mutation failure that halts subsequent root
// partitions.
func (st *execState) haltsPastRootBoundary(rootID solver.PartitionID) bool {
	shapeID, ok := st.p.PartitionShape[rootID]
	if !ok || shapeID == plan.InvalidShape {
		return false
	}
	shape := &st.p.Shapes[shapeID]
	for _, f := range shape.Fields {
		if !f.Nullable {
			if v, ok := st.tree.Data[f.ResponseKey]; !ok || v == nil {
				return true
			}
		}
	}
	return false
}

// runWaves repeatedly fans out every partition whose DAG predecessors
// have completed, via errgroup, until the given set drains — directly
// generalizing executor_v2.go's executeSteps/findReadySteps loop from
// step-index in-degree tracking to solver.PartitionID dependency sets.
func (ex *Executor) runWaves(st *execState, ids []solver.PartitionID) {
	pending := make(map[solver.PartitionID]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}

	for len(pending) > 0 {
		ready := ex.findReady(st, pending)
		if len(ready) == 0 {
			// Every remaining partition is blocked on something outside
			// this set (or on itself) — nothing more can run.
			for id := range pending {
				st.mu.Lock()
				st.done[id] = true
				st.mu.Unlock()
			}
			return
		}

		eg, gctx := errgroup.WithContext(st.ctx)
		for _, id := range ready {
			id := id
			eg.Go(func() error {
				ex.runPartition(gctx, st, id)
				return nil
			})
		}
		_ = eg.Wait() // partition failures are recorded as tree errors, not propagated

		for _, id := range ready {
			delete(pending, id)
		}
	}
}

func (ex *Executor) findReady(st *execState, pending map[solver.PartitionID]bool) []solver.PartitionID {
	st.mu.Lock()
	defer st.mu.Unlock()

	var ready []solver.PartitionID
	for id := range pending {
		allDepsDone := true
		for _, dep := range st.p.Solution.DependsOn[id] {
			if !st.done[dep] {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, id)
		}
	}
	return ready
}

// runPartition dispatches one partition and merges its result into the
// shared response tree, recording a gateway error (and propagating
// null) on failure rather than aborting the whole wave — matching
// executor_v2.go's processStep/recordError split.
func (ex *Executor) runPartition(ctx context.Context, st *execState, id solver.PartitionID) {
	part := st.p.Solution.Partitions[id]

	ctx, span := ex.Tracer.Start(ctx, "gateway.partition.dispatch",
		trace.WithAttributes(attribute.Int("partition.id", int(id))))
	defer span.End()

	defer func() {
		st.mu.Lock()
		st.done[id] = true
		st.mu.Unlock()
	}()

	if part.Subgraph == schema.SubgraphID(-1) {
		// introspection-only partition (__typename etc.): nothing is
		// dispatched, and no value is written for these fields.
		return
	}

	if part.Local {
		ex.runDerived(ctx, st, part)
		return
	}

	sg := ex.Arena.Subgraph(part.Subgraph)
	if sg == nil {
		ex.recordPartitionError(st, part, gatewayerr.New(gatewayerr.KindInternalServerError, "unknown subgraph"))
		return
	}

	var query string
	var variables map[string]any

	if part.EntityKey != schema.InvalidFieldSet {
		reps := ex.collectRepresentations(st, part)
		if len(reps) == 0 {
			return // nothing upstream to extend; not an error (spec.md §4.4 edge case: empty fan-out)
		}
		typeName := ex.Arena.String(ex.Arena.Type(part.ParentType).Name)
		query = dispatcher.BuildEntityQuery(ex.Arena, typeName, ex.visibleFields(st, part))
		variables = map[string]any{"representations": reps}
	} else {
		varNames, varTypes, values := ex.rootVariablesFor(st, part)
		query = dispatcher.BuildRootQuery(ex.Arena, st.op.Type, varNames, varTypes, ex.visibleFields(st, part))
		variables = values
	}

	if err := ex.invokeOnSubgraphRequest(ctx, sg.Name, query); err != nil {
		ex.recordPartitionError(st, part, err)
		return
	}

	headers := dispatcher.RewriteHeaders(sg.Headers, st.req.Headers)
	resp, err := ex.Dispatch.Dispatch(ctx, sg, query, variables, headers)
	if err != nil {
		ex.recordPartitionError(st, part, err)
		return
	}

	for _, ge := range resp.Errors {
		ex.recordSubgraphError(st, part, sg.Name, ge)
	}

	if len(resp.Data) == 0 {
		return
	}

	decoded, err := response.Decode(resp.Data)
	if err != nil {
		ex.recordPartitionError(st, part, err)
		return
	}

	ex.mergePartitionResult(st, part, decoded, resp.Errors, sg.Name)
}

func (ex *Executor) runDerived(ctx context.Context, st *execState, part *solver.QueryPartition) {
	inst, err := ex.Extensions.Acquire(fmt.Sprintf("derive:%d", part.Resolver))
	if err != nil || inst == nil || inst.Resolve == nil {
		// No registered derivation hook: the field resolves to null
		// rather than failing the whole request.
		return
	}
	defer ex.Extensions.Release(fmt.Sprintf("derive:%d", part.Resolver), inst)

	data, err := inst.Resolve.Resolve(ctx, "derive", nil)
	if err != nil {
		inst.Poison()
		ex.recordPartitionError(st, part, gatewayerr.Wrap(gatewayerr.KindExtensionError, "derive resolver failed", err))
		return
	}
	decoded, err := response.Decode(data)
	if err != nil {
		ex.recordPartitionError(st, part, err)
		return
	}
	ex.mergePartitionResult(st, part, decoded, nil, "")
}

func (ex *Executor) mergePartitionResult(st *execState, part *solver.QueryPartition, decoded any, subErrs []dispatcher.GraphQLError, serviceName string) {
	shapeID := st.p.PartitionShape[part.ID]

	var payload map[string]any
	switch v := decoded.(type) {
	case map[string]any:
		if part.EntityKey != schema.InvalidFieldSet {
			// _entities returns a list positionally matching the
			// representations sent; merge each back into the same
			// objects collectRepresentations gathered it from.
			ex.mergeEntities(st, part, v)
			return
		}
		payload = v
	default:
		return
	}

	val, assembleErrs := response.Assemble(ex.Arena, st.p.Shapes, shapeID, payload, subErrs, serviceName)
	st.mu.Lock()
	for _, ge := range assembleErrs {
		st.tree.AddError(ge)
	}
	st.mu.Unlock()

	obj, ok := val.(map[string]any)
	if !ok {
		if val == nil {
			// A non-null field nulled this partition's whole object:
			// carry that collapse into the shared tree.
			st.mu.Lock()
			st.tree.PropagateNullAt(nearestNullableAncestor(part.MergePath, part.MergePathNullable))
			st.mu.Unlock()
		}
		return
	}

	if err := st.tree.Merge(part.MergePath, obj); err != nil {
		ex.recordPartitionError(st, part, gatewayerr.Wrap(gatewayerr.KindInternalServerError, "response merge failed", err))
	}
}

func (ex *Executor) recordPartitionError(st *execState, part *solver.QueryPartition, err error) {
	ge, ok := gatewayerr.As(err)
	if !ok {
		ge = gatewayerr.Wrap(gatewayerr.KindSubgraphError, "subgraph dispatch failed", err)
	}
	st.mu.Lock()
	st.tree.AddError(ge)
	st.tree.PropagateNullAt(nearestNullableAncestor(part.MergePath, part.MergePathNullable))
	st.mu.Unlock()
	ex.Log.Error("partition dispatch failed", "partition", part.ID, "kind", ge.Kind, "error", ge.Error())
}

// nearestNullableAncestor returns the longest prefix of path whose final
// segment is itself nullable, per spec.md §4.8/§8's "null at p or at the
// nearest nullable ancestor of p" invariant applied to a whole-partition
// failure. nullable[i] reports whether path[i] may legally hold null. A
// nil result means no ancestor anywhere in the chain is nullable, so the
// failure propagates all the way to the response root.
func nearestNullableAncestor(path []string, nullable []bool) []string {
	for i := len(path) - 1; i >= 0; i-- {
		if i < len(nullable) && nullable[i] {
			return path[:i+1]
		}
	}
	return nil
}

func (ex *Executor) recordSubgraphError(st *execState, part *solver.QueryPartition, serviceName string, ge dispatcher.GraphQLError) {
	path := ge.Path
	if path == nil && len(part.MergePath) > 0 {
		path = pathToAny(part.MergePath)
	}
	st.mu.Lock()
	st.tree.AddError(gatewayerr.New(gatewayerr.KindSubgraphError, ge.Message).WithPath(path).WithService(serviceName))
	st.mu.Unlock()
}

func pathToAny(path []string) []any {
	out := make([]any, len(path))
	for i, s := range path {
		out[i] = s
	}
	return out
}

func rootAncestor(sol *solver.Solution, id solver.PartitionID) solver.PartitionID {
	p := sol.Partitions[id]
	for p.Parent != solver.InvalidPartition {
		id = p.Parent
		p = sol.Partitions[id]
	}
	return id
}
