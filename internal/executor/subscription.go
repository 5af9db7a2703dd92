package executor

import (
	"context"

	"github.com/n9te9/go-graphql-federation-gateway/internal/dispatcher"
	"github.com/n9te9/go-graphql-federation-gateway/internal/gatewayerr"
	"github.com/n9te9/go-graphql-federation-gateway/internal/plan"
	"github.com/n9te9/go-graphql-federation-gateway/internal/response"
	"github.com/n9te9/go-graphql-federation-gateway/internal/solver"
)

// Frame is one incremental subscription payload: the root stream's
// frame re-extended by every other partition, rendered as a complete
// response object (spec.md §4.6: "each inbound frame is treated as a
// new root payload that is then extended by the remaining partitions
// executing against that frame's data").
type Frame struct {
	Output *response.Output
	Status int
	Err    error
	// Done marks the terminal frame; Output/Err may both be nil.
	Done bool
}

// ExecuteSubscription opens the root subscription partition's stream
// and, for each inbound frame, re-runs every other partition against
// that frame's data before rendering it. The returned channel is
// closed when the subgraph stream ends or ctx is cancelled.
func (ex *Executor) ExecuteSubscription(ctx context.Context, p *plan.Plan, req *Request) (<-chan Frame, error) {
	if len(p.RootOrder) == 0 {
		return nil, gatewayerr.New(gatewayerr.KindOperationPlanningError, "subscription has no root partition")
	}
	rootID := p.RootOrder[0]
	root := p.Solution.Partitions[rootID]
	sg := ex.Arena.Subgraph(root.Subgraph)
	if sg == nil {
		return nil, gatewayerr.New(gatewayerr.KindInternalServerError, "unknown subgraph")
	}

	query := dispatcher.BuildRootQuery(ex.Arena, req.Operation.Type, nil, nil, root.Root)
	frames, err := ex.Dispatch.Subscribe(ctx, sg, query, nil)
	if err != nil {
		return nil, err
	}

	out := make(chan Frame)
	go func() {
		defer close(out)
		for f := range frames {
			if f.Err != nil {
				out <- Frame{Err: f.Err, Status: gatewayerr.HighestPriorityStatus([]*gatewayerr.Error{mustGatewayErr(f.Err)})}
				continue
			}
			if f.Closed {
				out <- Frame{Done: true}
				return
			}
			output, status := ex.extendFrame(ctx, p, req, rootID, f.Data)
			out <- Frame{Output: output, Status: status}
		}
	}()
	return out, nil
}

// extendFrame treats one subscription frame's payload as the root
// partition's already-resolved result, merges it, then runs every
// remaining partition wave-scheduled against it exactly like a query.
func (ex *Executor) extendFrame(ctx context.Context, p *plan.Plan, req *Request, rootID solver.PartitionID, frameData []byte) (*response.Output, int) {
	st := &execState{
		ctx:  ctx,
		p:    p,
		op:   req.Operation,
		req:  req,
		tree: response.NewTree(ex.DevAssertions),
		done: make(map[solver.PartitionID]bool),
	}
	st.excluded = ex.evalQueryModifiers(st)

	decoded, err := response.Decode(frameData)
	if err == nil {
		if payload, ok := decoded.(map[string]any); ok {
			shapeID := p.PartitionShape[rootID]
			val, _ := response.Assemble(ex.Arena, p.Shapes, shapeID, payload, nil, ex.Arena.Subgraph(p.Solution.Partitions[rootID].Subgraph).Name)
			if obj, ok := val.(map[string]any); ok {
				_ = st.tree.Merge(nil, obj)
			}
		}
	} else {
		st.tree.AddError(gatewayerr.Wrap(gatewayerr.KindSubgraphInvalidResponseError, "decode subscription frame", err))
	}

	st.mu.Lock()
	st.done[rootID] = true
	st.mu.Unlock()

	rest := make([]solver.PartitionID, 0, len(p.Solution.Partitions)-1)
	for _, part := range p.Solution.Partitions {
		if part.ID != rootID {
			rest = append(rest, part.ID)
		}
	}
	ex.runWaves(st, rest)
	ex.applyResponseModifiers(st)

	out := st.tree.Render()
	status := gatewayerr.HighestPriorityStatus(st.tree.Errors)
	return out, status
}

func mustGatewayErr(err error) *gatewayerr.Error {
	if ge, ok := gatewayerr.As(err); ok {
		return ge
	}
	return gatewayerr.Wrap(gatewayerr.KindSubgraphError, "subscription error", err)
}
