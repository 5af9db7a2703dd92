package executor

import (
	"context"
	"net/http"

	"github.com/n9te9/go-graphql-federation-gateway/internal/gatewayerr"
)

// hooksExtensionID is the well-known pool key for the single
// request-lifecycle Hooks capability instance, matching spec.md §4.9's
// "Hooks (request lifecycle)" hook kind — there is exactly one
// lifecycle hook chain per gateway, so it needs no per-call policy
// name the way query/response authorization do.
const hooksExtensionID = "lifecycle-hooks"

// invokeOnRequest runs the registered Hooks.OnRequest callback, if any,
// before any partition is dispatched. A non-nil error short-circuits the
// whole request with that error's HTTP status.
func (ex *Executor) invokeOnRequest(ctx context.Context) (int, error) {
	inst, err := ex.Extensions.Acquire(hooksExtensionID)
	if err != nil || inst == nil || inst.Hooks == nil {
		return http.StatusOK, nil
	}
	defer ex.Extensions.Release(hooksExtensionID, inst)

	if err := inst.Hooks.OnRequest(ctx); err != nil {
		inst.Poison()
		ge := gatewayerr.Wrap(gatewayerr.KindExtensionError, "on_request hook failed", err)
		return ge.HTTPStatus(), ge
	}
	return http.StatusOK, nil
}

// invokeOnSubgraphRequest runs the registered Hooks.OnSubgraphRequest
// callback, if any, immediately before a partition's request body is
// sent to subgraph.
func (ex *Executor) invokeOnSubgraphRequest(ctx context.Context, subgraph, body string) error {
	inst, err := ex.Extensions.Acquire(hooksExtensionID)
	if err != nil || inst == nil || inst.Hooks == nil {
		return nil
	}
	defer ex.Extensions.Release(hooksExtensionID, inst)

	if err := inst.Hooks.OnSubgraphRequest(ctx, subgraph, []byte(body)); err != nil {
		inst.Poison()
		return gatewayerr.Wrap(gatewayerr.KindExtensionError, "on_subgraph_request hook failed", err)
	}
	return nil
}

// invokeOnResponse runs the registered Hooks.OnResponse callback, if
// any, after the final response has been rendered.
func (ex *Executor) invokeOnResponse(ctx context.Context, body []byte) {
	inst, err := ex.Extensions.Acquire(hooksExtensionID)
	if err != nil || inst == nil || inst.Hooks == nil {
		return
	}
	defer ex.Extensions.Release(hooksExtensionID, inst)

	if err := inst.Hooks.OnResponse(ctx, body); err != nil {
		inst.Poison()
		ex.Log.Warn("on_response hook failed", "error", err)
	}
}
