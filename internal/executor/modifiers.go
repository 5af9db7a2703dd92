package executor

import (
	"github.com/n9te9/go-graphql-federation-gateway/internal/extension"
	"github.com/n9te9/go-graphql-federation-gateway/internal/gatewayerr"
	"github.com/n9te9/go-graphql-federation-gateway/internal/operation"
	"github.com/n9te9/go-graphql-federation-gateway/internal/plan"
)

// evalQueryModifiers evaluates every plan.QueryModifier against the
// request's variables and authentication result, returning the set of
// (shape, field) positions to gate out of the subgraph requests
// (spec.md §4.5). @skip/@include are pure variable lookups;
// @authenticated/@requiresScopes/extension authorization additionally
// record a gateway error when they fail, so the field still renders as
// null with an explanatory error rather than silently vanishing.
func (ex *Executor) evalQueryModifiers(st *execState) map[excludeKey]bool {
	excluded := make(map[excludeKey]bool)

	for _, m := range st.p.QueryModifiers {
		key := excludeKey{shape: m.Shape, field: m.FieldIndex}

		switch m.Kind {
		case plan.ModifierSkipInclude:
			if evalCondition(st.op, m.Condition) {
				excluded[key] = true
			}

		case plan.ModifierAuthenticated:
			if st.req.Auth == nil {
				excluded[key] = true
				ex.addModifierError(st, m.Shape, m.FieldIndex,
					gatewayerr.New(gatewayerr.KindUnauthenticated, "field requires authentication"))
			}

		case plan.ModifierRequiresScopes:
			if !hasAllScopes(st.req.Auth, m.Scopes) {
				excluded[key] = true
				ex.addModifierError(st, m.Shape, m.FieldIndex,
					gatewayerr.New(gatewayerr.KindUnauthorized, "field requires additional scopes"))
			}

		case plan.ModifierExtensionAuthorization:
			inst, err := ex.Extensions.Acquire(m.PolicyName)
			if err != nil || inst == nil || inst.QueryAuthz == nil {
				continue
			}
			decision, err := inst.QueryAuthz.AuthorizeQuery(st.ctx, m.PolicyName, m.Scopes, st.req.Auth)
			if err != nil {
				inst.Poison()
				excluded[key] = true
				ex.addModifierError(st, m.Shape, m.FieldIndex,
					gatewayerr.Wrap(gatewayerr.KindExtensionError, "query authorization hook failed", err))
				continue
			}
			ex.Extensions.Release(m.PolicyName, inst)
			if !decision.Allowed {
				excluded[key] = true
				ex.addModifierError(st, m.Shape, m.FieldIndex,
					gatewayerr.New(gatewayerr.KindUnauthorized, decision.Reason))
			}
		}
	}

	return excluded
}

func (ex *Executor) addModifierError(st *execState, shapeID plan.ShapeID, fieldIndex int, ge *gatewayerr.Error) {
	var path []any
	if int(shapeID) < len(st.p.Shapes) {
		shape := &st.p.Shapes[shapeID]
		if fieldIndex < len(shape.Fields) {
			path = []any{shape.Fields[fieldIndex].ResponseKey}
		}
	}
	st.mu.Lock()
	st.tree.AddError(ge.WithPath(path))
	st.mu.Unlock()
}

func evalCondition(op *operation.BoundOperation, c *operation.Condition) bool {
	if c == nil {
		return false
	}
	value := c.Literal
	if c.IsVariable {
		if b, ok := op.Variables.Get(c.VariableName); ok && b.State != operation.Undefined {
			if bv, ok := b.Value.(bool); ok {
				value = bv
			}
		}
	}
	switch c.Kind {
	case operation.ConditionSkip:
		return value
	case operation.ConditionInclude:
		return !value
	default:
		return false
	}
}

// hasAllScopes reports whether auth's scope claim contains every scope
// @requiresScopes names (spec.md §4.5, using the JWT "scope" claim the
// default extension.JWTAuthenticator populates).
func hasAllScopes(auth *extension.AuthResult, required []string) bool {
	if auth == nil {
		return len(required) == 0
	}
	have := extension.ScopesFromClaims(auth.Claims)
	for _, s := range required {
		if !have[s] {
			return false
		}
	}
	return true
}

// applyResponseModifiers runs response authorization after all
// subgraph data has merged, masking fields the policy denies to null
// rather than re-running the whole request (spec.md §4.9 "Response
// authorization ... masks fields post-hoc").
func (ex *Executor) applyResponseModifiers(st *execState) {
	for _, m := range st.p.RespModifiers {
		if m.Kind != plan.ResponseAuthorization {
			continue
		}
		inst, err := ex.Extensions.Acquire(m.PolicyName)
		if err != nil || inst == nil || inst.RespAuthz == nil {
			continue
		}

		shape := &st.p.Shapes[m.Shape]
		if m.FieldIndex >= len(shape.Fields) {
			ex.Extensions.Release(m.PolicyName, inst)
			continue
		}
		key := shape.Fields[m.FieldIndex].ResponseKey
		val, ok := st.tree.Data[key]
		if !ok {
			ex.Extensions.Release(m.PolicyName, inst)
			continue
		}

		decision, err := inst.RespAuthz.AuthorizeResponse(st.ctx, m.PolicyName, val, st.req.Auth)
		if err != nil {
			inst.Poison()
			ex.addModifierError(st, m.Shape, m.FieldIndex,
				gatewayerr.Wrap(gatewayerr.KindExtensionError, "response authorization hook failed", err))
			continue
		}
		ex.Extensions.Release(m.PolicyName, inst)
		if !decision.Allowed {
			st.mu.Lock()
			st.tree.Data[key] = nil
			st.mu.Unlock()
			ex.addModifierError(st, m.Shape, m.FieldIndex,
				gatewayerr.New(gatewayerr.KindUnauthorized, decision.Reason))
		}
	}
}
