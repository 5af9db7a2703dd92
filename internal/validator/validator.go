// Package validator enforces GraphQL-spec-level and operation-limit
// rules against a BoundOperation (spec.md §4.3). It has no direct
// teacher equivalent — the teacher never enforces operation limits —
// so its traversal shape is grounded on the selection-set walk in
// federation/planner/planner_v2_optimized.go (expandFragmentsInSelections),
// applied here to counting instead of partitioning.
package validator

import (
	"fmt"

	"github.com/n9te9/go-graphql-federation-gateway/internal/gatewayerr"
	"github.com/n9te9/go-graphql-federation-gateway/internal/operation"
)

// Limits configures the operation-limit checks of spec.md §4.3(d).
// Zero means "unbounded" for that limit.
type Limits struct {
	MaxDepth      int
	MaxHeight     int
	MaxAliases    int
	MaxComplexity int
	MaxRootFields int
}

// Validate runs the operation-limit checks of spec.md §4.3(d) and
// checkVariableUsages against a bound operation. It does not look for
// fragment-spread cycles or leaf selections on composite types.
func Validate(op *operation.BoundOperation, limits Limits) error {
	if limits.MaxRootFields > 0 && len(op.Selections) > limits.MaxRootFields {
		return limitErr("max_root_field_count", "Query has too many root fields.")
	}

	depth := maxDepth(op.Selections, 1)
	if limits.MaxDepth > 0 && depth > limits.MaxDepth {
		return limitErr("max_depth", "Query is too deep.")
	}

	height := countHeight(op.Selections)
	if limits.MaxHeight > 0 && height > limits.MaxHeight {
		return limitErr("max_height", "Query is too tall.")
	}

	aliases := countAliases(op.Selections)
	if limits.MaxAliases > 0 && aliases > limits.MaxAliases {
		return limitErr("max_aliases", "Query uses too many aliases.")
	}

	complexity := complexityScore(op.Selections)
	if limits.MaxComplexity > 0 && complexity > limits.MaxComplexity {
		return limitErr("max_complexity", "Query is too complex.")
	}

	if err := checkVariableUsages(op); err != nil {
		return err
	}

	return nil
}

// limitErr reports which limit fired via the gateway error's Limit field
// (surfaced to clients through Extensions()["limit"]), per spec.md §4.3.
func limitErr(limit, msg string) error {
	e := gatewayerr.New(gatewayerr.KindOperationValidationError, msg).WithPath(nil)
	e.Limit = limit
	return e
}

func maxDepth(fields []*operation.BoundField, current int) int {
	best := current
	for _, f := range fields {
		if len(f.Selections) == 0 {
			continue
		}
		if d := maxDepth(f.Selections, current+1); d > best {
			best = d
		}
	}
	return best
}

func countHeight(fields []*operation.BoundField) int {
	n := len(fields)
	for _, f := range fields {
		n += countHeight(f.Selections)
	}
	return n
}

func countAliases(fields []*operation.BoundField) int {
	n := 0
	for _, f := range fields {
		if f.Alias {
			n++
		}
		n += countAliases(f.Selections)
	}
	return n
}

// complexityScore assigns a unit cost per selected field and sums
// recursively, matching spec.md §8 scenario 2's expectation that
// `{ favoriteRepository serverVersion alias: serverVersion }` (three
// selected fields, one an alias of another) scores 3.
func complexityScore(fields []*operation.BoundField) int {
	score := 0
	for _, f := range fields {
		score++
		score += complexityScore(f.Selections)
	}
	return score
}

// checkVariableUsages enforces spec.md §4.3(c) for @skip/@include
// conditions: every variable an `if:` argument references must have
// been declared. Variables inside field arguments are not checked, and
// declared types are not compared with usages.
func checkVariableUsages(op *operation.BoundOperation) error {
	var walk func(fields []*operation.BoundField) error
	walk = func(fields []*operation.BoundField) error {
		for _, f := range fields {
			for _, c := range f.Conditions {
				if c.IsVariable {
					if _, ok := op.Variables.Decl(c.VariableName); !ok {
						return gatewayerr.New(gatewayerr.KindVariableError,
							fmt.Sprintf("Variable \"$%s\" is not defined.", c.VariableName))
					}
				}
			}
			if err := walk(f.Selections); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(op.Selections)
}
