// Package operation parses GraphQL request text and binds every name
// to a schema id, producing a BoundOperation (spec.md §3, §4.2).
package operation

import "github.com/n9te9/go-graphql-federation-gateway/internal/schema"

// OperationType is the kind of a GraphQL operation.
type OperationType uint8

const (
	Query OperationType = iota
	Mutation
	Subscription
)

func (t OperationType) String() string {
	switch t {
	case Mutation:
		return "mutation"
	case Subscription:
		return "subscription"
	default:
		return "query"
	}
}

// ConditionKind distinguishes @skip from @include.
type ConditionKind uint8

const (
	ConditionSkip ConditionKind = iota
	ConditionInclude
)

// Condition is a bound @skip/@include predicate, captured but not yet
// evaluated (spec.md §4.2.4: "they are not evaluated yet").
type Condition struct {
	Kind ConditionKind
	// VariableName is set when the `if` argument is a variable
	// reference; Literal is used otherwise.
	VariableName string
	Literal      bool
	IsVariable   bool
}

// Location is a source position, attached to errors per spec.md §4.2.
type Location struct {
	Line   int
	Column int
}

// BoundField is one selected field, already resolved to a schema field
// id, with already-coerced argument values (spec.md §3 BoundOperation).
type BoundField struct {
	Field       schema.FieldID
	ResponseKey string
	Arguments   map[string]any
	// TypeConditions is the set of type ids under which this field
	// applies; empty means "applies unconditionally within its parent
	// selection set" (spec.md §4.2.2: "tagging each bound field with
	// the set of type conditions under which it appears").
	TypeConditions []schema.TypeID
	Conditions     []Condition
	Selections     []*BoundField
	Alias          bool
	Loc            Location
}

// IsLeaf reports whether this field has no sub-selection.
func (f *BoundField) IsLeaf() bool { return len(f.Selections) == 0 }

// ValueState distinguishes "undefined" from "null" for a bound
// variable (spec.md §3: "a distinct state from null").
type ValueState uint8

const (
	Undefined ValueState = iota
	ProvidedValue
	DefaultValue
)

// VariableDecl is one declared-variable's metadata.
type VariableDecl struct {
	Name       string
	Type       schema.TypeRef
	HasDefault bool
	Default    any
	Loc        Location
}

// VariableBinding is the bound value for one declared variable.
type VariableBinding struct {
	State ValueState
	Value any
}

// Variables holds the two parallel arrays spec.md §3 describes:
// declared-variable metadata and bound values.
type Variables struct {
	Decls   []VariableDecl
	Values  map[string]VariableBinding
	declIdx map[string]int
}

// Get returns the bound value for name and whether it is defined at
// all (Undefined counts as "present but undefined").
func (v *Variables) Get(name string) (VariableBinding, bool) {
	if v == nil || v.Values == nil {
		return VariableBinding{}, false
	}
	b, ok := v.Values[name]
	return b, ok
}

// Decl returns the declaration for name, if any.
func (v *Variables) Decl(name string) (VariableDecl, bool) {
	if v == nil {
		return VariableDecl{}, false
	}
	if i, ok := v.declIdx[name]; ok {
		return v.Decls[i], true
	}
	return VariableDecl{}, false
}

// BoundOperation is a fully bound client request: operation type plus
// the ordered sequence of bound selections rooted at the schema's root
// type (spec.md §3).
type BoundOperation struct {
	Type       OperationType
	Name       string
	RootType   schema.TypeID
	Selections []*BoundField
	Variables  *Variables
}
