// Package schema holds the supergraph schema model: an interned,
// id-addressed representation of types, fields, directives, subgraphs
// and resolvers (spec.md §3, §4.1). It is built once per config
// generation and is read-only thereafter.
package schema

import "fmt"

// TypeID addresses a TypeDefinition in the arena.
type TypeID int32

// FieldID addresses a FieldDefinition in the arena.
type FieldID int32

// SubgraphID addresses a Subgraph in the arena.
type SubgraphID int32

// ResolverID addresses a ResolverDefinition in the arena.
type ResolverID int32

// FieldSetID addresses an interned FieldSet.
type FieldSetID int32

// StringID addresses an interned string.
type StringID int32

const (
	InvalidTypeID    TypeID    = -1
	InvalidFieldID   FieldID   = -1
	InvalidFieldSet  FieldSetID = -1
	InvalidResolver  ResolverID = -1
)

// TypeKind is the variant tag of a TypeDefinition (spec.md §3).
type TypeKind uint8

const (
	KindScalar TypeKind = iota
	KindObject
	KindInterface
	KindUnion
	KindEnum
	KindInputObject
)

func (k TypeKind) String() string {
	switch k {
	case KindScalar:
		return "SCALAR"
	case KindObject:
		return "OBJECT"
	case KindInterface:
		return "INTERFACE"
	case KindUnion:
		return "UNION"
	case KindEnum:
		return "ENUM"
	case KindInputObject:
		return "INPUT_OBJECT"
	default:
		return "UNKNOWN"
	}
}

// TypeDefinition is a process-lifetime schema entity (spec.md §3).
type TypeDefinition struct {
	Name        StringID
	Description StringID
	Kind        TypeKind
	Directives  []Directive
	// Subgraphs is the bitset (as a sorted id slice) of subgraphs that
	// declare at least one field of this type.
	Subgraphs []SubgraphID
	// FieldStart/FieldCount index into Arena.fields for this type's own
	// fields (object/interface/input-object). Enum values are not
	// recorded here.
	FieldStart int32
	FieldCount int32
	// Interfaces this object/interface type implements.
	Interfaces []TypeID
	// UnionMembers, populated only for KindUnion.
	UnionMembers []TypeID
}

// Directive is a bound `@name(arg: value, ...)` application.
type Directive struct {
	Name StringID
	Args map[string]any
}

// Argument describes one input argument on a field.
type Argument struct {
	Name         StringID
	Type         TypeRef
	DefaultValue any
	HasDefault   bool
}

// TypeRef is a GraphQL type reference: Named, List(Of), NonNull(Of).
type TypeRef struct {
	Named    TypeID
	OfType   *TypeRef
	List     bool
	NonNull  bool
}

func (t TypeRef) String() string {
	if t.List {
		inner := "?"
		if t.OfType != nil {
			inner = t.OfType.String()
		}
		s := "[" + inner + "]"
		if t.NonNull {
			s += "!"
		}
		return s
	}
	s := fmt.Sprintf("Type#%d", t.Named)
	if t.NonNull {
		s += "!"
	}
	return s
}

// IsComposite reports whether the referenced type is Object, Interface
// or Union (i.e. requires a non-empty selection set, spec.md §4.2).
func (a *Arena) IsComposite(t TypeRef) bool {
	td := a.Type(t.Named)
	if td == nil {
		return false
	}
	switch td.Kind {
	case KindObject, KindInterface, KindUnion:
		return true
	default:
		return false
	}
}

// FieldDefinition is a process-lifetime field entity (spec.md §3).
type FieldDefinition struct {
	Parent      TypeID
	Name        StringID
	Description StringID
	Type        TypeRef
	ArgStart    int32
	ArgCount    int32
	Directives  []Directive

	// Resolvers lists every ResolverDefinition that can answer this
	// field, one per subgraph capable of resolving it.
	Resolvers []ResolverID

	// Requires is the FieldSet (per owning subgraph) this field needs
	// from a sibling/ancestor partition before it can be resolved.
	// Keyed by SubgraphID because @requires is subgraph-specific.
	Requires map[SubgraphID]FieldSetID
	// Provides is the FieldSet a field's resolution additionally makes
	// available to downstream partitions (the @provides directive).
	Provides map[SubgraphID]FieldSetID
	// Authorized holds the @authorized directive's metadata, if present.
	Authorized *AuthorizedMeta
	// Derived marks this as a @derive field: its value is computed by
	// the gateway from SourceFields rather than fetched from a subgraph.
	Derived *DerivedMeta
	// KeyMember is true when this field participates in a composite
	// @key FieldSet on its parent type.
	KeyMember bool
	// External marks the field as declared-but-not-owned in a given
	// subgraph (the @external directive).
	External map[SubgraphID]bool
	// Shareable marks the field as resolvable by more than one
	// subgraph without ambiguity (the @shareable directive).
	Shareable bool
}

// AuthorizedMeta carries the `@authorized` directive's arguments.
type AuthorizedMeta struct {
	Scopes     []string
	PolicyName string
}

// DerivedMeta carries `@derive`'s source-field dependency.
type DerivedMeta struct {
	SourceFields FieldSetID
}

// Protocol is the wire protocol a subgraph speaks.
type Protocol uint8

const (
	ProtocolHTTP Protocol = iota
	ProtocolWebSocket
)

// HeaderRule rewrites one request header when dispatching to a subgraph.
type HeaderRule struct {
	Name      string
	Operation HeaderOp
	Value     string // literal value, or source-header name for Propagate
}

// HeaderOp is the kind of header rewrite rule.
type HeaderOp uint8

const (
	HeaderPropagate HeaderOp = iota // copy ingress header Value -> Name
	HeaderInsert                    // set Name: Value unconditionally
	HeaderRemove                    // drop Name from the outgoing request
)

// Subgraph is a backend GraphQL service owning a slice of the
// supergraph (spec.md §3).
type Subgraph struct {
	ID       SubgraphID
	Name     string
	URL      string
	WSURL    string
	Protocol Protocol
	Headers  []HeaderRule
	Timeout  int64 // milliseconds
}

// ResolverKind tags the variant of a ResolverDefinition (spec.md §3, §9).
type ResolverKind uint8

const (
	ResolverGraphqlRoot ResolverKind = iota
	ResolverGraphqlEntity
	ResolverExtension
	ResolverDerived
	ResolverIntrospection
)

// ResolverDefinition is either a root-field resolver on a subgraph, a
// federation entity resolver keyed by a FieldSet, or an extension
// resolver keyed by a directive id.
type ResolverDefinition struct {
	ID       ResolverID
	Kind     ResolverKind
	Subgraph SubgraphID
	// Key is the FieldSet identifying the entity (for ResolverGraphqlEntity).
	Key FieldSetID
	// ExtensionDirective names the extension hook directive for
	// ResolverExtension (e.g. "@connector").
	ExtensionDirective StringID
	// Cost is a static resolver cost used by the solver's tie-break
	// (spec.md §4.4.6). Composition gives every resolver a cost of 1;
	// preferring the enclosing subgraph is a separate tie-break step.
	Cost int
}

// FieldSetItem is one entry of an interned FieldSet (spec.md §3).
type FieldSetItem struct {
	Field FieldID
	Args  map[string]any
	// SubSet recurses for composite requirements, e.g. `@key(fields: "id org { id }")`.
	SubSet FieldSetID
}

// FieldSet is an ordered, deduplicated sequence of field-set items that
// may recursively contain sub-FieldSets. Interned: two structurally
// equal field sets share an id (spec.md §3).
type FieldSet struct {
	Parent TypeID
	Items  []FieldSetItem
}

// Arena owns every schema entity for the lifetime of the running
// engine instance. It is built once (see compose.go) and never
// mutated after Freeze.
type Arena struct {
	strings   []string
	stringIdx map[string]StringID

	types   []TypeDefinition
	typeIdx map[StringID]TypeID

	fields []FieldDefinition
	// fieldIdx maps (parent type, field name) -> FieldID for O(1) lookup.
	fieldIdx map[fieldKey]FieldID

	args []Argument

	subgraphs []Subgraph

	resolvers []ResolverDefinition

	fieldSets   []FieldSet
	fieldSetIdx map[string]FieldSetID // keyed by a canonical structural hash

	frozen bool
}

type fieldKey struct {
	parent TypeID
	name   StringID
}

// NewArena creates an empty, mutable arena ready for composition.
func NewArena() *Arena {
	return &Arena{
		stringIdx:   make(map[string]StringID),
		typeIdx:     make(map[StringID]TypeID),
		fieldIdx:    make(map[fieldKey]FieldID),
		fieldSetIdx: make(map[string]FieldSetID),
	}
}

// Intern returns the StringID for s, allocating a new entry if needed.
func (a *Arena) Intern(s string) StringID {
	if id, ok := a.stringIdx[s]; ok {
		return id
	}
	id := StringID(len(a.strings))
	a.strings = append(a.strings, s)
	a.stringIdx[s] = id
	return id
}

// String resolves a StringID back to its text.
func (a *Arena) String(id StringID) string {
	if int(id) < 0 || int(id) >= len(a.strings) {
		return ""
	}
	return a.strings[id]
}

// LookupType resolves a type name to its TypeID, per spec.md §4.1's
// lookup_type(name) -> TypeId operation.
func (a *Arena) LookupType(name string) (TypeID, bool) {
	sid, ok := a.stringIdx[name]
	if !ok {
		return InvalidTypeID, false
	}
	id, ok := a.typeIdx[sid]
	return id, ok
}

// Type returns the TypeDefinition for id, or nil if out of range.
func (a *Arena) Type(id TypeID) *TypeDefinition {
	if int(id) < 0 || int(id) >= len(a.types) {
		return nil
	}
	return &a.types[id]
}

// FieldByName resolves field_by_name(type, name) -> FieldId? (spec.md §4.1).
func (a *Arena) FieldByName(parent TypeID, name string) (FieldID, bool) {
	sid, ok := a.stringIdx[name]
	if !ok {
		return InvalidFieldID, false
	}
	id, ok := a.fieldIdx[fieldKey{parent, sid}]
	return id, ok
}

// Field returns the FieldDefinition for id, or nil if out of range.
func (a *Arena) Field(id FieldID) *FieldDefinition {
	if int(id) < 0 || int(id) >= len(a.fields) {
		return nil
	}
	return &a.fields[id]
}

// FieldArgs returns every argument declared on field f.
func (a *Arena) FieldArgs(f *FieldDefinition) []Argument {
	if f.ArgCount == 0 {
		return nil
	}
	return a.args[f.ArgStart : f.ArgStart+f.ArgCount]
}

// Subgraphs returns every subgraph in the arena, in declaration order.
func (a *Arena) Subgraphs() []Subgraph { return a.subgraphs }

// Subgraph returns the Subgraph for id, or nil if out of range.
func (a *Arena) Subgraph(id SubgraphID) *Subgraph {
	if int(id) < 0 || int(id) >= len(a.subgraphs) {
		return nil
	}
	return &a.subgraphs[id]
}

// Resolver returns the ResolverDefinition for id.
func (a *Arena) Resolver(id ResolverID) *ResolverDefinition {
	if int(id) < 0 || int(id) >= len(a.resolvers) {
		return nil
	}
	return &a.resolvers[id]
}

// Resolvers iterates every resolver in the arena.
func (a *Arena) Resolvers() []ResolverDefinition { return a.resolvers }

// FieldSet returns the interned FieldSet for id.
func (a *Arena) FieldSet(id FieldSetID) *FieldSet {
	if int(id) < 0 || int(id) >= len(a.fieldSets) {
		return nil
	}
	return &a.fieldSets[id]
}

// InternFieldSet interns a FieldSet by structural equality: two
// structurally equal field sets share an id (spec.md §3), which is
// what lets the solver deduplicate identical @key/@requires
// requirements across call sites into a single fetch.
func (a *Arena) InternFieldSet(fs FieldSet) FieldSetID {
	key := canonicalFieldSetKey(fs)
	if id, ok := a.fieldSetIdx[key]; ok {
		return id
	}
	id := FieldSetID(len(a.fieldSets))
	a.fieldSets = append(a.fieldSets, fs)
	a.fieldSetIdx[key] = id
	return id
}

func canonicalFieldSetKey(fs FieldSet) string {
	s := fmt.Sprintf("%d|", fs.Parent)
	for _, it := range fs.Items {
		s += fmt.Sprintf("%d:%d,", it.Field, it.SubSet)
	}
	return s
}

// Freeze marks the arena as read-only; composition must not mutate it
// afterward (spec.md §4.1: "read-only; all lookups are O(1) or O(log n)").
func (a *Arena) Freeze() { a.frozen = true }

// Frozen reports whether the arena has been frozen.
func (a *Arena) Frozen() bool { return a.frozen }
