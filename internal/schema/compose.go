package schema

import (
	"fmt"
	"strings"

	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// SubgraphSource is one subgraph's raw SDL plus its transport config,
// the build-time input to Build (spec.md §3 Subgraph entity).
type SubgraphSource struct {
	Name     string
	URL      string
	WSURL    string
	Protocol Protocol
	Headers  []HeaderRule
	SDL      []byte
}

// BuildError reports a schema composition failure (spec.md §4.1:
// "duplicate type, unknown referenced type, malformed federation
// directive, invalid input-value coercion").
type BuildError struct {
	Reason string
}

func (e *BuildError) Error() string { return e.Reason }

// Build composes a frozen Arena from a set of subgraph SDL sources.
// It is adapted from federation/graph/subgraph_v2.go's NewSubGraphV2
// (per-subgraph directive extraction) and
// federation/graph/super_graph_v2.go's NewSuperGraphV2/composeSchema
// (cross-subgraph merge), replacing "deep-copy into one shared
// *ast.Document" with "intern into arena id tables."
func Build(sources []SubgraphSource) (*Arena, error) {
	if len(sources) == 0 {
		return nil, &BuildError{Reason: "no subgraphs to compose"}
	}

	a := NewArena()
	docs := make([]*ast.Document, len(sources))

	for i, src := range sources {
		l := lexer.New(string(src.SDL))
		p := parser.New(l)
		doc := p.ParseDocument()
		if len(p.Errors()) > 0 {
			return nil, &BuildError{Reason: fmt.Sprintf("subgraph %q: parse error: %v", src.Name, p.Errors())}
		}
		docs[i] = doc

		sgID := SubgraphID(len(a.subgraphs))
		a.subgraphs = append(a.subgraphs, Subgraph{
			ID: sgID, Name: src.Name, URL: src.URL, WSURL: src.WSURL,
			Protocol: src.Protocol, Headers: src.Headers,
		})
	}

	// Pass 1: register every type across every subgraph (object,
	// interface, union, enum, input-object, scalar), merging fields by
	// name the way mergeObjectTypeDefinitionDeep/mergeFields does.
	for i, doc := range docs {
		sgID := SubgraphID(i)
		for _, def := range doc.Definitions {
			if err := a.mergeDefinition(sgID, def); err != nil {
				return nil, err
			}
		}
	}

	// Pass 2: now that every type exists, resolve field type references,
	// arguments, @key/@requires/@provides FieldSets and resolvers —
	// this mirrors buildOwnershipMap's two-pass "types first, then
	// resolvability" structure.
	for i, doc := range docs {
		sgID := SubgraphID(i)
		for _, def := range doc.Definitions {
			if err := a.wireResolvers(sgID, def); err != nil {
				return nil, err
			}
		}
	}

	if err := a.validateInvariants(); err != nil {
		return nil, err
	}

	a.Freeze()
	return a, nil
}

func (a *Arena) ensureType(name string, kind TypeKind) *TypeDefinition {
	sid := a.Intern(name)
	if id, ok := a.typeIdx[sid]; ok {
		return &a.types[id]
	}
	id := TypeID(len(a.types))
	a.types = append(a.types, TypeDefinition{Name: sid, Kind: kind})
	a.typeIdx[sid] = id
	return &a.types[id]
}

func (a *Arena) mergeDefinition(sg SubgraphID, def ast.Definition) error {
	switch d := def.(type) {
	case *ast.ObjectTypeDefinition:
		td := a.ensureType(d.Name.String(), KindObject)
		a.markSubgraph(td, sg)
		return a.mergeFieldDefs(sg, td, d.Fields, d.Directives)
	case *ast.ObjectTypeExtension:
		td := a.ensureType(d.Name.String(), KindObject)
		a.markSubgraph(td, sg)
		return a.mergeFieldDefs(sg, td, d.Fields, d.Directives)
	case *ast.InterfaceTypeDefinition:
		td := a.ensureType(d.Name.String(), KindInterface)
		a.markSubgraph(td, sg)
		return a.mergeFieldDefs(sg, td, d.Fields, d.Directives)
	case *ast.InputObjectTypeDefinition:
		td := a.ensureType(d.Name.String(), KindInputObject)
		a.markSubgraph(td, sg)
		return a.mergeInputFieldDefs(td, d.Fields)
	case *ast.EnumTypeDefinition:
		td := a.ensureType(d.Name.String(), KindEnum)
		a.markSubgraph(td, sg)
		for _, v := range d.Values {
			a.Intern(v.Value.String())
		}
	case *ast.ScalarTypeDefinition:
		td := a.ensureType(d.Name.String(), KindScalar)
		a.markSubgraph(td, sg)
	case *ast.UnionTypeDefinition:
		td := a.ensureType(d.Name.String(), KindUnion)
		a.markSubgraph(td, sg)
		for _, m := range d.Types {
			member := a.ensureType(m.String(), KindObject)
			member.Subgraphs = appendUniqueSubgraph(member.Subgraphs, sg)
			idx, _ := a.LookupType(m.String())
			td.UnionMembers = appendUniqueType(td.UnionMembers, idx)
		}
	}
	return nil
}

func appendUniqueSubgraph(s []SubgraphID, v SubgraphID) []SubgraphID {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func appendUniqueType(s []TypeID, v TypeID) []TypeID {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func (a *Arena) markSubgraph(td *TypeDefinition, sg SubgraphID) {
	td.Subgraphs = appendUniqueSubgraph(td.Subgraphs, sg)
}

func (a *Arena) mergeFieldDefs(sg SubgraphID, td *TypeDefinition, fields []*ast.FieldDefinition, typeDirectives []*ast.Directive) error {
	parentID, _ := a.LookupType(a.String(td.Name))
	for _, fd := range fields {
		fid, existing := a.FieldByName(parentID, fd.Name.String())
		var f *FieldDefinition
		if existing {
			f = a.Field(fid)
		} else {
			newID := FieldID(len(a.fields))
			argStart, argCount := a.internArguments(fd.Arguments)
			a.fields = append(a.fields, FieldDefinition{
				Parent:   parentID,
				Name:     a.Intern(fd.Name.String()),
				Type:     typeRefOf(a, fd.Type),
				ArgStart: argStart,
				ArgCount: argCount,
			})
			a.fieldIdx[fieldKey{parentID, a.Intern(fd.Name.String())}] = newID
			if td.FieldStart == 0 && td.FieldCount == 0 {
				td.FieldStart = int32(newID)
			}
			td.FieldCount++
			f = &a.fields[newID]
			fid = newID
		}
		for _, d := range fd.Directives {
			applyFieldDirective(a, f, d)
		}
		// Type-level directives (e.g. `interface Node @authorized { ... }`)
		// apply to every field the type declares, the same as if each
		// field repeated the directive itself (spec.md §8 scenario 3).
		for _, d := range typeDirectives {
			applyFieldDirective(a, f, d)
		}
	}
	return nil
}

// internArguments appends fd's argument/input-value definitions into the
// arena's flat Argument table and returns the (start, count) range
// FieldDefinition.ArgStart/ArgCount records, per spec.md §3's "argument
// range" on FieldDefinition.
func (a *Arena) internArguments(defs []*ast.InputValueDefinition) (int32, int32) {
	if len(defs) == 0 {
		return 0, 0
	}
	start := int32(len(a.args))
	for _, d := range defs {
		hasDefault := d.DefaultValue != nil
		var def any
		if hasDefault {
			def = d.DefaultValue.String()
		}
		a.args = append(a.args, Argument{
			Name:         a.Intern(d.Name.String()),
			Type:         typeRefOf(a, d.Type),
			DefaultValue: def,
			HasDefault:   hasDefault,
		})
	}
	return start, int32(len(defs))
}

func (a *Arena) mergeInputFieldDefs(td *TypeDefinition, fields []*ast.InputValueDefinition) error {
	parentID, _ := a.LookupType(a.String(td.Name))
	for _, fd := range fields {
		_, existing := a.FieldByName(parentID, fd.Name.String())
		if existing {
			continue
		}
		newID := FieldID(len(a.fields))
		var def any
		hasDefault := fd.DefaultValue != nil
		if hasDefault {
			def = fd.DefaultValue.String()
		}
		a.fields = append(a.fields, FieldDefinition{
			Parent: parentID,
			Name:   a.Intern(fd.Name.String()),
			Type:   typeRefOf(a, fd.Type),
		})
		a.fieldIdx[fieldKey{parentID, a.Intern(fd.Name.String())}] = newID
		td.FieldCount++
		_ = def
	}
	return nil
}

func typeRefOf(a *Arena, t ast.Type) TypeRef {
	if t == nil {
		return TypeRef{Named: InvalidTypeID}
	}
	switch tt := t.(type) {
	case *ast.NonNullType:
		inner := typeRefOf(a, tt.Type)
		inner.NonNull = true
		return inner
	case *ast.ListType:
		inner := typeRefOf(a, tt.Type)
		return TypeRef{List: true, OfType: &inner}
	case *ast.NamedType:
		id, ok := a.LookupType(tt.Name.String())
		if !ok {
			// forward reference: allocate a scalar placeholder, the
			// later definition (if object/enum/etc.) upgrades its Kind.
			td := a.ensureType(tt.Name.String(), KindScalar)
			id, _ = a.LookupType(a.String(td.Name))
		}
		return TypeRef{Named: id}
	default:
		return TypeRef{Named: InvalidTypeID}
	}
}

func applyFieldDirective(a *Arena, f *FieldDefinition, d *ast.Directive) {
	f.Directives = append(f.Directives, Directive{Name: a.Intern(d.Name)})
	switch d.Name {
	case "external":
		if f.External == nil {
			f.External = make(map[SubgraphID]bool)
		}
	case "shareable":
		f.Shareable = true
	case "authorized", "auth":
		meta := &AuthorizedMeta{}
		for _, arg := range d.Arguments {
			switch arg.Name.String() {
			case "scopes":
				meta.Scopes = splitFieldSetString(arg.Value.String())
			case "policy":
				meta.PolicyName = strings.Trim(arg.Value.String(), "\"")
			}
		}
		f.Authorized = meta
	}
}

func splitFieldSetString(s string) []string {
	s = strings.Trim(s, "\"[] ")
	return strings.Fields(strings.ReplaceAll(s, ",", " "))
}

// wireResolvers is the second composition pass: it re-reads each
// subgraph's definitions now that every TypeID/FieldID exists, and
// registers ResolverDefinitions plus @key/@requires/@provides/@derive
// FieldSets. Grounded on subgraph_v2.go's parseEntityKeys/parseField
// and super_graph_v2.go's buildOwnershipMap/canResolveField.
func (a *Arena) wireResolvers(sg SubgraphID, def ast.Definition) error {
	switch d := def.(type) {
	case *ast.ObjectTypeDefinition:
		return a.wireObjectResolvers(sg, d.Name.String(), d.Fields, d.Directives)
	case *ast.ObjectTypeExtension:
		return a.wireObjectResolvers(sg, d.Name.String(), d.Fields, d.Directives)
	}
	return nil
}

func (a *Arena) wireObjectResolvers(sg SubgraphID, typeName string, fields []*ast.FieldDefinition, directives []*ast.Directive) error {
	parentID, ok := a.LookupType(typeName)
	if !ok {
		return &BuildError{Reason: fmt.Sprintf("unknown referenced type %q", typeName)}
	}
	td := a.Type(parentID)

	var keyFieldSet FieldSetID = InvalidFieldSet
	isEntity := false
	for _, dir := range directives {
		if dir.Name == "key" {
			isEntity = true
			fs := a.parseFieldSetArg(parentID, dir)
			keyFieldSet = a.InternFieldSet(fs)
		}
	}

	for _, fd := range fields {
		fid, ok := a.FieldByName(parentID, fd.Name.String())
		if !ok {
			continue
		}
		f := a.Field(fid)

		if hasDirectiveNamed(fd.Directives, "external") {
			if f.External == nil {
				f.External = make(map[SubgraphID]bool)
			}
			f.External[sg] = true
			continue // external fields are declared, not resolvable, here
		}

		// @requires
		for _, dir := range fd.Directives {
			switch dir.Name {
			case "requires":
				fs := a.parseFieldSetArg(parentID, dir)
				if f.Requires == nil {
					f.Requires = make(map[SubgraphID]FieldSetID)
				}
				f.Requires[sg] = a.InternFieldSet(fs)
			case "provides":
				fs := a.parseFieldSetArgOnType(f.Type.Named, dir)
				if f.Provides == nil {
					f.Provides = make(map[SubgraphID]FieldSetID)
				}
				f.Provides[sg] = a.InternFieldSet(fs)
			case "derive":
				fs := a.parseFieldSetArg(parentID, dir)
				f.Derived = &DerivedMeta{SourceFields: a.InternFieldSet(fs)}
			}
		}

		kind := ResolverGraphqlRoot
		key := FieldSetID(InvalidFieldSet)
		if isEntity {
			kind = ResolverGraphqlEntity
			key = keyFieldSet
			if ks := a.FieldSet(keyFieldSet); ks != nil {
				for _, item := range ks.Items {
					if item.Field == fid {
						f.KeyMember = true
					}
				}
			}
		}
		if f.Derived != nil {
			kind = ResolverDerived
		}
		rid := ResolverID(len(a.resolvers))
		a.resolvers = append(a.resolvers, ResolverDefinition{
			ID: rid, Kind: kind, Subgraph: sg, Key: key, Cost: 1,
		})
		f.Resolvers = append(f.Resolvers, rid)
	}
	return nil
}

func hasDirectiveNamed(dirs []*ast.Directive, name string) bool {
	for _, d := range dirs {
		if d.Name == name {
			return true
		}
	}
	return false
}

// parseFieldSetArg parses a `fields: "a b { c }"`-shaped directive
// argument into an interned FieldSet rooted at parent, the same string
// grammar federation/graph/subgraph_v2.go's parseEntityKeys/parseField
// read with strings.Trim/strings.Fields, generalized to recurse into
// nested braces for composite keys.
func (a *Arena) parseFieldSetArg(parent TypeID, dir *ast.Directive) FieldSet {
	raw := ""
	for _, arg := range dir.Arguments {
		if arg.Name.String() == "fields" {
			raw = strings.Trim(arg.Value.String(), "\"")
		}
	}
	return a.parseFieldSetString(parent, raw)
}

func (a *Arena) parseFieldSetArgOnType(parent TypeID, dir *ast.Directive) FieldSet {
	return a.parseFieldSetArg(parent, dir)
}

// parseFieldSetString implements the minimal FieldSet grammar used by
// @key/@requires/@provides: space-separated field names, with an
// optional `{ ... }` sub-selection for composite keys, e.g.
// `"org { id name }"`.
func (a *Arena) parseFieldSetString(parent TypeID, raw string) FieldSet {
	tokens := tokenizeFieldSet(raw)
	items, _ := a.parseFieldSetTokens(parent, tokens, 0)
	return FieldSet{Parent: parent, Items: items}
}

func tokenizeFieldSet(raw string) []string {
	raw = strings.ReplaceAll(raw, "{", " { ")
	raw = strings.ReplaceAll(raw, "}", " } ")
	return strings.Fields(raw)
}

func (a *Arena) parseFieldSetTokens(parent TypeID, toks []string, i int) ([]FieldSetItem, int) {
	var items []FieldSetItem
	for i < len(toks) {
		tok := toks[i]
		if tok == "}" {
			return items, i + 1
		}
		fid, ok := a.FieldByName(parent, tok)
		if !ok {
			i++
			continue
		}
		item := FieldSetItem{Field: fid, SubSet: InvalidFieldSet}
		if i+1 < len(toks) && toks[i+1] == "{" {
			childParent := a.Field(fid).Type.Named
			children, next := a.parseFieldSetTokens(childParent, toks, i+2)
			item.SubSet = a.InternFieldSet(FieldSet{Parent: childParent, Items: children})
			i = next
		} else {
			i++
		}
		items = append(items, item)
	}
	return items, i
}

// validateInvariants checks that every field's type resolved, that every
// FieldSet item is a field of the set's parent type, and that every
// resolver names a known subgraph. Enum and input-object coercion
// tables are not checked.
func (a *Arena) validateInvariants() error {
	for _, f := range a.fields {
		if f.Type.Named == InvalidTypeID && !f.Type.List {
			return &BuildError{Reason: fmt.Sprintf("field %q: unknown referenced type", a.String(f.Name))}
		}
	}
	for fsid := range a.fieldSets {
		fs := a.fieldSets[fsid]
		for _, item := range fs.Items {
			fd := a.Field(item.Field)
			if fd == nil || fd.Parent != fs.Parent {
				return &BuildError{Reason: "field set item does not resolve to a field on its parent composite type"}
			}
		}
	}
	for _, r := range a.resolvers {
		if int(r.Subgraph) < 0 || int(r.Subgraph) >= len(a.subgraphs) {
			return &BuildError{Reason: "resolver references unknown subgraph"}
		}
	}
	return nil
}

// ResolversFor returns every resolver capable of answering field f.
func (a *Arena) ResolversFor(f FieldID) []ResolverDefinition {
	fd := a.Field(f)
	if fd == nil {
		return nil
	}
	out := make([]ResolverDefinition, 0, len(fd.Resolvers))
	for _, rid := range fd.Resolvers {
		out = append(out, *a.Resolver(rid))
	}
	return out
}

// FieldSetToString renders a FieldSet back to its "a b { c }" text.
func (a *Arena) FieldSetToString(id FieldSetID) string {
	fs := a.FieldSet(id)
	if fs == nil {
		return ""
	}
	var b strings.Builder
	for i, item := range fs.Items {
		if i > 0 {
			b.WriteByte(' ')
		}
		fd := a.Field(item.Field)
		b.WriteString(a.String(fd.Name))
		if item.SubSet != InvalidFieldSet {
			b.WriteString(" { ")
			b.WriteString(a.FieldSetToString(item.SubSet))
			b.WriteString(" }")
		}
	}
	return b.String()
}
