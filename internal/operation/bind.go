package operation

import (
	"strconv"
	"strings"

	"github.com/n9te9/go-graphql-federation-gateway/internal/schema"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// Request is the raw, untyped input to Bind (spec.md §4.2): operation
// text, an optional operation name, and variables as a raw map.
type Request struct {
	Query         string
	OperationName string
	RawVariables  map[string]any
}

// Parse parses operation text into an AST, failing with
// OperationParsingError on syntactic issues (spec.md §4.2.1). Adapted
// from gateway/gateway.go's use of graphql-parser's lexer/parser pair,
// generalized from schema SDL parsing to operation-document parsing.
func Parse(query string) (*ast.Document, error) {
	l := lexer.New(query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		return nil, parsingErr("%v", p.Errors())
	}
	return doc, nil
}

// Bind parses and binds req against arena, producing a BoundOperation
// whose fields all carry schema ids (spec.md §3, §4.2).
func Bind(arena *schema.Arena, req Request) (*BoundOperation, error) {
	doc, err := Parse(req.Query)
	if err != nil {
		return nil, err
	}

	op, err := selectOperation(doc, req.OperationName)
	if err != nil {
		return nil, err
	}

	fragments := collectFragments(doc)

	rootTypeName := rootTypeNameFor(op.Operation)
	rootType, ok := arena.LookupType(rootTypeName)
	if !ok {
		return nil, validationErr("schema has no root %s type", rootTypeName)
	}

	vars, err := bindVariables(arena, op, req.RawVariables)
	if err != nil {
		return nil, err
	}

	b := &binder{arena: arena, fragments: fragments, vars: vars, visiting: map[string]bool{}}
	bound, err := b.bindSelectionSet(op.SelectionSet, rootType, nil)
	if err != nil {
		return nil, err
	}

	opType := Query
	switch op.Operation {
	case ast.Mutation:
		opType = Mutation
	case ast.Subscription:
		opType = Subscription
	}

	name := ""
	if op.Name != nil {
		name = op.Name.String()
	}

	return &BoundOperation{
		Type:       opType,
		Name:       name,
		RootType:   rootType,
		Selections: bound,
		Variables:  vars,
	}, nil
}

func selectOperation(doc *ast.Document, name string) (*ast.OperationDefinition, error) {
	var ops []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			ops = append(ops, op)
		}
	}
	if len(ops) == 0 {
		return nil, parsingErr("no operation found")
	}
	if len(ops) == 1 && name == "" {
		return ops[0], nil
	}
	if name == "" {
		return nil, validationErr("Missing operation name")
	}
	for _, op := range ops {
		if op.Name != nil && op.Name.String() == name {
			return op, nil
		}
	}
	return nil, validationErr("Unknown operation named '%s'.", name)
}

func collectFragments(doc *ast.Document) map[string]*ast.FragmentDefinition {
	out := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		if fd, ok := def.(*ast.FragmentDefinition); ok {
			out[fd.Name.String()] = fd
		}
	}
	return out
}

func rootTypeNameFor(op ast.OperationType) string {
	switch op {
	case ast.Mutation:
		return "Mutation"
	case ast.Subscription:
		return "Subscription"
	default:
		return "Query"
	}
}

// binder carries per-bind state: the schema arena, the document's
// fragment table, bound variables (for argument coercion) and
// fragment-spread cycle detection.
type binder struct {
	arena     *schema.Arena
	fragments map[string]*ast.FragmentDefinition
	vars      *Variables
	visiting  map[string]bool
}

// bindSelectionSet binds a selection list against parentType, inlining
// fragment spreads and inline fragments, per spec.md §4.2.2.
func (b *binder) bindSelectionSet(sels []ast.Selection, parentType schema.TypeID, typeConditions []schema.TypeID) ([]*BoundField, error) {
	var out []*BoundField
	for _, sel := range sels {
		switch s := sel.(type) {
		case *ast.Field:
			bf, err := b.bindField(s, parentType, typeConditions)
			if err != nil {
				return nil, err
			}
			if bf != nil {
				out = append(out, bf)
			}
		case *ast.InlineFragment:
			cond := typeConditions
			if s.TypeCondition != nil {
				tid, ok := b.arena.LookupType(s.TypeCondition.String())
				if !ok {
					return nil, validationErr("unknown type condition %q", s.TypeCondition.String())
				}
				cond = append(append([]schema.TypeID{}, typeConditions...), tid)
			}
			children, err := b.bindSelectionSet(s.SelectionSet, parentType, cond)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		case *ast.FragmentSpread:
			name := s.Name.String()
			if b.visiting[name] {
				return nil, validationErr("fragment cycle detected at %q", name)
			}
			frag, ok := b.fragments[name]
			if !ok {
				return nil, validationErr("Unknown fragment %q.", name)
			}
			cond := typeConditions
			if frag.TypeCondition != nil {
				tid, ok := b.arena.LookupType(frag.TypeCondition.String())
				if !ok {
					return nil, validationErr("unknown type condition %q", frag.TypeCondition.String())
				}
				cond = append(append([]schema.TypeID{}, typeConditions...), tid)
			}
			b.visiting[name] = true
			children, err := b.bindSelectionSet(frag.SelectionSet, parentType, cond)
			delete(b.visiting, name)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		}
	}
	return out, nil
}

func (b *binder) bindField(f *ast.Field, parentType schema.TypeID, typeConditions []schema.TypeID) (*BoundField, error) {
	name := f.Name.String()
	responseKey := name
	hadAlias := false
	if f.Alias != nil && f.Alias.String() != "" {
		responseKey = f.Alias.String()
		hadAlias = true
	}

	if schema.IsIntrospectionField(name) {
		children, err := b.bindSelectionSet(f.SelectionSet, parentType, typeConditions)
		if err != nil {
			return nil, err
		}
		return &BoundField{
			Field:          schema.InvalidFieldID,
			ResponseKey:    responseKey,
			Alias:          hadAlias,
			TypeConditions: typeConditions,
			Conditions:     b.bindConditions(f.Directives),
			Selections:     children,
			Arguments:      b.bindArguments(f.Arguments),
		}, nil
	}

	fid, ok := b.arena.FieldByName(parentType, name)
	if !ok {
		td := b.arena.Type(parentType)
		typeName := ""
		if td != nil {
			typeName = b.arena.String(td.Name)
		}
		return nil, validationErr("Cannot query field %q on type %q.", name, typeName)
	}
	fd := b.arena.Field(fid)

	isComposite := b.arena.IsComposite(fd.Type)
	if isComposite && len(f.SelectionSet) == 0 {
		return nil, validationErr("Field %q of type %q must have a selection of subfields.", name, fd.Type.String())
	}
	if !isComposite && len(f.SelectionSet) > 0 {
		return nil, validationErr("Field %q must not have a selection since type %q has no subfields.", name, fd.Type.String())
	}

	var children []*BoundField
	if isComposite {
		var err error
		children, err = b.bindSelectionSet(f.SelectionSet, fd.Type.Named, nil)
		if err != nil {
			return nil, err
		}
	}

	args, err := b.coerceArguments(fd, f.Arguments)
	if err != nil {
		return nil, err
	}

	return &BoundField{
		Field:          fid,
		ResponseKey:    responseKey,
		Alias:          hadAlias,
		TypeConditions: typeConditions,
		Conditions:     b.bindConditions(f.Directives),
		Selections:     children,
		Arguments:      args,
	}, nil
}

func (b *binder) bindConditions(dirs []*ast.Directive) []Condition {
	var out []Condition
	for _, d := range dirs {
		var kind ConditionKind
		switch d.Name {
		case "skip":
			kind = ConditionSkip
		case "include":
			kind = ConditionInclude
		default:
			continue
		}
		c := Condition{Kind: kind}
		for _, arg := range d.Arguments {
			if arg.Name.String() != "if" {
				continue
			}
			if v, ok := arg.Value.(*ast.Variable); ok {
				c.IsVariable = true
				c.VariableName = v.Name
			} else {
				c.Literal = arg.Value.String() == "true"
			}
		}
		out = append(out, c)
	}
	return out
}

func (b *binder) bindArguments(args []*ast.Argument) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, len(args))
	for _, a := range args {
		out[a.Name.String()] = b.valueToGo(a.Value)
	}
	return out
}

// coerceArguments coerces every argument against the field's declared
// input type tree: applies input-object defaults (not modeled further
// than pass-through here), validates required-argument presence, and
// resolves variable references to bound values (spec.md §4.2.3).
func (b *binder) coerceArguments(fd *schema.FieldDefinition, args []*ast.Argument) (map[string]any, error) {
	provided := make(map[string]*ast.Argument, len(args))
	for _, a := range args {
		provided[a.Name.String()] = a
	}

	declared := b.arena.FieldArgs(fd)
	out := make(map[string]any, len(declared))
	for _, argDef := range declared {
		name := b.arena.String(argDef.Name)
		a, has := provided[name]
		if !has {
			if argDef.Type.NonNull && !argDef.HasDefault {
				return nil, validationErr("Field %q argument %q of type %q is required, but it was not provided.", b.arena.String(fd.Name), name, argDef.Type.String())
			}
			if argDef.HasDefault {
				out[name] = argDef.DefaultValue
			}
			continue
		}
		out[name] = b.valueToGo(a.Value)
	}
	// carry through any argument not declared on the field unchanged;
	// undeclared arguments are not rejected here
	for name, a := range provided {
		if _, ok := out[name]; !ok {
			out[name] = b.valueToGo(a.Value)
		}
	}
	return out, nil
}

// valueToGo converts an ast.Value into a native Go value, resolving
// variable references against the bound Variables and applying the
// "best effort" scalar coercion spec.md §4.2.3/§6 describes: attempt
// format-specific parsers (bool, int, float) in order before falling
// back to a trimmed string/enum name.
func (b *binder) valueToGo(v ast.Value) any {
	switch val := v.(type) {
	case *ast.Variable:
		if bnd, ok := b.vars.Get(val.Name); ok && bnd.State != Undefined {
			return bnd.Value
		}
		return nil
	case *ast.ListValue:
		out := make([]any, 0, len(val.Values))
		for _, item := range val.Values {
			out = append(out, b.valueToGo(item))
		}
		return out
	case *ast.ObjectValue:
		out := make(map[string]any, len(val.Fields))
		for _, f := range val.Fields {
			out[f.Name.String()] = b.valueToGo(f.Value)
		}
		return out
	default:
		return coerceLiteral(v.String())
	}
}

// coerceLiteral implements the best-effort scalar parser fallback
// chain: boolean (exactly true or false), then integer, then float,
// then a quote-trimmed string/enum name (spec.md §6).
func coerceLiteral(raw string) any {
	if raw == "null" {
		return nil
	}
	if raw == "true" || raw == "false" {
		return raw == "true"
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return strings.Trim(raw, "\"")
}

// bindVariables binds declared variable definitions against the
// request's raw variables map, distinguishing Undefined from a
// provided null (spec.md §3).
func bindVariables(arena *schema.Arena, op *ast.OperationDefinition, raw map[string]any) (*Variables, error) {
	v := &Variables{Values: make(map[string]VariableBinding), declIdx: make(map[string]int)}
	for _, def := range op.VariableDefinitions {
		name := def.Variable.Name
		decl := VariableDecl{Name: name, Type: typeRefFromAST(arena, def.Type)}
		if def.DefaultValue != nil {
			decl.HasDefault = true
			decl.Default = coerceLiteral(def.DefaultValue.String())
		}
		v.declIdx[name] = len(v.Decls)
		v.Decls = append(v.Decls, decl)

		raw, provided := raw[name]
		switch {
		case provided:
			v.Values[name] = VariableBinding{State: ProvidedValue, Value: raw}
		case decl.HasDefault:
			v.Values[name] = VariableBinding{State: DefaultValue, Value: decl.Default}
		case decl.Type.NonNull:
			return nil, variableErr("Variable \"$%s\" of required type %q was not provided.", name, decl.Type.String())
		default:
			v.Values[name] = VariableBinding{State: Undefined}
		}
	}
	return v, nil
}

func typeRefFromAST(arena *schema.Arena, t ast.Type) schema.TypeRef {
	switch tt := t.(type) {
	case *ast.NonNullType:
		inner := typeRefFromAST(arena, tt.Type)
		inner.NonNull = true
		return inner
	case *ast.ListType:
		inner := typeRefFromAST(arena, tt.Type)
		return schema.TypeRef{List: true, OfType: &inner}
	case *ast.NamedType:
		id, _ := arena.LookupType(tt.Name.String())
		return schema.TypeRef{Named: id}
	default:
		return schema.TypeRef{Named: schema.InvalidTypeID}
	}
}
