package operation_test

import (
	"testing"

	"github.com/n9te9/go-graphql-federation-gateway/internal/gatewayerr"
	"github.com/n9te9/go-graphql-federation-gateway/internal/operation"
	"github.com/n9te9/go-graphql-federation-gateway/internal/schema"
)

const bindSDL = `
type Query {
	widget(id: ID!, limit: Int = 10): Widget
	favoriteRepository: String
}
type Widget {
	id: ID!
	name: String
}
`

func bindArena(t *testing.T) *schema.Arena {
	t.Helper()
	arena, err := schema.Build([]schema.SubgraphSource{{Name: "widgets", URL: "http://widgets.internal", SDL: []byte(bindSDL)}})
	if err != nil {
		t.Fatalf("schema.Build: %v", err)
	}
	return arena
}

// TestBind_MissingRequiredArgumentFails grounds spec.md §4.2 step 3's
// required-argument presence check, which depends on
// internal/schema's FieldDefinition.ArgCount/Arena.FieldArgs actually
// being populated from the field's declared arguments.
func TestBind_MissingRequiredArgumentFails(t *testing.T) {
	arena := bindArena(t)
	_, err := operation.Bind(arena, operation.Request{Query: `{ widget { id } }`})
	if err == nil {
		t.Fatal("expected an error: \"id\" is a required argument and was not supplied")
	}
	ge, ok := gatewayerr.As(err)
	if !ok || ge.Kind != gatewayerr.KindOperationValidationError {
		t.Errorf("kind = %v, want OperationValidationError", ge)
	}
}

func TestBind_ProvidedArgumentCoercedAndDefaultApplied(t *testing.T) {
	arena := bindArena(t)
	op, err := operation.Bind(arena, operation.Request{Query: `{ widget(id: "1") { id } }`})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if len(op.Selections) != 1 {
		t.Fatalf("got %d root selections, want 1", len(op.Selections))
	}
	widget := op.Selections[0]
	if widget.Arguments["id"] != "1" {
		t.Errorf("id argument = %v, want %q", widget.Arguments["id"], "1")
	}
	if widget.Arguments["limit"] != "10" {
		t.Errorf("limit argument = %v (%T), want the schema-declared default literal %q", widget.Arguments["limit"], widget.Arguments["limit"], "10")
	}
}

func TestBind_ExplicitArgumentOverridesDefault(t *testing.T) {
	arena := bindArena(t)
	op, err := operation.Bind(arena, operation.Request{Query: `{ widget(id: "1", limit: 5) { id } }`})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if op.Selections[0].Arguments["limit"] != int64(5) {
		t.Errorf("limit argument = %v, want 5", op.Selections[0].Arguments["limit"])
	}
}

func TestBind_UnknownFieldFails(t *testing.T) {
	arena := bindArena(t)
	_, err := operation.Bind(arena, operation.Request{Query: `{ doesNotExist }`})
	if err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestBind_FragmentCycleFails(t *testing.T) {
	arena := bindArena(t)
	_, err := operation.Bind(arena, operation.Request{Query: `
		{ favoriteRepository ...A }
		fragment A on Query { ...A }
	`})
	if err == nil {
		t.Fatal("expected a fragment cycle error")
	}
}

func TestBind_VariableResolvedIntoArgument(t *testing.T) {
	arena := bindArena(t)
	op, err := operation.Bind(arena, operation.Request{
		Query:        `query($wid: ID!) { widget(id: $wid) { id } }`,
		RawVariables: map[string]any{"wid": "42"},
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if op.Selections[0].Arguments["id"] != "42" {
		t.Errorf("id argument = %v, want %q (resolved from $wid)", op.Selections[0].Arguments["id"], "42")
	}
}

func TestBind_RequiredVariableNotProvidedFails(t *testing.T) {
	arena := bindArena(t)
	_, err := operation.Bind(arena, operation.Request{Query: `query($wid: ID!) { widget(id: $wid) { id } }`})
	if err == nil {
		t.Fatal("expected an error: required variable $wid was not provided")
	}
	ge, ok := gatewayerr.As(err)
	if !ok || ge.Kind != gatewayerr.KindVariableError {
		t.Errorf("kind = %v, want VariableError", ge)
	}
}
