package executor_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/n9te9/go-graphql-federation-gateway/internal/dispatcher"
	"github.com/n9te9/go-graphql-federation-gateway/internal/executor"
	"github.com/n9te9/go-graphql-federation-gateway/internal/extension"
	"github.com/n9te9/go-graphql-federation-gateway/internal/operation"
	"github.com/n9te9/go-graphql-federation-gateway/internal/plan"
	"github.com/n9te9/go-graphql-federation-gateway/internal/schema"
	"github.com/n9te9/go-graphql-federation-gateway/internal/solver"
)

// buildPlan parses/binds/validates/solves/builds a single-subgraph
// operation end to end, the same pipeline opcache.GetOrBuild's build
// function would run.
func buildPlan(t *testing.T, arena *schema.Arena, query string) *plan.Plan {
	t.Helper()
	op, err := operation.Bind(arena, operation.Request{Query: query})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	sol, err := solver.Solve(arena, op)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	p, err := plan.Build(arena, op, sol)
	if err != nil {
		t.Fatalf("plan.Build: %v", err)
	}
	return p
}

func buildOp(t *testing.T, arena *schema.Arena, query string) *operation.BoundOperation {
	t.Helper()
	op, err := operation.Bind(arena, operation.Request{Query: query})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return op
}

func singleSubgraphArena(t *testing.T, sdl string, name, url string) *schema.Arena {
	t.Helper()
	arena, err := schema.Build([]schema.SubgraphSource{
		{Name: name, URL: url, SDL: []byte(sdl)},
	})
	if err != nil {
		t.Fatalf("schema.Build: %v", err)
	}
	return arena
}

func TestExecute_SimpleRootQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"product":{"id":"1","name":"Widget"}}}`)
	}))
	defer srv.Close()

	sdl := `
type Query { product: Product }
type Product { id: ID! name: String! }
`
	arena := singleSubgraphArena(t, sdl, "products", srv.URL)

	op := buildOp(t, arena, `{ product { id name } }`)
	sol, err := solver.Solve(arena, op)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	p, err := plan.Build(arena, op, sol)
	if err != nil {
		t.Fatalf("plan.Build: %v", err)
	}

	ex := executor.New(arena, dispatcher.New(time.Second), extension.NewPool(), nil, nil)
	out, status, err := ex.Execute(context.Background(), p, &executor.Request{Operation: op, Variables: op.Variables})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}

	want := map[string]any{
		"product": map[string]any{"id": "1", "name": "Widget"},
	}
	if diff := cmp.Diff(want, out.Data); diff != "" {
		t.Errorf("Data mismatch (-want +got):\n%s", diff)
	}
	if len(out.Errors) != 0 {
		t.Errorf("unexpected errors: %v", out.Errors)
	}
}

func TestExecute_SubgraphErrorPropagatesNull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"product":null},"errors":[{"message":"boom","path":["product"]}]}`)
	}))
	defer srv.Close()

	sdl := `
type Query { product: Product! }
type Product { id: ID! }
`
	arena := singleSubgraphArena(t, sdl, "products", srv.URL)
	p := buildPlan(t, arena, `{ product { id } }`)
	op := buildOp(t, arena, `{ product { id } }`)

	ex := executor.New(arena, dispatcher.New(time.Second), extension.NewPool(), nil, nil)
	out, _, err := ex.Execute(context.Background(), p, &executor.Request{Operation: op, Variables: op.Variables})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Errors) == 0 {
		t.Fatalf("expected a subgraph error to be recorded")
	}
	if out.Data != nil {
		t.Errorf("Data = %v, want null: the non-null root field product came back null", out.Data)
	}
}

func TestExecute_MutationRootsRunInDeclarationOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		query := string(body)

		// renameWidget's request arriving first (were the two dispatched
		// concurrently rather than serialized) would still be observed
		// after this sleep delays createWidget's response, catching a
		// regression to concurrent mutation dispatch.
		var field string
		switch {
		case strings.Contains(query, "createWidget"):
			field = "createWidget"
			time.Sleep(20 * time.Millisecond)
		case strings.Contains(query, "renameWidget"):
			field = "renameWidget"
		}

		mu.Lock()
		order = append(order, field)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":{%q:{"id":"1"}}}`, field)
	}))
	defer srv.Close()

	sdl := `
type Mutation { createWidget: Widget renameWidget: Widget }
type Widget { id: ID! }
type Query { widget: Widget }
`
	arena := singleSubgraphArena(t, sdl, "widgets", srv.URL)
	p := buildPlan(t, arena, `mutation { createWidget { id } renameWidget { id } }`)
	op := buildOp(t, arena, `mutation { createWidget { id } renameWidget { id } }`)

	if len(p.RootOrder) != 2 {
		t.Fatalf("expected 2 root partitions, got %d", len(p.RootOrder))
	}

	ex := executor.New(arena, dispatcher.New(time.Second), extension.NewPool(), nil, nil)
	out, _, err := ex.Execute(context.Background(), p, &executor.Request{Operation: op, Variables: op.Variables})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, ok := out.Data["createWidget"]; !ok {
		t.Errorf("missing createWidget in response")
	}
	if _, ok := out.Data["renameWidget"]; !ok {
		t.Errorf("missing renameWidget in response")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"createWidget", "renameWidget"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("mutation dispatch order mismatch (-want +got):\n%s", diff)
	}
}
