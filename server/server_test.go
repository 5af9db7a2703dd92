package server_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/n9te9/go-graphql-federation-gateway/server"
)

// newTestGateway wires a Gateway against a single fake subgraph, the
// same pattern internal/executor/executor_test.go's singleSubgraphArena
// uses, but driven through the HTTP ingress boundary instead of
// calling internal/executor directly.
func newTestGateway(t *testing.T, sdl string, handler http.HandlerFunc) (*server.Gateway, *httptest.Server) {
	t.Helper()
	sub := httptest.NewServer(handler)
	t.Cleanup(sub.Close)

	cfg := &server.Config{
		Endpoint:           "/graphql",
		SubscriptionPath:   "/ws",
		OperationCacheSize: 16,
		Services: []server.ServiceConfig{
			{Name: "products", URL: sub.URL, Protocol: "http"},
		},
	}
	gw, err := server.NewGatewayFromSDL(cfg, map[string][]byte{"products": []byte(sdl)})
	if err != nil {
		t.Fatalf("NewGatewayFromSDL: %v", err)
	}
	return gw, sub
}

func TestServeGraphQL_SimpleQuery(t *testing.T) {
	sdl := `
type Query { product: Product }
type Product { id: ID! name: String! }
`
	gw, _ := newTestGateway(t, sdl, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"product":{"id":"1","name":"Widget"}}}`)
	})

	body := strings.NewReader(`{"query":"{ product { id name } }"}`)
	req := httptest.NewRequest(http.MethodPost, "/graphql", body)
	rec := httptest.NewRecorder()

	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}

	var out struct {
		Data   map[string]any `json:"data"`
		Errors []any          `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", out.Errors)
	}
	product, _ := out.Data["product"].(map[string]any)
	if product["name"] != "Widget" {
		t.Errorf("product.name = %v, want Widget", product["name"])
	}
}

func TestServeGraphQL_MissingQueryIsBadRequest(t *testing.T) {
	gw, _ := newTestGateway(t, `type Query { x: String }`, func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestServeGraphQL_GetMutationRejected(t *testing.T) {
	sdl := `
type Query { x: String }
type Mutation { set(v: Int!): Int }
`
	gw, _ := newTestGateway(t, sdl, func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/graphql?query=mutation{set(v:1)}", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for GET mutation", rec.Code)
	}
}

func TestServeGraphQL_UnknownRouteIs404(t *testing.T) {
	gw, _ := newTestGateway(t, `type Query { x: String }`, func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/not-a-route", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
