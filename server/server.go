package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/n9te9/go-graphql-federation-gateway/internal/dispatcher"
	"github.com/n9te9/go-graphql-federation-gateway/internal/executor"
	"github.com/n9te9/go-graphql-federation-gateway/internal/extension"
	"github.com/n9te9/go-graphql-federation-gateway/internal/gatewayerr"
	"github.com/n9te9/go-graphql-federation-gateway/internal/opcache"
	"github.com/n9te9/go-graphql-federation-gateway/internal/operation"
	"github.com/n9te9/go-graphql-federation-gateway/internal/plan"
	"github.com/n9te9/go-graphql-federation-gateway/internal/schema"
	"github.com/n9te9/go-graphql-federation-gateway/internal/solver"
	"github.com/n9te9/go-graphql-federation-gateway/internal/validator"
)

const gatewayVersion = "v0.1.0"

// Gateway is the HTTP/WebSocket ingress: it owns the frozen schema
// arena, the operation cache, the dispatcher, the extension pool, and
// the executor, and exposes them behind http.Handler (spec.md §6).
//
// Grounded on gateway/gateway.go's gateway struct (graphQLEndpoint,
// planner, executor, superGraph fields behind an http.Handler),
// generalized to internal/schema.Arena + internal/opcache.Cache +
// internal/executor.Executor instead of federation's planner/executor
// pair.
type Gateway struct {
	cfg      *Config
	arena    *schema.Arena
	cache    *opcache.Cache
	dispatch *dispatcher.Dispatcher
	ext      *extension.Pool
	exec     *executor.Executor
	upgrader websocket.Upgrader
	buildID  string
}

var _ http.Handler = (*Gateway)(nil)

// NewGateway composes the supergraph from cfg's services and wires
// the execution pipeline behind it.
func NewGateway(cfg *Config) (*Gateway, error) {
	sources, err := cfg.buildSources()
	if err != nil {
		return nil, err
	}
	return newGateway(cfg, sources)
}

// newGateway composes the supergraph from sources and wires the rest
// of the pipeline; shared by NewGateway and NewGatewayFromSDL.
func newGateway(cfg *Config, sources []schema.SubgraphSource) (*Gateway, error) {
	arena, err := schema.Build(sources)
	if err != nil {
		return nil, fmt.Errorf("failed to build supergraph: %w", err)
	}

	logger := slog.Default()
	tracer := noopTracer("federation-gateway")

	d := dispatcher.New(cfg.subgraphTimeout())

	pool := extension.NewPool()
	pool.Register("jwt-auth", func() *extension.Instance {
		return &extension.Instance{
			ID:         "jwt-auth",
			Capability: extension.CapAuthentication,
			Auth:       extension.NewJWTAuthenticator(defaultJWTKeyFunc),
		}
	})

	ex := executor.New(arena, d, pool, tracer, logger)
	ex.DevAssertions = cfg.DevAssertions

	return &Gateway{
		cfg:      cfg,
		arena:    arena,
		cache:    opcache.New(cfg.OperationCacheSize),
		dispatch: d,
		ext:      pool,
		exec:     ex,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		buildID:  uuid.NewString(),
	}, nil
}

// NewGatewayFromSDL builds a Gateway the same way NewGateway does, but
// takes each service's SDL directly instead of reading cfg.Services[i].SchemaFiles
// from disk. Used by tests and by embedders composing a supergraph
// from in-memory schema sources.
func NewGatewayFromSDL(cfg *Config, sdlByService map[string][]byte) (*Gateway, error) {
	sources, err := cfg.buildSources()
	if err != nil {
		return nil, err
	}
	for i, svc := range cfg.Services {
		if sdl, ok := sdlByService[svc.Name]; ok {
			sources[i].SDL = sdl
		}
	}
	return newGateway(cfg, sources)
}

// defaultJWTKeyFunc is a placeholder verifying key resolver; real
// deployments supply their own via extension registration.
func defaultJWTKeyFunc(t *jwt.Token) (any, error) {
	return nil, errors.New("no signing key configured")
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == g.cfg.SubscriptionPath:
		g.serveWebSocket(w, r)
	case r.URL.Path == g.cfg.Endpoint || r.URL.Path == "/":
		g.serveGraphQL(w, r)
	default:
		http.NotFound(w, r)
	}
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

// serveGraphQL implements the GraphQL-over-HTTP ingress contract of
// spec.md §6: GET for queries only (mutations get 405), POST for any
// operation type, application/json or application/graphql-response+json
// bodies.
func (g *Gateway) serveGraphQL(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.subgraphTimeout()*4)
	defer cancel()

	var req graphQLRequest
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req.Query = q.Get("query")
		req.OperationName = q.Get("operationName")
		if v := q.Get("variables"); v != "" {
			_ = json.Unmarshal([]byte(v), &req.Variables)
		}
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			g.writeRequestError(w, gatewayerr.Wrap(gatewayerr.KindBadRequest, "malformed request body", err))
			return
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if req.Query == "" {
		g.writeRequestError(w, gatewayerr.New(gatewayerr.KindBadRequest, "missing query"))
		return
	}

	headers := forwardableHeaders(r)
	auth, authErr := g.authenticate(ctx, headers)
	if authErr != nil {
		g.writeRequestError(w, authErr)
		return
	}

	p, bound, err := g.planOperation(req, r.Method)
	if err != nil {
		g.writeRequestError(w, err)
		return
	}

	execReq := &executor.Request{Operation: bound, Variables: bound.Variables, Auth: auth, Headers: headers}
	out, status, err := g.exec.Execute(ctx, p, execReq)
	if err != nil {
		g.writeRequestError(w, err)
		return
	}

	g.writeOutput(w, out, status)
}

func (g *Gateway) authenticate(ctx context.Context, headers map[string]string) (*extension.AuthResult, error) {
	inst, err := g.ext.Acquire("jwt-auth")
	if err != nil {
		return nil, nil // no authenticator registered: proceed unauthenticated
	}
	defer g.ext.Release("jwt-auth", inst)

	if _, ok := headers["authorization"]; !ok {
		return nil, nil
	}
	res, err := inst.Auth.Authenticate(ctx, headers)
	if err != nil {
		inst.Poison()
		return nil, gatewayerr.Wrap(gatewayerr.KindUnauthenticated, "authentication failed", err)
	}
	return res, nil
}

// planOperation drives C10 (opcache) -> C2/C3/C4/C5 on a miss,
// returning a cache-hit-or-built Plan plus the bound operation and
// variables needed for this specific request (spec.md §4.10: "Value =
// a fully built Plan ... without variables").
func (g *Gateway) planOperation(req graphQLRequest, method string) (*plan.Plan, *operation.BoundOperation, error) {
	bound, err := g.bindAndValidate(req)
	if err != nil {
		return nil, nil, err
	}

	if method == http.MethodGet && bound.Type != operation.Query {
		return nil, nil, gatewayerr.New(gatewayerr.KindBadRequest, "mutations must use POST")
	}

	key := opcache.Key{
		SchemaBuildID: g.buildID,
		SchemaVersion: g.buildID,
		OperationName: req.OperationName,
		Document:      opcache.DocumentKey{Kind: opcache.DocumentText, Text: req.Query},
	}

	p, err := g.cache.GetOrBuild(key, func() (*plan.Plan, error) {
		sol, err := solver.Solve(g.arena, bound)
		if err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.KindOperationPlanningError, "solve failed", err)
		}
		return plan.Build(g.arena, bound, sol)
	})
	if err != nil {
		return nil, nil, err
	}
	return p, bound, nil
}

func (g *Gateway) bindAndValidate(req graphQLRequest) (*operation.BoundOperation, error) {
	bound, err := operation.Bind(g.arena, operation.Request{
		Query:         req.Query,
		OperationName: req.OperationName,
		RawVariables:  req.Variables,
	})
	if err != nil {
		return nil, err
	}

	limits := validator.Limits{
		MaxDepth:      g.cfg.Limits.MaxDepth,
		MaxHeight:     g.cfg.Limits.MaxHeight,
		MaxAliases:    g.cfg.Limits.MaxAliases,
		MaxComplexity: g.cfg.Limits.MaxComplexity,
		MaxRootFields: g.cfg.Limits.MaxRootFields,
	}
	if err := validator.Validate(bound, limits); err != nil {
		return nil, err
	}
	return bound, nil
}

// writeOutput renders a response.Output as the JSON body of a
// GraphQL-over-HTTP response.
func (g *Gateway) writeOutput(w http.ResponseWriter, out any, status int) {
	w.Header().Set("Content-Type", "application/json")
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

// writeRequestError renders a top-level request error (spec.md §7:
// "no data, only errors"): parse/validate/plan/auth failures before
// execution ever began.
func (g *Gateway) writeRequestError(w http.ResponseWriter, err error) {
	ge, ok := gatewayerr.As(err)
	if !ok {
		ge = gatewayerr.Wrap(gatewayerr.KindInternalServerError, "internal error", err)
	}
	body := map[string]any{
		"errors": []map[string]any{
			{"message": ge.Message, "extensions": ge.Extensions()},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ge.HTTPStatus())
	_ = json.NewEncoder(w).Encode(body)
}

// forwardableHeaders lower-cases every ingress header into a flat
// map for schema.HeaderRule propagation and extension hooks.
func forwardableHeaders(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header))
	for k := range r.Header {
		out[httpHeaderKey(k)] = r.Header.Get(k)
	}
	return out
}

func httpHeaderKey(k string) string {
	b := []byte(k)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}

// Run loads the gateway config, builds the Gateway, and serves it
// with graceful shutdown on SIGINT/SIGTERM, following
// server/gateway.go's Run idiom.
func Run(configPath string) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load gateway config: %v", err)
	}

	gw, err := NewGateway(cfg)
	if err != nil {
		log.Fatalf("failed to build gateway: %v", err)
	}

	handler := http.Handler(gw)
	var shutdownTracer func(context.Context) error
	if cfg.Opentelemetry.TracingSetting.Enable {
		handler = otelhttp.NewHandler(handler, cfg.ServiceName)
		shutdownTracer, err = InitTracer(context.Background(), cfg.ServiceName, gatewayVersion)
		if err != nil {
			log.Fatalf("failed to initialize tracer: %v", err)
		}
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("starting federation gateway on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("gateway server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down federation gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("failed to shutdown gateway server: %v", err)
	}
	if shutdownTracer != nil {
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}
	log.Println("federation gateway stopped")
}

// Init scaffolds a starter gateway.yaml in the current directory,
// matching the teacher's `init` CLI subcommand.
func Init() error {
	const starter = `service_name: federation-gateway
port: 4000
endpoint: /graphql
subscription_path: /ws
operation_cache_size: 512
limits:
  max_depth: 16
  max_height: 64
  max_aliases: 30
  max_complexity: 1000
  max_root_fields: 50
services: []
`
	if _, err := os.Stat("gateway.yaml"); err == nil {
		return errors.New("gateway.yaml already exists")
	}
	return os.WriteFile("gateway.yaml", []byte(starter), 0o644)
}
