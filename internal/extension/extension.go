// Package extension implements the sandboxed, versioned hook runtime
// of spec.md §4.9: authentication, query/response authorization,
// resolver substitution, and request-lifecycle hooks, each drawn from
// a pool of reusable instances keyed by extension id.
//
// The teacher has no extension system; this package is new code
// written in the teacher's constructor/interface idiom (small structs,
// an explicit constructor, narrow interfaces per capability) and uses
// github.com/golang-jwt/jwt/v5 — the same library
// volaticloud/internal/auth uses for bearer-token validation — for the
// default in-process Authentication hook.
package extension

import (
	"context"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/n9te9/go-graphql-federation-gateway/internal/gatewayerr"
)

// Capability tags which hook kind an extension instance implements
// (spec.md §9: "a capability-set interface per hook kind; the pool
// returns an instance that implements exactly one capability set").
type Capability uint8

const (
	CapAuthentication Capability = iota
	CapQueryAuthorization
	CapResolver
	CapResponseAuthorization
	CapHooks
)

// AuthResult is returned by an Authentication hook.
type AuthResult struct {
	Token   *jwt.Token
	Claims  jwt.MapClaims
	Subject string
}

// Authenticator is the CapAuthentication capability.
type Authenticator interface {
	Authenticate(ctx context.Context, headers map[string]string) (*AuthResult, error)
}

// Decision is returned by an authorization hook for one element.
type Decision struct {
	Allowed bool
	Reason  string
}

// QueryAuthorizer is the CapQueryAuthorization capability, invoked
// during plan building (spec.md §4.9).
type QueryAuthorizer interface {
	AuthorizeQuery(ctx context.Context, policy string, scopes []string, auth *AuthResult) (Decision, error)
}

// ResponseAuthorizer is the CapResponseAuthorization capability,
// invoked after subgraph data arrives to mask fields post-hoc.
type ResponseAuthorizer interface {
	AuthorizeResponse(ctx context.Context, policy string, value any, auth *AuthResult) (Decision, error)
}

// Resolver is the CapResolver capability: an extension substituting
// for a subgraph (spec.md §4.9 "Resolver (as a subgraph substitute)").
type Resolver interface {
	Resolve(ctx context.Context, directive string, args map[string]any) ([]byte, error)
}

// Hooks is the CapHooks capability for request-lifecycle callbacks.
type Hooks interface {
	OnRequest(ctx context.Context) error
	OnResponse(ctx context.Context, data []byte) error
	OnSubgraphRequest(ctx context.Context, subgraph string, body []byte) error
}

// Instance is one pooled extension instance. Poisoned instances (any
// hook returning an unrecoverable host error) are never returned to
// the pool again (spec.md §4.9).
type Instance struct {
	ID         string
	Capability Capability
	Auth       Authenticator
	QueryAuthz QueryAuthorizer
	RespAuthz  ResponseAuthorizer
	Resolve    Resolver
	Hooks      Hooks
	poisoned   bool
}

// Poison marks the instance non-recyclable.
func (i *Instance) Poison() { i.poisoned = true }

// Pool is a fixed-capability pool of Instances keyed by extension id,
// matching spec.md §4.9's "pools reusable instances."
type Pool struct {
	mu        sync.Mutex
	factories map[string]func() *Instance
	free      map[string][]*Instance
}

// NewPool creates an empty extension pool.
func NewPool() *Pool {
	return &Pool{factories: make(map[string]func() *Instance), free: make(map[string][]*Instance)}
}

// Register installs a factory for extension id.
func (p *Pool) Register(id string, factory func() *Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factories[id] = factory
}

// Acquire returns a pooled instance for id, creating one if the pool
// is empty.
func (p *Pool) Acquire(id string) (*Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if free := p.free[id]; len(free) > 0 {
		inst := free[len(free)-1]
		p.free[id] = free[:len(free)-1]
		return inst, nil
	}
	factory, ok := p.factories[id]
	if !ok {
		return nil, gatewayerr.New(gatewayerr.KindExtensionError, "unknown extension id: "+id)
	}
	return factory(), nil
}

// Release returns inst to the pool unless it has been poisoned.
func (p *Pool) Release(id string, inst *Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inst.poisoned {
		return
	}
	p.free[id] = append(p.free[id], inst)
}

// JWTAuthenticator is the default Authentication hook: it validates a
// bearer token from the "authorization" header using a fixed HMAC/RSA
// key set, giving @authenticated/@requiresScopes query modifiers
// (internal/plan) a real token to inspect instead of a stub.
type JWTAuthenticator struct {
	KeyFunc jwt.Keyfunc
}

func NewJWTAuthenticator(keyFunc jwt.Keyfunc) *JWTAuthenticator {
	return &JWTAuthenticator{KeyFunc: keyFunc}
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, headers map[string]string) (*AuthResult, error) {
	raw := headers["authorization"]
	if raw == "" {
		return nil, gatewayerr.New(gatewayerr.KindUnauthenticated, "missing authorization header")
	}
	const prefix = "Bearer "
	if len(raw) > len(prefix) && raw[:len(prefix)] == prefix {
		raw = raw[len(prefix):]
	}

	token, err := jwt.Parse(raw, a.KeyFunc)
	if err != nil || !token.Valid {
		return nil, gatewayerr.Wrap(gatewayerr.KindUnauthenticated, "invalid token", err)
	}

	claims, _ := token.Claims.(jwt.MapClaims)
	subject := ""
	if claims != nil {
		if sub, ok := claims["sub"].(string); ok {
			subject = sub
		}
	}
	return &AuthResult{Token: token, Claims: claims, Subject: subject}, nil
}

// ScopesFromClaims extracts the "scope" claim as a string set,
// for @requiresScopes evaluation.
func ScopesFromClaims(claims jwt.MapClaims) map[string]bool {
	out := make(map[string]bool)
	if claims == nil {
		return out
	}
	switch v := claims["scope"].(type) {
	case string:
		for _, s := range splitSpace(v) {
			out[s] = true
		}
	case []any:
		for _, s := range v {
			if str, ok := s.(string); ok {
				out[str] = true
			}
		}
	}
	return out
}

func splitSpace(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if r == ' ' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}
