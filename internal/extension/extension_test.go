package extension_test

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/n9te9/go-graphql-federation-gateway/internal/extension"
	"github.com/n9te9/go-graphql-federation-gateway/internal/gatewayerr"
)

func TestPool_AcquireCreatesThenReuses(t *testing.T) {
	p := extension.NewPool()
	var built int
	p.Register("rate-limiter", func() *extension.Instance {
		built++
		return &extension.Instance{ID: "rate-limiter", Capability: extension.CapHooks}
	})

	inst, err := p.Acquire("rate-limiter")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release("rate-limiter", inst)

	if _, err := p.Acquire("rate-limiter"); err != nil {
		t.Fatalf("Acquire (reuse): %v", err)
	}
	if built != 1 {
		t.Errorf("factory invoked %d times, want 1 (second Acquire should reuse)", built)
	}
}

func TestPool_PoisonedInstanceIsNotReleased(t *testing.T) {
	p := extension.NewPool()
	var built int
	p.Register("rate-limiter", func() *extension.Instance {
		built++
		return &extension.Instance{ID: "rate-limiter", Capability: extension.CapHooks}
	})

	inst, err := p.Acquire("rate-limiter")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	inst.Poison()
	p.Release("rate-limiter", inst)

	if _, err := p.Acquire("rate-limiter"); err != nil {
		t.Fatalf("Acquire after poison: %v", err)
	}
	if built != 2 {
		t.Errorf("factory invoked %d times, want 2 (a poisoned instance must not be handed back out)", built)
	}
}

func TestPool_AcquireUnknownIDFails(t *testing.T) {
	p := extension.NewPool()
	_, err := p.Acquire("does-not-exist")
	if err == nil {
		t.Fatal("expected an error for an unregistered extension id")
	}
	ge, ok := gatewayerr.As(err)
	if !ok || ge.Kind != gatewayerr.KindExtensionError {
		t.Errorf("kind = %v, want ExtensionError", ge)
	}
}

func TestJWTAuthenticator_ValidBearerToken(t *testing.T) {
	secret := []byte("test-signing-secret")
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1", "scope": "read write"})
	signed, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	auth := extension.NewJWTAuthenticator(func(*jwt.Token) (any, error) { return secret, nil })
	res, err := auth.Authenticate(context.Background(), map[string]string{"authorization": "Bearer " + signed})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.Subject != "user-1" {
		t.Errorf("Subject = %q, want %q", res.Subject, "user-1")
	}

	scopes := extension.ScopesFromClaims(res.Claims)
	if !scopes["read"] || !scopes["write"] {
		t.Errorf("scopes = %v, want read and write set", scopes)
	}
}

func TestJWTAuthenticator_MissingHeaderFails(t *testing.T) {
	auth := extension.NewJWTAuthenticator(func(*jwt.Token) (any, error) { return []byte("x"), nil })
	_, err := auth.Authenticate(context.Background(), map[string]string{})
	if err == nil {
		t.Fatal("expected an error for a missing authorization header")
	}
	ge, ok := gatewayerr.As(err)
	if !ok || ge.Kind != gatewayerr.KindUnauthenticated {
		t.Errorf("kind = %v, want Unauthenticated", ge)
	}
}

func TestJWTAuthenticator_InvalidSignatureFails(t *testing.T) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"}).SignedString([]byte("right-secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	auth := extension.NewJWTAuthenticator(func(*jwt.Token) (any, error) { return []byte("wrong-secret"), nil })
	_, err = auth.Authenticate(context.Background(), map[string]string{"authorization": "Bearer " + signed})
	if err == nil {
		t.Fatal("expected an error for a bad signature")
	}
}
