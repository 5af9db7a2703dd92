package opcache_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/n9te9/go-graphql-federation-gateway/internal/opcache"
	"github.com/n9te9/go-graphql-federation-gateway/internal/plan"
)

func key(op string) opcache.Key {
	return opcache.Key{
		SchemaBuildID: "build-1",
		SchemaVersion: "v1",
		OperationName: op,
		Document:      opcache.DocumentKey{Kind: opcache.DocumentText, Text: "{ " + op + " }"},
	}
}

// TestCache_SingleFlight reproduces spec.md §8's cache property directly:
// "the number of concurrent planning jobs per key is at most 1." N
// goroutines miss the same key simultaneously; only one build must run.
func TestCache_SingleFlight(t *testing.T) {
	c := opcache.New(10)
	var builds int32

	build := func() (*plan.Plan, error) {
		atomic.AddInt32(&builds, 1)
		time.Sleep(20 * time.Millisecond)
		return &plan.Plan{}, nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]*plan.Plan, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			p, err := c.GetOrBuild(key("widget"), build)
			if err != nil {
				t.Errorf("GetOrBuild: %v", err)
			}
			results[i] = p
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Fatalf("build ran %d times, want exactly 1", got)
	}
	for i, p := range results {
		if p != results[0] {
			t.Errorf("result %d = %p, want same plan pointer as result 0 %p", i, p, results[0])
		}
	}
}

func TestCache_HitAvoidsRebuild(t *testing.T) {
	c := opcache.New(10)
	var builds int32
	build := func() (*plan.Plan, error) {
		atomic.AddInt32(&builds, 1)
		return &plan.Plan{}, nil
	}

	if _, err := c.GetOrBuild(key("widget"), build); err != nil {
		t.Fatalf("GetOrBuild: %v", err)
	}
	if _, err := c.GetOrBuild(key("widget"), build); err != nil {
		t.Fatalf("GetOrBuild: %v", err)
	}

	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Fatalf("build ran %d times on repeated hit, want 1", got)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := opcache.New(2)
	build := func() (*plan.Plan, error) { return &plan.Plan{}, nil }

	if _, err := c.GetOrBuild(key("a"), build); err != nil {
		t.Fatalf("GetOrBuild a: %v", err)
	}
	if _, err := c.GetOrBuild(key("b"), build); err != nil {
		t.Fatalf("GetOrBuild b: %v", err)
	}
	// touch "a" so "b" becomes the least-recently-used entry.
	if _, err := c.GetOrBuild(key("a"), build); err != nil {
		t.Fatalf("GetOrBuild a again: %v", err)
	}
	if _, err := c.GetOrBuild(key("c"), build); err != nil {
		t.Fatalf("GetOrBuild c: %v", err)
	}

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 after eviction", c.Len())
	}

	var rebuilds int32
	trackingBuild := func() (*plan.Plan, error) {
		atomic.AddInt32(&rebuilds, 1)
		return &plan.Plan{}, nil
	}
	if _, err := c.GetOrBuild(key("b"), trackingBuild); err != nil {
		t.Fatalf("GetOrBuild b: %v", err)
	}
	if got := atomic.LoadInt32(&rebuilds); got != 1 {
		t.Fatalf("evicted key \"b\" was still cached: rebuild ran %d times, want 1", got)
	}
}

func TestCache_InvalidateSchemaEvictsStaleBuilds(t *testing.T) {
	c := opcache.New(10)
	build := func() (*plan.Plan, error) { return &plan.Plan{}, nil }

	stale := opcache.Key{SchemaBuildID: "build-1", SchemaVersion: "v1", OperationName: "widget",
		Document: opcache.DocumentKey{Kind: opcache.DocumentText, Text: "{ widget }"}}
	fresh := opcache.Key{SchemaBuildID: "build-2", SchemaVersion: "v2", OperationName: "widget",
		Document: opcache.DocumentKey{Kind: opcache.DocumentText, Text: "{ widget }"}}

	if _, err := c.GetOrBuild(stale, build); err != nil {
		t.Fatalf("GetOrBuild stale: %v", err)
	}
	if _, err := c.GetOrBuild(fresh, build); err != nil {
		t.Fatalf("GetOrBuild fresh: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}

	c.InvalidateSchema("build-2")
	if c.Len() != 1 {
		t.Fatalf("Len() = %d after InvalidateSchema, want 1", c.Len())
	}
}

func TestKey_HashDistinguishesDocumentKinds(t *testing.T) {
	text := opcache.Key{SchemaBuildID: "b", SchemaVersion: "v", OperationName: "op",
		Document: opcache.DocumentKey{Kind: opcache.DocumentText, Text: "{ x }"}}
	apq := opcache.Key{SchemaBuildID: "b", SchemaVersion: "v", OperationName: "op",
		Document: opcache.DocumentKey{Kind: opcache.DocumentAutomaticPersisted, APQHash: "{ x }"}}

	if text.Hash() == apq.Hash() {
		t.Fatal("text and automatic-persisted document keys hashed identically")
	}
}
