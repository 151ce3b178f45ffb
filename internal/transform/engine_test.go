package transform

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/ionifyjs/ionify/internal/cas"
	"github.com/ionifyjs/ionify/internal/loader"
	"github.com/ionifyjs/ionify/internal/version"
)

func newTestEngine(t *testing.T, runCount *int64) *Engine {
	t.Helper()
	reg := loader.NewRegistry()
	reg.Register(loader.Loader{
		Name:  "identity",
		Order: 0,
		Test:  func(path string) bool { return true },
		Run: func(in loader.Input) (loader.Output, error) {
			if runCount != nil {
				atomic.AddInt64(runCount, 1)
			}
			return loader.Output{Code: append([]byte("// transformed\n"), in.Contents...)}, nil
		},
	})
	store := cas.New(t.TempDir())
	e, err := New(reg, store, version.Hash("v1"), 64)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestTransformMissThenHit(t *testing.T) {
	var runs int64
	e := newTestEngine(t, &runs)
	ctx := context.Background()
	req := Request{Path: "a.ts", Contents: []byte("export const a = 1;"), Kind: loader.KindJS}

	r1, err := e.Transform(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if r1.Cached {
		t.Fatal("expected first transform to be a miss")
	}

	r2, err := e.Transform(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !r2.Cached {
		t.Fatal("expected second transform to hit the LRU")
	}
	if atomic.LoadInt64(&runs) != 1 {
		t.Fatalf("expected loader to run exactly once, ran %d times", runs)
	}
}

func TestTransformHitsCASAfterLRUEviction(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	req := Request{Path: "a.ts", Contents: []byte("export const a = 1;"), Kind: loader.KindJS}

	if _, err := e.Transform(ctx, req); err != nil {
		t.Fatal(err)
	}

	key := e.memoKey(req)
	e.lru.Remove(key)

	r, err := e.Transform(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Cached {
		t.Fatal("expected CAS hit after LRU eviction")
	}
}

func TestTransformChangedContentIsMiss(t *testing.T) {
	var runs int64
	e := newTestEngine(t, &runs)
	ctx := context.Background()

	if _, err := e.Transform(ctx, Request{Path: "a.ts", Contents: []byte("v1"), Kind: loader.KindJS}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Transform(ctx, Request{Path: "a.ts", Contents: []byte("v2"), Kind: loader.KindJS}); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt64(&runs) != 2 {
		t.Fatalf("expected loader to run twice for different content, ran %d times", runs)
	}
}

func TestTransformNoLoaderMatchReturnsError(t *testing.T) {
	reg := loader.NewRegistry()
	store := cas.New(t.TempDir())
	e, err := New(reg, store, version.Hash("v1"), 64)
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Transform(context.Background(), Request{Path: "a.ts", Contents: []byte("x")})
	if err == nil {
		t.Fatal("expected error when no loader matches")
	}
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	req := Request{Path: "a.ts", Contents: []byte("x"), Kind: loader.KindJS}

	e.Transform(ctx, req)
	e.Transform(ctx, req)

	stats := e.Stats()
	if stats.Misses != 1 || stats.Hits != 1 {
		t.Fatalf("Stats = %+v, want 1 miss and 1 hit", stats)
	}
}

func TestStatsReportsLRUSize(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	e.Transform(ctx, Request{Path: "a.ts", Contents: []byte("a"), Kind: loader.KindJS})
	e.Transform(ctx, Request{Path: "b.ts", Contents: []byte("b"), Kind: loader.KindJS})

	if got := e.Stats().Size; got != 2 {
		t.Fatalf("Stats().Size = %d, want 2", got)
	}
}

// TestTransformRunsFullLoaderChain verifies every matching loader runs in
// order, each seeing the previous loader's output, and that a loader
// returning a nil Code passes the input through unchanged.
func TestTransformRunsFullLoaderChain(t *testing.T) {
	reg := loader.NewRegistry()
	var order []string
	reg.Register(loader.Loader{
		Name:  "first",
		Order: 0,
		Test:  func(path string) bool { return true },
		Run: func(in loader.Input) (loader.Output, error) {
			order = append(order, "first")
			return loader.Output{Code: append(in.Contents, []byte(":first")...)}, nil
		},
	})
	reg.Register(loader.Loader{
		Name:  "passthrough",
		Order: 5,
		Test:  func(path string) bool { return true },
		Run: func(in loader.Input) (loader.Output, error) {
			order = append(order, "passthrough")
			return loader.Output{}, nil // null: pass through
		},
	})
	reg.Register(loader.Loader{
		Name:  "last",
		Order: 10,
		Test:  func(path string) bool { return true },
		Run: func(in loader.Input) (loader.Output, error) {
			order = append(order, "last")
			return loader.Output{Code: append(in.Contents, []byte(":last")...)}, nil
		},
	})

	store := cas.New(t.TempDir())
	e, err := New(reg, store, version.Hash("v1"), 64)
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.Transform(context.Background(), Request{Path: "a.ts", Contents: []byte("src"), Kind: loader.KindJS})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(res.Output.Code), "src:first:last"; got != want {
		t.Fatalf("chained output = %q, want %q", got, want)
	}
	if len(order) != 3 || order[0] != "first" || order[1] != "passthrough" || order[2] != "last" {
		t.Fatalf("loader run order = %v, want [first passthrough last]", order)
	}
}
