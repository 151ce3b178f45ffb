// Package transform implements the Transform Engine: it
// resolves a request to a Loader, computes a memo key from the content hash
// plus the loader chain's signature plus the version hash, and serves from
// an in-memory LRU before falling back to the CAS and finally to running
// the loader. Concurrent requests for the same memo key are deduplicated
// via singleflight so a cache stampede never runs the same transform twice.
//
// The cache-then-recompute shape mirrors esmdev's own transCache
// (esmdev/esmdev.go's handleSource: check sync.Map cache keyed by mtime,
// else transform and store). This engine generalizes that one-process
// in-memory cache into a two-tier LRU-then-CAS cache keyed by content
// rather than mtime, since Ionify needs hits to survive a process
// restart.
package transform

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/ionifyjs/ionify/internal/cas"
	"github.com/ionifyjs/ionify/internal/hash"
	"github.com/ionifyjs/ionify/internal/ionifyerr"
	"github.com/ionifyjs/ionify/internal/loader"
	"github.com/ionifyjs/ionify/internal/version"
)

// Request describes one module to transform.
type Request struct {
	Path     string
	Contents []byte
	Kind     loader.Kind
	// LoaderName, if set, selects a registered loader by name instead of
	// the first Test-matching one. The Dev Dispatcher uses this when a
	// request's query string (?inline, ?module) already determines which
	// loader variant applies.
	LoaderName string
}

// Result is a transform's cacheable output, plus whether it was served from
// cache.
type Result struct {
	Output loader.Output
	Cached bool
}

// Counters tracks engine-wide cache statistics, exposed for diagnostics
// through Stats. The dev dispatcher's X-Ionify-Cache header does not read
// them; it follows the Graph Store's Record result.
type Counters struct {
	Hits   int64
	Misses int64
	Size   int
}

// counters holds the live, concurrency-safe tally the engine updates; Stats
// takes a consistent snapshot via atomic loads.
type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// Engine is the Transform Engine.
type Engine struct {
	registry *loader.Registry
	cas      *cas.Store
	version  version.Hash

	lru   *lru.Cache
	group singleflight.Group

	counters counters
}

// memoEntry is what the LRU and CAS store: the loader output plus the
// content hash it was computed from, so a CAS hit can be validated against
// the Open Question's "stale config_hash => treat as missing" rule.
type memoEntry struct {
	ContentHash string `json:"content_hash"`
	Output      loader.Output
}

// New constructs an Engine. lruSize bounds the in-memory tier; cas and v
// select the on-disk tier and its version namespace.
func New(registry *loader.Registry, casStore *cas.Store, v version.Hash, lruSize int) (*Engine, error) {
	if lruSize < 1 {
		lruSize = 512
	}
	c, err := lru.New(lruSize)
	if err != nil {
		return nil, fmt.Errorf("transform: new lru: %w", err)
	}
	return &Engine{registry: registry, cas: casStore, version: v, lru: c}, nil
}

// memoKey computes the cache key for a request: content hash of the source
// bytes, domain-separated with the loader chain's signature so changing
// loader configuration invalidates every cached entry.
func (e *Engine) memoKey(req Request) string {
	contentHash := hash.Bytes(req.Contents)
	sig := hash.Strings(e.registry.SignatureParts()...)
	combined := hash.Strings(contentHash.String(), sig.String(), string(e.version), string(req.Kind), req.LoaderName)
	return combined.String()
}

// Transform resolves req to a Loader and runs it, serving from the LRU or
// CAS if a fresh entry exists. Concurrent callers with the same memo key
// share one in-flight execution.
func (e *Engine) Transform(ctx context.Context, req Request) (Result, error) {
	key := e.memoKey(req)
	contentHash := hash.Bytes(req.Contents).String()

	if v, ok := e.lru.Get(key); ok {
		entry := v.(memoEntry)
		if entry.ContentHash == contentHash {
			e.counters.hits.Add(1)
			return Result{Output: entry.Output, Cached: true}, nil
		}
	}

	if data, ok := e.cas.Read(e.version, key, "entry.bin"); ok {
		entry, err := decodeMemoEntry(data)
		if err == nil && entry.ContentHash == contentHash {
			e.lru.Add(key, entry)
			e.counters.hits.Add(1)
			return Result{Output: entry.Output, Cached: true}, nil
		}
		// stale or corrupt cache entry: treated identically to a miss,
		// never as an error (Open Question: stale config_hash is a miss).
	}

	e.counters.misses.Add(1)

	v, err, _ := e.group.Do(key, func() (any, error) {
		return e.runUncached(req, contentHash, key)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// runUncached runs the full loader chain matching req.Path: each loader sees
// the previous loader's code, and a loader returning a nil Code passes
// through unchanged (the design's "null return means pass through").
func (e *Engine) runUncached(req Request, contentHash, key string) (Result, error) {
	var chain []loader.Loader
	if req.LoaderName != "" {
		l, ok := e.registry.Find(req.LoaderName)
		if !ok {
			return Result{}, &ionifyerr.TransformError{Path: req.Path, Err: fmt.Errorf("no loader named %s", req.LoaderName)}
		}
		chain = []loader.Loader{l}
	} else {
		chain = e.registry.MatchChain(req.Path)
	}
	if len(chain) == 0 {
		return Result{}, &ionifyerr.TransformError{Path: req.Path, Err: fmt.Errorf("no loader matched %s", req.Path)}
	}

	in := loader.Input{Path: req.Path, Contents: req.Contents, Kind: req.Kind}
	var out loader.Output
	ran := false
	for _, l := range chain {
		res, err := l.Run(in)
		if err != nil {
			return Result{}, &ionifyerr.TransformError{Path: req.Path, Err: err}
		}
		if res.Code == nil {
			continue // pass through: this loader declined to touch the input
		}
		out = res
		ran = true
		in = loader.Input{Path: req.Path, Contents: res.Code, Kind: req.Kind}
	}
	if !ran {
		out = loader.Output{Code: req.Contents}
	}

	entry := memoEntry{ContentHash: contentHash, Output: out}
	e.lru.Add(key, entry)
	if data, encErr := encodeMemoEntry(entry); encErr == nil {
		// CAS write failures are non-fatal: a failed persist
		// just means this entry won't survive a restart.
		_ = e.cas.Write(e.version, key, "entry.bin", data)
	}

	return Result{Output: out, Cached: false}, nil
}

// Stats returns a snapshot of the engine's cache counters, including the
// current LRU entry count.
func (e *Engine) Stats() Counters {
	return Counters{Hits: e.counters.hits.Load(), Misses: e.counters.misses.Load(), Size: e.lru.Len()}
}
