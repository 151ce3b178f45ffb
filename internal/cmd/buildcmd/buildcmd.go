// Package buildcmd implements the "ionify build" subcommand: a BFS over the
// Resolver starting at the entry points, fanned out across the Worker Pool
// one frontier level at a time, each module transformed through the same
// Transform Engine/CAS pipeline the Dev Dispatcher uses and recorded into
// the Graph Store. The resulting module plan is emitted as JSON for an
// external planner (a bundler, a static host, a BUILD-file generator) to
// consume; ionify itself does not link or minify a final bundle.
package buildcmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ionifyjs/ionify/internal/cas"
	"github.com/ionifyjs/ionify/internal/esbuildloader"
	"github.com/ionifyjs/ionify/internal/graph"
	"github.com/ionifyjs/ionify/internal/hash"
	"github.com/ionifyjs/ionify/internal/importscan"
	"github.com/ionifyjs/ionify/internal/loader"
	"github.com/ionifyjs/ionify/internal/logging"
	"github.com/ionifyjs/ionify/internal/resolver"
	"github.com/ionifyjs/ionify/internal/transform"
	"github.com/ionifyjs/ionify/internal/version"
	"github.com/ionifyjs/ionify/internal/workerpool"
)

// Args holds the arguments for the build subcommand.
type Args struct {
	Root    string
	Entry   []string
	Out     string
	CASDir  string
	GraphDir string
	Workers int
}

// planModule is one module's entry in the emitted build plan.
type planModule struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	ContentHash string   `json:"content_hash"`
	Deps        []string `json:"deps,omitempty"`
	DynamicDeps []string `json:"dynamic_deps,omitempty"`
}

// plan is the JSON document buildcmd emits to stdout (and --out/plan.json).
type plan struct {
	VersionHash string       `json:"version_hash"`
	CASRoot     string       `json:"cas_root"`
	Modules     []planModule `json:"modules"`
}

// Run performs the BFS build and writes the resulting plan.
func Run(args Args) error {
	if len(args.Entry) == 0 {
		return fmt.Errorf("buildcmd: at least one --entry is required")
	}

	root := args.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("buildcmd: resolve root: %w", err)
	}

	entries := make([]string, len(args.Entry))
	for i, e := range args.Entry {
		if filepath.IsAbs(e) {
			entries[i] = filepath.Clean(e)
		} else {
			entries[i] = filepath.Join(absRoot, e)
		}
	}

	cfg := version.FromEnv(entries)
	v, err := version.Compute(cfg)
	if err != nil {
		return fmt.Errorf("buildcmd: compute version hash: %w", err)
	}
	if err := version.PublishConfigHash(v); err != nil {
		return fmt.Errorf("buildcmd: publish config hash: %w", err)
	}

	store := cas.New(args.CASDir)
	g, err := graph.Open(args.GraphDir, v)
	if err != nil {
		return fmt.Errorf("buildcmd: open graph store: %w", err)
	}
	defer g.Close()

	reg := loader.NewRegistry()
	opts := esbuildloader.Options{Sourcemaps: version.SourcemapsEnabled()}
	reg.Register(esbuildloader.JS(opts))
	reg.Register(esbuildloader.CSS(opts))
	reg.Register(esbuildloader.CSSPlain(opts))
	reg.Register(esbuildloader.CSSModule(opts))

	engine, err := transform.New(reg, store, v, version.DevTransformCacheMax(1024))
	if err != nil {
		return fmt.Errorf("buildcmd: new transform engine: %w", err)
	}

	r := resolver.New(resolver.Options{})
	pool := workerpool.New(args.Workers, 0)
	defer pool.Close()

	ctx := context.Background()
	visited := map[string]struct{}{}
	var modules []planModule
	frontier := append([]string(nil), entries...)

	for len(frontier) > 0 {
		unique := make([]string, 0, len(frontier))
		for _, id := range frontier {
			if _, ok := visited[id]; ok {
				continue
			}
			visited[id] = struct{}{}
			unique = append(unique, id)
		}
		if len(unique) == 0 {
			break
		}

		jobs := make([]workerpool.Job, len(unique))
		for i, id := range unique {
			id := id
			jobs[i] = workerpool.Job{Size: statSizeOrOne(id), Path: id, Run: func(ctx context.Context) (any, error) {
				return buildOne(ctx, absRoot, id, r, engine, g)
			}}
		}

		results, errs := pool.RunMany(ctx, jobs)
		var next []string
		for i, res := range results {
			if errs[i] != nil {
				logging.L().Sugar().Warnf("buildcmd: %s: %v", unique[i], errs[i])
				continue
			}
			mod := res.(planModule)
			modules = append(modules, mod)
			next = append(next, mod.Deps...)
			next = append(next, mod.DynamicDeps...)
		}
		frontier = next
	}

	sort.Slice(modules, func(i, j int) bool { return modules[i].ID < modules[j].ID })

	result := plan{VersionHash: string(v), CASRoot: args.CASDir, Modules: modules}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("buildcmd: marshal plan: %w", err)
	}

	if args.Out != "" {
		if err := os.MkdirAll(args.Out, 0o755); err != nil {
			return fmt.Errorf("buildcmd: mkdir %s: %w", args.Out, err)
		}
		if err := os.WriteFile(filepath.Join(args.Out, "plan.json"), data, 0o644); err != nil {
			return fmt.Errorf("buildcmd: write plan: %w", err)
		}
	}

	fmt.Println(string(data))
	return nil
}

func statSizeOrOne(path string) int64 {
	if info, err := os.Stat(path); err == nil {
		return info.Size()
	}
	return 1
}

// buildOne transforms a single module, records it in the graph, and returns
// its plan entry plus the dependency IDs the BFS should visit next.
func buildOne(ctx context.Context, root, absPath string, r *resolver.Resolver, engine *transform.Engine, g *graph.Store) (planModule, error) {
	contents, err := os.ReadFile(absPath)
	if err != nil {
		return planModule{}, fmt.Errorf("read %s: %w", absPath, err)
	}

	kind, loaderKind := classifyPath(absPath)
	var supportsRefresh bool
	if kind != "asset" {
		result, err := engine.Transform(ctx, transform.Request{Path: absPath, Contents: contents, Kind: loaderKind})
		if err != nil {
			return planModule{}, fmt.Errorf("transform %s: %w", absPath, err)
		}
		supportsRefresh = result.Output.SupportsRefresh
	}

	var staticDeps, dynamicDeps []string
	if kind == "js" {
		specs := importscan.Scan(contents)
		for _, spec := range specs.Static {
			if abs, ok := r.ResolveTolerant(absPath, spec); ok {
				staticDeps = append(staticDeps, abs)
			}
		}
		for _, spec := range specs.Dynamic {
			if abs, ok := r.ResolveTolerant(absPath, spec); ok {
				dynamicDeps = append(dynamicDeps, abs)
			}
		}
	}

	contentHash := hash.Bytes(contents)
	if _, err := g.Record(ctx, graph.Node{
		ID: absPath, ContentHash: contentHash, Kind: kind,
		SupportsRefresh: supportsRefresh,
		Deps:            staticDeps, DynamicDeps: dynamicDeps,
	}); err != nil {
		return planModule{}, fmt.Errorf("record %s: %w", absPath, err)
	}

	return planModule{
		ID: absPath, Kind: kind, ContentHash: contentHash.String(),
		Deps: staticDeps, DynamicDeps: dynamicDeps,
	}, nil
}

func classifyPath(path string) (kind string, loaderKind loader.Kind) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".css":
		if strings.HasSuffix(path, ".module.css") {
			return "css-module", loader.KindCSSModule
		}
		return "css", loader.KindCSS
	case ".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs":
		return "js", loader.KindJS
	default:
		return "asset", loader.KindAsset
	}
}
