// Package resolver maps an import specifier plus the importing module's path
// to an absolute module path (relative specifiers and the node_modules walk
// start from the importer's directory), generalizing the resolution logic
// that esmdev scatters across esmdev/imports.go (bare specifier ->
// package name), esmdev/tsconfig.go (tsconfig path aliases) and
// common.go's ModuleResolvePlugin (package.json exports-aware lookup).
package resolver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ionifyjs/ionify/internal/ionifyerr"
)

// DefaultExtensions is the extension probe order used when Options.Extensions
// is empty.
var DefaultExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".json"}

// DefaultConditions is the package.json "exports" condition order applied
// when Options.Conditions is empty.
var DefaultConditions = []string{"import", "default"}

// DefaultMainFields is the package.json main-field fallback order applied
// after "exports" yields nothing.
var DefaultMainFields = []string{"module", "main"}

// Options configures a Resolver.
type Options struct {
	// Extensions is the ordered extension probe list.
	Extensions []string
	// Alias is the user-provided (or tsconfig-inferred) alias table. Keys
	// ending in "/" are prefix aliases (wildcard, expanded once); other
	// keys are exact-match aliases. Values are absolute paths or prefixes.
	Alias map[string]string
	// Conditions is the exports-field condition order.
	Conditions []string
	// MainFields is the package.json main-field fallback order.
	MainFields []string
}

func (o Options) withDefaults() Options {
	if len(o.Extensions) == 0 {
		o.Extensions = DefaultExtensions
	}
	if len(o.Conditions) == 0 {
		o.Conditions = DefaultConditions
	}
	if len(o.MainFields) == 0 {
		o.MainFields = DefaultMainFields
	}
	return o
}

type cacheEntry struct {
	path string
	ok   bool
}

// Resolver resolves specifiers against importers and memoizes every lookup,
// including misses, for the process lifetime. It is safe for
// concurrent use.
type Resolver struct {
	opts Options

	mu    sync.Mutex
	cache map[string]cacheEntry // key: importer + "\x00" + specifier
}

// New constructs a Resolver with the given options.
func New(opts Options) *Resolver {
	return &Resolver{
		opts:  opts.withDefaults(),
		cache: make(map[string]cacheEntry),
	}
}

// Reset clears the memoization cache, e.g. after a config change.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]cacheEntry)
}

// Resolve performs strict resolution: a miss returns a *ionifyerr.ResolveError.
func (r *Resolver) Resolve(importer, specifier string) (string, error) {
	path, ok := r.ResolveTolerant(importer, specifier)
	if !ok {
		return "", &ionifyerr.ResolveError{Specifier: specifier, Importer: importer}
	}
	return path, nil
}

// ResolveTolerant performs resolution and returns ok=false on a miss instead
// of an error, for loaders that tolerate unresolved specifiers.
func (r *Resolver) ResolveTolerant(importer, specifier string) (string, bool) {
	key := importer + "\x00" + specifier
	r.mu.Lock()
	if e, found := r.cache[key]; found {
		r.mu.Unlock()
		return e.path, e.ok
	}
	r.mu.Unlock()

	path, ok := r.resolveUncached(importer, specifier)

	r.mu.Lock()
	r.cache[key] = cacheEntry{path: path, ok: ok}
	r.mu.Unlock()

	return path, ok
}

func (r *Resolver) resolveUncached(importer, specifier string) (string, bool) {
	switch {
	case filepath.IsAbs(specifier):
		return r.probe(specifier)

	case strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../"):
		dir := filepath.Dir(importer)
		return r.probe(filepath.Join(dir, specifier))

	default:
		if path, ok := r.resolveAlias(specifier); ok {
			return r.probe(path)
		}
		if path, ok := r.resolvePackage(importer, specifier); ok {
			return path, true
		}
		return "", false
	}
}

// resolveAlias checks exact and single-expansion wildcard alias entries.
func (r *Resolver) resolveAlias(specifier string) (string, bool) {
	if target, ok := r.opts.Alias[specifier]; ok {
		return target, true
	}
	var bestPrefix string
	for alias := range r.opts.Alias {
		if !strings.HasSuffix(alias, "/") {
			continue
		}
		if strings.HasPrefix(specifier, alias) && len(alias) > len(bestPrefix) {
			bestPrefix = alias
		}
	}
	if bestPrefix == "" {
		return "", false
	}
	rest := strings.TrimPrefix(specifier, bestPrefix)
	return filepath.Join(r.opts.Alias[bestPrefix], rest), true
}

// resolvePackage walks upward from the importer's directory through
// node_modules/<pkg>, applying package.json exports/main-field resolution.
func (r *Resolver) resolvePackage(importer, specifier string) (string, bool) {
	pkgName, subpath := splitPackageSpecifier(specifier)

	for dir := filepath.Dir(importer); ; {
		pkgDir := filepath.Join(dir, "node_modules", pkgName)
		if info, err := os.Stat(pkgDir); err == nil && info.IsDir() {
			if path, ok := r.resolvePackageEntry(pkgDir, subpath); ok {
				return path, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

// resolvePackageEntry resolves a subpath ("." for the package root) inside
// pkgDir using exports first, then main fields, then index.<ext>.
func (r *Resolver) resolvePackageEntry(pkgDir, subpath string) (string, bool) {
	pj, err := readPackageJSON(pkgDir)
	if err == nil {
		if target, ok := exportsLookup(pj.Exports, subpath, r.opts.Conditions); ok {
			full := filepath.Join(pkgDir, target)
			return r.probe(full)
		}
		if subpath == "." {
			for _, field := range r.opts.MainFields {
				if v, ok := pj.mainField(field); ok && v != "" {
					if path, ok := r.probe(filepath.Join(pkgDir, v)); ok {
						return path, true
					}
				}
			}
		}
	}

	target := pkgDir
	if subpath != "." {
		target = filepath.Join(pkgDir, strings.TrimPrefix(subpath, "./"))
	}
	return r.probe(target)
}

// probe tries path as a literal file, then path+ext for each configured
// extension, then path/index.ext.
func (r *Resolver) probe(path string) (string, bool) {
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path, true
	}
	for _, ext := range r.opts.Extensions {
		candidate := path + ext
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	for _, ext := range r.opts.Extensions {
		candidate := filepath.Join(path, "index"+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// splitPackageSpecifier splits "react-dom/client" into ("react-dom",
// "./client") and "@scope/pkg/sub" into ("@scope/pkg", "./sub"). A bare
// package name yields subpath ".".
func splitPackageSpecifier(specifier string) (pkgName, subpath string) {
	if strings.HasPrefix(specifier, "@") {
		parts := strings.SplitN(specifier, "/", 3)
		if len(parts) < 2 {
			return specifier, "."
		}
		pkgName = parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			subpath = "./" + parts[2]
		} else {
			subpath = "."
		}
		return pkgName, subpath
	}
	parts := strings.SplitN(specifier, "/", 2)
	if len(parts) == 1 {
		return parts[0], "."
	}
	return parts[0], "./" + parts[1]
}

type packageJSON struct {
	Main    string          `json:"main"`
	Module  string          `json:"module"`
	Exports json.RawMessage `json:"exports"`
	raw     map[string]any
}

func (p packageJSON) mainField(field string) (string, bool) {
	switch field {
	case "main":
		return p.Main, p.Main != ""
	case "module":
		return p.Module, p.Module != ""
	default:
		if v, ok := p.raw[field]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
		return "", false
	}
}

func readPackageJSON(pkgDir string) (packageJSON, error) {
	data, err := os.ReadFile(filepath.Join(pkgDir, "package.json"))
	if err != nil {
		return packageJSON{}, err
	}
	var pj packageJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return packageJSON{}, err
	}
	_ = json.Unmarshal(data, &pj.raw)
	return pj, nil
}

// exportsLookup resolves subpath ("." or "./foo") against a package.json
// exports field, applying conditions in the given order. exports may be a
// bare string (root export only), a condition map (applies to "."), or a
// subpath map whose values are themselves strings or condition maps.
func exportsLookup(exportsRaw json.RawMessage, subpath string, conditions []string) (string, bool) {
	if len(exportsRaw) == 0 {
		return "", false
	}

	var asString string
	if json.Unmarshal(exportsRaw, &asString) == nil {
		if subpath == "." {
			return asString, true
		}
		return "", false
	}

	var asMap map[string]json.RawMessage
	if json.Unmarshal(exportsRaw, &asMap) != nil {
		return "", false
	}

	if isSubpathMap(asMap) {
		entry, ok := asMap[subpath]
		if !ok {
			return "", false
		}
		return conditionLookup(entry, conditions)
	}

	if subpath != "." {
		return "", false
	}
	return conditionLookup(exportsRaw, conditions)
}

func isSubpathMap(m map[string]json.RawMessage) bool {
	for k := range m {
		if strings.HasPrefix(k, ".") {
			return true
		}
	}
	return false
}

func conditionLookup(raw json.RawMessage, conditions []string) (string, bool) {
	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		return asString, true
	}
	var asMap map[string]json.RawMessage
	if json.Unmarshal(raw, &asMap) != nil {
		return "", false
	}
	for _, cond := range conditions {
		if v, ok := asMap[cond]; ok {
			if s, ok := conditionLookup(v, conditions); ok {
				return s, true
			}
		}
	}
	return "", false
}

// SortedConditions returns a copy of conditions sorted ascending, which
// discards their declared order (kept as a helper so
// callers constructing Options from a set-like source can stabilize it
// before storing, matching the Version Canonicalizer's own ordering rules).
func SortedConditions(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
