// Package loader defines the pluggable transform contract used by the
// Transform Engine. A Loader claims files via Test and
// produces transformed output via Run; loaders run in ascending
// Order, then registration order for ties, mirroring the single
// loaderForFile dispatch esmdev hardcodes in esmdev/esmdev.go
// generalized into a registry so callers can add loaders instead of
// editing a switch statement.
package loader

import "sort"

// Kind classifies a module's contents, reflected into the graph and used
// for content-type negotiation by the Dev Dispatcher.
type Kind string

const (
	KindJS        Kind = "js"
	KindCSS       Kind = "css"
	KindCSSModule Kind = "css-module"
	KindAsset     Kind = "asset"
	KindHTML      Kind = "html"
)

// Input is what a Loader receives to transform one module.
type Input struct {
	Path     string
	Contents []byte
	Kind     Kind
}

// Output is a Loader's transform result.
type Output struct {
	Code []byte
	// SupportsRefresh is true when the output contains React components
	// that can be hot-swapped via Fast Refresh instead of a full reload.
	SupportsRefresh bool
	// Deps is the set of specifiers this output statically imports.
	Deps []string
}

// Loader transforms source files matching Test.
type Loader struct {
	Name  string
	Order int
	Test  func(path string) bool
	Run   func(in Input) (Output, error)
}

// Registry holds loaders sorted by (Order, registration index).
type Registry struct {
	loaders []Loader
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a loader and keeps the registry sorted.
func (r *Registry) Register(l Loader) {
	r.loaders = append(r.loaders, l)
	sort.SliceStable(r.loaders, func(i, j int) bool {
		return r.loaders[i].Order < r.loaders[j].Order
	})
}

// Match returns the first loader (in Order then registration order) whose
// Test matches path, or ok=false if none claim it.
func (r *Registry) Match(path string) (Loader, bool) {
	for _, l := range r.loaders {
		if l.Test(path) {
			return l, true
		}
	}
	return Loader{}, false
}

// MatchChain returns every registered loader whose Test matches path, in
// (Order, registration order) — the full chain the Transform Engine runs for
// that path, each seeing the previous loader's output.
func (r *Registry) MatchChain(path string) []Loader {
	var out []Loader
	for _, l := range r.loaders {
		if l.Test(path) {
			out = append(out, l)
		}
	}
	return out
}

// Find returns the registered loader with the given name, bypassing Test.
// The Dev Dispatcher uses this when a request's query string (?inline,
// ?module) already determines which loader variant applies, rather than
// re-deriving that choice from a path-shaped Test predicate.
func (r *Registry) Find(name string) (Loader, bool) {
	for _, l := range r.loaders {
		if l.Name == name {
			return l, true
		}
	}
	return Loader{}, false
}

// SignatureParts returns the name of every registered loader, in (Order,
// registration order), used by the Transform Engine to compute a
// loader_signature_hash that changes whenever a loader is added, removed,
// renamed or moved to another position. Order values themselves are not
// part of the signature.
func (r *Registry) SignatureParts() []string {
	out := make([]string, 0, len(r.loaders)*2)
	for _, l := range r.loaders {
		out = append(out, l.Name)
	}
	return out
}
