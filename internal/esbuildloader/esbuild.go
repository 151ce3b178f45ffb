// Package esbuildloader provides the default Loader implementations backed
// by esbuild's Go Transform API, matching the options esmdev already
// passes in esmdev/esmdev.go's handleSource (ESNext target, automatic JSX,
// inline sourcemaps, ESM output) generalized into the Loader contract from
// internal/loader instead of being inlined into one HTTP handler.
package esbuildloader

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/ionifyjs/ionify/internal/loader"
)

// Options configures the esbuild-backed loaders.
type Options struct {
	Define      map[string]string
	TsconfigRaw string
	// Refresh enables React Fast Refresh component detection and injection,
	// matching esmdev's hasRefresh-gated injectRefreshRegistration path.
	Refresh bool
	// Sourcemaps controls whether the JS loader inlines a sourcemap, set from
	// IONIFY_SOURCEMAPS. Disabling it trims output size for a production-like
	// dev run without a full build.
	Sourcemaps bool
}

var jsExts = map[string]bool{".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true, ".cjs": true}

func jsLoaderKind(path string) api.Loader {
	switch {
	case strings.HasSuffix(path, ".tsx"):
		return api.LoaderTSX
	case strings.HasSuffix(path, ".ts"):
		return api.LoaderTS
	case strings.HasSuffix(path, ".jsx"):
		return api.LoaderJSX
	default:
		return api.LoaderJS
	}
}

// JS returns the loader.Loader handling .js/.jsx/.ts/.tsx/.mjs/.cjs files.
func JS(opts Options) loader.Loader {
	return loader.Loader{
		Name:  "esbuild-js",
		Order: 10,
		Test: func(path string) bool {
			for ext := range jsExts {
				if strings.HasSuffix(path, ext) {
					return true
				}
			}
			return false
		},
		Run: func(in loader.Input) (loader.Output, error) {
			return transformJS(in, opts)
		},
	}
}

func transformJS(in loader.Input, opts Options) (loader.Output, error) {
	sourcemap := api.SourceMapNone
	if opts.Sourcemaps {
		sourcemap = api.SourceMapInline
	}
	transformOpts := api.TransformOptions{
		Loader:         jsLoaderKind(in.Path),
		Format:         api.FormatESModule,
		Target:         api.ESNext,
		JSX:            api.JSXAutomatic,
		Sourcemap:      sourcemap,
		SourcesContent: api.SourcesContentInclude,
		Sourcefile:     in.Path,
		Define:         opts.Define,
		LogLevel:       api.LogLevelSilent,
	}
	if opts.TsconfigRaw != "" {
		transformOpts.TsconfigRaw = opts.TsconfigRaw
	}

	result := api.Transform(string(in.Contents), transformOpts)
	if len(result.Errors) > 0 {
		return loader.Output{}, fmt.Errorf("%s", result.Errors[0].Text)
	}

	code := result.Code
	out := loader.Output{Code: code}

	if opts.Refresh {
		components := detectComponents(string(code))
		if len(components) > 0 {
			out.Code = injectRefresh(code, in.Path, components)
			out.SupportsRefresh = true
		}
	}
	return out, nil
}

// CSS returns the loader.Loader handling .css files, serving them as a
// style-injecting JS module when imported, matching esmdev's CSS
// module-import convention (esmdev's Sec-Fetch-Dest/"?module" handling,
// implemented one layer up in the dev dispatcher; this loader only does the
// actual CSS->JS transform).
func CSS(opts Options) loader.Loader {
	return loader.Loader{
		Name:  "esbuild-css",
		Order: 10,
		Test:  func(path string) bool { return strings.HasSuffix(path, ".css") },
		Run: func(in loader.Input) (loader.Output, error) {
			result := api.Transform(string(in.Contents), api.TransformOptions{
				Loader:   api.LoaderCSS,
				LogLevel: api.LogLevelSilent,
			})
			if len(result.Errors) > 0 {
				return loader.Output{}, fmt.Errorf("%s", result.Errors[0].Text)
			}
			js := fmt.Sprintf(
				"const css = %q;\nconst style = document.createElement('style');\nstyle.textContent = css;\ndocument.head.appendChild(style);\nexport default css;\n",
				string(result.Code),
			)
			return loader.Output{Code: []byte(js)}, nil
		},
	}
}

// CSSPlain returns the loader.Loader used to serve a .css file directly
// (no ?inline, no ?module/*.module.css): the source is run through
// esbuild's CSS transform (parsed and re-printed, not minified) and the
// resulting CSS bytes are served as-is, content-type text/css, matching the design's
// "css: record with content-hash ... serve" path for the plain case.
func CSSPlain(opts Options) loader.Loader {
	return loader.Loader{
		Name:  "esbuild-css-plain",
		Order: 10,
		Test:  func(path string) bool { return strings.HasSuffix(path, ".css") },
		Run: func(in loader.Input) (loader.Output, error) {
			result := api.Transform(string(in.Contents), api.TransformOptions{
				Loader:   api.LoaderCSS,
				LogLevel: api.LogLevelSilent,
			})
			if len(result.Errors) > 0 {
				return loader.Output{}, fmt.Errorf("%s", result.Errors[0].Text)
			}
			return loader.Output{Code: result.Code}, nil
		},
	}
}

// classSelectorRe matches class selectors in CSS source (".foo", not
// "a.foo" attribute-combinator edge cases, which is the same shortcut the
// teacher's own regex-based scanners take elsewhere in esmdev).
var classSelectorRe = regexp.MustCompile(`\.([A-Za-z_][A-Za-z0-9_-]*)`)

// CSSModuleResult is a CSS Modules transform's output: the rewritten CSS
// text plus the original->scoped class name mapping a JS module exports.
type CSSModuleResult struct {
	CSS     []byte
	Exports map[string]string
}

// TransformCSSModule rewrites every class selector in contents to a
// path-scoped local name (so two files can both define `.title` without
// colliding) and returns the mapping a `?module`/`*.module.css` import
// exports as its default JS value. Scoping uses the same content-hash
// primitive as the rest of the core rather than a random suffix, so two
// builds of identical source produce identical class names.
func TransformCSSModule(path string, contents []byte) (CSSModuleResult, error) {
	result := api.Transform(string(contents), api.TransformOptions{
		Loader:   api.LoaderCSS,
		LogLevel: api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return CSSModuleResult{}, fmt.Errorf("%s", result.Errors[0].Text)
	}

	scope := scopeHash(path)
	exports := make(map[string]string)
	rewritten := classSelectorRe.ReplaceAllStringFunc(string(result.Code), func(m string) string {
		name := m[1:]
		local, ok := exports[name]
		if !ok {
			local = fmt.Sprintf("%s_%s", name, scope)
			exports[name] = local
		}
		return "." + local
	})

	return CSSModuleResult{CSS: []byte(rewritten), Exports: exports}, nil
}

// CSSModule returns the loader.Loader used to serve a `?module`-tagged or
// `*.module.css` request: the CSS is scoped via TransformCSSModule and
// wrapped as a JS module that injects the scoped stylesheet and default-
// exports the original->local class name mapping, matching the design's
// CSS-Modules query convention.
func CSSModule(opts Options) loader.Loader {
	return loader.Loader{
		Name:  "esbuild-css-module",
		Order: 10,
		Test:  func(path string) bool { return strings.HasSuffix(trimQuery(path), ".css") },
		Run: func(in loader.Input) (loader.Output, error) {
			result, err := TransformCSSModule(trimQuery(in.Path), in.Contents)
			if err != nil {
				return loader.Output{}, err
			}
			exportsJSON, err := json.Marshal(result.Exports)
			if err != nil {
				return loader.Output{}, fmt.Errorf("esbuildloader: marshal css module exports: %w", err)
			}
			js := fmt.Sprintf(
				"const css = %q;\nconst style = document.createElement('style');\nstyle.textContent = css;\ndocument.head.appendChild(style);\nexport default %s;\n",
				string(result.CSS), string(exportsJSON),
			)
			return loader.Output{Code: []byte(js)}, nil
		},
	}
}

// trimQuery strips a "?..." query suffix from a path, so a path carrying a
// query string still matches the .css test and the transform never sees
// the query.
func trimQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

func scopeHash(path string) string {
	sum := 2166136261
	for i := 0; i < len(path); i++ {
		sum ^= int(path[i])
		sum *= 16777619
	}
	if sum < 0 {
		sum = -sum
	}
	return fmt.Sprintf("%x", sum%0xfffff)
}

var (
	funcComponentRe  = regexp.MustCompile(`(?m)^(?:export\s+(?:default\s+)?)?function\s+([A-Z][a-zA-Z0-9_]*)\s*\(`)
	constComponentRe = regexp.MustCompile(`(?m)^(?:export\s+)?(?:const|let|var)\s+([A-Z][a-zA-Z0-9_]*)\s*=`)
)

// detectComponents finds likely React component names, the same heuristic
// esmdev uses in esmdev/hmr.go.
func detectComponents(code string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range funcComponentRe.FindAllStringSubmatch(code, -1) {
		if !seen[m[1]] {
			names = append(names, m[1])
			seen[m[1]] = true
		}
	}
	for _, m := range constComponentRe.FindAllStringSubmatch(code, -1) {
		if !seen[m[1]] {
			names = append(names, m[1])
			seen[m[1]] = true
		}
	}
	return names
}

// injectRefresh wraps code with React Fast Refresh registration calls,
// adapted from esmdev's injectRefreshRegistration in esmdev/hmr.go.
func injectRefresh(code []byte, urlPath string, components []string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "import.meta.hot = window.__IONIFY_HMR__?.createContext(%q);\n", urlPath)
	b.WriteString("var __prevReg = window.$RefreshReg$;\n")
	b.WriteString("var __prevSig = window.$RefreshSig$;\n")
	fmt.Fprintf(&b, "window.$RefreshReg$ = (type, id) => window.__REACT_REFRESH__?.register(type, %q + id);\n", urlPath+" ")
	b.WriteString("window.$RefreshSig$ = window.__REACT_REFRESH__?.createSignatureFunctionForTransform || (() => (t) => t);\n")
	b.Write(code)
	b.WriteString("\n")
	for _, name := range components {
		fmt.Fprintf(&b, "window.$RefreshReg$(%s, %q);\n", name, name)
	}
	b.WriteString("window.$RefreshReg$ = __prevReg;\n")
	b.WriteString("window.$RefreshSig$ = __prevSig;\n")
	b.WriteString("import.meta.hot?.accept();\n")
	return []byte(b.String())
}
