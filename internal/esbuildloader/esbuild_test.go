package esbuildloader

import (
	"strings"
	"testing"

	"github.com/ionifyjs/ionify/internal/loader"
)

func TestJSLoaderTransformsTypeScript(t *testing.T) {
	l := JS(Options{})
	if !l.Test("/src/App.tsx") {
		t.Fatal("expected JS loader to claim .tsx")
	}
	out, err := l.Run(loader.Input{Path: "/src/App.tsx", Contents: []byte("const x: number = 1; export default x;")})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Code) == 0 {
		t.Fatal("expected non-empty transformed code")
	}
}

func TestJSLoaderRejectsInvalidSyntax(t *testing.T) {
	l := JS(Options{})
	_, err := l.Run(loader.Input{Path: "/src/Bad.ts", Contents: []byte("const x: = = = ;;;")})
	if err == nil {
		t.Fatal("expected transform error for invalid syntax")
	}
}

func TestJSLoaderInjectsRefreshForComponents(t *testing.T) {
	l := JS(Options{Refresh: true})
	src := "export function App() { return null; }"
	out, err := l.Run(loader.Input{Path: "/src/App.jsx", Contents: []byte(src)})
	if err != nil {
		t.Fatal(err)
	}
	if !out.SupportsRefresh {
		t.Fatal("expected SupportsRefresh=true for a detected component")
	}
	if !strings.Contains(string(out.Code), "$RefreshReg$") {
		t.Fatal("expected refresh registration to be injected")
	}
}

func TestCSSLoaderWrapsAsStyleInjector(t *testing.T) {
	l := CSS(Options{})
	if !l.Test("/src/App.css") {
		t.Fatal("expected CSS loader to claim .css")
	}
	out, err := l.Run(loader.Input{Path: "/src/App.css", Contents: []byte("body { color: red; }")})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out.Code), "document.head.appendChild") {
		t.Fatal("expected CSS loader output to inject a <style> element")
	}
}

func TestCSSPlainServesRawCSS(t *testing.T) {
	l := CSSPlain(Options{})
	out, err := l.Run(loader.Input{Path: "/src/App.css", Contents: []byte("body{color:red}")})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out.Code), "document.head.appendChild") {
		t.Fatal("expected plain CSS output, not a JS style injector")
	}
	if !strings.Contains(string(out.Code), "color") {
		t.Fatal("expected transformed CSS to retain the declaration")
	}
}

func TestTransformCSSModuleScopesClassNames(t *testing.T) {
	result, err := TransformCSSModule("/src/Button.module.css", []byte(".title { color: red; }\n.title:hover { color: blue; }"))
	if err != nil {
		t.Fatal(err)
	}
	local, ok := result.Exports["title"]
	if !ok {
		t.Fatal("expected an export entry for 'title'")
	}
	if local == "title" {
		t.Fatal("expected the local class name to be scoped, not identical to the source name")
	}
	if strings.Count(string(result.CSS), local) != 2 {
		t.Fatalf("expected the scoped name to replace both occurrences, got: %s", result.CSS)
	}
}

func TestTransformCSSModuleDeterministic(t *testing.T) {
	a, err := TransformCSSModule("/src/Button.module.css", []byte(".title{}"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := TransformCSSModule("/src/Button.module.css", []byte(".title{}"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Exports["title"] != b.Exports["title"] {
		t.Fatalf("expected identical scoping for identical path+source, got %q vs %q", a.Exports["title"], b.Exports["title"])
	}
}
