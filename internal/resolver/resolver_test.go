package resolver

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveRelative(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "App.tsx"), "export default 1;")
	importer := filepath.Join(root, "src", "index.ts")
	writeFile(t, importer, "")

	r := New(Options{})
	got, err := r.Resolve(importer, "./App")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, "src", "App.tsx")
	if got != want {
		t.Fatalf("Resolve = %q, want %q", got, want)
	}
}

func TestResolveStrictMissReturnsResolveError(t *testing.T) {
	root := t.TempDir()
	importer := filepath.Join(root, "src", "index.ts")
	writeFile(t, importer, "")

	r := New(Options{})
	_, err := r.Resolve(importer, "./nope")
	if err == nil {
		t.Fatal("expected ResolveError for missing specifier")
	}
}

func TestResolveTolerantMissReturnsOkFalse(t *testing.T) {
	root := t.TempDir()
	importer := filepath.Join(root, "src", "index.ts")
	writeFile(t, importer, "")

	r := New(Options{})
	_, ok := r.ResolveTolerant(importer, "./nope")
	if ok {
		t.Fatal("expected ok=false for missing specifier")
	}
}

func TestResolveMemoizesMisses(t *testing.T) {
	root := t.TempDir()
	importer := filepath.Join(root, "src", "index.ts")
	writeFile(t, importer, "")

	r := New(Options{})
	r.ResolveTolerant(importer, "./nope")
	key := importer + "\x00" + "./nope"
	if _, found := r.cache[key]; !found {
		t.Fatal("expected miss to be cached")
	}
}

func TestResolveAlias(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "utils", "index.ts"), "")
	importer := filepath.Join(root, "src", "App.tsx")
	writeFile(t, importer, "")

	r := New(Options{Alias: map[string]string{
		"@/": filepath.Join(root, "src") + "/",
	}})
	got, err := r.Resolve(importer, "@/utils")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, "src", "utils", "index.ts")
	if got != want {
		t.Fatalf("Resolve alias = %q, want %q", got, want)
	}
}

func TestResolvePackageMainField(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, "node_modules", "leftpad")
	writeFile(t, filepath.Join(pkgDir, "package.json"), `{"main": "index.js"}`)
	writeFile(t, filepath.Join(pkgDir, "index.js"), "module.exports = {};")
	importer := filepath.Join(root, "src", "App.tsx")
	writeFile(t, importer, "")

	r := New(Options{})
	got, err := r.Resolve(importer, "leftpad")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(pkgDir, "index.js")
	if got != want {
		t.Fatalf("Resolve = %q, want %q", got, want)
	}
}

func TestResolvePackageExportsConditions(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, "node_modules", "mylib")
	writeFile(t, filepath.Join(pkgDir, "package.json"), `{
		"exports": {
			".": {"import": "./esm/index.js", "default": "./cjs/index.js"}
		}
	}`)
	writeFile(t, filepath.Join(pkgDir, "esm", "index.js"), "export default 1;")
	writeFile(t, filepath.Join(pkgDir, "cjs", "index.js"), "module.exports = 1;")
	importer := filepath.Join(root, "src", "App.tsx")
	writeFile(t, importer, "")

	r := New(Options{})
	got, err := r.Resolve(importer, "mylib")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(pkgDir, "esm", "index.js")
	if got != want {
		t.Fatalf("Resolve should prefer import condition: got %q, want %q", got, want)
	}
}

func TestResolvePackageSubpathExports(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, "node_modules", "mylib")
	writeFile(t, filepath.Join(pkgDir, "package.json"), `{
		"exports": {
			".": "./index.js",
			"./sub": "./sub/path.js"
		}
	}`)
	writeFile(t, filepath.Join(pkgDir, "sub", "path.js"), "export default 1;")
	importer := filepath.Join(root, "src", "App.tsx")
	writeFile(t, importer, "")

	r := New(Options{})
	got, err := r.Resolve(importer, "mylib/sub")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(pkgDir, "sub", "path.js")
	if got != want {
		t.Fatalf("Resolve subpath export = %q, want %q", got, want)
	}
}

func TestResolvePackageWalksUpward(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, "node_modules", "shared")
	writeFile(t, filepath.Join(pkgDir, "package.json"), `{"main": "index.js"}`)
	writeFile(t, filepath.Join(pkgDir, "index.js"), "")
	importer := filepath.Join(root, "a", "b", "c", "deep.ts")
	writeFile(t, importer, "")

	r := New(Options{})
	got, err := r.Resolve(importer, "shared")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(pkgDir, "index.js")
	if got != want {
		t.Fatalf("Resolve = %q, want %q", got, want)
	}
}
