// Package importscan extracts import specifiers from JS/TS source text,
// split into static (evaluated at module load: import/from/require/export
// ... from) and dynamic (import(), only reached conditionally at runtime).
// The regex and specifier classification are a direct port of esmdev's
// importSpecRe/extractMissingPkgs (esmdev/imports.go), generalized from
// "only bare npm specifiers" to every specifier shape the Dev Dispatcher
// needs to record in the graph: the Dev Dispatcher resolves each extracted
// specifier and records the result as a static or dynamic edge.
package importscan

import "regexp"

// staticRe matches specifiers reached through import/from/require/export-from.
var staticRe = regexp.MustCompile(`(?:^|[^.\w])(?:from\s+|require\s*\(\s*|import\s+(?:[^(;"']*?\s+from\s+)?)["']([^"']+)["']`)

// dynamicRe matches specifiers reached only through a dynamic import().
var dynamicRe = regexp.MustCompile(`import\s*\(\s*["']([^"']+)["']\s*\)`)

// Specifiers is the result of scanning one module's source.
type Specifiers struct {
	Static  []string
	Dynamic []string
}

// Scan extracts static and dynamic import specifiers from source, in
// first-seen order with duplicates removed within each set. A specifier
// that appears both as a dynamic import() and a static import is counted
// only as static, since static evaluation already forces the module to
// load.
func Scan(source []byte) Specifiers {
	dynSeen := make(map[string]bool)
	var dynamic []string
	for _, m := range dynamicRe.FindAllSubmatch(source, -1) {
		spec := string(m[1])
		if !dynSeen[spec] {
			dynSeen[spec] = true
			dynamic = append(dynamic, spec)
		}
	}

	staticSeen := make(map[string]bool)
	var static []string
	for _, m := range staticRe.FindAllSubmatch(source, -1) {
		spec := string(m[1])
		if !staticSeen[spec] {
			staticSeen[spec] = true
			static = append(static, spec)
		}
	}

	out := Specifiers{Static: static}
	for _, spec := range dynamic {
		if !staticSeen[spec] {
			out.Dynamic = append(out.Dynamic, spec)
		}
	}
	return out
}
