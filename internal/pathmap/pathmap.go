// Package pathmap translates between absolute filesystem paths and public
// dev-server URLs. The base64url encoding used for
// out-of-root paths is a compatibility device only — decode always
// re-normalizes and compares against root, never trusting the encoding as a
// security boundary.
package pathmap

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
)

// ModulePrefix is the URL path segment under which out-of-root modules are
// served, e.g. GET /@modules/<base64url>.
const ModulePrefix = "@modules"

// PublicPathFor maps an absolute path to its public URL. Paths inside root
// are served as a root-relative posix path; paths outside root are encoded
// under ModulePrefix.
func PublicPathFor(root, absPath string) (string, error) {
	root = filepath.Clean(root)
	absPath = filepath.Clean(absPath)

	rel, err := filepath.Rel(root, absPath)
	if err == nil && !escapesRoot(rel) {
		return "/" + filepath.ToSlash(rel), nil
	}

	enc := base64.RawURLEncoding.EncodeToString([]byte(absPath))
	return "/" + ModulePrefix + "/" + enc, nil
}

// Decode reverses PublicPathFor. It rejects any non-prefixed URL whose
// normalized resolution would escape root (path traversal guard), and any
// malformed base64url payload under ModulePrefix.
func Decode(root, url string) (string, error) {
	root = filepath.Clean(root)
	url = strings.TrimPrefix(url, "/")

	if rest, ok := strings.CutPrefix(url, ModulePrefix+"/"); ok {
		decoded, err := base64.RawURLEncoding.DecodeString(rest)
		if err != nil {
			return "", fmt.Errorf("pathmap: malformed module path %q: %w", url, err)
		}
		return string(decoded), nil
	}

	candidate := filepath.Join(root, filepath.FromSlash(url))
	rel, err := filepath.Rel(root, candidate)
	if err != nil || escapesRoot(rel) {
		return "", fmt.Errorf("pathmap: %q escapes root %q", url, root)
	}
	return candidate, nil
}

// escapesRoot reports whether a filepath.Rel result climbs above its base:
// ".." exactly, or begins with "../".
func escapesRoot(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || strings.HasPrefix(rel, "../")
}
