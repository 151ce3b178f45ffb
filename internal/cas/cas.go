// Package cas implements the version-namespaced content-addressable store
// laid out as <cas_root>/<version_hash>/<module_hash>/<name>.
// Reads under one version_hash never observe bytes written under another;
// invalidation after a config change is free because the new version starts
// from an empty directory.
//
// The on-disk layout and the "write to temp then rename" pattern are
// grounded in esmdev's prebundle cache (esmdev/prebundle_cache.go's
// savePrebundleCache/SavePrebundleDir), generalized to be keyed by a content
// hash rather than a single well-known filename.
package cas

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ionifyjs/ionify/internal/ionifyerr"
	"github.com/ionifyjs/ionify/internal/version"
)

// Store is a version-namespaced artifact store rooted at a directory.
type Store struct {
	root string
}

// New constructs a Store rooted at dir. dir is created lazily on first write.
func New(dir string) *Store {
	return &Store{root: dir}
}

// PathFor returns the directory holding artifacts for (version, moduleHash).
func (s *Store) PathFor(v version.Hash, moduleHash string) string {
	return filepath.Join(s.root, string(v), moduleHash)
}

// Exists reports whether an artifact is present.
func (s *Store) Exists(v version.Hash, moduleHash, name string) bool {
	_, err := os.Stat(filepath.Join(s.PathFor(v, moduleHash), name))
	return err == nil
}

// Read returns the artifact's bytes, or nil with ok=false on a miss.
func (s *Store) Read(v version.Hash, moduleHash, name string) ([]byte, bool) {
	data, err := os.ReadFile(filepath.Join(s.PathFor(v, moduleHash), name))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Write persists bytes under (version, moduleHash, name). Writes are
// idempotent given the same bytes and use a write-to-temp-then-rename
// pattern so concurrent readers never observe a half-written file. CAS
// write failures are non-fatal to callers; they return an
// *ionifyerr.IoError for the caller to log and continue past.
func (s *Store) Write(v version.Hash, moduleHash, name string, data []byte) error {
	dir := s.PathFor(v, moduleHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ionifyerr.IoError{Op: "mkdir", Path: dir, Err: err}
	}

	final := filepath.Join(dir, name)
	tmp := filepath.Join(dir, "."+name+"."+uuid.NewString()+".tmp")

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &ionifyerr.IoError{Op: "write", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return &ionifyerr.IoError{Op: "rename", Path: final, Err: err}
	}
	return nil
}

// GC deletes every version directory under root except the ones named in
// keep. It is used by the "ionify gc" CLI command and is safe to call
// concurrently with reads/writes of a kept version, since whole directories
// for other versions are untouched.
func (s *Store) GC(keep ...version.Hash) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &ionifyerr.IoError{Op: "readdir", Path: s.root, Err: err}
	}

	keepSet := make(map[version.Hash]struct{}, len(keep))
	for _, k := range keep {
		keepSet[k] = struct{}{}
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := keepSet[version.Hash(e.Name())]; ok {
			continue
		}
		path := filepath.Join(s.root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			return &ionifyerr.IoError{Op: "rm", Path: path, Err: err}
		}
	}
	return nil
}
