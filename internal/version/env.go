package version

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv builds a Config from the process environment's IONIFY_* variables,
// read once at startup. This mirrors esmdev's LoadEnvFiles
// (tools/please_js/common/env.go): read once, filter by a fixed prefix,
// build a plain config value for the rest of the pipeline to consume —
// except Ionify's inputs come from the process environment directly rather
// than a .env file, since these select parser engine behavior rather than
// application-level defines.
func FromEnv(entry []string) Config {
	cfg := Config{
		ParserMode: ParserMode(os.Getenv("IONIFY_PARSER")),
		Minifier:   Minifier(os.Getenv("IONIFY_MINIFIER")),
		Entry:      entry,
	}

	if mode := os.Getenv("IONIFY_TREESHAKE"); mode != "" {
		cfg.Treeshake = &Treeshake{
			Mode:    TreeshakeMode(mode),
			Include: splitList(os.Getenv("IONIFY_TREESHAKE_INCLUDE")),
			Exclude: splitList(os.Getenv("IONIFY_TREESHAKE_EXCLUDE")),
		}
	}

	if hoist := os.Getenv("IONIFY_SCOPE_HOIST"); parseBool(hoist) {
		cfg.ScopeHoist = &ScopeHoist{
			InlineFunctions:  parseBool(os.Getenv("IONIFY_SCOPE_HOIST_INLINE")),
			ConstantFolding:  parseBool(os.Getenv("IONIFY_SCOPE_HOIST_CONST")),
			CombineVariables: parseBool(os.Getenv("IONIFY_SCOPE_HOIST_COMBINE")),
		}
	}

	return cfg
}

// PublishConfigHash sets IONIFY_CONFIG_HASH in the process environment once
// the version hash is computed, so any worker process spawned downstream
// (the Worker Pool's native/fallback transform path) can observe the same
// namespace the core is using without re-deriving it.
func PublishConfigHash(v Hash) error {
	return os.Setenv("IONIFY_CONFIG_HASH", string(v))
}

// SourcemapsEnabled reports IONIFY_SOURCEMAPS, read by the loader layer
// (not part of the version-hash config: it affects loader output shape,
// not cache-key-relevant semantics).
func SourcemapsEnabled() bool {
	v := os.Getenv("IONIFY_SOURCEMAPS")
	if v == "" {
		return true
	}
	return parseBool(v)
}

// DevTransformCacheMax reads IONIFY_DEV_TRANSFORM_CACHE_MAX, the
// env-overridable bound on the Transform Engine's in-memory LRU size.
// Returns def if unset or unparsable.
func DevTransformCacheMax(def int) int {
	v := os.Getenv("IONIFY_DEV_TRANSFORM_CACHE_MAX")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
