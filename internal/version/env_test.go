package version

import (
	"os"
	"testing"
)

func TestFromEnvParsesTreeshakeAndScopeHoist(t *testing.T) {
	t.Setenv("IONIFY_PARSER", "swc")
	t.Setenv("IONIFY_TREESHAKE", "aggressive")
	t.Setenv("IONIFY_TREESHAKE_INCLUDE", "a, b")
	t.Setenv("IONIFY_SCOPE_HOIST", "true")
	t.Setenv("IONIFY_SCOPE_HOIST_INLINE", "1")

	cfg := FromEnv([]string{"/entry.ts"})
	if cfg.ParserMode != ParserSwc {
		t.Fatalf("ParserMode = %q, want swc", cfg.ParserMode)
	}
	if cfg.Treeshake == nil || cfg.Treeshake.Mode != TreeshakeAggressive || len(cfg.Treeshake.Include) != 2 {
		t.Fatalf("Treeshake = %+v", cfg.Treeshake)
	}
	if cfg.ScopeHoist == nil || !cfg.ScopeHoist.InlineFunctions {
		t.Fatalf("ScopeHoist = %+v", cfg.ScopeHoist)
	}
}

func TestFromEnvDefaultsToNilOptionalSections(t *testing.T) {
	cfg := FromEnv(nil)
	if cfg.Treeshake != nil || cfg.ScopeHoist != nil {
		t.Fatalf("expected nil optional sections with no env set, got %+v", cfg)
	}
}

func TestDevTransformCacheMaxFallsBackOnInvalid(t *testing.T) {
	t.Setenv("IONIFY_DEV_TRANSFORM_CACHE_MAX", "not-a-number")
	if got := DevTransformCacheMax(5000); got != 5000 {
		t.Fatalf("DevTransformCacheMax = %d, want fallback 5000", got)
	}
	t.Setenv("IONIFY_DEV_TRANSFORM_CACHE_MAX", "256")
	if got := DevTransformCacheMax(5000); got != 256 {
		t.Fatalf("DevTransformCacheMax = %d, want 256", got)
	}
}

func TestPublishConfigHashSetsEnv(t *testing.T) {
	t.Setenv("IONIFY_CONFIG_HASH", "")
	if err := PublishConfigHash(Hash("abc123")); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("IONIFY_CONFIG_HASH"); got != "abc123" {
		t.Fatalf("IONIFY_CONFIG_HASH = %q, want abc123", got)
	}
}
