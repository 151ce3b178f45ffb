// Package version canonicalizes the build configuration that every
// on-disk artifact is namespaced under, and derives the 16-hex-char
// VersionHash used as that namespace.
package version

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ionifyjs/ionify/internal/hash"
)

// ParserMode selects the JS/TS parser backend.
type ParserMode string

const (
	ParserOxc    ParserMode = "oxc"
	ParserSwc    ParserMode = "swc"
	ParserHybrid ParserMode = "hybrid"
)

// Minifier selects the minifier backend.
type Minifier string

const (
	MinifierOxc  Minifier = "oxc"
	MinifierSwc  Minifier = "swc"
	MinifierAuto Minifier = "auto"
)

// TreeshakeMode is the aggressiveness of dead-code elimination.
type TreeshakeMode string

const (
	TreeshakeSafe       TreeshakeMode = "safe"
	TreeshakeAggressive TreeshakeMode = "aggressive"
)

// Treeshake holds tree-shaking configuration; nil means disabled.
type Treeshake struct {
	Mode    TreeshakeMode `json:"mode"`
	Include []string      `json:"include"`
	Exclude []string      `json:"exclude"`
}

// ScopeHoist holds scope-hoisting configuration; nil means disabled.
type ScopeHoist struct {
	InlineFunctions  bool `json:"inline_functions"`
	ConstantFolding  bool `json:"constant_folding"`
	CombineVariables bool `json:"combine_variables"`
}

// Config is the configuration record the Version Canonicalizer normalizes.
// The CLI layer (out of core scope) is responsible for populating this from
// flags, env vars and config files before handing it to Compute.
type Config struct {
	ParserMode   ParserMode
	Minifier     Minifier
	Treeshake    *Treeshake
	ScopeHoist   *ScopeHoist
	Plugins      []string
	Entry        []string
	CSSOptions   map[string]any
	AssetOptions map[string]any
}

// Hash is the first 16 hex characters of SHA-256 over the canonical
// serialization of a Config. It namespaces every persisted artifact.
type Hash string

// canonical mirrors Config but with every field already normalized and
// ordered, so its JSON encoding is byte-identical for logically equal
// configs regardless of input ordering.
type canonical struct {
	ParserMode   ParserMode     `json:"parser_mode"`
	Minifier     Minifier       `json:"minifier"`
	Treeshake    *Treeshake     `json:"treeshake"`
	ScopeHoist   *ScopeHoist    `json:"scope_hoist"`
	Plugins      []string       `json:"plugins"`
	Entry        []string       `json:"entry"`
	CSSOptions   map[string]any `json:"css_options"`
	AssetOptions map[string]any `json:"asset_options"`
}

// Canonicalize applies sorting/dedup/null-if-empty normalization and
// returns the serialized bytes of the canonical form. It is exported
// separately from Compute so callers (and tests) can inspect the normalized
// shape without re-deriving a hash.
func Canonicalize(cfg Config) ([]byte, error) {
	c := canonical{
		ParserMode: cfg.ParserMode,
		Minifier:   cfg.Minifier,
	}
	if c.ParserMode == "" {
		c.ParserMode = ParserHybrid
	}
	if c.Minifier == "" {
		c.Minifier = MinifierAuto
	}

	if cfg.Treeshake != nil {
		ts := &Treeshake{
			Mode:    cfg.Treeshake.Mode,
			Include: sortedUnique(cfg.Treeshake.Include),
			Exclude: sortedUnique(cfg.Treeshake.Exclude),
		}
		if ts.Mode == "" {
			ts.Mode = TreeshakeSafe
		}
		c.Treeshake = ts
	}

	if cfg.ScopeHoist != nil {
		c.ScopeHoist = &ScopeHoist{
			InlineFunctions:  cfg.ScopeHoist.InlineFunctions,
			ConstantFolding:  cfg.ScopeHoist.ConstantFolding,
			CombineVariables: cfg.ScopeHoist.CombineVariables,
		}
	}

	c.Plugins = sortedUnique(cfg.Plugins)

	entry := sortedUnique(cfg.Entry)
	if len(entry) > 0 {
		c.Entry = entry
	}

	c.CSSOptions = nilIfEmpty(cfg.CSSOptions)
	c.AssetOptions = nilIfEmpty(cfg.AssetOptions)

	data, err := marshalSorted(c)
	if err != nil {
		return nil, fmt.Errorf("version: canonicalize config: %w", err)
	}
	return data, nil
}

// Compute derives the VersionHash for a Config. Two configs that differ only
// in key ordering of mappings, array ordering of set-like fields, or
// equivalent null/absence produce identical hashes.
func Compute(cfg Config) (Hash, error) {
	data, err := Canonicalize(cfg)
	if err != nil {
		return "", err
	}
	d := hash.Bytes(data)
	return Hash(d.String()[:16]), nil
}

// MustCompute is Compute but panics on error; useful where the config is
// already known-good (e.g. in tests or after CLI-side validation).
func MustCompute(cfg Config) Hash {
	h, err := Compute(cfg)
	if err != nil {
		panic(err)
	}
	return h
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func nilIfEmpty(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}

// marshalSorted serializes v to JSON with a single json.Marshal call, no
// round-trip. encoding/json writes map keys in sorted order at every
// nesting level and struct fields in declaration order, which is what makes
// the output stable; Config's mapping fields are map[string]any.
func marshalSorted(v any) ([]byte, error) {
	return json.Marshal(v)
}
