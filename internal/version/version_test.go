package version

import "testing"

func TestComputeStableAcrossPluginOrder(t *testing.T) {
	a := Config{ParserMode: ParserOxc, Plugins: []string{"a", "b"}}
	b := Config{ParserMode: ParserOxc, Plugins: []string{"b", "a"}}

	ha, err := Compute(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := Compute(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatalf("Compute differs on plugin order: %s != %s", ha, hb)
	}
}

func TestComputeDiffersOnParserMode(t *testing.T) {
	a := Config{ParserMode: ParserOxc, Plugins: []string{"a", "b"}}
	b := Config{ParserMode: ParserSwc, Plugins: []string{"a", "b"}}

	ha, _ := Compute(a)
	hb, _ := Compute(b)
	if ha == hb {
		t.Fatalf("Compute should differ on parser_mode, both gave %s", ha)
	}
}

func TestComputeDuplicatesRemoved(t *testing.T) {
	a := Config{Plugins: []string{"a", "b"}}
	b := Config{Plugins: []string{"a", "a", "b", "b"}}

	ha, _ := Compute(a)
	hb, _ := Compute(b)
	if ha != hb {
		t.Fatalf("Compute should ignore duplicate plugin entries: %s != %s", ha, hb)
	}
}

func TestComputeNullVsEmptyEquivalence(t *testing.T) {
	a := Config{Entry: nil}
	b := Config{Entry: []string{}}

	ha, _ := Compute(a)
	hb, _ := Compute(b)
	if ha != hb {
		t.Fatalf("Compute should treat nil entry and empty entry as equivalent: %s != %s", ha, hb)
	}
}

func TestComputeDefaultsApplied(t *testing.T) {
	a := Config{}
	b := Config{ParserMode: ParserHybrid, Minifier: MinifierAuto}

	ha, _ := Compute(a)
	hb, _ := Compute(b)
	if ha != hb {
		t.Fatalf("Compute should apply parser_mode/minifier defaults: %s != %s", ha, hb)
	}
}

func TestComputeHashLength(t *testing.T) {
	h, err := Compute(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 16 {
		t.Fatalf("Hash length = %d, want 16", len(h))
	}
}

func TestComputeTreeshakeSetLikeOrdering(t *testing.T) {
	a := Config{Treeshake: &Treeshake{Mode: TreeshakeSafe, Include: []string{"x", "y"}, Exclude: []string{"z"}}}
	b := Config{Treeshake: &Treeshake{Mode: TreeshakeSafe, Include: []string{"y", "x"}, Exclude: []string{"z"}}}

	ha, _ := Compute(a)
	hb, _ := Compute(b)
	if ha != hb {
		t.Fatalf("Compute should be order-independent for treeshake include/exclude: %s != %s", ha, hb)
	}
}

func TestComputeCSSOptionsKeyOrderIndependent(t *testing.T) {
	a := Config{CSSOptions: map[string]any{"modules": true, "prefix": "x-"}}
	b := Config{CSSOptions: map[string]any{"prefix": "x-", "modules": true}}

	ha, _ := Compute(a)
	hb, _ := Compute(b)
	if ha != hb {
		t.Fatalf("Compute should be key-order independent for css_options: %s != %s", ha, hb)
	}
}
