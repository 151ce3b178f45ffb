package importscan

import (
	"reflect"
	"testing"
)

func TestScanSeparatesStaticAndDynamic(t *testing.T) {
	src := []byte(`
import React from "react";
import "./side-effect.css";
export { helper } from "./helper.js";
const mod = require("./legacy.js");
async function load() {
	const { Chart } = await import("./chart.js");
}
`)
	got := Scan(src)
	wantStatic := []string{"react", "./side-effect.css", "./helper.js", "./legacy.js"}
	wantDynamic := []string{"./chart.js"}

	if !reflect.DeepEqual(got.Static, wantStatic) {
		t.Fatalf("Static = %v, want %v", got.Static, wantStatic)
	}
	if !reflect.DeepEqual(got.Dynamic, wantDynamic) {
		t.Fatalf("Dynamic = %v, want %v", got.Dynamic, wantDynamic)
	}
}

func TestScanDedupesWithinEachSet(t *testing.T) {
	src := []byte(`
import "./a.js";
import "./a.js";
import("./b.js");
import("./b.js");
`)
	got := Scan(src)
	if len(got.Static) != 1 || got.Static[0] != "./a.js" {
		t.Fatalf("Static = %v, want [./a.js]", got.Static)
	}
	if len(got.Dynamic) != 1 || got.Dynamic[0] != "./b.js" {
		t.Fatalf("Dynamic = %v, want [./b.js]", got.Dynamic)
	}
}

func TestScanStaticWinsOverDynamicForSameSpecifier(t *testing.T) {
	src := []byte(`
import "./shared.js";
import("./shared.js");
`)
	got := Scan(src)
	if len(got.Dynamic) != 0 {
		t.Fatalf("expected specifier imported both ways to be static-only, got Dynamic=%v", got.Dynamic)
	}
}
