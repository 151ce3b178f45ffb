package hash

import "testing"

func TestBytesDeterministic(t *testing.T) {
	a := Bytes([]byte("hello"))
	b := Bytes([]byte("hello"))
	if a != b {
		t.Fatalf("Bytes not deterministic: %v != %v", a, b)
	}
	if a == (Digest{}) {
		t.Fatal("Bytes produced zero digest")
	}
}

func TestManyDomainSeparation(t *testing.T) {
	a := Strings("ab", "c")
	b := Strings("a", "bc")
	if a == b {
		t.Fatal("Many() is not domain-separated: \"ab\",\"c\" collided with \"a\",\"bc\"")
	}
}

func TestManyDeterministic(t *testing.T) {
	a := Strings("one", "two", "three")
	b := Strings("one", "two", "three")
	if a != b {
		t.Fatal("Many() not deterministic across identical calls")
	}
}

func TestDigestString(t *testing.T) {
	d := Bytes([]byte("x"))
	if len(d.String()) != Size*2 {
		t.Fatalf("String() length = %d, want %d", len(d.String()), Size*2)
	}
}

func TestZeroDigest(t *testing.T) {
	var d Digest
	if !d.IsZero() {
		t.Fatal("zero-value Digest should report IsZero()")
	}
	if Bytes(nil).IsZero() {
		t.Fatal("hash of empty input is never the zero digest")
	}
}
