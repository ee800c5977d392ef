package query

import "testing"

func TestKey_SeparatorInsidePartDoesNotCollide(t *testing.T) {
	cases := []struct {
		a, b Key
	}{
		{K("a,b", "c"), K("a", "b,c")},
		{K("a|b"), K("a", "b")},
		{K(`s:"x"`), K("x")},
		{K("1"), K(1)},
		{K(true), K("true")},
		{K(), K("")},
	}
	for _, tc := range cases {
		if tc.a.Equal(tc.b) {
			t.Errorf("keys collide: %q == %q", tc.a.String(), tc.b.String())
		}
	}
}

func TestKey_StructuralEquality(t *testing.T) {
	if !K("inventory", "wh-1").Equal(K("inventory", "wh-1")) {
		t.Error("identical parts should produce equal keys")
	}
	if !K(int64(3)).Equal(K(3)) {
		t.Error("signed integer widths should compare equal")
	}
}

func TestKey_HasPrefix(t *testing.T) {
	k := K("commit", "pos", "tab-1")
	if !k.HasPrefix(K("commit", "pos")) {
		t.Error("expected prefix match")
	}
	if k.HasPrefix(K("commit", "order")) {
		t.Error("unexpected prefix match")
	}
	if K("a").HasPrefix(K("a", "b")) {
		t.Error("longer prefix must not match")
	}
}

func TestKey_PartsIsCopy(t *testing.T) {
	k := K("a", "b")
	p := k.Parts()
	p[0] = "z"
	if k.Parts()[0] != "a" {
		t.Error("Parts exposed internal slice")
	}
}
