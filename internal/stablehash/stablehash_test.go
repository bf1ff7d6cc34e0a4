package stablehash

import "testing"

func TestHash_KeyOrderAndWhitespace(t *testing.T) {
	a := map[string]any{
		"user_id": 42.0,
		"note":    "Refund  for  order",
		"meta":    map[string]any{"b": "x", "a": []any{" Y ", "z"}},
	}
	b := map[string]any{
		"meta":    map[string]any{"a": []any{"y", "Z"}, "b": "x  "},
		"note":    " refund for\torder ",
		"user_id": 42.0,
	}
	if Hash(a) != Hash(b) {
		t.Errorf("expected equal hashes, got %s and %s", Hash(a), Hash(b))
	}
	if len(Hash(a)) != Size {
		t.Errorf("expected %d hex chars, got %d", Size, len(Hash(a)))
	}
}

func TestHash_DistinguishesValues(t *testing.T) {
	if Hash(map[string]any{"amount": 100.0}) == Hash(map[string]any{"amount": 101.0}) {
		t.Error("different amounts must not collide")
	}
	if Hash(map[string]any{"x": "1"}) == Hash(map[string]any{"x": 1.0}) {
		t.Error("string and number must not collide")
	}
}

func TestHash_TypedContainers(t *testing.T) {
	typed := map[string]string{"q": "Hello World"}
	generic := map[string]any{"q": "hello   world"}
	if Hash(typed) != Hash(generic) {
		t.Error("typed map should hash like its generic form")
	}
}

func TestCanonical_SortedNoEscape(t *testing.T) {
	got := CanonicalString(map[string]any{"b": "<x>", "a": 1})
	want := `{"a":1,"b":"<x>"}`
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestOf(t *testing.T) {
	s1 := Of("lookup", map[string]any{"id": "A1"})
	s2 := Of("lookup", map[string]any{"id": " a1 "})
	if s1 != s2 {
		t.Errorf("expected identical signatures: %v vs %v", s1, s2)
	}
	if Of("lookup", nil) != Of("lookup", map[string]any{}) {
		t.Error("nil and empty args should share a signature")
	}
	if s1.String() != "lookup:"+s1.ArgsHash {
		t.Errorf("unexpected string form %s", s1.String())
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  Hello   World ", "hello world"},
		{"\tA\nB", "a b"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeText(tt.in); got != tt.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
