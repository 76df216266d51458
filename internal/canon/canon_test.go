package canon

import (
	"encoding/json"
	"testing"
)

func TestMarshalSortsKeysAndStripsWhitespace(t *testing.T) {
	t.Parallel()

	got, err := Marshal(map[string]any{"b": 2, "a": 1, "c": []any{"x", "y"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"a":1,"b":2,"c":["x","y"]}`
	if string(got) != want {
		t.Fatalf("canonical = %q, want %q", got, want)
	}
}

func TestMarshalStructFieldOrderDoesNotLeak(t *testing.T) {
	t.Parallel()

	type zFirst struct {
		Z int `json:"z"`
		A int `json:"a"`
	}
	got, err := Marshal(zFirst{Z: 1, A: 2})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(got) != `{"a":2,"z":1}` {
		t.Fatalf("canonical = %q", got)
	}
}

func TestMarshalDoesNotEscapeHTMLOrUnicode(t *testing.T) {
	t.Parallel()

	got, err := Marshal(map[string]string{"s": "<a> & ünïcode"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(got) != `{"s":"<a> & ünïcode"}` {
		t.Fatalf("canonical = %q", got)
	}
}

func TestMarshalRoundTripStable(t *testing.T) {
	t.Parallel()

	values := []any{
		map[string]any{"n": 42, "f": 1.5, "neg": -7, "s": "x", "b": true, "null": nil},
		[]any{1, "two", map[string]any{"three": 3}},
		map[string]any{"nested": map[string]any{"deep": []any{map[string]any{"k": "v"}}}},
	}
	for _, v := range values {
		first, err := Marshal(v)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", v, err)
		}
		var decoded any
		if err := json.Unmarshal(first, &decoded); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		second, err := Marshal(decoded)
		if err != nil {
			t.Fatalf("Marshal(decoded): %v", err)
		}
		if string(first) != string(second) {
			t.Fatalf("canonical not stable: %q vs %q", first, second)
		}
	}
}

func TestHashJSONMatchesSHA256OfCanonicalBytes(t *testing.T) {
	t.Parallel()

	v := map[string]any{"k": "v", "n": 1}
	b, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	h, err := HashJSON(v)
	if err != nil {
		t.Fatalf("HashJSON: %v", err)
	}
	if h != SHA256Hex(b) {
		t.Fatalf("HashJSON = %s, want %s", h, SHA256Hex(b))
	}
	if len(h) != 64 {
		t.Fatalf("hash length = %d, want 64", len(h))
	}
}

func TestHMACDiffersByKey(t *testing.T) {
	t.Parallel()

	data := []byte("payload")
	a := HMACSHA256Hex([]byte("key-a"), data)
	b := HMACSHA256Hex([]byte("key-b"), data)
	if a == b {
		t.Fatal("HMACs under different keys should differ")
	}
	if !EqualHMAC(a, HMACSHA256Hex([]byte("key-a"), data)) {
		t.Fatal("HMAC not deterministic")
	}
}
