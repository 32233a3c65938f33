package jcs

import "testing"

func TestCanonicalizeSortsKeysAndStripsWhitespace(test *testing.T) {
	input := []byte("{\n  \"b\": 2,\n  \"a\": 1\n}")
	canonical, err := Canonicalize(input)
	if err != nil {
		test.Fatalf("canonicalize: %v", err)
	}
	if string(canonical) != `{"a":1,"b":2}` {
		test.Fatalf("unexpected canonical form: %s", canonical)
	}
}

func TestMarshalCanonicalStableAcrossFieldOrder(test *testing.T) {
	first, err := MarshalCanonical(map[string]any{"x": "1", "y": "2"})
	if err != nil {
		test.Fatalf("marshal first: %v", err)
	}
	second, err := MarshalCanonical(map[string]any{"y": "2", "x": "1"})
	if err != nil {
		test.Fatalf("marshal second: %v", err)
	}
	if string(first) != string(second) {
		test.Fatalf("canonical output differs: %s vs %s", first, second)
	}
}

func TestDigestMatchesForEquivalentDocuments(test *testing.T) {
	first, err := Digest([]byte(`{"a": 1, "b": "two"}`))
	if err != nil {
		test.Fatalf("digest first: %v", err)
	}
	second, err := Digest([]byte("{\"b\":\"two\",\"a\":1}"))
	if err != nil {
		test.Fatalf("digest second: %v", err)
	}
	if first != second {
		test.Fatalf("digests differ: %s vs %s", first, second)
	}
	if len(first) != 64 {
		test.Fatalf("expected sha256 hex digest, got %q", first)
	}
}

func TestCanonicalizeRejectsInvalidJSON(test *testing.T) {
	if _, err := Canonicalize([]byte("{not json")); err == nil {
		test.Fatalf("expected error for invalid JSON")
	}
}
