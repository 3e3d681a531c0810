package core

import (
	"encoding/json"
	"testing"
)

func TestGenProofInvariantUnderKeyOrder(t *testing.T) {
	o1 := Document{"a": json.Number("1"), "b": Document{"c": json.Number("2")}}
	o2 := Document{"b": Document{"c": json.Number("2")}, "a": json.Number("1")}
	d1, err := GenProof(o1)
	if err != nil {
		t.Fatalf("gen proof o1: %v", err)
	}
	d2, err := GenProof(o2)
	if err != nil {
		t.Fatalf("gen proof o2: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("digest differs across key orderings: %v != %v", d1, d2)
	}
}

func TestRedactionPreservesDigest(t *testing.T) {
	doc := Document{"a": json.Number("1"), "b": Document{"c": json.Number("2")}}
	full, err := GenProof(doc)
	if err != nil {
		t.Fatalf("gen proof: %v", err)
	}

	prepared, err := PrepareProof(doc)
	if err != nil {
		t.Fatalf("prepare proof: %v", err)
	}

	redacted := Redact(prepared, "b")
	rebuilt, err := GenProof(redacted)
	if err != nil {
		t.Fatalf("gen proof of redacted doc: %v", err)
	}
	if rebuilt != full {
		t.Fatalf("redacted digest %v != original digest %v", rebuilt, full)
	}
}

func TestRedactionOfNestedKeyPreservesDigest(t *testing.T) {
	doc := Document{
		"a": json.Number("1"),
		"b": Document{"c": json.Number("2"), "d": json.Number("3")},
	}
	full, err := GenProof(doc)
	if err != nil {
		t.Fatalf("gen proof: %v", err)
	}
	prepared, err := PrepareProof(doc)
	if err != nil {
		t.Fatalf("prepare proof: %v", err)
	}
	inner := prepared["b"].(Document)
	prepared["b"] = Redact(inner, "c")

	rebuilt, err := GenProof(Redact(prepared))
	if err != nil {
		t.Fatalf("gen proof of nested-redacted doc: %v", err)
	}
	if rebuilt != full {
		t.Fatalf("nested redaction changed the digest: %v != %v", rebuilt, full)
	}
}

func TestDigestChangesWhenValueChanges(t *testing.T) {
	d1, _ := GenProof(Document{"a": json.Number("1")})
	d2, _ := GenProof(Document{"a": json.Number("2")})
	if d1 == d2 {
		t.Fatalf("expected different digests for different values")
	}
}

func TestGenProofRejectsNonObjectRoot(t *testing.T) {
	if _, err := GenProof(nil); err == nil {
		t.Fatalf("expected an error for a nil root")
	}
}

func TestGenProofRejectsKeyPresentBothRawAndPrefixed(t *testing.T) {
	doc := Document{
		"a":                   json.Number("1"),
		hashSiblingKey("a"):   "00",
	}
	if _, err := GenProof(doc); err == nil {
		t.Fatalf("expected KindSameKey error")
	}
}

func TestGenProofRejectsInvalidHex(t *testing.T) {
	doc := Document{hashSiblingKey("missing"): "not-hex!"}
	if _, err := GenProof(doc); err == nil {
		t.Fatalf("expected an invalid-hash error")
	}
}

func TestCanonicalNumberTrimsTrailingZerosLosslessly(t *testing.T) {
	cases := map[string]string{
		"1.50":   "1.5",
		"1.0":    "1",
		"1":      "1",
		"1.230":  "1.23",
		"1e10":   "1e10",
		"1.50e3": "1.5e3",
	}
	for in, want := range cases {
		got := canonicalNumber(in)
		if got != want {
			t.Fatalf("canonicalNumber(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecodeDocumentPreservesNumberText(t *testing.T) {
	doc, err := DecodeDocument([]byte(`{"n": 1.50}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	n, ok := doc["n"].(json.Number)
	if !ok {
		t.Fatalf("expected a json.Number, got %T", doc["n"])
	}
	if string(n) != "1.50" {
		t.Fatalf("expected original number text preserved, got %q", n)
	}
}

func TestDecodeDocumentRejectsNonObjectRoot(t *testing.T) {
	if _, err := DecodeDocument([]byte(`[1,2,3]`)); err == nil {
		t.Fatalf("expected an error for an array root")
	}
}

func TestPrepareProofRoundTripsThroughJSON(t *testing.T) {
	doc, err := DecodeDocument([]byte(`{"a":1,"b":{"c":2}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	full, err := GenProof(doc)
	if err != nil {
		t.Fatalf("gen proof: %v", err)
	}
	prepared, err := PrepareProof(doc)
	if err != nil {
		t.Fatalf("prepare proof: %v", err)
	}
	redacted := Redact(prepared, "b")
	raw, err := json.Marshal(redacted)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := DecodeDocument(raw)
	if err != nil {
		t.Fatalf("decode redacted: %v", err)
	}
	rebuilt, err := GenProof(decoded)
	if err != nil {
		t.Fatalf("gen proof of round-tripped redacted doc: %v", err)
	}
	if rebuilt != full {
		t.Fatalf("digest did not survive a JSON round trip: %v != %v", rebuilt, full)
	}
}
