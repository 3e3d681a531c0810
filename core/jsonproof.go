package core

// jsonproof.go implements the JSON canonicalization + selective-disclosure
// proof scheme from §4.2: a 256-bit digest over a JSON object that is
// invariant under key reordering and that a verifier can recompute after
// any subset of keys has been redacted, given hashes of the withheld
// subtrees.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// reservedPrefix marks a sibling key as holding a pre-computed digest for a
// redacted value rather than the value itself.
const reservedPrefix = "__sha3_hash_x"

func hashSiblingKey(k string) string { return reservedPrefix + "_" + k }

const selfSiblingKey = reservedPrefix + "___self___"

func isReservedKey(k string) bool { return strings.HasPrefix(k, reservedPrefix) }

// Document is a decoded JSON object, the only root shape the proof scheme
// accepts.
type Document = map[string]any

// GenProof computes the 256-bit digest of a JSON object. If the object
// already carries reserved-prefix hash entries (i.e. it is a previously
// redacted document), GenProof takes the rebuild path and merges the
// supplied hashes with the digests of whatever raw keys remain; otherwise
// it canonicalizes and digests every key from scratch. This single
// entry-point duality mirrors the original source's gen_proof, which
// detects which path to take via contains_prefix.
func GenProof(doc Document) (Hash256, error) {
	if doc == nil {
		return Hash256{}, NewErr(KindNotAnObject, "proof root must be a JSON object")
	}
	self, _, err := digestObject(doc)
	return self, err
}

// PrepareProof returns a copy of doc with PREFIX_<k> sibling keys added
// for every key (holding the hex-encoded digest of that key's value) and a
// PREFIX___self___ key holding the object's own digest. The result is not
// itself a GenProof input (every raw key sits next to its hash sibling);
// Redact turns it into one, and GenProof on that reproduces the original
// digest.
func PrepareProof(doc Document) (Document, error) {
	self, children, err := digestObject(doc)
	if err != nil {
		return nil, err
	}
	out := make(Document, len(doc)*2+1)
	for k, v := range doc {
		if isReservedKey(k) {
			continue
		}
		if child, ok := v.(Document); ok {
			prepared, err := PrepareProof(child)
			if err != nil {
				return nil, err
			}
			out[k] = prepared
		} else {
			out[k] = v
		}
		out[hashSiblingKey(k)] = children[k].Hex()
	}
	out[selfSiblingKey] = self.Hex()
	return out, nil
}

// Redact removes the named top-level keys from a prepared document,
// leaving only their PREFIX_<k> hash siblings behind, and drops the hash
// sibling of every key it keeps (recursing into kept nested objects), so
// each key ends up either raw or as a hash, never both. keys not present
// in doc are ignored.
func Redact(doc Document, keys ...string) Document {
	out := make(Document, len(doc))
	redact := make(map[string]bool, len(keys))
	for _, k := range keys {
		redact[k] = true
	}
	for k, v := range doc {
		if redact[k] {
			continue
		}
		if isReservedKey(k) {
			orig := strings.TrimPrefix(k, reservedPrefix+"_")
			if _, raw := doc[orig]; raw && !redact[orig] {
				continue
			}
		} else if child, ok := v.(Document); ok {
			v = Redact(child)
		}
		out[k] = v
	}
	return out
}

// digestObject computes the fold digest of a JSON object and, for every
// retained key, the "digest of a value keyed by its string key" used both
// as that key's contribution to the fold and as the value stashed under
// PREFIX_<k> when preparing a proof.
func digestObject(obj any) (self Hash256, children map[string]Hash256, err error) {
	m, ok := obj.(Document)
	if !ok {
		return Hash256{}, nil, NewErr(KindNotAnObject, "proof root/subtree must be a JSON object")
	}

	children = make(map[string]Hash256, len(m))
	for k, v := range m {
		if isReservedKey(k) {
			continue
		}
		if _, dup := m[hashSiblingKey(k)]; dup {
			return Hash256{}, nil, NewErr(KindSameKey, fmt.Sprintf("key %q present both raw and as a precomputed hash", k))
		}
		if child, isObj := v.(Document); isObj {
			childSelf, _, err := digestObject(child)
			if err != nil {
				return Hash256{}, nil, err
			}
			children[k] = Sum256([]byte(k), []byte{0}, childSelf[:])
		} else {
			cs, err := canonicalString(v)
			if err != nil {
				return Hash256{}, nil, err
			}
			children[k] = Sum256([]byte(k), []byte{0}, []byte(cs))
		}
	}

	// Merge in any precomputed hashes for keys withheld by redaction.
	for k, v := range m {
		if !isReservedKey(k) || k == selfSiblingKey {
			continue
		}
		origKey := strings.TrimPrefix(k, reservedPrefix+"_")
		if _, raw := m[origKey]; raw {
			return Hash256{}, nil, NewErr(KindSameKey, fmt.Sprintf("key %q present both raw and as a precomputed hash", origKey))
		}
		hexStr, isStr := v.(string)
		if !isStr {
			return Hash256{}, nil, NewErr(KindInvalidHash, fmt.Sprintf("precomputed hash for %q must be a string", origKey))
		}
		h, err := HashFromHex(hexStr)
		if err != nil {
			return Hash256{}, nil, err
		}
		children[origKey] = h
	}

	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, len(keys)*32)
	for _, k := range keys {
		h := children[k]
		buf = append(buf, h[:]...)
	}
	self = Sum256(buf)
	return self, children, nil
}

// canonicalString renders a non-object JSON value (string, number, bool,
// null, or array) into the canonical byte form hashed for leaf digests.
func canonicalString(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "null", nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	case string:
		b, err := json.Marshal(t)
		if err != nil {
			return "", NewErr(KindNotAString, "cannot encode string value")
		}
		return string(b), nil
	case json.Number:
		return canonicalNumber(string(t)), nil
	case float64:
		return canonicalNumber(strconv.FormatFloat(t, 'g', -1, 64)), nil
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			s, err := canonicalElement(e)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	default:
		return "", NewErr(KindInvalidArgument, fmt.Sprintf("unsupported JSON value type %T", v))
	}
}

// canonicalElement renders any JSON value, including nested objects, for
// use inside an array. Objects nested in arrays are canonicalized (keys
// sorted) but are not independently redactable — only top-level object
// keys participate in the selective-disclosure digest.
func canonicalElement(v any) (string, error) {
	if m, ok := v.(Document); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			kb, _ := json.Marshal(k)
			vs, err := canonicalElement(m[k])
			if err != nil {
				return "", err
			}
			parts[i] = string(kb) + ":" + vs
		}
		return "{" + strings.Join(parts, ",") + "}", nil
	}
	return canonicalString(v)
}

// canonicalNumber trims trailing fractional zeros only when doing so is
// lossless, leaving integers and exponent forms untouched.
func canonicalNumber(s string) string {
	if !strings.ContainsAny(s, ".eE") {
		return s
	}
	if !strings.Contains(s, ".") {
		return s
	}
	dot := strings.IndexByte(s, '.')
	exp := ""
	mantissa := s
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		mantissa = s[:i]
		exp = s[i:]
		dot = strings.IndexByte(mantissa, '.')
	}
	if dot < 0 {
		return s
	}
	trimmed := strings.TrimRight(mantissa, "0")
	trimmed = strings.TrimSuffix(trimmed, ".")
	return trimmed + exp
}

// DecodeDocument parses raw JSON bytes into a Document, preserving number
// text via json.Number so canonicalization can trim trailing zeros
// losslessly instead of round-tripping through float64.
func DecodeDocument(raw []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, WrapErr(KindInvalidArgument, "decode JSON document", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, NewErr(KindNotAnObject, "proof root must be a JSON object")
	}
	return normalizeDecoded(m).(Document), nil
}

func normalizeDecoded(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(Document, len(t))
		for k, vv := range t {
			out[k] = normalizeDecoded(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalizeDecoded(vv)
		}
		return out
	default:
		return v
	}
}
