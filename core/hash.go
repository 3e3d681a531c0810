package core

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Hash256 is a 32-byte digest used throughout the runtime wherever the spec
// says "digest" — JSON-proof roots, block/tx hashes, and module digests in
// the code store.
type Hash256 [32]byte

// Sum256 hashes data with SHA3-256, the digest primitive this runtime
// standardises on (matching the JSON-proof hasher).
func Sum256(data ...[]byte) Hash256 {
	h := sha3.New256()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash256
	copy(out[:], h.Sum(nil))
	return out
}

func (h Hash256) Hex() string { return hex.EncodeToString(h[:]) }

func (h Hash256) String() string { return h.Hex() }

func (h Hash256) IsZero() bool { return h == Hash256{} }

// HashFromHex decodes a hex-encoded 32-byte digest.
func HashFromHex(s string) (Hash256, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash256{}, WrapErr(KindInvalidHash, "decode hash hex", err)
	}
	if len(b) != 32 {
		return Hash256{}, NewErr(KindInvalidHash, "hash must be 32 bytes")
	}
	var out Hash256
	copy(out[:], b)
	return out, nil
}
