package core

// keyspace.go builds the 32-byte storage keys described in §3/§4.1:
// [entity-id(16) | base-key(8) | sub-key(8)], with the top bit of base-key
// partitioning the space into user (1) and system (0) keys.

import "encoding/binary"

const (
	userBit uint64 = 1 << 63

	// System base-keys, reserved. Sub-key constants under the metadata
	// base-key are adopted verbatim from the original Rust source so two
	// independent implementations of this spec agree on wire layout.
	BaseKeyMetadata  uint64 = 0
	BaseKeyActionLog uint64 = 1
	BaseKeyLogs      uint64 = 2
	BaseKeyMetrics   uint64 = 3

	// BaseKeyMaskLedger marks the start of the ledger sub-key mask range.
	BaseKeyMaskLedger uint64 = 0x0FFF_FFFF_FFFF_0000
)

// Metadata sub-keys, under BaseKeyMetadata.
const (
	MetaSubKeyEntityID            uint64 = 0
	MetaSubKeyParticipants        uint64 = 1
	MetaSubKeyRoles               uint64 = 2
	MetaSubKeySinks               uint64 = 3
	MetaSubKeyDescription         uint64 = 4
	MetaSubKeyMetadataStruct      uint64 = 5
	MetaSubKeyInitialState        uint64 = 6
	MetaSubKeyRevokedTimestamp    uint64 = 7
	MetaSubKeyRevocation          uint64 = 8
	MetaSubKeyPackageDefinition   uint64 = 9
	MetaSubKeyPackageSource       uint64 = 10
	MetaSubKeySubscriptions       uint64 = 11
)

// StorageKey is the 32-byte address of a single stored value.
type StorageKey [32]byte

// key concatenates entity, base and sub big-endian, with no top-bit
// manipulation — callers go through UserKey/SystemKey for that.
func key(entity Id, base, sub uint64) StorageKey {
	var k StorageKey
	copy(k[0:16], entity[:])
	binary.BigEndian.PutUint64(k[16:24], base)
	binary.BigEndian.PutUint64(k[24:32], sub)
	return k
}

// UserKey builds a key with the base-key's top bit forced to 1 (user
// space). This is the only path user code's storage_write/storage_read ABI
// calls go through; the host always ORs in the bit rather than trusting it.
func UserKey(entity Id, base, sub uint64) StorageKey {
	return key(entity, base|userBit, sub)
}

// SystemKey builds a key with the base-key's top bit forced to 0 (system
// space), used only by host bookkeeping (metadata, action log, ledger).
func SystemKey(entity Id, base, sub uint64) StorageKey {
	return key(entity, base&^userBit, sub)
}

// Key builds a key without forcing the partition bit, for callers that
// already hold a correctly tagged base (e.g. replaying a StorageKey's base
// field verbatim).
func Key(entity Id, base, sub uint64) StorageKey {
	return key(entity, base, sub)
}

func (k StorageKey) Entity() Id {
	var id Id
	copy(id[:], k[0:16])
	return id
}

func (k StorageKey) Base() uint64 { return binary.BigEndian.Uint64(k[16:24]) }

func (k StorageKey) Sub() uint64 { return binary.BigEndian.Uint64(k[24:32]) }

func (k StorageKey) Bytes() []byte { return k[:] }

// IsUserKey/IsSystemKey are pure predicates over a base-key value.
func IsUserKey(base uint64) bool { return base&userBit != 0 }

func IsSystemKey(base uint64) bool { return base&userBit == 0 }

// IsContractKey/IsAgentKey do ambient kind-checking directly from the raw
// 32-byte key, used by code that only ever sees bytes off the wire (e.g. a
// KV cursor) and needs to route without decoding the whole key.
func IsContractKey(b []byte) bool {
	if len(b) < 1 {
		return false
	}
	return EntityKind(b[0]>>4) == KindContract
}

func IsAgentKey(b []byte) bool {
	if len(b) < 1 {
		return false
	}
	return EntityKind(b[0]>>4) == KindAgent
}

// userKeyPrefix returns the first 24 bytes (entity-id || user-space base)
// shared by every sub-key under one entity's user base-key range, used to
// scope a storage_cursor walk to that range.
func userKeyPrefix(entity Id, base uint64) []byte {
	k := UserKey(entity, base, 0)
	return append([]byte(nil), k[:24]...)
}

// StorageKeyFromBytes parses a 32-byte slice into a StorageKey.
func StorageKeyFromBytes(b []byte) (StorageKey, error) {
	if len(b) != 32 {
		return StorageKey{}, NewErr(KindInvalidArgument, "storage key must be 32 bytes")
	}
	var k StorageKey
	copy(k[:], b)
	return k, nil
}
