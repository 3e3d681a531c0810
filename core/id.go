package core

// id.go implements the 128-bit entity identifier described in §3: a
// version-8 UUID (RFC 9562) whose top 4 bits are overwritten with a kind
// nibble so any key prefix can be ambiently classified as belonging to a
// contract, agent, participant, external party, decentralized identity or
// flow, without a side lookup.

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// EntityKind tags the entity class encoded in the top 4 bits of an Id.
type EntityKind byte

const (
	KindContract      EntityKind = 0xc
	KindAgent         EntityKind = 0xa
	KindParticipant   EntityKind = 0xb
	KindExternal      EntityKind = 0xe
	KindDecentralized EntityKind = 0xd
	KindFlow          EntityKind = 0xf
)

func (k EntityKind) String() string {
	switch k {
	case KindContract:
		return "contract"
	case KindAgent:
		return "agent"
	case KindParticipant:
		return "participant"
	case KindExternal:
		return "external"
	case KindDecentralized:
		return "decentralized"
	case KindFlow:
		return "flow"
	default:
		return "unknown"
	}
}

// Id is the 16-byte entity identifier shared by every typed wrapper.
type Id [16]byte

// NewId generates a version-8 UUID and stamps the kind nibble into the top
// 4 bits of the first byte. The random bits and the variant bits come from
// uuid.New (v4); the version nibble is then set to 8.
func NewId(kind EntityKind) Id {
	u := uuid.New() // v4, random
	var id Id
	copy(id[:], u[:])
	id[0] = (byte(kind) << 4) | (id[0] & 0x0f)
	id[6] = 0x80 | (id[6] & 0x0f)
	return id
}

// Kind extracts the entity kind from the top nibble of the id.
func (id Id) Kind() EntityKind { return EntityKind(id[0] >> 4) }

func (id Id) Bytes() []byte { return id[:] }

func (id Id) Hex() string { return hex.EncodeToString(id[:]) }

func (id Id) String() string { return id.Hex() }

func (id Id) IsZero() bool { return id == Id{} }

// IdFromHex parses a 32-hex-character id, rejecting malformed input with
// KindInvalidIDType so callers can propagate a 400 without extra mapping.
func IdFromHex(s string) (Id, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		return Id{}, NewErr(KindInvalidIDType, "malformed entity id: "+s)
	}
	var id Id
	copy(id[:], b)
	return id, nil
}

// Merge XOR-folds two ids into a fresh 16-byte Id, used to derive a
// deterministic sub-key from an (entity, counterpart) pair without a host
// RNG call. Supplemented from the original Rust source's Id::merge.
func (id Id) Merge(other Id) Id {
	var out Id
	for i := range out {
		out[i] = id[i] ^ other[i]
	}
	return out
}

// MergeCompact folds Merge's 16 bytes down to a uint64 by XOR-ing the two
// 8-byte halves together, for callers that want a sub-key-sized value
// directly rather than a full Id.
func (id Id) MergeCompact(other Id) uint64 {
	m := id.Merge(other)
	var lo, hi uint64
	for i := 0; i < 8; i++ {
		lo = lo<<8 | uint64(m[i])
	}
	for i := 8; i < 16; i++ {
		hi = hi<<8 | uint64(m[i])
	}
	return lo ^ hi
}

// typed wrappers — same 16-byte representation, distinct Go types so a
// ContractId can never be passed where an AgentId is expected.

type ContractId Id
type AgentId Id
type ParticipantId Id
type ExternalId Id
type DecentralizedId Id
type FlowId Id

func NewContractId() ContractId      { return ContractId(NewId(KindContract)) }
func NewAgentId() AgentId            { return AgentId(NewId(KindAgent)) }
func NewParticipantId() ParticipantId { return ParticipantId(NewId(KindParticipant)) }
func NewExternalId() ExternalId       { return ExternalId(NewId(KindExternal)) }
func NewDecentralizedId() DecentralizedId { return DecentralizedId(NewId(KindDecentralized)) }
func NewFlowId() FlowId               { return FlowId(NewId(KindFlow)) }

func (id ContractId) Id() Id      { return Id(id) }
func (id AgentId) Id() Id         { return Id(id) }
func (id ParticipantId) Id() Id   { return Id(id) }
func (id ExternalId) Id() Id      { return Id(id) }
func (id DecentralizedId) Id() Id { return Id(id) }
func (id FlowId) Id() Id          { return Id(id) }

func (id ContractId) Hex() string { return Id(id).Hex() }
func (id AgentId) Hex() string    { return Id(id).Hex() }

func (id ContractId) String() string { return id.Hex() }
func (id AgentId) String() string    { return id.Hex() }

// IsContractId/IsAgentId do ambient kind-checking purely from the byte
// pattern, used by any code holding a raw Id (e.g. parsed from a key
// prefix) that needs to know what it points at without a lookup.
func IsContractId(id Id) bool { return id.Kind() == KindContract }
func IsAgentId(id Id) bool    { return id.Kind() == KindAgent }
