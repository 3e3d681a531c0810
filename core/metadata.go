package core

// metadata.go implements the append-only introduction/revocation metadata
// layout from §3/§4.10: the Metadata/Introduction/Revocation records and
// their storage under the reserved metadata sub-keys, plus the
// BlockIdentifier/TxIdentifier wire shapes supplemented from the original
// Rust source to give TX_CTX/BLOCK_CTX a concrete 44-byte encoding.

import (
	"encoding/binary"
	"encoding/json"
)

// metaBucketFor picks the sub-DB storing an entity's metadata, matching
// the persisted layout's "contracts"/"agents" sub-DBs (§6).
func metaBucketFor(kind EntityKind) string {
	if kind == KindAgent {
		return "agents"
	}
	return "contracts"
}

// BlockIdentifier/TxIdentifier share the original source's 44-byte shape:
// a 4-byte chain id, an 8-byte sequence number, and a 32-byte hash.
type BlockIdentifier struct {
	ChainID uint32  `json:"chain_id"`
	Number  uint64  `json:"number"`
	Hash    Hash256 `json:"hash"`
}

// TxIdentifier is structurally identical to BlockIdentifier but names a
// transaction rather than a block; kept as a distinct type so the two are
// never confused at a call site.
type TxIdentifier struct {
	ChainID uint32  `json:"chain_id"`
	Number  uint64  `json:"number"`
	Hash    Hash256 `json:"hash"`
}

func (b BlockIdentifier) Encode() []byte {
	out := make([]byte, 44)
	binary.BigEndian.PutUint32(out[0:4], b.ChainID)
	binary.BigEndian.PutUint64(out[4:12], b.Number)
	copy(out[12:44], b.Hash[:])
	return out
}

func DecodeBlockIdentifier(b []byte) (BlockIdentifier, error) {
	if len(b) != 44 {
		return BlockIdentifier{}, NewErr(KindInvalidArgument, "block identifier must be 44 bytes")
	}
	var out BlockIdentifier
	out.ChainID = binary.BigEndian.Uint32(b[0:4])
	out.Number = binary.BigEndian.Uint64(b[4:12])
	copy(out.Hash[:], b[12:44])
	return out, nil
}

func (t TxIdentifier) Encode() []byte {
	return BlockIdentifier(t).Encode()
}

func DecodeTxIdentifier(b []byte) (TxIdentifier, error) {
	bi, err := DecodeBlockIdentifier(b)
	return TxIdentifier(bi), err
}

// TxContext backs the TX_CTX register: which transaction is executing and
// who submitted it.
type TxContext struct {
	TxID   TxIdentifier `json:"tx_id"`
	Writer Id           `json:"writer"`
}

// BlockContext backs the BLOCK_CTX register: the containing block plus
// its timestamp, the only wall-clock source contracts may consult (§9
// Determinism).
type BlockContext struct {
	Block     BlockIdentifier `json:"block"`
	Timestamp uint64          `json:"timestamp_ms"`
}

// Metadata is the per-entity lifecycle record from §3.
type Metadata struct {
	ActiveSince       uint64        `json:"active_since"`
	InactiveSince     uint64        `json:"inactive_since"`
	TxCtxIntroduction *TxIdentifier `json:"tx_ctx_introduction,omitempty"`
	TxCtxRevocation   *TxIdentifier `json:"tx_ctx_revocation,omitempty"`
	Parent            *Id           `json:"parent,omitempty"`
}

func (m Metadata) Introduced() bool { return m.ActiveSince > 0 }
func (m Metadata) Revoked() bool    { return m.InactiveSince > 0 }

// Sink is an outbound alias a contract's module may write to (e.g. an
// event/royalty recipient); contracts carry a writer alias per sink,
// agents must not.
type Sink struct {
	WriterAlias string `json:"writer_alias"`
	Target      Id     `json:"target"`
}

// SubscriptionSpec is one (topic, method) pair an agent asks to be
// subscribed to at introduction time.
type SubscriptionSpec struct {
	Publisher Id     `json:"publisher"`
	Topic     string `json:"topic"`
	Method    string `json:"method"`
}

// Package carries a module's compiled definition plus its (optional)
// human-readable source, persisted under the metadata package sub-keys.
type Package struct {
	Definition []byte `json:"definition"`
	Source     []byte `json:"source,omitempty"`
}

// Introduction is the accept-time record for bringing an entity into
// existence (§3).
type Introduction struct {
	ID            Id                 `json:"id"`
	Participants  []Id               `json:"participants,omitempty"`
	InitialState  Document           `json:"initial_state,omitempty"`
	Sinks         []Sink             `json:"sinks,omitempty"`
	Subscriptions []SubscriptionSpec `json:"subscriptions,omitempty"`
	Description   string             `json:"description,omitempty"`
	Metadata      Metadata           `json:"metadata"`
	Package       Package            `json:"package"`
}

// ValidateIntroduction enforces the accept-time invariants from §3:
// contract sinks carry a writer alias and contracts need >=1 participant;
// agents must carry neither sinks-with-alias nor participants, but may
// carry subscriptions, which contracts must not.
func ValidateIntroduction(intro Introduction) error {
	switch intro.ID.Kind() {
	case KindContract:
		if len(intro.Participants) < 1 {
			return NewErr(KindInvalidArgument, "contract introduction requires at least one participant")
		}
		if len(intro.Subscriptions) > 0 {
			return NewErr(KindInvalidArgument, "contracts must not carry subscriptions")
		}
		for _, s := range intro.Sinks {
			if s.WriterAlias == "" {
				return NewErr(KindInvalidArgument, "contract sinks must carry a writer alias")
			}
		}
	case KindAgent:
		if len(intro.Participants) > 0 {
			return NewErr(KindInvalidArgument, "agents must not carry participants")
		}
		for _, s := range intro.Sinks {
			if s.WriterAlias != "" {
				return NewErr(KindInvalidArgument, "agent sinks must not carry a writer alias")
			}
		}
	default:
		return NewErr(KindInvalidIDType, "introduction id must be a contract or agent id")
	}
	return nil
}

// Revocation marks an already-introduced, not-yet-revoked entity inactive.
type Revocation struct {
	ID     Id     `json:"id"`
	Reason string `json:"reason"`
}

// --- metadata persistence ---

func metaKey(entity Id, sub uint64) []byte {
	return SystemKey(entity, BaseKeyMetadata, sub).Bytes()
}

// WriteMetadata persists m under the entity's metadata-struct sub-key.
func WriteMetadata(txn RwTxn, entity Id, m Metadata) error {
	b, err := json.Marshal(m)
	if err != nil {
		return WrapErr(KindCorrupted, "marshal metadata", err)
	}
	bucket, err := txn.WritableBucket(metaBucketFor(entity.Kind()))
	if err != nil {
		return err
	}
	return bucket.Put(metaKey(entity, MetaSubKeyMetadataStruct), b)
}

// ReadMetadata loads an entity's metadata record, if any.
func ReadMetadata(txn RoTxn, entity Id) (Metadata, bool, error) {
	bucket, ok := txn.Bucket(metaBucketFor(entity.Kind()))
	if !ok {
		return Metadata{}, false, nil
	}
	b, ok := bucket.Get(metaKey(entity, MetaSubKeyMetadataStruct))
	if !ok {
		return Metadata{}, false, nil
	}
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return Metadata{}, false, WrapErr(KindCorrupted, "unmarshal metadata", err)
	}
	return m, true, nil
}

// WriteIntroduction persists every field of an Introduction under its
// dedicated metadata sub-keys, including the initial metadata record.
func WriteIntroduction(txn RwTxn, intro Introduction) error {
	bucket, err := txn.WritableBucket(metaBucketFor(intro.ID.Kind()))
	if err != nil {
		return err
	}
	put := func(sub uint64, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return WrapErr(KindCorrupted, "marshal introduction field", err)
		}
		return bucket.Put(metaKey(intro.ID, sub), b)
	}
	if err := put(MetaSubKeyEntityID, intro.ID); err != nil {
		return err
	}
	if err := put(MetaSubKeyParticipants, intro.Participants); err != nil {
		return err
	}
	if err := put(MetaSubKeySinks, intro.Sinks); err != nil {
		return err
	}
	if err := put(MetaSubKeyDescription, intro.Description); err != nil {
		return err
	}
	if err := put(MetaSubKeyInitialState, intro.InitialState); err != nil {
		return err
	}
	if err := put(MetaSubKeySubscriptions, intro.Subscriptions); err != nil {
		return err
	}
	if err := put(MetaSubKeyPackageDefinition, intro.Package.Definition); err != nil {
		return err
	}
	if err := put(MetaSubKeyPackageSource, intro.Package.Source); err != nil {
		return err
	}
	return WriteMetadata(txn, intro.ID, intro.Metadata)
}

// WriteRevocation persists the revocation record and the revoked
// timestamp, and flips the entity's metadata to inactive.
func WriteRevocation(txn RwTxn, rev Revocation, revokedAtMS uint64, m Metadata) error {
	bucket, err := txn.WritableBucket(metaBucketFor(rev.ID.Kind()))
	if err != nil {
		return err
	}
	b, err := json.Marshal(rev)
	if err != nil {
		return WrapErr(KindCorrupted, "marshal revocation", err)
	}
	if err := bucket.Put(metaKey(rev.ID, MetaSubKeyRevocation), b); err != nil {
		return err
	}
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, revokedAtMS)
	if err := bucket.Put(metaKey(rev.ID, MetaSubKeyRevokedTimestamp), ts); err != nil {
		return err
	}
	return WriteMetadata(txn, rev.ID, m)
}

// WriteParticipantRoles persists the role set held by a participant
// against a contract, under the contract's metadata roles sub-key.
func WriteParticipantRoles(txn RwTxn, contract, participant Id, roles []Role) error {
	bucket, err := txn.WritableBucket(metaBucketFor(contract.Kind()))
	if err != nil {
		return err
	}
	all, err := readRoleMap(bucket, contract)
	if err != nil {
		return err
	}
	if all == nil {
		all = make(map[string][]Role)
	}
	all[participant.Hex()] = roles
	b, err := json.Marshal(all)
	if err != nil {
		return WrapErr(KindCorrupted, "marshal participant roles", err)
	}
	return bucket.Put(metaKey(contract, MetaSubKeyRoles), b)
}

// ReadParticipantRoles loads the roles a participant holds against a
// contract; an unrecognized participant holds no roles.
func ReadParticipantRoles(txn RoTxn, contract, participant Id) ([]Role, error) {
	bucket, ok := txn.Bucket(metaBucketFor(contract.Kind()))
	if !ok {
		return nil, nil
	}
	all, err := readRoleMapRO(bucket, contract)
	if err != nil {
		return nil, err
	}
	return all[participant.Hex()], nil
}

func readRoleMapRO(bucket Bucket, contract Id) (map[string][]Role, error) {
	b, ok := bucket.Get(metaKey(contract, MetaSubKeyRoles))
	if !ok {
		return nil, nil
	}
	var all map[string][]Role
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, WrapErr(KindCorrupted, "unmarshal participant roles", err)
	}
	return all, nil
}

func readRoleMap(bucket RwBucket, contract Id) (map[string][]Role, error) {
	return readRoleMapRO(bucket, contract)
}

// ReadInitialState loads the JSON initial state recorded at introduction.
func ReadInitialState(txn RoTxn, entity Id) (Document, bool, error) {
	bucket, ok := txn.Bucket(metaBucketFor(entity.Kind()))
	if !ok {
		return nil, false, nil
	}
	b, ok := bucket.Get(metaKey(entity, MetaSubKeyInitialState))
	if !ok {
		return nil, false, nil
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, false, WrapErr(KindCorrupted, "unmarshal initial state", err)
	}
	return doc, true, nil
}
