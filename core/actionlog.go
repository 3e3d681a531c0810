package core

// actionlog.go implements the append-only per-entity action log and its
// transaction-to-action cross-index described in §3/§4.10: every committed
// CallAction is recorded at the next free index under the entity's
// action-log space, and a side table lets a caller holding only a
// TxIdentifier find which entity/index it produced.

import (
	"encoding/binary"
	"encoding/json"
)

const (
	actionLogBucket = "action-log"     // entity-id(16) + index(8) -> ActionRecord JSON
	actionIdxBucket = "action-log-idx" // entity-id(16) -> last index (8 bytes BE)
	actionRelBucket = "action-tx-rel"  // tx-id hash(32) -> RelTxAction JSON
)

// MethodRef names a method either by its declared name or by its 32-bit
// id (§4.12); exactly one of the two is meaningful per CallAction.
type MethodRef struct {
	ByName string `json:"by_name,omitempty"`
	ByID   uint32 `json:"by_id,omitempty"`
}

// CallAction is one invocation request against an already-introduced
// entity: which method, and its JSON parameters.
type CallAction struct {
	Method MethodRef `json:"method"`
	Params Document  `json:"params,omitempty"`
}

// ActionRecord is the durable record of one committed action (§3): the
// transaction it executed under, the action itself, and when it landed.
type ActionRecord struct {
	TxCtx         TxContext  `json:"tx_ctx"`
	Action        CallAction `json:"action"`
	CommittedAtMS uint64     `json:"committed_at_ms"`
}

// RelTxAction is the cross-index entry recovering which entity and index a
// transaction's action record landed at, keyed by the transaction's hash.
type RelTxAction struct {
	Entity Id     `json:"entity"`
	Index  uint64 `json:"index"`
}

func actionLogKey(entity Id, index uint64) []byte {
	b := make([]byte, 24)
	copy(b[0:16], entity[:])
	binary.BigEndian.PutUint64(b[16:24], index)
	return b
}

// AppendAction writes rec at the next free index in entity's action log
// and records the tx-to-action cross-index entry, returning the index
// assigned. Callers invoke this inside the same RW transaction used to
// apply the entity's buffered storage writes, so an action and its effects
// land together or not at all.
func AppendAction(txn RwTxn, entity Id, rec ActionRecord) (uint64, error) {
	idxBucket, err := txn.WritableBucket(actionIdxBucket)
	if err != nil {
		return 0, err
	}
	next := uint64(0)
	if b, ok := idxBucket.Get(entity[:]); ok {
		next = binary.BigEndian.Uint64(b) + 1
	}

	logBucket, err := txn.WritableBucket(actionLogBucket)
	if err != nil {
		return 0, err
	}
	recBytes, err := json.Marshal(rec)
	if err != nil {
		return 0, WrapErr(KindCorrupted, "marshal action record", err)
	}
	if err := logBucket.Put(actionLogKey(entity, next), recBytes); err != nil {
		return 0, err
	}

	nextBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(nextBytes, next)
	if err := idxBucket.Put(entity[:], nextBytes); err != nil {
		return 0, err
	}

	relBucket, err := txn.WritableBucket(actionRelBucket)
	if err != nil {
		return 0, err
	}
	rel := RelTxAction{Entity: entity, Index: next}
	relBytes, err := json.Marshal(rel)
	if err != nil {
		return 0, WrapErr(KindCorrupted, "marshal tx-action relation", err)
	}
	if err := relBucket.Put(rec.TxCtx.TxID.Hash[:], relBytes); err != nil {
		return 0, err
	}

	return next, nil
}

// GetAction loads the action record at a given index.
func GetAction(txn RoTxn, entity Id, index uint64) (ActionRecord, bool, error) {
	bucket, ok := txn.Bucket(actionLogBucket)
	if !ok {
		return ActionRecord{}, false, nil
	}
	b, ok := bucket.Get(actionLogKey(entity, index))
	if !ok {
		return ActionRecord{}, false, nil
	}
	var rec ActionRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return ActionRecord{}, false, WrapErr(KindCorrupted, "unmarshal action record", err)
	}
	return rec, true, nil
}

// LastActionIndex reports the highest index recorded for entity, if any.
func LastActionIndex(txn RoTxn, entity Id) (uint64, bool, error) {
	bucket, ok := txn.Bucket(actionIdxBucket)
	if !ok {
		return 0, false, nil
	}
	b, ok := bucket.Get(entity[:])
	if !ok {
		return 0, false, nil
	}
	return binary.BigEndian.Uint64(b), true, nil
}

// ActionHistory returns the action records for entity from first..last
// index inclusive, in index order. Passing 0 reserved sub-keys like any
// other entity-scoped range is fine since the two bucket spaces never mix.
func ActionHistory(txn RoTxn, entity Id) ([]ActionRecord, error) {
	last, ok, err := LastActionIndex(txn, entity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	out := make([]ActionRecord, 0, last+1)
	for i := uint64(0); i <= last; i++ {
		rec, ok, err := GetAction(txn, entity, i)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// FindActionByTx resolves a transaction's cross-index entry back to the
// entity/index it produced, if this host committed an action for it.
func FindActionByTx(txn RoTxn, tx TxIdentifier) (RelTxAction, bool, error) {
	bucket, ok := txn.Bucket(actionRelBucket)
	if !ok {
		return RelTxAction{}, false, nil
	}
	b, ok := bucket.Get(tx.Hash[:])
	if !ok {
		return RelTxAction{}, false, nil
	}
	var rel RelTxAction
	if err := json.Unmarshal(b, &rel); err != nil {
		return RelTxAction{}, false, WrapErr(KindCorrupted, "unmarshal tx-action relation", err)
	}
	return rel, true, nil
}
