package core

// ledger.go implements the per-entity value ledger from §4.14: an
// append-only, monotonically-sequenced set of debit/credit entries, kept
// in its own "ledger" sub-DB keyed by entity-id plus sequence number, so a
// ledger's storage never collides with an entity's own user-space writes
// or its metadata/action-log system keys.

import (
	"encoding/binary"
	"encoding/json"
)

const (
	ledgerBucket    = "ledger"     // entity-id(16) + seq(8) -> LedgerEntry JSON
	ledgerSeqBucket = "ledger-seq" // entity-id(16) -> last seq (8 bytes BE)
)

// LedgerEntry is one signed movement of value recorded against an entity.
// Signature is opaque to this package: callers supply whatever bytes their
// signing scheme produces and are responsible for verifying them before
// calling CreateLedgerEntry, matching the host's role as a ledger of
// record rather than a verifier.
type LedgerEntry struct {
	Seq       uint64 `json:"seq"`
	From      Id     `json:"from"`
	To        Id     `json:"to"`
	Amount    uint64 `json:"amount"`
	Asset     string `json:"asset"`
	Memo      string `json:"memo,omitempty"`
	Signature []byte `json:"signature"`
}

func ledgerKey(entity Id, seq uint64) []byte {
	b := make([]byte, 24)
	copy(b[0:16], entity[:])
	binary.BigEndian.PutUint64(b[16:24], seq)
	return b
}

// CreateLedgerEntry assigns the next sequence number for entity and
// persists entry under it, returning the assigned sequence. Callers apply
// this inside the same RW transaction as the triggering action's write
// buffer and action record, so value movement and its action land
// together.
func CreateLedgerEntry(txn RwTxn, entity Id, entry LedgerEntry) (uint64, error) {
	seqBucket, err := txn.WritableBucket(ledgerSeqBucket)
	if err != nil {
		return 0, err
	}
	next := uint64(0)
	if b, ok := seqBucket.Get(entity[:]); ok {
		next = binary.BigEndian.Uint64(b) + 1
	}
	entry.Seq = next

	bucket, err := txn.WritableBucket(ledgerBucket)
	if err != nil {
		return 0, err
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return 0, WrapErr(KindCorrupted, "marshal ledger entry", err)
	}
	if err := bucket.Put(ledgerKey(entity, next), b); err != nil {
		return 0, err
	}

	nextBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(nextBytes, next)
	if err := seqBucket.Put(entity[:], nextBytes); err != nil {
		return 0, err
	}
	return next, nil
}

// GetLedgerEntry loads entity's ledger entry at seq.
func GetLedgerEntry(txn RoTxn, entity Id, seq uint64) (LedgerEntry, bool, error) {
	bucket, ok := txn.Bucket(ledgerBucket)
	if !ok {
		return LedgerEntry{}, false, nil
	}
	b, ok := bucket.Get(ledgerKey(entity, seq))
	if !ok {
		return LedgerEntry{}, false, nil
	}
	var entry LedgerEntry
	if err := json.Unmarshal(b, &entry); err != nil {
		return LedgerEntry{}, false, WrapErr(KindCorrupted, "unmarshal ledger entry", err)
	}
	return entry, true, nil
}

// LastLedgerSeq reports the highest sequence number recorded for entity.
func LastLedgerSeq(txn RoTxn, entity Id) (uint64, bool, error) {
	bucket, ok := txn.Bucket(ledgerSeqBucket)
	if !ok {
		return 0, false, nil
	}
	b, ok := bucket.Get(entity[:])
	if !ok {
		return 0, false, nil
	}
	return binary.BigEndian.Uint64(b), true, nil
}

// LedgerHistory returns every entry recorded for entity, in sequence
// order.
func LedgerHistory(txn RoTxn, entity Id) ([]LedgerEntry, error) {
	last, ok, err := LastLedgerSeq(txn, entity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	out := make([]LedgerEntry, 0, last+1)
	for i := uint64(0); i <= last; i++ {
		e, ok, err := GetLedgerEntry(txn, entity, i)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}
