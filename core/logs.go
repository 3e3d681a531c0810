package core

// logs.go flushes a VM invocation's buffered LogLine ring to the entity's
// log space (the "entity-logs" sub-DB, keyed by entity-id plus index) on
// commit, append-only just like the action log,
// so the HTTP surface's /logs route and the controller facade can replay
// an entity's history.

import (
	"encoding/binary"
	"encoding/json"
)

const (
	entityLogBucket = "entity-logs"     // entity-id(16) + index(8) -> LogLine JSON
	entityLogIdxBkt = "entity-logs-idx" // entity-id(16) -> last index (8 bytes BE)
)

func entityLogKey(entity Id, index uint64) []byte {
	b := make([]byte, 24)
	copy(b[0:16], entity[:])
	binary.BigEndian.PutUint64(b[16:24], index)
	return b
}

type storedLogLine struct {
	TimestampUnixNano int64  `json:"ts_ns"`
	Level             string `json:"level"`
	Message           string `json:"message"`
}

// FlushLogs appends every buffered line to entity's log space in order,
// inside the same RW transaction as the rest of a commit.
func FlushLogs(txn RwTxn, entity Id, lines []LogLine) error {
	if len(lines) == 0 {
		return nil
	}
	idxBucket, err := txn.WritableBucket(entityLogIdxBkt)
	if err != nil {
		return err
	}
	next := uint64(0)
	if b, ok := idxBucket.Get(entity[:]); ok {
		next = binary.BigEndian.Uint64(b) + 1
	}

	logBucket, err := txn.WritableBucket(entityLogBucket)
	if err != nil {
		return err
	}
	for _, line := range lines {
		rec := storedLogLine{TimestampUnixNano: line.Timestamp.UnixNano(), Level: line.Level, Message: line.Message}
		b, err := json.Marshal(rec)
		if err != nil {
			return WrapErr(KindCorrupted, "marshal log line", err)
		}
		if err := logBucket.Put(entityLogKey(entity, next), b); err != nil {
			return err
		}
		next++
	}
	nextBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(nextBytes, next-1)
	return idxBucket.Put(entity[:], nextBytes)
}

// ReadLogs returns every log line recorded for entity, in order.
func ReadLogs(txn RoTxn, entity Id) ([]LogLine, error) {
	idxBucket, ok := txn.Bucket(entityLogIdxBkt)
	if !ok {
		return nil, nil
	}
	b, ok := idxBucket.Get(entity[:])
	if !ok {
		return nil, nil
	}
	last := binary.BigEndian.Uint64(b)

	logBucket, ok := txn.Bucket(entityLogBucket)
	if !ok {
		return nil, nil
	}
	out := make([]LogLine, 0, last+1)
	for i := uint64(0); i <= last; i++ {
		raw, ok := logBucket.Get(entityLogKey(entity, i))
		if !ok {
			continue
		}
		var rec storedLogLine
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, WrapErr(KindCorrupted, "unmarshal log line", err)
		}
		out = append(out, LogLine{Message: rec.Message, Level: rec.Level})
	}
	return out, nil
}

// ApplyPendingLedgerEntries decodes and commits queued create_ledger_entry
// calls from a finished invocation, inside the same RW transaction as the
// rest of the commit.
func ApplyPendingLedgerEntries(txn RwTxn, entity Id, raws [][]byte) error {
	for _, raw := range raws {
		var entry LedgerEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return WrapErr(KindInvalidArgument, "decode ledger entry", err)
		}
		if _, err := CreateLedgerEntry(txn, entity, entry); err != nil {
			return err
		}
	}
	return nil
}

// ApplyOps writes/removes a finished invocation's buffered storage ops
// into the entity's user-space bucket, inside the same RW transaction as
// the rest of the commit.
func ApplyOps(txn RwTxn, entity Id, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	bucket, err := txn.WritableBucket(userBucketFor(entity))
	if err != nil {
		return err
	}
	for _, op := range ops {
		if op.Remove {
			if err := bucket.Delete(op.Key.Bytes()); err != nil {
				return err
			}
			continue
		}
		if err := bucket.Put(op.Key.Bytes(), op.Value); err != nil {
			return err
		}
	}
	return nil
}
