package core

// kv.go defines the KV abstraction from §4.3: a uniform ordered byte-key
// store exposing named sub-databases, RO/RW transactions and cursors. The
// WASM engine and the embedded store itself are both external
// collaborators per §1 — this interface is the only thing the core
// requires of a backend. core/memkv ships the reference in-memory
// implementation; any backend satisfying Db (an LMDB- or BoltDB-backed one,
// for instance) can be swapped in without touching the rest of the core.

// Db is the top-level handle to the store: every read goes through a
// consistent RO snapshot, every write goes through a single atomically
// committed RW transaction that may touch several sub-databases at once.
type Db interface {
	View(fn func(RoTxn) error) error
	Update(fn func(RwTxn) error) error
	Close() error
}

// RoTxn is a read-only transaction bound to a consistent snapshot of the
// store taken when the transaction began.
type RoTxn interface {
	Bucket(name string) (Bucket, bool)
}

// RwTxn is a read-write transaction. Writes made through it are only
// visible to other transactions once the enclosing Db.Update call returns
// without error.
type RwTxn interface {
	RoTxn
	WritableBucket(name string) (RwBucket, error)
	// Nested runs fn against the same transaction, satisfying the spec's
	// "nested RW transactions" requirement without a separate commit —
	// there is nothing to isolate across goroutines within one RW txn
	// since a single writer holds the store exclusively for its duration.
	Nested(fn func(RwTxn) error) error
}

// Bucket is a read-only view of one named sub-database.
type Bucket interface {
	Get(key []byte) ([]byte, bool)
	Cursor() Cursor
}

// RwBucket additionally allows mutation. WritableCursor returns a cursor
// that can Put/Delete at its current position; Cursor (promoted from
// Bucket) remains available for read-only iteration.
type RwBucket interface {
	Bucket
	Put(key, value []byte) error
	Delete(key []byte) error
	WritableCursor() RwCursor
}

// Cursor iterates a bucket in key order. "key not found" positions are
// represented by ok=false, never an error.
type Cursor interface {
	First() (key, value []byte, ok bool)
	Last() (key, value []byte, ok bool)
	Next() (key, value []byte, ok bool)
	Prev() (key, value []byte, ok bool)
	Current() (key, value []byte, ok bool)
}

// RwCursor additionally supports put/delete at the current position.
type RwCursor interface {
	Cursor
	Put(value []byte) error
	Delete() error
}
