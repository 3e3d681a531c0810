// Package memkv is the reference in-memory implementation of the core.Db
// interface (core/kv.go): an ordered byte-key store built on
// google/btree's generic B-tree, chosen so cursor semantics and
// lexicographic key ordering hold without an external embedded database.
// It satisfies core.Db/RoTxn/RwTxn/Bucket/Cursor structurally — it never
// imports the core package, avoiding an import cycle.
package memkv

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
)

const treeDegree = 32

type kvItem struct {
	key, value []byte
}

func less(a, b kvItem) bool { return bytes.Compare(a.key, b.key) < 0 }

func newTree() *btree.BTreeG[kvItem] {
	return btree.NewG(treeDegree, less)
}

type bucketMap map[string]*btree.BTreeG[kvItem]

// DB is an in-memory, snapshot-isolated multi-bucket store. Readers load
// the current bucket map through an atomic pointer and then iterate
// lock-free against btree's copy-on-write clones; a writer mutex only
// serializes the one writer allowed at a time against other writers, so
// many readers run concurrently with an in-progress write without ever
// observing its partial state — they keep seeing the map published by the
// last committed Update.
type DB struct {
	writerMu sync.Mutex
	current  atomic.Pointer[bucketMap]
}

// New constructs an empty store.
func New() *DB {
	db := &DB{}
	empty := make(bucketMap)
	db.current.Store(&empty)
	return db
}

func (db *DB) snapshot() bucketMap {
	m := *db.current.Load()
	cp := make(bucketMap, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// View runs fn against a read-only snapshot of the store.
func (db *DB) View(fn func(*RoTxn) error) error {
	txn := &RoTxn{buckets: db.snapshot()}
	return fn(txn)
}

// Update runs fn against a read-write transaction. If fn returns a
// non-nil error the mutations are discarded; otherwise they are
// committed atomically in one step (a single pointer swap), so
// concurrent readers see either the fully-old or fully-new state, never
// a partial write.
func (db *DB) Update(fn func(*RwTxn) error) error {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()

	base := db.snapshot()
	txn := &RwTxn{RoTxn: RoTxn{buckets: base}, dirty: make(bucketMap)}

	if err := fn(txn); err != nil {
		return err
	}

	for name, tree := range txn.dirty {
		base[name] = tree
	}
	db.current.Store(&base)
	return nil
}

func (db *DB) Close() error { return nil }

// RoTxn is a read-only transaction bound to a snapshot of the store.
type RoTxn struct {
	buckets map[string]*btree.BTreeG[kvItem]
}

// Bucket returns a read-only view of the named sub-database. A
// never-written bucket is reported absent, not an empty bucket, matching
// the KV abstraction's "absent value, never an error" convention.
func (t *RoTxn) Bucket(name string) (*Bucket, bool) {
	tree, ok := t.buckets[name]
	if !ok {
		return nil, false
	}
	return &Bucket{tree: tree}, true
}

// RwTxn is a read-write transaction. Each bucket's tree is cloned
// (copy-on-write) the first time it is opened writable within this
// transaction, so concurrent readers holding an older snapshot never see
// partial writes.
type RwTxn struct {
	RoTxn
	dirty map[string]*btree.BTreeG[kvItem]
}

// WritableBucket returns a mutable view of the named sub-database,
// creating it if it does not yet exist.
func (t *RwTxn) WritableBucket(name string) (*RwBucket, error) {
	if tree, ok := t.dirty[name]; ok {
		return &RwBucket{Bucket: Bucket{tree: tree}}, nil
	}
	var tree *btree.BTreeG[kvItem]
	if base, ok := t.buckets[name]; ok {
		tree = base.Clone()
	} else {
		tree = newTree()
	}
	t.dirty[name] = tree
	t.buckets[name] = tree
	return &RwBucket{Bucket: Bucket{tree: tree}}, nil
}

// Nested runs fn against this same transaction. A single in-process
// writer already holds the store exclusively for the duration of the
// enclosing Update call, so there is no further isolation to provide.
func (t *RwTxn) Nested(fn func(*RwTxn) error) error { return fn(t) }

// Bucket is a read-only view of one sub-database.
type Bucket struct {
	tree *btree.BTreeG[kvItem]
}

func (b *Bucket) Get(key []byte) ([]byte, bool) {
	item, ok := b.tree.Get(kvItem{key: key})
	if !ok {
		return nil, false
	}
	return item.value, true
}

func (b *Bucket) Cursor() *Cursor {
	return &Cursor{tree: b.tree, pos: -1}
}

// RwBucket additionally supports Put/Delete.
type RwBucket struct {
	Bucket
}

func (b *RwBucket) Put(key, value []byte) error {
	kcp := append([]byte(nil), key...)
	vcp := append([]byte(nil), value...)
	b.tree.ReplaceOrInsert(kvItem{key: kcp, value: vcp})
	return nil
}

func (b *RwBucket) Delete(key []byte) error {
	b.tree.Delete(kvItem{key: key})
	return nil
}

// WritableCursor returns a cursor that can Put/Delete at its current
// position. The plain (read-only) Cursor method is promoted from Bucket.
func (b *RwBucket) WritableCursor() *RwCursor {
	return &RwCursor{Cursor: Cursor{tree: b.tree, pos: -1}}
}

// Cursor materializes the bucket's keys in sorted order on first use and
// walks that snapshot; mutations made through a sibling RwBucket after the
// cursor is created are not observed by it, matching typical embedded-KV
// cursor semantics.
type Cursor struct {
	tree  *btree.BTreeG[kvItem]
	items []kvItem
	pos   int
}

func (c *Cursor) ensureLoaded() {
	if c.items != nil {
		return
	}
	c.items = make([]kvItem, 0, c.tree.Len())
	c.tree.Ascend(func(item kvItem) bool {
		c.items = append(c.items, item)
		return true
	})
}

func (c *Cursor) at(i int) (key, value []byte, ok bool) {
	c.ensureLoaded()
	if i < 0 || i >= len(c.items) {
		return nil, nil, false
	}
	c.pos = i
	return c.items[i].key, c.items[i].value, true
}

func (c *Cursor) First() (key, value []byte, ok bool) {
	c.ensureLoaded()
	return c.at(0)
}

func (c *Cursor) Last() (key, value []byte, ok bool) {
	c.ensureLoaded()
	return c.at(len(c.items) - 1)
}

func (c *Cursor) Next() (key, value []byte, ok bool) {
	c.ensureLoaded()
	return c.at(c.pos + 1)
}

func (c *Cursor) Prev() (key, value []byte, ok bool) {
	c.ensureLoaded()
	return c.at(c.pos - 1)
}

func (c *Cursor) Current() (key, value []byte, ok bool) {
	c.ensureLoaded()
	return c.at(c.pos)
}

// RwCursor additionally allows mutating the bucket at the cursor's
// current position.
type RwCursor struct {
	Cursor
}

func (c *RwCursor) Put(value []byte) error {
	key, _, ok := c.Current()
	if !ok {
		return errNoCurrent
	}
	vcp := append([]byte(nil), value...)
	c.tree.ReplaceOrInsert(kvItem{key: key, value: vcp})
	c.items[c.pos].value = vcp
	return nil
}

func (c *RwCursor) Delete() error {
	key, _, ok := c.Current()
	if !ok {
		return errNoCurrent
	}
	c.tree.Delete(kvItem{key: key})
	c.items = append(c.items[:c.pos], c.items[c.pos+1:]...)
	c.pos--
	return nil
}

var errNoCurrent = errors.New("memkv: cursor has no current position")
