package core

// memkv_adapter.go wraps core/memkv's concrete, interface-free types so
// they satisfy the Db/RoTxn/RwTxn/Bucket/Cursor interfaces declared in
// kv.go. memkv itself never imports core (it would create a cycle, since
// core constructs memkv.DB as its default backend); this file is the only
// place the two packages meet.

import "hostruntime/core/memkv"

// NewMemDb constructs the reference in-memory Db backend.
func NewMemDb() Db { return &memDbAdapter{db: memkv.New()} }

type memDbAdapter struct{ db *memkv.DB }

func (a *memDbAdapter) View(fn func(RoTxn) error) error {
	return a.db.View(func(t *memkv.RoTxn) error {
		return fn(&memRoTxnAdapter{t: t})
	})
}

func (a *memDbAdapter) Update(fn func(RwTxn) error) error {
	return a.db.Update(func(t *memkv.RwTxn) error {
		return fn(&memRwTxnAdapter{t: t})
	})
}

func (a *memDbAdapter) Close() error { return a.db.Close() }

type memRoTxnAdapter struct{ t *memkv.RoTxn }

func (a *memRoTxnAdapter) Bucket(name string) (Bucket, bool) {
	b, ok := a.t.Bucket(name)
	if !ok {
		return nil, false
	}
	return &memBucketAdapter{b: b}, true
}

type memRwTxnAdapter struct{ t *memkv.RwTxn }

func (a *memRwTxnAdapter) Bucket(name string) (Bucket, bool) {
	b, ok := a.t.Bucket(name)
	if !ok {
		return nil, false
	}
	return &memBucketAdapter{b: b}, true
}

func (a *memRwTxnAdapter) WritableBucket(name string) (RwBucket, error) {
	b, err := a.t.WritableBucket(name)
	if err != nil {
		return nil, err
	}
	return &memRwBucketAdapter{b: b}, nil
}

func (a *memRwTxnAdapter) Nested(fn func(RwTxn) error) error {
	return a.t.Nested(func(nt *memkv.RwTxn) error {
		return fn(&memRwTxnAdapter{t: nt})
	})
}

type memBucketAdapter struct{ b *memkv.Bucket }

func (a *memBucketAdapter) Get(key []byte) ([]byte, bool) { return a.b.Get(key) }

func (a *memBucketAdapter) Cursor() Cursor { return &memCursorAdapter{c: a.b.Cursor()} }

type memRwBucketAdapter struct{ b *memkv.RwBucket }

func (a *memRwBucketAdapter) Get(key []byte) ([]byte, bool) { return a.b.Get(key) }

func (a *memRwBucketAdapter) Cursor() Cursor { return &memCursorAdapter{c: a.b.Cursor()} }

func (a *memRwBucketAdapter) Put(key, value []byte) error { return a.b.Put(key, value) }

func (a *memRwBucketAdapter) Delete(key []byte) error { return a.b.Delete(key) }

func (a *memRwBucketAdapter) WritableCursor() RwCursor {
	return &memRwCursorAdapter{c: a.b.WritableCursor()}
}

type memCursorAdapter struct{ c *memkv.Cursor }

func (a *memCursorAdapter) First() ([]byte, []byte, bool)   { return a.c.First() }
func (a *memCursorAdapter) Last() ([]byte, []byte, bool)    { return a.c.Last() }
func (a *memCursorAdapter) Next() ([]byte, []byte, bool)    { return a.c.Next() }
func (a *memCursorAdapter) Prev() ([]byte, []byte, bool)    { return a.c.Prev() }
func (a *memCursorAdapter) Current() ([]byte, []byte, bool) { return a.c.Current() }

type memRwCursorAdapter struct{ c *memkv.RwCursor }

func (a *memRwCursorAdapter) First() ([]byte, []byte, bool)   { return a.c.First() }
func (a *memRwCursorAdapter) Last() ([]byte, []byte, bool)    { return a.c.Last() }
func (a *memRwCursorAdapter) Next() ([]byte, []byte, bool)    { return a.c.Next() }
func (a *memRwCursorAdapter) Prev() ([]byte, []byte, bool)    { return a.c.Prev() }
func (a *memRwCursorAdapter) Current() ([]byte, []byte, bool) { return a.c.Current() }
func (a *memRwCursorAdapter) Put(value []byte) error          { return a.c.Put(value) }
func (a *memRwCursorAdapter) Delete() error                    { return a.c.Delete() }
