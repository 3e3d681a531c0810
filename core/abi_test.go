package core

import "testing"

// TestCursorForScopesToOneEntityBase verifies storage_cursor's scaffolding
// (§4.6): a cursor opened for one entity's base-key only walks that
// entity's sub-keys, skipping over interleaved keys belonging to other
// entities or other base-keys sharing the same sub-DB.
func TestCursorForScopesToOneEntityBase(t *testing.T) {
	db := NewMemDb()
	a := NewId(KindContract)
	b := NewId(KindContract)

	if err := db.Update(func(rw RwTxn) error {
		bucket, err := rw.WritableBucket("contracts-storage")
		if err != nil {
			return err
		}
		_ = bucket.Put(UserKey(a, 1, 0).Bytes(), []byte("a0"))
		_ = bucket.Put(UserKey(a, 1, 1).Bytes(), []byte("a1"))
		_ = bucket.Put(UserKey(a, 2, 0).Bytes(), []byte("a-other-base"))
		_ = bucket.Put(UserKey(b, 1, 0).Bytes(), []byte("b0"))
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var got []string
	if err := db.View(func(ro RoTxn) error {
		env := &HostEnv{VM: NewVMState(), Snapshot: ro, Entity: a}
		c := env.cursorFor(1)
		for k, v, ok := c.First(); ok; k, v, ok = c.Next() {
			if mustStorageKey(k).Entity() != a {
				t.Fatalf("cursor leaked a key from another entity: %x", k)
			}
			got = append(got, string(v))
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}

	if len(got) != 2 || got[0] != "a0" || got[1] != "a1" {
		t.Fatalf("expected exactly [a0 a1], got %v", got)
	}
}

// TestCursorForOnUnwrittenBucketIsEmpty exercises the never-written-bucket
// path, which must behave like an immediately-exhausted cursor rather than
// an error (the KV abstraction's "absent, never an error" convention).
func TestCursorForOnUnwrittenBucketIsEmpty(t *testing.T) {
	db := NewMemDb()
	id := NewId(KindAgent)
	if err := db.View(func(ro RoTxn) error {
		env := &HostEnv{VM: NewVMState(), Snapshot: ro, Entity: id}
		if _, _, ok := env.cursorFor(1).First(); ok {
			t.Fatalf("expected no entries from an unwritten bucket")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

// TestCursorForCachesPerBase ensures repeated storage_cursor calls for the
// same base within one invocation keep advancing the same cursor instead
// of resetting to First every time.
func TestCursorForCachesPerBase(t *testing.T) {
	db := NewMemDb()
	id := NewId(KindContract)
	if err := db.Update(func(rw RwTxn) error {
		bucket, err := rw.WritableBucket("contracts-storage")
		if err != nil {
			return err
		}
		_ = bucket.Put(UserKey(id, 1, 0).Bytes(), []byte("v0"))
		_ = bucket.Put(UserKey(id, 1, 1).Bytes(), []byte("v1"))
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := db.View(func(ro RoTxn) error {
		env := &HostEnv{VM: NewVMState(), Snapshot: ro, Entity: id}
		first := env.cursorFor(1)
		if _, v, ok := first.First(); !ok || string(v) != "v0" {
			t.Fatalf("expected v0 first, got %q ok=%v", v, ok)
		}
		again := env.cursorFor(1)
		if _, v, ok := again.Next(); !ok || string(v) != "v1" {
			t.Fatalf("expected the cached cursor to advance to v1, got %q ok=%v", v, ok)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func mustStorageKey(b []byte) StorageKey {
	k, err := StorageKeyFromBytes(b)
	if err != nil {
		panic(err)
	}
	return k
}
