package core

import "testing"

// minimalWasm is the smallest valid WebAssembly module: the magic number and
// version header with no sections, hence no exports.
var minimalWasm = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func TestCompileAcceptsModuleWithNoRequiredExports(t *testing.T) {
	cs, err := NewCodeStore(4)
	if err != nil {
		t.Fatalf("new code store: %v", err)
	}
	cm, err := cs.Compile(minimalWasm, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if cm.Digest != Sum256(minimalWasm) {
		t.Fatalf("unexpected digest")
	}
	if len(cm.Exports) != 0 {
		t.Fatalf("expected no exports in the minimal module, got %+v", cm.Exports)
	}
}

func TestCompileRejectsMissingRequiredExport(t *testing.T) {
	cs, err := NewCodeStore(4)
	if err != nil {
		t.Fatalf("new code store: %v", err)
	}
	if _, err := cs.Compile(minimalWasm, []string{"process_transaction"}); err == nil {
		t.Fatalf("expected an error for a module missing a required export")
	}
}

func TestCompileRejectsGarbageBytes(t *testing.T) {
	cs, err := NewCodeStore(4)
	if err != nil {
		t.Fatalf("new code store: %v", err)
	}
	if _, err := cs.Compile([]byte("not wasm at all"), nil); err == nil {
		t.Fatalf("expected an error for non-wasm bytes")
	}
}

func TestInsertThenLoadServesFromLRU(t *testing.T) {
	cs, err := NewCodeStore(4)
	if err != nil {
		t.Fatalf("new code store: %v", err)
	}
	db := NewMemDb()
	entity := NewId(KindContract)

	err = db.Update(func(txn RwTxn) error {
		_, err := cs.Insert(txn, entity, minimalWasm, nil)
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = db.View(func(txn RoTxn) error {
		cm, err := cs.Load(txn, entity, nil)
		if err != nil {
			return err
		}
		if cm.Digest != Sum256(minimalWasm) {
			t.Fatalf("unexpected digest after load")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestLoadRecompilesAfterInvalidate(t *testing.T) {
	cs, err := NewCodeStore(4)
	if err != nil {
		t.Fatalf("new code store: %v", err)
	}
	db := NewMemDb()
	entity := NewId(KindContract)

	intro := Introduction{
		ID:       entity,
		Metadata: Metadata{ActiveSince: 1},
		Package:  Package{Definition: minimalWasm},
	}
	err = db.Update(func(txn RwTxn) error {
		if err := WriteIntroduction(txn, intro); err != nil {
			return err
		}
		_, err := cs.Insert(txn, entity, minimalWasm, nil)
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	cs.Invalidate(entity)

	err = db.View(func(txn RoTxn) error {
		cm, err := cs.Load(txn, entity, nil)
		if err != nil {
			return err
		}
		if cm.Digest != Sum256(minimalWasm) {
			t.Fatalf("recompiled module has unexpected digest")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("load after invalidate: %v", err)
	}
}

func TestLoadMissingEntityFails(t *testing.T) {
	cs, err := NewCodeStore(4)
	if err != nil {
		t.Fatalf("new code store: %v", err)
	}
	db := NewMemDb()
	err = db.View(func(txn RoTxn) error {
		_, err := cs.Load(txn, NewId(KindContract), nil)
		return err
	})
	if err == nil {
		t.Fatalf("expected an error loading an entity with no recorded module")
	}
}
