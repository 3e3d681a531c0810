package core

import "testing"

func txCtxFixture(id byte) TxContext {
	var h Hash256
	h[0] = id
	return TxContext{TxID: TxIdentifier{ChainID: 1, Number: uint64(id), Hash: h}}
}

func TestAppendActionAssignsSequentialIndices(t *testing.T) {
	db := NewMemDb()
	entity := NewId(KindContract)

	var idx0, idx1 uint64
	err := db.Update(func(txn RwTxn) error {
		var err error
		idx0, err = AppendAction(txn, entity, ActionRecord{TxCtx: txCtxFixture(1), Action: CallAction{Method: MethodRef{ByName: "a"}}})
		if err != nil {
			return err
		}
		idx1, err = AppendAction(txn, entity, ActionRecord{TxCtx: txCtxFixture(2), Action: CallAction{Method: MethodRef{ByName: "b"}}})
		return err
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if idx0 != 0 || idx1 != 1 {
		t.Fatalf("expected indices 0,1 got %d,%d", idx0, idx1)
	}

	db.View(func(txn RoTxn) error {
		last, ok, err := LastActionIndex(txn, entity)
		if err != nil || !ok || last != 1 {
			t.Fatalf("last index: %v %v %d", err, ok, last)
		}
		return nil
	})
}

func TestActionCrossIndexResolvesEntityAndIndex(t *testing.T) {
	db := NewMemDb()
	entity := NewId(KindContract)
	tx := txCtxFixture(7)

	err := db.Update(func(txn RwTxn) error {
		_, err := AppendAction(txn, entity, ActionRecord{TxCtx: tx, Action: CallAction{Method: MethodRef{ByName: "set_number"}}})
		return err
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	db.View(func(txn RoTxn) error {
		rel, ok, err := FindActionByTx(txn, tx.TxID)
		if err != nil || !ok {
			t.Fatalf("find by tx failed: %v %v", err, ok)
		}
		if rel.Entity != entity || rel.Index != 0 {
			t.Fatalf("unexpected cross-index entry: %+v", rel)
		}
		return nil
	})
}

func TestActionHistoryReturnsAllRecordsInOrder(t *testing.T) {
	db := NewMemDb()
	entity := NewId(KindContract)
	for i := byte(0); i < 3; i++ {
		i := i
		err := db.Update(func(txn RwTxn) error {
			_, err := AppendAction(txn, entity, ActionRecord{TxCtx: txCtxFixture(i)})
			return err
		})
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	var hist []ActionRecord
	db.View(func(txn RoTxn) error {
		var err error
		hist, err = ActionHistory(txn, entity)
		return err
	})
	if len(hist) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(hist))
	}
	for i, rec := range hist {
		if rec.TxCtx.TxID.Number != uint64(i) {
			t.Fatalf("history out of order at %d: %+v", i, rec)
		}
	}
}

func TestGetActionMissingIndexReturnsNotFound(t *testing.T) {
	db := NewMemDb()
	entity := NewId(KindContract)
	db.View(func(txn RoTxn) error {
		_, ok, err := GetAction(txn, entity, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Fatalf("expected no record for an empty action log")
		}
		return nil
	})
}

func TestActionLogsAreIsolatedPerEntity(t *testing.T) {
	db := NewMemDb()
	a := NewId(KindContract)
	b := NewId(KindContract)

	db.Update(func(txn RwTxn) error {
		if _, err := AppendAction(txn, a, ActionRecord{TxCtx: txCtxFixture(1)}); err != nil {
			return err
		}
		_, err := AppendAction(txn, b, ActionRecord{TxCtx: txCtxFixture(2)})
		return err
	})

	db.View(func(txn RoTxn) error {
		lastA, _, _ := LastActionIndex(txn, a)
		lastB, _, _ := LastActionIndex(txn, b)
		if lastA != 0 || lastB != 0 {
			t.Fatalf("expected independent indices per entity, got a=%d b=%d", lastA, lastB)
		}
		return nil
	})
}
