package core

import "testing"

func TestUserKeyTopBitSet(t *testing.T) {
	id := NewId(KindContract)
	k := UserKey(id, 5, 9)
	if !IsUserKey(k.Base()) {
		t.Fatalf("user key base %x does not have top bit set", k.Base())
	}
	if k.Base()&0x7fffffffffffffff != 5 {
		t.Fatalf("user key lost its base value: got %x", k.Base())
	}
	if k.Sub() != 9 {
		t.Fatalf("sub key mismatch: got %d", k.Sub())
	}
}

func TestSystemKeyTopBitClear(t *testing.T) {
	id := NewId(KindAgent)
	k := SystemKey(id, BaseKeyMetadata, MetaSubKeyEntityID)
	if !IsSystemKey(k.Base()) {
		t.Fatalf("system key base %x has top bit set", k.Base())
	}
}

func TestUserKeyForcesBitEvenOnSystemInput(t *testing.T) {
	id := NewId(KindContract)
	k := UserKey(id, BaseKeyActionLog, 0)
	if !IsUserKey(k.Base()) {
		t.Fatalf("UserKey must OR in the partition bit regardless of the supplied base")
	}
}

func TestDistinctEntitiesNeverShareAKey(t *testing.T) {
	a := NewId(KindContract)
	b := NewId(KindAgent)
	ka := UserKey(a, 1, 1)
	kb := UserKey(b, 1, 1)
	if ka == kb {
		t.Fatalf("two distinct entities produced the same storage key")
	}
	if ka.Entity() != a || kb.Entity() != b {
		t.Fatalf("StorageKey.Entity did not round-trip")
	}
}

func TestIsContractKeyIsAgentKey(t *testing.T) {
	cid := NewId(KindContract)
	aid := NewId(KindAgent)
	ck := UserKey(cid, 1, 0)
	ak := UserKey(aid, 1, 0)
	if !IsContractKey(ck.Bytes()) || IsAgentKey(ck.Bytes()) {
		t.Fatalf("contract key misclassified: %x", ck.Bytes())
	}
	if !IsAgentKey(ak.Bytes()) || IsContractKey(ak.Bytes()) {
		t.Fatalf("agent key misclassified: %x", ak.Bytes())
	}
}

func TestStorageKeyFromBytesRejectsWrongLength(t *testing.T) {
	if _, err := StorageKeyFromBytes(make([]byte, 31)); err == nil {
		t.Fatalf("expected an error for a non-32-byte key")
	}
	k := UserKey(NewId(KindContract), 1, 1)
	got, err := StorageKeyFromBytes(k.Bytes())
	if err != nil || got != k {
		t.Fatalf("round-trip through StorageKeyFromBytes failed: %v %v", got, err)
	}
}

func TestKeyOrderingIsLexicographic(t *testing.T) {
	id := NewId(KindContract)
	k1 := UserKey(id, 1, 1)
	k2 := UserKey(id, 1, 2)
	if string(k1.Bytes()) >= string(k2.Bytes()) {
		t.Fatalf("expected sub-key 1 to sort before sub-key 2")
	}
}
