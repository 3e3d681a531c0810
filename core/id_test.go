package core

import "testing"

func TestNewIdStampsKindNibble(t *testing.T) {
	for _, kind := range []EntityKind{KindContract, KindAgent, KindParticipant, KindExternal, KindDecentralized, KindFlow} {
		id := NewId(kind)
		if id.Kind() != kind {
			t.Fatalf("kind %v: got %v", kind, id.Kind())
		}
	}
}

func TestIdHexRoundTrip(t *testing.T) {
	id := NewId(KindContract)
	got, err := IdFromHex(id.Hex())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != id {
		t.Fatalf("round trip mismatch: %v != %v", got, id)
	}
}

func TestIdFromHexRejectsMalformed(t *testing.T) {
	cases := []string{"", "zz", "0011"}
	for _, c := range cases {
		if _, err := IdFromHex(c); err == nil {
			t.Fatalf("expected an error for malformed id %q", c)
		}
	}
}

func TestIdFromHexAcceptsOptional0xPrefix(t *testing.T) {
	id := NewId(KindAgent)
	got, err := IdFromHex("0x" + id.Hex())
	if err != nil || got != id {
		t.Fatalf("0x-prefixed parse failed: %v %v", got, err)
	}
}

func TestTwoNewIdsAreDistinct(t *testing.T) {
	a := NewId(KindContract)
	b := NewId(KindContract)
	if a == b {
		t.Fatalf("two freshly generated ids collided")
	}
}

func TestMergeIsCommutativeAndDeterministic(t *testing.T) {
	a := NewId(KindContract)
	b := NewId(KindAgent)
	if a.Merge(b) != b.Merge(a) {
		t.Fatalf("Merge is not commutative")
	}
	if a.Merge(b) != a.Merge(b) {
		t.Fatalf("Merge is not deterministic")
	}
	if a.Merge(a) != (Id{}) {
		t.Fatalf("self-merge should XOR to zero")
	}
}

func TestIsContractIdIsAgentId(t *testing.T) {
	c := NewId(KindContract)
	a := NewId(KindAgent)
	if !IsContractId(c) || IsAgentId(c) {
		t.Fatalf("contract id misclassified")
	}
	if !IsAgentId(a) || IsContractId(a) {
		t.Fatalf("agent id misclassified")
	}
}

func TestTypedIdConstructorsRoundTripToId(t *testing.T) {
	cid := NewContractId()
	if cid.Id().Kind() != KindContract {
		t.Fatalf("NewContractId did not stamp the contract kind")
	}
	aid := NewAgentId()
	if aid.Id().Kind() != KindAgent {
		t.Fatalf("NewAgentId did not stamp the agent kind")
	}
}
