package core

import (
	"errors"
	"testing"
)

func TestErrorIsMatchesOnKindAlone(t *testing.T) {
	err := WrapErr(KindRevokedContract, "transaction rejected", errors.New("root cause"))
	if !errors.Is(err, &Error{Kind: KindRevokedContract}) {
		t.Fatalf("expected errors.Is to match on Kind")
	}
	if errors.Is(err, &Error{Kind: KindMissingContract}) {
		t.Fatalf("errors.Is should not match a different Kind")
	}
}

func TestErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := WrapErr(KindStorageIO, "write failed", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected the wrapped cause to be reachable via errors.Is")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindMissingContract:   404,
		KindMissingKey:        404,
		KindRoleDenied:        403,
		KindInvalidArgument:   400,
		KindRevokedContract:   400,
		KindDoubleIntroduction: 400,
		KindStorageIO:         500,
		KindUnknown:           500,
	}
	for kind, want := range cases {
		got := HTTPStatus(NewErr(kind, "x"))
		if got != want {
			t.Fatalf("Kind %v: got status %d, want %d", kind, got, want)
		}
	}
}

func TestHTTPStatusOnNonRuntimeError(t *testing.T) {
	if got := HTTPStatus(errors.New("plain error")); got != 500 {
		t.Fatalf("expected 500 for a non-runtime error, got %d", got)
	}
}
