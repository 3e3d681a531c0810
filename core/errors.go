package core

// errors.go defines the single wrapped error type used across the host
// runtime. Rather than a distinct Go type per error kind, every failure the
// core returns carries a Kind tag plus structured fields, following the
// teacher's utils.Wrap convention of wrapping a root cause with context.

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories named in the runtime's error design.
type Kind int

const (
	KindUnknown Kind = iota

	// Lifecycle
	KindMissingAgent
	KindMissingContract
	KindRevokedContract
	KindDoubleIntroduction
	KindInvalidIDType

	// Module
	KindMissingExport
	KindInvalidExport
	KindInvalidFuncType

	// ABI
	KindMissingRegisterValue
	KindInvalidRegisterValue
	KindMemoryOutOfBounds

	// Storage
	KindKeyExist
	KindCorrupted
	KindDbNotFound
	KindInvalidArgument
	KindBusy
	KindStorageIO

	// Proof
	KindNotAnObject
	KindNotAString
	KindMissingKey
	KindInvalidMaskKey
	KindInvalidHash
	KindSameKey

	// Access control
	KindRoleDenied
)

func (k Kind) String() string {
	switch k {
	case KindMissingAgent:
		return "missing_agent"
	case KindMissingContract:
		return "missing_contract"
	case KindRevokedContract:
		return "revoked_contract"
	case KindDoubleIntroduction:
		return "double_introduction"
	case KindInvalidIDType:
		return "invalid_id_type"
	case KindMissingExport:
		return "missing_export"
	case KindInvalidExport:
		return "invalid_export"
	case KindInvalidFuncType:
		return "invalid_func_type"
	case KindMissingRegisterValue:
		return "missing_register_value"
	case KindInvalidRegisterValue:
		return "invalid_register_value"
	case KindMemoryOutOfBounds:
		return "memory_out_of_bounds"
	case KindKeyExist:
		return "key_exist"
	case KindCorrupted:
		return "corrupted"
	case KindDbNotFound:
		return "db_not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindBusy:
		return "busy"
	case KindStorageIO:
		return "storage_io"
	case KindNotAnObject:
		return "not_an_object"
	case KindNotAString:
		return "not_a_string"
	case KindMissingKey:
		return "missing_key"
	case KindInvalidMaskKey:
		return "invalid_mask_key"
	case KindInvalidHash:
		return "invalid_hash"
	case KindSameKey:
		return "same_key"
	case KindRoleDenied:
		return "role_denied"
	default:
		return "unknown"
	}
}

// Error is the runtime's single structured error type. It satisfies the
// standard library's errors.Is/errors.As contract via Unwrap.
type Error struct {
	Kind   Kind
	Msg    string
	Fields map[string]any
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, &Error{Kind: KindX}) to match on Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// NewErr builds an Error with no wrapped cause.
func NewErr(kind Kind, msg string, fields ...map[string]any) *Error {
	e := &Error{Kind: kind, Msg: msg}
	if len(fields) > 0 {
		e.Fields = fields[0]
	}
	return e
}

// WrapErr adds a Kind-tagged message to an existing error, following the
// teacher's utils.Wrap pattern but preserving the error's Kind for callers
// that switch on it.
func WrapErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// HTTPStatus maps an error Kind to the status code the outer transport
// should return, per the runtime's propagation policy.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return 500
	}
	switch e.Kind {
	case KindMissingAgent, KindMissingContract, KindMissingKey, KindDbNotFound:
		return 404
	case KindRoleDenied:
		return 403
	case KindInvalidArgument, KindNotAnObject, KindNotAString, KindInvalidMaskKey,
		KindInvalidHash, KindSameKey, KindRevokedContract, KindDoubleIntroduction,
		KindInvalidIDType, KindInvalidRegisterValue:
		return 400
	default:
		return 500
	}
}
