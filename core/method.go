package core

// method.go implements the action macro / method model from §4.12. Go has
// no procedural macros, so where the original source generates argument
// structs, a method-id table and by-name/by-id dispatch tables at build
// time, this runtime builds the same tables at registration time via
// MethodTable.RegisterMethod, with the collision check happening eagerly
// as each method is added rather than at a separate build step.

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
)

// Role is an access-control tag a writer may hold; methods registered
// with one or more roles reject writers holding none of them.
type Role string

// MethodFunc is a registered method's implementation. It receives the
// write transaction, the VM state accumulating the call's buffered
// effects, the writer invoking it, and the call's JSON parameters, and
// returns the JSON result placed in OUTPUT.
type MethodFunc func(txn RwTxn, vm *VMState, writer Id, params Document) (Document, error)

// MethodDef is one registered method: its id, its handler, and the roles
// permitted to invoke it (empty means unrestricted).
type MethodDef struct {
	ID      uint32
	Name    string
	Handler MethodFunc
	Roles   []Role
}

// MethodID truncates a digest of UPPERCASE(stateName "::" methodName) to
// 32 bits, the same derivation the original source's macro uses so two
// independent implementations agree on a method's id.
func MethodID(stateName, methodName string) uint32 {
	key := strings.ToUpper(stateName + "::" + methodName)
	h := Sum256([]byte(key))
	return binary.BigEndian.Uint32(h[:4])
}

// MethodTable is the per-state dispatch table built as methods are
// registered: a by-name map, a by-id map, and the collision check the
// original source performs at macro-expansion time.
type MethodTable struct {
	mu        sync.RWMutex
	stateName string
	byName    map[string]*MethodDef
	byID      map[uint32]*MethodDef
}

// NewMethodTable constructs an empty table for the named state.
func NewMethodTable(stateName string) *MethodTable {
	return &MethodTable{
		stateName: stateName,
		byName:    make(map[string]*MethodDef),
		byID:      make(map[uint32]*MethodDef),
	}
}

// TryRegisterMethod adds a method, returning an error instead of panicking
// if its derived id collides with one already registered in this state.
func (t *MethodTable) TryRegisterMethod(methodName string, handler MethodFunc, roles ...Role) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byName[methodName]; exists {
		return NewErr(KindInvalidArgument, fmt.Sprintf("method %q already registered on state %q", methodName, t.stateName))
	}
	id := MethodID(t.stateName, methodName)
	if other, collide := t.byID[id]; collide {
		return NewErr(KindInvalidArgument, fmt.Sprintf(
			"method id collision on state %q: %q and %q both hash to %08x", t.stateName, methodName, other.Name, id))
	}
	def := &MethodDef{ID: id, Name: methodName, Handler: handler, Roles: append([]Role(nil), roles...)}
	t.byName[methodName] = def
	t.byID[id] = def
	return nil
}

// RegisterMethod adds a method, panicking on a collision — the Go idiom
// for a programming error caught before any request is served, matching
// the original source's build-time rejection.
func (t *MethodTable) RegisterMethod(methodName string, handler MethodFunc, roles ...Role) {
	if err := t.TryRegisterMethod(methodName, handler, roles...); err != nil {
		panic(err)
	}
}

// Validate reports whether the table is internally consistent. Since
// RegisterMethod/TryRegisterMethod reject collisions eagerly, a
// successfully built table is always valid; Validate exists for callers
// that assembled a table through some other path and want to check it
// without relying on that invariant.
func (t *MethodTable) Validate() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[uint32]string, len(t.byName))
	for name, def := range t.byName {
		if other, ok := seen[def.ID]; ok {
			return NewErr(KindInvalidArgument, fmt.Sprintf(
				"method id collision on state %q: %q and %q both hash to %08x", t.stateName, name, other, def.ID))
		}
		seen[def.ID] = name
	}
	return nil
}

// LookupByName resolves a method by its declared name.
func (t *MethodTable) LookupByName(name string) (*MethodDef, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.byName[name]
	return d, ok
}

// LookupByID resolves a method by its 32-bit id.
func (t *MethodTable) LookupByID(id uint32) (*MethodDef, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.byID[id]
	return d, ok
}

// Resolve dispatches a CallAction's MethodRef to its definition, by
// whichever of ByName/ByID is populated.
func (t *MethodTable) Resolve(ref MethodRef) (*MethodDef, error) {
	if ref.ByName != "" {
		d, ok := t.LookupByName(ref.ByName)
		if !ok {
			return nil, NewErr(KindMissingExport, fmt.Sprintf("unknown method %q on state %q", ref.ByName, t.stateName))
		}
		return d, nil
	}
	d, ok := t.LookupByID(ref.ByID)
	if !ok {
		return nil, NewErr(KindMissingExport, fmt.Sprintf("unknown method id %08x on state %q", ref.ByID, t.stateName))
	}
	return d, nil
}

// CheckRole enforces a method's role restriction against the roles a
// writer holds. A method registered with no roles is unrestricted.
func CheckRole(def *MethodDef, writerRoles []Role) error {
	if len(def.Roles) == 0 {
		return nil
	}
	have := make(map[Role]bool, len(writerRoles))
	for _, r := range writerRoles {
		have[r] = true
	}
	for _, need := range def.Roles {
		if have[need] {
			return nil
		}
	}
	return NewErr(KindRoleDenied, fmt.Sprintf("writer lacks any role required by method %q", def.Name))
}
