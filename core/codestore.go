package core

// codestore.go implements the code store from §4.4: entity-id -> compiled
// wasmer module, fronted by an LRU of recently used handles so a hot
// contract's repeated invocations skip recompilation. Grounded on the
// teacher's HeavyVM wiring (core/virtual_machine.go), which compiles a
// wasmer.Module from raw bytes and hands out a fresh wasmer.Instance per
// call; this store keeps the compiled Module cached, Load returns that
// cached module, and NewInstance builds a fresh Instance (and therefore
// fresh linear memory) for each call.

import (
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/wasmerio/wasmer-go/wasmer"
)

const codeDigestBucket = "code-digest" // entity-id(16) -> Hash256 of its module bytes

// CompiledModule is a cached, validated module ready to be instantiated.
type CompiledModule struct {
	Digest  Hash256
	Module  *wasmer.Module
	Exports map[string]bool
}

// CodeStore is the process-wide module cache. Like LockRegistry it is
// constructed once and threaded explicitly into the contract/agent
// runtimes rather than held as a package-level variable.
type CodeStore struct {
	engine *wasmer.Engine
	cache  *lru.Cache[Id, *CompiledModule]
}

// NewCodeStore constructs a code store whose LRU holds at most size
// compiled modules at once; size <= 0 falls back to a reasonable default.
func NewCodeStore(size int) (*CodeStore, error) {
	if size <= 0 {
		size = 64
	}
	cache, err := lru.New[Id, *CompiledModule](size)
	if err != nil {
		return nil, WrapErr(KindStorageIO, "construct code cache", err)
	}
	return &CodeStore{engine: wasmer.NewEngine(), cache: cache}, nil
}

// Compile validates wasmBytes against requiredExports and returns the
// compiled module without touching the cache or persistence; callers that
// only want to validate a candidate module (e.g. before introduction) use
// this directly.
func (cs *CodeStore) Compile(wasmBytes []byte, requiredExports []string) (*CompiledModule, error) {
	store := wasmer.NewStore(cs.engine)
	mod, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, WrapErr(KindInvalidExport, "compile wasm module", err)
	}
	exports := make(map[string]bool)
	for _, exp := range mod.Exports() {
		exports[exp.Name()] = true
	}
	for _, name := range requiredExports {
		if !exports[name] {
			return nil, NewErr(KindMissingExport, "module missing required export: "+name)
		}
	}
	return &CompiledModule{Digest: Sum256(wasmBytes), Module: mod, Exports: exports}, nil
}

// Insert compiles and validates wasmBytes, persists entity's module digest
// under the code-digest bucket, and primes the LRU so the very next Load
// skips recompilation. Replacing an entity's module simply overwrites both
// the cache entry and the persisted digest.
func (cs *CodeStore) Insert(txn RwTxn, entity Id, wasmBytes []byte, requiredExports []string) (*CompiledModule, error) {
	cm, err := cs.Compile(wasmBytes, requiredExports)
	if err != nil {
		return nil, err
	}
	bucket, err := txn.WritableBucket(codeDigestBucket)
	if err != nil {
		return nil, err
	}
	if err := bucket.Put(entity[:], cm.Digest[:]); err != nil {
		return nil, err
	}
	cs.cache.Add(entity, cm)
	return cm, nil
}

// Load returns the compiled module for entity, serving the LRU when
// present. On a cache miss it re-reads the module bytes from the entity's
// persisted package definition, verifies them against the stored digest,
// and recompiles — the "re-materialize after restart" path called for by
// the spec, since the LRU itself never survives a process restart.
func (cs *CodeStore) Load(txn RoTxn, entity Id, requiredExports []string) (*CompiledModule, error) {
	if cm, ok := cs.cache.Get(entity); ok {
		return cm, nil
	}

	digestBucket, ok := txn.Bucket(codeDigestBucket)
	if !ok {
		return nil, NewErr(KindMissingKey, "no module digest recorded for entity")
	}
	digestBytes, ok := digestBucket.Get(entity[:])
	if !ok {
		return nil, NewErr(KindMissingKey, "no module digest recorded for entity")
	}

	pkgBucket, ok := txn.Bucket(metaBucketFor(entity.Kind()))
	if !ok {
		return nil, NewErr(KindMissingKey, "no package recorded for entity")
	}
	rawPkg, ok := pkgBucket.Get(metaKey(entity, MetaSubKeyPackageDefinition))
	if !ok {
		return nil, NewErr(KindMissingKey, "no package definition recorded for entity")
	}
	var decoded []byte
	if err := json.Unmarshal(rawPkg, &decoded); err != nil {
		return nil, WrapErr(KindCorrupted, "unmarshal package definition", err)
	}

	var wantDigest Hash256
	copy(wantDigest[:], digestBytes)
	if gotDigest := Sum256(decoded); gotDigest != wantDigest {
		return nil, NewErr(KindCorrupted, "module bytes do not match recorded digest")
	}

	cm, err := cs.Compile(decoded, requiredExports)
	if err != nil {
		return nil, err
	}
	cs.cache.Add(entity, cm)
	return cm, nil
}

// Invalidate drops entity's cached handle, forcing the next Load to
// recompile from persisted bytes.
func (cs *CodeStore) Invalidate(entity Id) { cs.cache.Remove(entity) }

// NewInstance builds a fresh wasmer.Instance (and therefore fresh linear
// memory) from cm's compiled Module, wired against imports. A new instance
// per call is exactly what isolates one invocation's state from the next
// without recompiling.
func NewInstance(cm *CompiledModule, imports *wasmer.ImportObject) (*wasmer.Instance, error) {
	inst, err := wasmer.NewInstance(cm.Module, imports)
	if err != nil {
		return nil, WrapErr(KindInvalidExport, "instantiate module", err)
	}
	return inst, nil
}
