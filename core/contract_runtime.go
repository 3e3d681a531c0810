package core

// contract_runtime.go implements the synchronous contract invocation
// protocol from §4.8: acquire the entity lock, prepare registers, call the
// module export, choose a commit variant from the result, and either apply
// or discard everything the call buffered. Logging follows the teacher's
// package-level logrus.WithFields convention (core/chain_fork_manager.go
// and friends).

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// ContractExports lists every export §4.8 requires a contract module to
// provide; ContractRuntime calls CodeStore.Insert/Load with this list.
var ContractExports = []string{
	"process_transaction",
	"process_introduction",
	"process_revocation",
	"http_get_state",
	"http_post_action",
	"parse_state",
	"get_symbols",
}

// ContractRuntime orchestrates contract invocations against a store, a
// code cache and the per-entity mutability lock.
type ContractRuntime struct {
	DB    Db
	Code  *CodeStore
	Locks *LockRegistry
}

// NewContractRuntime wires a runtime against already-constructed storage,
// code-cache and lock-registry singletons.
func NewContractRuntime(db Db, code *CodeStore, locks *LockRegistry) *ContractRuntime {
	return &ContractRuntime{DB: db, Code: code, Locks: locks}
}

// instantiate compiles/loads entity's module and builds a fresh,
// freshly-memory'd instance wired to env.
func (r *ContractRuntime) instantiate(roTxn RoTxn, entity Id, env *HostEnv) (*wasmer.Instance, *memAccess, error) {
	cm, err := r.Code.Load(roTxn, entity, ContractExports)
	if err != nil {
		return nil, nil, err
	}
	store := wasmer.NewStore(wasmer.NewEngine())
	imports, mem := BuildImports(store, env)
	instance, err := NewInstance(cm, imports)
	if err != nil {
		return nil, nil, err
	}
	if err := BindMemory(mem, instance); err != nil {
		return nil, nil, err
	}
	return instance, mem, nil
}

func callExport(instance *wasmer.Instance, name string) error {
	fn, err := instance.Exports.GetFunction(name)
	if err != nil {
		return NewErr(KindMissingExport, "module missing required export: "+name)
	}
	if _, err := fn(); err != nil {
		return WrapErr(KindInvalidExport, "export "+name+" trapped", err)
	}
	return nil
}

// Introduce runs process_introduction for a brand-new contract: it fails
// with KindDoubleIntroduction if the id is already introduced, otherwise
// compiles/validates the module, runs the export, and on success commits
// the introduction record alongside anything the module buffered.
func (r *ContractRuntime) Introduce(intro Introduction, txCtx TxContext) error {
	if err := ValidateIntroduction(intro); err != nil {
		return err
	}
	unlock := r.Locks.Lock(intro.ID)
	defer unlock()

	var alreadyIntroduced bool
	if err := r.DB.View(func(ro RoTxn) error {
		m, ok, err := ReadMetadata(ro, intro.ID)
		if err != nil {
			return err
		}
		alreadyIntroduced = ok && m.Introduced()
		return nil
	}); err != nil {
		return err
	}
	if alreadyIntroduced {
		return NewErr(KindDoubleIntroduction, "contract already introduced: "+intro.ID.Hex())
	}

	vm := NewVMState()
	vm.SetWarnLogger(warnLogger(intro.ID))
	if err := vm.BeginMutableContract(intro.ID); err != nil {
		return err
	}

	initialState, err := json.Marshal(intro.InitialState)
	if err != nil {
		return WrapErr(KindInvalidArgument, "marshal initial state", err)
	}
	vm.WriteRegister(RegInput, initialState)
	vm.WriteRegister(RegTxCtx, encodeTxContext(txCtx))
	vm.WriteRegister(RegWriter, txCtx.Writer[:])

	var runErr error
	if err := r.DB.Update(func(rw RwTxn) error {
		cm, err := r.Code.Insert(rw, intro.ID, intro.Package.Definition, ContractExports)
		if err != nil {
			return err
		}
		store := wasmer.NewStore(wasmer.NewEngine())
		env := &HostEnv{VM: vm, Snapshot: rw, Entity: intro.ID}
		imports, mem := BuildImports(store, env)
		instance, err := NewInstance(cm, imports)
		if err != nil {
			return err
		}
		if err := BindMemory(mem, instance); err != nil {
			return err
		}
		if err := callExport(instance, "process_introduction"); err != nil {
			runErr = err
			vm.Finish(CommitNone)
			return err
		}

		ops, logs, ledger, committed := vm.Finish(CommitIntroduction)
		if !committed {
			return nil
		}
		if err := ApplyOps(rw, intro.ID, ops); err != nil {
			return err
		}
		if err := ApplyPendingLedgerEntries(rw, intro.ID, ledger); err != nil {
			return err
		}
		if err := FlushLogs(rw, intro.ID, logs); err != nil {
			return err
		}
		m := intro.Metadata
		m.ActiveSince = uint64(time.Now().UnixMilli())
		m.TxCtxIntroduction = &txCtx.TxID
		intro.Metadata = m
		return WriteIntroduction(rw, intro)
	}); err != nil {
		if runErr != nil {
			return runErr
		}
		return err
	}
	logrus.WithFields(logrus.Fields{"entity_id": intro.ID.Hex(), "kind": "contract"}).Info("contract introduced")
	return nil
}

// Revoke runs process_revocation against an already-introduced, not-yet-
// revoked contract.
func (r *ContractRuntime) Revoke(rev Revocation, txCtx TxContext) error {
	unlock := r.Locks.Lock(rev.ID)
	defer unlock()

	var meta Metadata
	if err := r.DB.View(func(ro RoTxn) error {
		m, ok, err := ReadMetadata(ro, rev.ID)
		if err != nil {
			return err
		}
		if !ok || !m.Introduced() {
			return NewErr(KindMissingContract, "contract not introduced: "+rev.ID.Hex())
		}
		if m.Revoked() {
			return NewErr(KindRevokedContract, "contract already revoked: "+rev.ID.Hex())
		}
		meta = m
		return nil
	}); err != nil {
		return err
	}

	vm := NewVMState()
	vm.SetWarnLogger(warnLogger(rev.ID))
	if err := vm.BeginMutableContract(rev.ID); err != nil {
		return err
	}
	revBytes, err := json.Marshal(rev)
	if err != nil {
		return WrapErr(KindInvalidArgument, "marshal revocation", err)
	}
	vm.WriteRegister(RegInput, revBytes)
	vm.WriteRegister(RegTxCtx, encodeTxContext(txCtx))
	vm.WriteRegister(RegWriter, txCtx.Writer[:])

	var runErr error
	if err := r.DB.Update(func(rw RwTxn) error {
		instance, mem, err := r.instantiateRW(rw, rev.ID, vm)
		if err != nil {
			return err
		}
		_ = mem
		if err := callExport(instance, "process_revocation"); err != nil {
			runErr = err
			vm.Finish(CommitNone)
			return err
		}
		ops, logs, ledger, committed := vm.Finish(CommitRevocation)
		if !committed {
			return nil
		}
		if err := ApplyOps(rw, rev.ID, ops); err != nil {
			return err
		}
		if err := ApplyPendingLedgerEntries(rw, rev.ID, ledger); err != nil {
			return err
		}
		if err := FlushLogs(rw, rev.ID, logs); err != nil {
			return err
		}
		meta.InactiveSince = uint64(time.Now().UnixMilli())
		meta.TxCtxRevocation = &txCtx.TxID
		return WriteRevocation(rw, rev, meta.InactiveSince, meta)
	}); err != nil {
		if runErr != nil {
			return runErr
		}
		return err
	}
	logrus.WithFields(logrus.Fields{"entity_id": rev.ID.Hex()}).Info("contract revoked")
	return nil
}

// Invoke runs process_transaction against an already-introduced,
// not-revoked contract and returns the OUTPUT register's bytes as the
// emitted events.
func (r *ContractRuntime) Invoke(contract Id, action CallAction, txCtx TxContext, blockCtx BlockContext) ([]byte, error) {
	unlock := r.Locks.Lock(contract)
	defer unlock()

	if err := r.checkActiveNotRevoked(contract); err != nil {
		return nil, err
	}

	vm := NewVMState()
	vm.SetWarnLogger(warnLogger(contract))
	if err := vm.BeginMutableContract(contract); err != nil {
		return nil, err
	}
	params, err := json.Marshal(action)
	if err != nil {
		return nil, WrapErr(KindInvalidArgument, "marshal call action", err)
	}
	vm.WriteRegister(RegInput, params)
	vm.WriteRegister(RegTxCtx, encodeTxContext(txCtx))
	vm.WriteRegister(RegWriter, txCtx.Writer[:])
	vm.WriteRegister(RegBlockCtx, encodeBlockContext(blockCtx))

	var output []byte
	var runErr error
	if err := r.DB.Update(func(rw RwTxn) error {
		instance, _, err := r.instantiateRW(rw, contract, vm)
		if err != nil {
			return err
		}
		if err := callExport(instance, "process_transaction"); err != nil {
			runErr = err
			vm.Finish(CommitNone)
			return err
		}
		out, _ := vm.ReadRegister(RegOutput)
		output = out

		ops, logs, ledger, committed := vm.Finish(CommitAction)
		if !committed {
			return nil
		}
		if err := ApplyOps(rw, contract, ops); err != nil {
			return err
		}
		if err := ApplyPendingLedgerEntries(rw, contract, ledger); err != nil {
			return err
		}
		if err := FlushLogs(rw, contract, logs); err != nil {
			return err
		}
		rec := ActionRecord{TxCtx: txCtx, Action: action, CommittedAtMS: uint64(time.Now().UnixMilli())}
		_, err = AppendAction(rw, contract, rec)
		return err
	}); err != nil {
		if runErr != nil {
			return nil, runErr
		}
		return nil, err
	}
	return output, nil
}

// instantiateRW instantiates contract's module inside an in-progress RW
// transaction, used by invocation paths that may need to write (Invoke,
// Revoke).
func (r *ContractRuntime) instantiateRW(rw RwTxn, entity Id, vm *VMState) (*wasmer.Instance, *memAccess, error) {
	cm, err := r.Code.Load(rw, entity, ContractExports)
	if err != nil {
		return nil, nil, err
	}
	store := wasmer.NewStore(wasmer.NewEngine())
	env := &HostEnv{VM: vm, Snapshot: rw, Entity: entity}
	imports, mem := BuildImports(store, env)
	instance, err := NewInstance(cm, imports)
	if err != nil {
		return nil, nil, err
	}
	if err := BindMemory(mem, instance); err != nil {
		return nil, nil, err
	}
	return instance, mem, nil
}

func (r *ContractRuntime) checkActiveNotRevoked(entity Id) error {
	var notFound, revoked bool
	if err := r.DB.View(func(ro RoTxn) error {
		m, ok, err := ReadMetadata(ro, entity)
		if err != nil {
			return err
		}
		notFound = !ok || !m.Introduced()
		revoked = ok && m.Revoked()
		return nil
	}); err != nil {
		return err
	}
	if notFound {
		return NewErr(KindMissingContract, "contract not introduced: "+entity.Hex())
	}
	if revoked {
		return NewErr(KindRevokedContract, "contract revoked: "+entity.Hex())
	}
	return nil
}

// HTTPGetState runs the read-only http_get_state export and returns the
// written HTTP_STATUS/HTTP_RESULT registers. It never acquires the
// mutability lock and always executes against an immutable VM state,
// since a dry read must never be able to buffer a write.
func (r *ContractRuntime) HTTPGetState(entity Id, path string) (status []byte, result []byte, err error) {
	vm := NewVMState()
	if err := vm.BeginImmutableContract(entity); err != nil {
		return nil, nil, err
	}
	vm.WriteRegister(RegHTTPPath, []byte(path))

	if err := r.DB.View(func(ro RoTxn) error {
		env := &HostEnv{VM: vm, Snapshot: ro, Entity: entity}
		instance, _, err := r.instantiate(ro, entity, env)
		if err != nil {
			return err
		}
		return callExport(instance, "http_get_state")
	}); err != nil {
		return nil, nil, err
	}

	status, _ = vm.ReadRegister(RegHTTPStatus)
	result, _ = vm.ReadRegister(RegHTTPResult)
	vm.Finish(CommitNone)
	return status, result, nil
}

func warnLogger(entity Id) func(level, msg string) {
	return func(level, msg string) {
		logrus.WithFields(logrus.Fields{"entity_id": entity.Hex(), "level": level}).Warn(msg)
	}
}

func encodeTxContext(tx TxContext) []byte {
	b, _ := json.Marshal(tx)
	return b
}

func encodeBlockContext(b BlockContext) []byte {
	out, _ := json.Marshal(b)
	return out
}
