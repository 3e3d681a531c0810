package core

// vmstate.go implements the per-invocation VM state described in §4.5: the
// sparse register bank, the buffered write set, the active-entity state
// machine, and the log ring, plus the micro-benchmarking tic/toc hooks.

import (
	"math"
	"time"
)

// Well-known register ids (§6).
const (
	RegInput        uint64 = iota // INPUT
	RegOutput                     // OUTPUT
	RegTxCtx                      // TX_CTX
	RegWriter                     // WRITER
	RegBlockCtx                   // BLOCK_CTX
	RegExecutor                   // EXECUTOR
	RegHTTPPath                   // HTTP_PATH
	RegHTTPPayload                // HTTP_PAYLOAD
	RegHTTPStatus                 // HTTP_STATUS (big-endian u16)
	RegHTTPResult                 // HTTP_RESULT
	RegAsyncErr                   // dedicated async error register
	RegFirstUserReg uint64 = 1000 // user/module-defined registers start here
)

// RegisterAbsent is the sentinel returned by register_len for an absent
// register.
const RegisterAbsent uint64 = math.MaxUint64

// Op is one buffered storage mutation.
type Op struct {
	Remove bool
	Key    StorageKey
	Value  []byte
}

// LogLine is one buffered log entry awaiting flush on commit.
type LogLine struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// EntityState is the small tagged union driving ActiveEntity: None,
// Contract{id,mutable} or Agent{id,mutable}.
type EntityState int

const (
	EntityNone EntityState = iota
	EntityContract
	EntityAgent
)

// ActiveEntity tracks which entity (if any) currently owns this VM state.
type ActiveEntity struct {
	State   EntityState
	ID      Id
	Mutable bool
}

// CommitVariant tags which bookkeeping write accompanies the user buffer
// on a successful finish.
type CommitVariant int

const (
	CommitNone CommitVariant = iota
	CommitAction
	CommitIntroduction
	CommitRevocation
)

// VMState holds everything the ABI host functions read and mutate across
// one module invocation: registers, the write buffer, the active-entity
// machine, and the log ring. A VMState is used for exactly one
// begin/finish cycle and then discarded — the contract/agent runtimes
// construct a fresh one per call.
type VMState struct {
	registers     map[uint64][]byte
	buffer        []Op
	logs          []LogLine
	pendingLedger [][]byte
	active        ActiveEntity
	lastTimer     time.Time

	logger func(level, msg string)
}

// NewVMState constructs an idle VM state (ActiveEntity = None).
func NewVMState() *VMState {
	return &VMState{registers: make(map[uint64][]byte)}
}

// SetWarnLogger installs the sink used when a user write to a system key
// is silently dropped; if unset, drops are simply not logged.
func (s *VMState) SetWarnLogger(fn func(level, msg string)) { s.logger = fn }

// --- registers ---

func (s *VMState) WriteRegister(id uint64, data []byte) {
	cp := append([]byte(nil), data...)
	s.registers[id] = cp
}

func (s *VMState) ReadRegister(id uint64) ([]byte, bool) {
	v, ok := s.registers[id]
	return v, ok
}

func (s *VMState) RegisterLen(id uint64) uint64 {
	v, ok := s.registers[id]
	if !ok {
		return RegisterAbsent
	}
	return uint64(len(v))
}

func (s *VMState) ClearRegisters() { s.registers = make(map[uint64][]byte) }

// --- active-entity state machine ---

// BeginMutableContract transitions None -> Contract{mutable:true}.
func (s *VMState) BeginMutableContract(id Id) error { return s.begin(EntityContract, id, true) }

// BeginImmutableContract transitions None -> Contract{mutable:false}.
func (s *VMState) BeginImmutableContract(id Id) error { return s.begin(EntityContract, id, false) }

// BeginAgent transitions None -> Agent{mutable}.
func (s *VMState) BeginAgent(id Id, mutable bool) error { return s.begin(EntityAgent, id, mutable) }

func (s *VMState) begin(state EntityState, id Id, mutable bool) error {
	if s.active.State != EntityNone {
		return NewErr(KindInvalidArgument, "begin_* called while an entity is already active")
	}
	s.active = ActiveEntity{State: state, ID: id, Mutable: mutable}
	if mutable {
		s.buffer = s.buffer[:0]
		s.logs = s.logs[:0]
		s.pendingLedger = s.pendingLedger[:0]
	}
	return nil
}

// Active reports the currently bound entity.
func (s *VMState) Active() ActiveEntity { return s.active }

// IsMutable reports whether the active execution owns a write buffer.
func (s *VMState) IsMutable() bool { return s.active.State != EntityNone && s.active.Mutable }

// Finish resets ActiveEntity to None. If commit is non-nil and the
// execution was mutable, the returned Ops/LogLines/CommitVariant should be
// applied by the caller inside one RW transaction; otherwise everything
// buffered is simply discarded. Per the runtime's strict rule (§9 open
// question), commit only happens on an explicit Ok result carrying an
// explicit CommitVariant — ambiguous "commit if mutable" paths are never
// taken.
func (s *VMState) Finish(variant CommitVariant) (ops []Op, logs []LogLine, ledgerEntries [][]byte, committed bool) {
	mutable := s.IsMutable()
	if mutable && variant != CommitNone {
		ops = s.buffer
		logs = s.logs
		ledgerEntries = s.pendingLedger
		committed = true
	}
	s.active = ActiveEntity{}
	s.buffer = nil
	s.logs = nil
	s.pendingLedger = nil
	return ops, logs, ledgerEntries, committed
}

// --- storage buffering ---

// BufferedStorageWrite buffers a user-space write, or silently drops it
// (with a warn log) if it targets a system key. On an immutable
// execution, the write is a no-op that still reports ok so the ABI call
// looks like success to the module.
func (s *VMState) BufferedStorageWrite(entity Id, base, sub uint64, value []byte) {
	if !s.IsMutable() {
		return
	}
	if IsSystemKey(base) {
		s.warn("dropped user write to system-space key")
		return
	}
	k := UserKey(entity, base, sub)
	s.buffer = append(s.buffer, Op{Key: k, Value: append([]byte(nil), value...)})
}

// BufferedStorageRemove buffers a user-space remove; same system-key and
// immutability rules as BufferedStorageWrite.
func (s *VMState) BufferedStorageRemove(entity Id, base, sub uint64) {
	if !s.IsMutable() {
		return
	}
	if IsSystemKey(base) {
		s.warn("dropped user remove of system-space key")
		return
	}
	k := UserKey(entity, base, sub)
	s.buffer = append(s.buffer, Op{Remove: true, Key: k})
}

// QueueLedgerEntry buffers a raw (JSON-encoded) ledger entry submitted via
// the create_ledger_entry ABI call, applied alongside the write buffer at
// commit. A no-op on an immutable execution, matching the other buffered
// ABI calls.
func (s *VMState) QueueLedgerEntry(raw []byte) {
	if !s.IsMutable() {
		return
	}
	s.pendingLedger = append(s.pendingLedger, append([]byte(nil), raw...))
}

// BufferView returns the writes made so far this execution, most recent
// last, for a read-after-write lookup against the in-progress buffer
// before falling back to the committed store.
func (s *VMState) BufferView() []Op { return s.buffer }

func (s *VMState) warn(msg string) {
	if s.logger != nil {
		s.logger("warn", msg)
	}
}

// --- log ring ---

func (s *VMState) AppendLog(level, message string) {
	s.logs = append(s.logs, LogLine{Timestamp: time.Now(), Level: level, Message: message})
}

func (s *VMState) Logs() []LogLine { return s.logs }

// --- tic/toc micro-benchmark hooks ---

// Tic resets the micro-benchmark timer.
func (s *VMState) Tic() {
	s.lastTimer = time.Now()
}

// Toc returns the nanoseconds elapsed since the last Tic.
func (s *VMState) Toc() uint64 {
	if s.lastTimer.IsZero() {
		return 0
	}
	return uint64(time.Since(s.lastTimer).Nanoseconds())
}
