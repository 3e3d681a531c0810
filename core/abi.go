package core

// abi.go registers the ABI host functions described in §4.6 against a
// wasmer-go engine, one wasmer.NewFunction per call under the "env" import
// namespace, mirroring the teacher's registerHost wiring in
// core/virtual_machine.go. Every pointer/length argument is an int32
// offset into the instance's exported "memory", bounds-checked against
// memory.Data() before any read or write, exactly as the teacher's
// hostRead/hostWrite helpers do.

import (
	"math/rand"
	"time"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// HostEnv is everything the ABI closures need for one invocation: the VM
// state they read/write registers and buffer writes against, a read-only
// snapshot of committed storage for storage_read/has_key/cursor to fall
// back to once the in-call buffer has been checked, the entity the call is
// scoped to, whether timestamp() is permitted (agents only), and the
// optional async bridge used by send_http_rq/send_ws_msg.
type HostEnv struct {
	VM       *VMState
	Snapshot RoTxn
	Entity   Id
	IsAgent  bool
	Now      func() time.Time
	Async    *AsyncBridge

	cursors map[uint64]Cursor
}

// cursorFor lazily opens (and caches for the rest of this invocation) a
// cursor scoped to one base-key's sub-key range, backed by the committed
// snapshot's bucket cursor. Scoping is enforced by prefix-filtering every
// step, since the underlying bucket cursor walks the whole sub-DB.
func (env *HostEnv) cursorFor(base uint64) Cursor {
	if env.cursors == nil {
		env.cursors = make(map[uint64]Cursor)
	}
	if c, ok := env.cursors[base]; ok {
		return c
	}
	bucket, ok := env.Snapshot.Bucket(userBucketFor(env.Entity))
	if !ok {
		c := &emptyCursor{}
		env.cursors[base] = c
		return c
	}
	prefix := userKeyPrefix(env.Entity, base)
	c := &prefixCursor{inner: bucket.Cursor(), prefix: prefix}
	env.cursors[base] = c
	return c
}

// prefixCursor narrows a whole-bucket Cursor to the keys sharing one
// entity+base prefix (the first 24 bytes of a StorageKey), since a single
// sub-DB interleaves every entity and base-key sharing that bucket.
type prefixCursor struct {
	inner  Cursor
	prefix []byte
}

func (c *prefixCursor) matches(key []byte) bool {
	return len(key) >= len(c.prefix) && string(key[:len(c.prefix)]) == string(c.prefix)
}

func (c *prefixCursor) First() ([]byte, []byte, bool) {
	return c.seek(c.inner.First, c.inner.Next, func(k []byte) bool { return string(k) < string(c.prefix) })
}

func (c *prefixCursor) Last() ([]byte, []byte, bool) {
	return c.seek(c.inner.Last, c.inner.Prev, func(k []byte) bool { return string(k) > string(c.prefix) && !c.matches(k) })
}

func (c *prefixCursor) Next() ([]byte, []byte, bool) {
	k, v, ok := c.inner.Next()
	if !ok || !c.matches(k) {
		return nil, nil, false
	}
	return k, v, true
}

func (c *prefixCursor) Prev() ([]byte, []byte, bool) {
	k, v, ok := c.inner.Prev()
	if !ok || !c.matches(k) {
		return nil, nil, false
	}
	return k, v, true
}

func (c *prefixCursor) Current() ([]byte, []byte, bool) {
	k, v, ok := c.inner.Current()
	if !ok || !c.matches(k) {
		return nil, nil, false
	}
	return k, v, true
}

func (c *prefixCursor) seek(start, step func() ([]byte, []byte, bool), skip func([]byte) bool) ([]byte, []byte, bool) {
	k, v, ok := start()
	for ok && skip(k) {
		k, v, ok = step()
	}
	if !ok || !c.matches(k) {
		return nil, nil, false
	}
	return k, v, true
}

// emptyCursor backs a cursor opened against a never-written bucket.
type emptyCursor struct{}

func (emptyCursor) First() ([]byte, []byte, bool)   { return nil, nil, false }
func (emptyCursor) Last() ([]byte, []byte, bool)    { return nil, nil, false }
func (emptyCursor) Next() ([]byte, []byte, bool)    { return nil, nil, false }
func (emptyCursor) Prev() ([]byte, []byte, bool)    { return nil, nil, false }
func (emptyCursor) Current() ([]byte, []byte, bool) { return nil, nil, false }

// Cursor operation codes for storage_cursor's op argument.
const (
	CursorFirst int32 = iota
	CursorLast
	CursorNext
	CursorPrev
	CursorCurrent
)

// memAccess is bound to a live instance's memory after instantiation;
// BuildImports registers closures that all share one *memAccess so it can
// be filled in post-instantiation (the memory export does not exist until
// the instance itself exists).
type memAccess struct{ mem *wasmer.Memory }

func (m *memAccess) read(ptr, ln int32) ([]byte, error) {
	if m.mem == nil {
		return nil, NewErr(KindMemoryOutOfBounds, "memory not yet bound")
	}
	data := m.mem.Data()
	if ptr < 0 || ln < 0 || int64(ptr)+int64(ln) > int64(len(data)) {
		return nil, NewErr(KindMemoryOutOfBounds, "read out of bounds")
	}
	out := make([]byte, ln)
	copy(out, data[ptr:ptr+ln])
	return out, nil
}

func (m *memAccess) write(ptr int32, b []byte) error {
	if m.mem == nil {
		return NewErr(KindMemoryOutOfBounds, "memory not yet bound")
	}
	data := m.mem.Data()
	if ptr < 0 || int64(ptr)+int64(len(b)) > int64(len(data)) {
		return NewErr(KindMemoryOutOfBounds, "write out of bounds")
	}
	copy(data[ptr:], b)
	return nil
}

func i32Type(params, results int) *wasmer.FunctionType {
	p := make([]wasmer.ValueKind, params)
	r := make([]wasmer.ValueKind, results)
	for i := range p {
		p[i] = wasmer.ValueKind(wasmer.I32)
	}
	for i := range r {
		r[i] = wasmer.ValueKind(wasmer.I32)
	}
	return wasmer.NewFunctionType(wasmer.NewValueTypes(p...), wasmer.NewValueTypes(r...))
}

func errResult() ([]wasmer.Value, error) { return []wasmer.Value{wasmer.NewI32(-1)}, nil }
func okResult() ([]wasmer.Value, error)  { return []wasmer.Value{wasmer.NewI32(0)}, nil }

// BuildImports registers every ABI host function against store under the
// "env" namespace and returns both the import object (to pass to
// wasmer.NewInstance) and the *memAccess to bind once the instance's
// memory export is available.
func BuildImports(store *wasmer.Store, env *HostEnv) (*wasmer.ImportObject, *memAccess) {
	mem := &memAccess{}
	fns := map[string]wasmer.IntoExtern{
		"read_register": wasmer.NewFunction(store, i32Type(2, 1),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				id := uint64(args[0].I32())
				ptr := args[1].I32()
				v, ok := env.VM.ReadRegister(id)
				if !ok {
					return errResult()
				}
				if err := mem.write(ptr, v); err != nil {
					return errResult()
				}
				return []wasmer.Value{wasmer.NewI32(int32(len(v)))}, nil
			}),

		"write_register": wasmer.NewFunction(store, i32Type(3, 1),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				id := uint64(args[0].I32())
				ptr, ln := args[1].I32(), args[2].I32()
				b, err := mem.read(ptr, ln)
				if err != nil {
					return errResult()
				}
				env.VM.WriteRegister(id, b)
				return okResult()
			}),

		"register_len": wasmer.NewFunction(store, i32Type(1, 1),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				id := uint64(args[0].I32())
				n := env.VM.RegisterLen(id)
				return []wasmer.Value{wasmer.NewI32(int32(n))}, nil
			}),

		"storage_read": wasmer.NewFunction(store, i32Type(3, 1),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				base, sub, outReg := uint64(args[0].I32()), uint64(args[1].I32()), uint64(args[2].I32())
				v, found := readThroughBuffer(env, base, sub)
				if !found {
					env.VM.WriteRegister(outReg, nil)
					return []wasmer.Value{wasmer.NewI32(0)}, nil
				}
				env.VM.WriteRegister(outReg, v)
				return []wasmer.Value{wasmer.NewI32(1)}, nil
			}),

		"storage_write": wasmer.NewFunction(store, i32Type(4, 1),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				base, sub := uint64(args[0].I32()), uint64(args[1].I32())
				ptr, ln := args[2].I32(), args[3].I32()
				b, err := mem.read(ptr, ln)
				if err != nil {
					return errResult()
				}
				env.VM.BufferedStorageWrite(env.Entity, base, sub, b)
				return okResult()
			}),

		"storage_remove": wasmer.NewFunction(store, i32Type(2, 1),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				base, sub := uint64(args[0].I32()), uint64(args[1].I32())
				env.VM.BufferedStorageRemove(env.Entity, base, sub)
				return okResult()
			}),

		"storage_has_key": wasmer.NewFunction(store, i32Type(2, 1),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				base, sub := uint64(args[0].I32()), uint64(args[1].I32())
				_, found := readThroughBuffer(env, base, sub)
				if found {
					return []wasmer.Value{wasmer.NewI32(1)}, nil
				}
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}),

		"storage_cursor": wasmer.NewFunction(store, i32Type(4, 1),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				base := uint64(uint32(args[0].I32()))
				op := args[1].I32()
				keyReg, valReg := uint64(args[2].I32()), uint64(args[3].I32())
				c := env.cursorFor(base)
				var k, v []byte
				var found bool
				switch op {
				case CursorFirst:
					k, v, found = c.First()
				case CursorLast:
					k, v, found = c.Last()
				case CursorNext:
					k, v, found = c.Next()
				case CursorPrev:
					k, v, found = c.Prev()
				case CursorCurrent:
					k, v, found = c.Current()
				default:
					return errResult()
				}
				if !found {
					env.VM.WriteRegister(keyReg, nil)
					env.VM.WriteRegister(valReg, nil)
					return []wasmer.Value{wasmer.NewI32(0)}, nil
				}
				env.VM.WriteRegister(keyReg, k)
				env.VM.WriteRegister(valReg, v)
				return []wasmer.Value{wasmer.NewI32(1)}, nil
			}),

		"storage_gen_sub_key": wasmer.NewFunction(store, i32Type(0, 1),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				return []wasmer.Value{wasmer.NewI32(int32(uint32(rand.Uint64())))}, nil
			}),

		"print": wasmer.NewFunction(store, i32Type(3, 1),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				ptr, ln, level := args[0].I32(), args[1].I32(), args[2].I32()
				b, err := mem.read(ptr, ln)
				if err != nil {
					return errResult()
				}
				env.VM.AppendLog(printLevelName(level), string(b))
				return okResult()
			}),

		"rand": wasmer.NewFunction(store, i32Type(2, 1),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				lo, hi := uint64(uint32(args[0].I32())), uint64(uint32(args[1].I32()))
				if hi <= lo {
					return []wasmer.Value{wasmer.NewI32(int32(lo))}, nil
				}
				v := lo + uint64(rand.Int63n(int64(hi-lo)))
				return []wasmer.Value{wasmer.NewI32(int32(uint32(v)))}, nil
			}),

		"tic": wasmer.NewFunction(store, i32Type(0, 0),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				env.VM.Tic()
				return []wasmer.Value{}, nil
			}),

		"toc": wasmer.NewFunction(store, i32Type(0, 1),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				return []wasmer.Value{wasmer.NewI32(int32(env.VM.Toc()))}, nil
			}),

		"timestamp": wasmer.NewFunction(store, i32Type(0, 1),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				if !env.IsAgent {
					return errResult()
				}
				ms := env.Now().UnixMilli()
				return []wasmer.Value{wasmer.NewI32(int32(ms))}, nil
			}),

		"create_ledger_entry": wasmer.NewFunction(store, i32Type(2, 1),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				ptr, ln := args[0].I32(), args[1].I32()
				b, err := mem.read(ptr, ln)
				if err != nil {
					return errResult()
				}
				env.VM.QueueLedgerEntry(b)
				return okResult()
			}),
	}

	if env.IsAgent {
		fns["send_http_rq"] = wasmer.NewFunction(store, i32Type(5, 1),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				if env.Async == nil {
					return errResult()
				}
				headPtr, bodyPtr, rsHead, rsBody, errPtr := args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32(), args[4].I32()
				head, err1 := mem.read(headPtr, 4096)
				body, err2 := mem.read(bodyPtr, 4096)
				if err1 != nil || err2 != nil {
					return errResult()
				}
				respHead, respBody, asyncErr := env.Async.DoHTTP(head, body)
				if asyncErr != "" {
					_ = mem.write(errPtr, []byte(asyncErr))
					return errResult()
				}
				_ = mem.write(rsHead, respHead)
				_ = mem.write(rsBody, respBody)
				return okResult()
			})

		fns["send_ws_msg"] = wasmer.NewFunction(store, i32Type(2, 1),
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				if env.Async == nil {
					return errResult()
				}
				ptr, ln := args[0].I32(), args[1].I32()
				b, err := mem.read(ptr, ln)
				if err != nil {
					return errResult()
				}
				if asyncErr := env.Async.SendWS(b); asyncErr != "" {
					env.VM.WriteRegister(RegAsyncErr, []byte(asyncErr))
					return errResult()
				}
				return okResult()
			})
	}

	imports := wasmer.NewImportObject()
	imports.Register("env", fns)
	return imports, mem
}

// BindMemory attaches an instantiated instance's "memory" export to the
// shared memAccess so the already-registered closures can start reading
// and writing it.
func BindMemory(mem *memAccess, instance *wasmer.Instance) error {
	m, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return WrapErr(KindMemoryOutOfBounds, "module does not export memory", err)
	}
	mem.mem = m
	return nil
}

func printLevelName(level int32) string {
	switch level {
	case 0:
		return "debug"
	case 1:
		return "info"
	case 2:
		return "warn"
	case 3:
		return "error"
	default:
		return "info"
	}
}

// readThroughBuffer checks the in-progress write buffer (most recent entry
// wins) before falling back to the committed snapshot, so a module reading
// back a key it just wrote this call sees its own write.
func readThroughBuffer(env *HostEnv, base, sub uint64) ([]byte, bool) {
	key := UserKey(env.Entity, base, sub)
	buf := env.VM.BufferView()
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i].Key == key {
			if buf[i].Remove {
				return nil, false
			}
			return buf[i].Value, true
		}
	}
	bucket, ok := env.Snapshot.Bucket(userBucketFor(env.Entity))
	if !ok {
		return nil, false
	}
	return bucket.Get(key.Bytes())
}

// userBucketFor names the sub-DB holding an entity kind's user-space
// writes, mirroring metaBucketFor's split for system-space records.
func userBucketFor(entity Id) string {
	if entity.Kind() == KindAgent {
		return "agents-storage"
	}
	return "contracts-storage"
}
