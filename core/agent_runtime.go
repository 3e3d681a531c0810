package core

// agent_runtime.go implements the agent runtime from §4.9: everything the
// contract runtime does, plus the async suspension ABI, the on_init-driven
// schedule, WebSocket registration, and subscription-triggered dispatch.
// wasmer-go has no native fuel/async-suspension primitive, so "parking the
// wasm fiber" is emulated with a goroutine per invocation plus a channel
// the host's async bridge completes or times out — the invoking goroutine
// simply blocks on DoHTTP/SendWS, and the wasm call itself runs to
// completion synchronously from the module's point of view. Scheduling
// uses a time.Ticker per task and github.com/cenkalti/backoff/v4 for
// retry, WebSocket transport is gorilla/websocket, and outbound HTTP is
// additionally gated by golang.org/x/time/rate, all named in the runtime's
// domain stack.

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/wasmerio/wasmer-go/wasmer"
	"golang.org/x/time/rate"
)

// AgentExports lists the exports §4.9 requires from an agent module, in
// place of the contract runtime's process_transaction.
var AgentExports = []string{
	"process_introduction",
	"process_revocation",
	"http_get_state",
	"http_post_action",
	"parse_state",
	"get_symbols",
	"on_init",
	"on_shutdown",
	"on_ws_open",
	"on_ws_msg",
	"on_ws_error",
	"on_ws_close",
	"process_action",
}

// ScheduledTask is one periodic dispatch an agent's on_init asked for.
type ScheduledTask struct {
	Method   string `json:"method"`
	PeriodMS uint64 `json:"period_ms"`
}

// AgentInit is the record on_init writes to OUTPUT.
type AgentInit struct {
	Schedule []ScheduledTask `json:"schedule"`
}

// HTTPRequestHead/HTTPResponseHead are the JSON shapes send_http_rq reads
// from and writes into its request/response head registers.
type HTTPRequestHead struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

type HTTPResponseHead struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
}

// AsyncBridge backs the agent-only send_http_rq/send_ws_msg ABI calls: an
// outbound HTTP client rate-limited per §4.9's design, and the agent's
// registered outbound WebSocket connection, if any.
type AsyncBridge struct {
	httpClient *http.Client
	limiter    *rate.Limiter

	wsMu   sync.Mutex
	wsConn *websocket.Conn
}

// NewAsyncBridge constructs a bridge sharing one rate limiter across every
// agent invocation that uses it (typically one bridge per agent).
func NewAsyncBridge(limiter *rate.Limiter) *AsyncBridge {
	return &AsyncBridge{httpClient: &http.Client{Timeout: 15 * time.Second}, limiter: limiter}
}

// DoHTTP performs the outbound request described by headRaw/bodyRaw,
// returning the JSON response head and raw response body, or a non-empty
// asyncErr if the request could not be completed.
func (b *AsyncBridge) DoHTTP(headRaw, bodyRaw []byte) (respHead, respBody []byte, asyncErr string) {
	var head HTTPRequestHead
	if err := json.Unmarshal(trimNulls(headRaw), &head); err != nil {
		return nil, nil, "invalid request head: " + err.Error()
	}
	if b.limiter != nil {
		if err := b.limiter.Wait(context.Background()); err != nil {
			return nil, nil, "rate limit: " + err.Error()
		}
	}
	req, err := http.NewRequest(head.Method, head.URL, bytes.NewReader(trimNulls(bodyRaw)))
	if err != nil {
		return nil, nil, "build request: " + err.Error()
	}
	for k, v := range head.Headers {
		req.Header.Set(k, v)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, nil, "do request: " + err.Error()
	}
	defer resp.Body.Close()
	body := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if readErr != nil {
			break
		}
	}
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	rh, err := json.Marshal(HTTPResponseHead{Status: resp.StatusCode, Headers: headers})
	if err != nil {
		return nil, nil, "marshal response head: " + err.Error()
	}
	return rh, body, ""
}

// SendWS writes payload as one frame over the agent's registered outbound
// WebSocket connection.
func (b *AsyncBridge) SendWS(payload []byte) string {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	if b.wsConn == nil {
		return "no websocket connection registered"
	}
	if err := b.wsConn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err.Error()
	}
	return ""
}

func (b *AsyncBridge) setConn(conn *websocket.Conn) {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	b.wsConn = conn
}

func trimNulls(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return b[:i]
}

// AgentRuntime orchestrates agent invocations: contract-like lifecycle
// calls plus schedules, WebSocket registration and subscription dispatch.
type AgentRuntime struct {
	DB    Db
	Code  *CodeStore
	Locks *LockRegistry

	limiter *rate.Limiter

	mu      sync.Mutex
	bridges map[Id]*AsyncBridge
	sched   map[Id][]context.CancelFunc
}

// NewAgentRuntime wires an agent runtime against shared storage, code
// cache and lock registry, rate-limiting outbound HTTP at the given
// requests-per-second/burst.
func NewAgentRuntime(db Db, code *CodeStore, locks *LockRegistry, rps float64, burst int) *AgentRuntime {
	return &AgentRuntime{
		DB:      db,
		Code:    code,
		Locks:   locks,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		bridges: make(map[Id]*AsyncBridge),
		sched:   make(map[Id][]context.CancelFunc),
	}
}

func (r *AgentRuntime) bridgeFor(agent Id) *AsyncBridge {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bridges[agent]
	if !ok {
		b = NewAsyncBridge(r.limiter)
		r.bridges[agent] = b
	}
	return b
}

func (r *AgentRuntime) instantiate(txn RoTxn, agent Id, vm *VMState) (*wasmer.Instance, error) {
	cm, err := r.Code.Load(txn, agent, AgentExports)
	if err != nil {
		return nil, err
	}
	store := wasmer.NewStore(wasmer.NewEngine())
	env := &HostEnv{VM: vm, Snapshot: txn, Entity: agent, IsAgent: true, Now: time.Now, Async: r.bridgeFor(agent)}
	imports, mem := BuildImports(store, env)
	instance, err := NewInstance(cm, imports)
	if err != nil {
		return nil, err
	}
	if err := BindMemory(mem, instance); err != nil {
		return nil, err
	}
	return instance, nil
}

// Introduce runs process_introduction then on_init, starting whatever
// periodic schedule on_init returns.
func (r *AgentRuntime) Introduce(ctx context.Context, intro Introduction, txCtx TxContext) error {
	if err := ValidateIntroduction(intro); err != nil {
		return err
	}
	unlock, err := r.Locks.LockCtx(ctx, intro.ID)
	if err != nil {
		return err
	}
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
		return NewErr(KindDoubleIntroduction, "agent already introduced: "+intro.ID.Hex())
	}

	vm := NewVMState()
	vm.SetWarnLogger(warnLogger(intro.ID))
	if err := vm.BeginAgent(intro.ID, true); err != nil {
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
	var initOut []byte
	if err := r.DB.Update(func(rw RwTxn) error {
		if _, err := r.Code.Insert(rw, intro.ID, intro.Package.Definition, AgentExports); err != nil {
			return err
		}
		instance, err := r.instantiateInTxn(rw, intro.ID, vm)
		if err != nil {
			return err
		}
		if err := callExport(instance, "process_introduction"); err != nil {
			runErr = err
			vm.Finish(CommitNone)
			return err
		}
		if err := callExport(instance, "on_init"); err != nil {
			runErr = err
			vm.Finish(CommitNone)
			return err
		}
		initOut, _ = vm.ReadRegister(RegOutput)

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
		if err := WriteIntroduction(rw, intro); err != nil {
			return err
		}
		for _, sub := range intro.Subscriptions {
			if err := Subscribe(rw, sub.Publisher, intro.ID, sub.Topic, sub.Method); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		if runErr != nil {
			return runErr
		}
		return err
	}

	var initRec AgentInit
	if len(initOut) > 0 {
		if err := json.Unmarshal(initOut, &initRec); err == nil {
			r.startSchedule(intro.ID, initRec.Schedule)
		}
	}
	logrus.WithFields(logrus.Fields{"entity_id": intro.ID.Hex(), "kind": "agent"}).Info("agent introduced")
	return nil
}

// instantiateInTxn is instantiate's RwTxn-accepting twin: CodeStore.Load
// takes a RoTxn, and RwTxn embeds one, so this simply narrows.
func (r *AgentRuntime) instantiateInTxn(rw RwTxn, agent Id, vm *VMState) (*wasmer.Instance, error) {
	return r.instantiate(rw, agent, vm)
}

// Revoke runs process_revocation against an already-introduced, not-yet-
// revoked agent and stops its running schedule, mirroring
// ContractRuntime.Revoke but instantiating against AgentExports — an agent
// module has no process_transaction to fail validation on, and §4.8's
// "transaction on a revoked entity fails" applies symmetrically to agents'
// process_action (enforced by checkActiveNotRevoked in InvokeAction).
func (r *AgentRuntime) Revoke(ctx context.Context, rev Revocation, txCtx TxContext) error {
	unlock, err := r.Locks.LockCtx(ctx, rev.ID)
	if err != nil {
		return err
	}
	defer unlock()

	var meta Metadata
	if err := r.DB.View(func(ro RoTxn) error {
		m, ok, err := ReadMetadata(ro, rev.ID)
		if err != nil {
			return err
		}
		if !ok || !m.Introduced() {
			return NewErr(KindMissingAgent, "agent not introduced: "+rev.ID.Hex())
		}
		if m.Revoked() {
			return NewErr(KindRevokedContract, "agent already revoked: "+rev.ID.Hex())
		}
		meta = m
		return nil
	}); err != nil {
		return err
	}

	vm := NewVMState()
	vm.SetWarnLogger(warnLogger(rev.ID))
	if err := vm.BeginAgent(rev.ID, true); err != nil {
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
		instance, err := r.instantiateInTxn(rw, rev.ID, vm)
		if err != nil {
			return err
		}
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
	r.StopSchedule(rev.ID)
	logrus.WithFields(logrus.Fields{"entity_id": rev.ID.Hex(), "kind": "agent"}).Info("agent revoked")
	return nil
}

// checkActiveNotRevoked mirrors ContractRuntime's guard of the same name:
// process_action must refuse an unintroduced or already-revoked agent the
// same way process_transaction refuses a revoked contract.
func (r *AgentRuntime) checkActiveNotRevoked(entity Id) error {
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
		return NewErr(KindMissingAgent, "agent not introduced: "+entity.Hex())
	}
	if revoked {
		return NewErr(KindRevokedContract, "agent revoked: "+entity.Hex())
	}
	return nil
}

// InvokeAction runs process_action for agent with the given call,
// returning OUTPUT's bytes. If the committed OUTPUT carries an emitted
// Message envelope, it is fanned out to (agent, topic)'s subscribers
// (§4.9) once the write buffer above has already landed and the entity
// lock has been released, so a chain of publish dispatches never
// serializes behind the publishing call's own lock.
func (r *AgentRuntime) InvokeAction(ctx context.Context, agent Id, action CallAction, txCtx TxContext) ([]byte, error) {
	unlock, err := r.Locks.LockCtx(ctx, agent)
	if err != nil {
		return nil, err
	}
	output, err := r.invokeActionLocked(ctx, agent, action, txCtx)
	unlock()
	if err != nil {
		return nil, err
	}
	r.publishEmitted(agent, output, txCtx)
	return output, nil
}

// invokeActionLocked is InvokeAction's critical section, run while the
// caller holds agent's entity lock.
func (r *AgentRuntime) invokeActionLocked(ctx context.Context, agent Id, action CallAction, txCtx TxContext) ([]byte, error) {
	if err := r.checkActiveNotRevoked(agent); err != nil {
		return nil, err
	}

	vm := NewVMState()
	vm.SetWarnLogger(warnLogger(agent))
	if err := vm.BeginAgent(agent, true); err != nil {
		return nil, err
	}
	params, err := json.Marshal(action)
	if err != nil {
		return nil, WrapErr(KindInvalidArgument, "marshal call action", err)
	}
	vm.WriteRegister(RegInput, params)
	vm.WriteRegister(RegTxCtx, encodeTxContext(txCtx))
	vm.WriteRegister(RegWriter, txCtx.Writer[:])

	var output []byte
	var runErr error
	if err := r.DB.Update(func(rw RwTxn) error {
		instance, err := r.instantiate(rw, agent, vm)
		if err != nil {
			return err
		}
		if err := callExport(instance, "process_action"); err != nil {
			runErr = err
			vm.Finish(CommitNone)
			return err
		}
		output, _ = vm.ReadRegister(RegOutput)

		ops, logs, ledger, committed := vm.Finish(CommitAction)
		if !committed {
			return nil
		}
		if err := ApplyOps(rw, agent, ops); err != nil {
			return err
		}
		if err := ApplyPendingLedgerEntries(rw, agent, ledger); err != nil {
			return err
		}
		if err := FlushLogs(rw, agent, logs); err != nil {
			return err
		}
		rec := ActionRecord{TxCtx: txCtx, Action: action, CommittedAtMS: uint64(time.Now().UnixMilli())}
		_, err = AppendAction(rw, agent, rec)
		return err
	}); err != nil {
		if runErr != nil {
			return nil, runErr
		}
		return nil, err
	}
	return output, nil
}

// Message is the shape an action's OUTPUT may carry, alongside whatever
// application-level result it returns, to request publish fan-out to this
// agent's subscribers: {"messages":[{"topic":...,"payload":...}]}. A
// module that never publishes simply never produces this envelope; OUTPUT
// bytes that don't decode into it are treated as "no messages", not an
// error, so ordinary non-pub/sub OUTPUT payloads are unaffected.
type Message struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

type emittedOutput struct {
	Messages []Message `json:"messages"`
}

// publishEmitted decodes output for an emittedOutput envelope and fans out
// every contained Message via DispatchPublished. Must only be called once
// the publishing action's own write buffer has already committed and its
// entity lock released, since each dispatched process_action opens its own
// fresh lock acquisition and RW transaction via InvokeAction.
func (r *AgentRuntime) publishEmitted(publisher Id, output []byte, txCtx TxContext) {
	if len(output) == 0 {
		return
	}
	var env emittedOutput
	if err := json.Unmarshal(output, &env); err != nil || len(env.Messages) == 0 {
		return
	}
	for _, msg := range env.Messages {
		if err := r.DispatchPublished(publisher, msg.Topic, msg.Payload, txCtx); err != nil {
			logrus.WithFields(logrus.Fields{"publisher": publisher.Hex(), "topic": msg.Topic}).
				WithError(err).Warn("publish dispatch failed")
		}
	}
}

// startSchedule launches one goroutine+time.Ticker per periodic task,
// retrying a failing dispatch with capped exponential backoff before
// letting it fall back to the task's next natural tick, so one transient
// failure never silently stops the schedule.
func (r *AgentRuntime) startSchedule(agent Id, tasks []ScheduledTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancels := make([]context.CancelFunc, 0, len(tasks))
	for _, task := range tasks {
		if task.PeriodMS == 0 {
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancels = append(cancels, cancel)
		go r.runSchedule(ctx, agent, task)
	}
	r.sched[agent] = cancels
}

func (r *AgentRuntime) runSchedule(ctx context.Context, agent Id, task ScheduledTask) {
	ticker := time.NewTicker(time.Duration(task.PeriodMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
			action := CallAction{Method: MethodRef{ByName: task.Method}}
			err := backoff.Retry(func() error {
				_, err := r.InvokeAction(ctx, agent, action, TxContext{})
				return err
			}, bo)
			if err != nil {
				logrus.WithFields(logrus.Fields{"entity_id": agent.Hex(), "method": task.Method}).
					WithError(err).Warn("scheduled action failed, resuming at next tick")
			}
		}
	}
}

// StopSchedule cancels every periodic task running for agent, used on
// revocation/shutdown.
func (r *AgentRuntime) StopSchedule(agent Id) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.sched[agent] {
		cancel()
	}
	delete(r.sched, agent)
}

// RegisterWS wires an inbound WebSocket connection to agent: a read pump
// goroutine decodes each frame and dispatches on_ws_msg, and the
// connection is stashed on the agent's async bridge so send_ws_msg can
// write outbound frames. Any read error (disconnection or protocol error)
// dispatches on_ws_close and ends the pump; a failed on_ws_msg dispatch is
// reported through on_ws_error.
func (r *AgentRuntime) RegisterWS(agent Id, conn *websocket.Conn) {
	r.bridgeFor(agent).setConn(conn)
	go r.runWS(agent, conn)
}

func (r *AgentRuntime) runWS(agent Id, conn *websocket.Conn) {
	r.dispatchLifecycle(agent, "on_ws_open", nil)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			r.dispatchLifecycle(agent, "on_ws_close", nil)
			return
		}
		if err := r.dispatchLifecycle(agent, "on_ws_msg", payload); err != nil {
			r.dispatchLifecycle(agent, "on_ws_error", []byte(err.Error()))
		}
	}
}

// dispatchLifecycle invokes one of the WebSocket lifecycle exports with
// payload (if any) in INPUT, under the entity lock, without going through
// the action log (these are transport events, not user actions). Like
// InvokeAction, a committed OUTPUT carrying an emitted Message envelope is
// fanned out to subscribers once the lock is released.
func (r *AgentRuntime) dispatchLifecycle(agent Id, export string, payload []byte) error {
	unlock, err := r.Locks.LockCtx(context.Background(), agent)
	if err != nil {
		return err
	}
	output, err := r.dispatchLifecycleLocked(agent, export, payload)
	unlock()
	if err != nil {
		return err
	}
	r.publishEmitted(agent, output, TxContext{})
	return nil
}

func (r *AgentRuntime) dispatchLifecycleLocked(agent Id, export string, payload []byte) ([]byte, error) {
	vm := NewVMState()
	vm.SetWarnLogger(warnLogger(agent))
	if err := vm.BeginAgent(agent, true); err != nil {
		return nil, err
	}
	if payload != nil {
		vm.WriteRegister(RegInput, payload)
	}

	var output []byte
	var runErr error
	if err := r.DB.Update(func(rw RwTxn) error {
		instance, err := r.instantiate(rw, agent, vm)
		if err != nil {
			return err
		}
		if err := callExport(instance, export); err != nil {
			runErr = err
			vm.Finish(CommitNone)
			return err
		}
		output, _ = vm.ReadRegister(RegOutput)

		ops, logs, ledger, committed := vm.Finish(CommitAction)
		if !committed {
			return nil
		}
		if err := ApplyOps(rw, agent, ops); err != nil {
			return err
		}
		if err := ApplyPendingLedgerEntries(rw, agent, ledger); err != nil {
			return err
		}
		return FlushLogs(rw, agent, logs)
	}); err != nil {
		if runErr != nil {
			return nil, runErr
		}
		return nil, err
	}
	return output, nil
}

// DispatchPublished fans a publisher's emitted message out to every
// subscriber of (publisher, topic), in subscriber-id order, queuing one
// process_action call per subscriber.
func (r *AgentRuntime) DispatchPublished(publisher Id, topic string, payload []byte, txCtx TxContext) error {
	var subs []Subscriber
	if err := r.DB.View(func(ro RoTxn) error {
		s, err := GetTopicSubscribers(ro, publisher, topic)
		subs = s
		return err
	}); err != nil {
		return err
	}
	sortSubscribersByAgent(subs)
	for _, sub := range subs {
		action := CallAction{Method: MethodRef{ByName: sub.Method}, Params: Document{"payload": json.RawMessage(payload)}}
		if _, err := r.InvokeAction(context.Background(), sub.Agent, action, txCtx); err != nil {
			logrus.WithFields(logrus.Fields{"subscriber": sub.Agent.Hex(), "topic": topic}).
				WithError(err).Warn("subscription dispatch failed")
		}
	}
	return nil
}

func sortSubscribersByAgent(subs []Subscriber) {
	for i := 1; i < len(subs); i++ {
		for j := i; j > 0 && idLess(subs[j].Agent, subs[j-1].Agent); j-- {
			subs[j], subs[j-1] = subs[j-1], subs[j]
		}
	}
}

func idLess(a, b Id) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
