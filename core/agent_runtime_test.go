package core_test

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"testing"

	core "hostruntime/core"
)

func compileSampleAgent(t *testing.T) []byte {
	t.Helper()
	wasm, _, err := core.CompileWASM(filepath.Join("testdata", "sample_agent.wat"), t.TempDir())
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			t.Skip("wat2wasm not installed")
		}
		t.Fatalf("compile wasm: %v", err)
	}
	return wasm
}

func newAgentRuntime(t *testing.T) *core.AgentRuntime {
	t.Helper()
	db := core.NewMemDb()
	code, err := core.NewCodeStore(8)
	if err != nil {
		t.Fatalf("new code store: %v", err)
	}
	locks := core.NewLockRegistry()
	return core.NewAgentRuntime(db, code, locks, 50, 10)
}

func TestAgentRuntimeIntroduceThenInvokeAction(t *testing.T) {
	wasm := compileSampleAgent(t)
	rt := newAgentRuntime(t)

	agentID := core.NewId(core.KindAgent)
	writer := core.NewId(core.KindExternal)
	intro := core.Introduction{
		ID:      agentID,
		Package: core.Package{Definition: wasm},
	}
	ctx := context.Background()
	if err := rt.Introduce(ctx, intro, sampleTxContext(writer)); err != nil {
		t.Fatalf("introduce: %v", err)
	}

	if err := rt.Introduce(ctx, intro, sampleTxContext(writer)); err == nil {
		t.Fatalf("expected double introduction to fail")
	}

	action := core.CallAction{Method: core.MethodRef{ByName: "tick"}}
	out, err := rt.InvokeAction(ctx, agentID, action, sampleTxContext(writer))
	if err != nil {
		t.Fatalf("invoke action: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty OUTPUT from a no-op export, got %q", out)
	}
}

func TestAgentRuntimeIntroduceRejectsParticipants(t *testing.T) {
	// ValidateIntroduction runs before any module is touched, so this needs
	// no compiled wasm fixture at all.
	rt := newAgentRuntime(t)

	agentID := core.NewId(core.KindAgent)
	intro := core.Introduction{
		ID:           agentID,
		Participants: []core.Id{core.NewId(core.KindParticipant)},
	}
	if err := rt.Introduce(context.Background(), intro, sampleTxContext(agentID)); err == nil {
		t.Fatalf("expected agent introduction with participants to be rejected")
	}
}

func TestAgentRuntimeInvokeActionRespectsContextCancellation(t *testing.T) {
	rt := newAgentRuntime(t)
	agentID := core.NewId(core.KindAgent)

	// Hold the agent's async lock from a separate, live context so the
	// cancelled context below has no choice but to observe ctx.Done().
	holderUnlock, err := rt.Locks.LockCtx(context.Background(), agentID)
	if err != nil {
		t.Fatalf("acquire holder lock: %v", err)
	}
	defer holderUnlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	action := core.CallAction{Method: core.MethodRef{ByName: "tick"}}
	if _, err := rt.InvokeAction(ctx, agentID, action, sampleTxContext(agentID)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected InvokeAction to fail with context.Canceled while the lock is held, got %v", err)
	}
}
