package core_test

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"testing"

	core "hostruntime/core"
)

func compileSamplePublisherAgent(t *testing.T) []byte {
	t.Helper()
	wasm, _, err := core.CompileWASM(filepath.Join("testdata", "sample_publisher_agent.wat"), t.TempDir())
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			t.Skip("wat2wasm not installed")
		}
		t.Fatalf("compile wasm: %v", err)
	}
	return wasm
}

func TestAgentRuntimeIntroduceInvokeRevoke(t *testing.T) {
	wasm := compileSampleAgent(t)
	rt := newAgentRuntime(t)

	agentID := core.NewId(core.KindAgent)
	writer := core.NewId(core.KindExternal)
	intro := core.Introduction{ID: agentID, Package: core.Package{Definition: wasm}}
	ctx := context.Background()
	if err := rt.Introduce(ctx, intro, sampleTxContext(writer)); err != nil {
		t.Fatalf("introduce: %v", err)
	}

	action := core.CallAction{Method: core.MethodRef{ByName: "tick"}}
	if _, err := rt.InvokeAction(ctx, agentID, action, sampleTxContext(writer)); err != nil {
		t.Fatalf("invoke action before revocation: %v", err)
	}

	if err := rt.Revoke(ctx, core.Revocation{ID: agentID, Reason: "test"}, sampleTxContext(writer)); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// Invoking a revoked agent must fail.
	if _, err := rt.InvokeAction(ctx, agentID, action, sampleTxContext(writer)); err == nil {
		t.Fatalf("expected invoke on a revoked agent to fail")
	}

	// Revoking an already-revoked agent must fail too.
	if err := rt.Revoke(ctx, core.Revocation{ID: agentID, Reason: "test"}, sampleTxContext(writer)); err == nil {
		t.Fatalf("expected re-revocation to fail")
	}
}

func TestAgentRuntimeRevokeRejectsUnintroduced(t *testing.T) {
	rt := newAgentRuntime(t)
	agentID := core.NewId(core.KindAgent)
	writer := core.NewId(core.KindExternal)

	if err := rt.Revoke(context.Background(), core.Revocation{ID: agentID, Reason: "test"}, sampleTxContext(writer)); err == nil {
		t.Fatalf("expected revoking an unintroduced agent to fail")
	}
}

// TestAgentRuntimePublishDispatchesToSubscriber drives the full §4.9
// pub/sub path end to end: a publisher agent's process_action emits a
// Message envelope on OUTPUT, and that must land as an actual
// process_action call against every agent subscribed to the topic, not
// merely a registry entry in the Subscribe/GetTopicSubscribers tables.
func TestAgentRuntimePublishDispatchesToSubscriber(t *testing.T) {
	pubWasm := compileSamplePublisherAgent(t)
	subWasm := compileSampleAgent(t)
	rt := newAgentRuntime(t)

	ctx := context.Background()
	writer := core.NewId(core.KindExternal)
	publisherID := core.NewId(core.KindAgent)
	subscriberID := core.NewId(core.KindAgent)

	if err := rt.Introduce(ctx, core.Introduction{ID: publisherID, Package: core.Package{Definition: pubWasm}}, sampleTxContext(writer)); err != nil {
		t.Fatalf("introduce publisher: %v", err)
	}
	if err := rt.Introduce(ctx, core.Introduction{ID: subscriberID, Package: core.Package{Definition: subWasm}}, sampleTxContext(writer)); err != nil {
		t.Fatalf("introduce subscriber: %v", err)
	}

	if err := rt.DB.Update(func(rw core.RwTxn) error {
		return core.Subscribe(rw, publisherID, subscriberID, "/t1", "tick")
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	action := core.CallAction{Method: core.MethodRef{ByName: "publish"}}
	if _, err := rt.InvokeAction(ctx, publisherID, action, sampleTxContext(writer)); err != nil {
		t.Fatalf("invoke publisher action: %v", err)
	}

	var history []core.ActionRecord
	if err := rt.DB.View(func(ro core.RoTxn) error {
		h, err := core.ActionHistory(ro, subscriberID)
		history = h
		return err
	}); err != nil {
		t.Fatalf("read subscriber action history: %v", err)
	}
	if len(history) == 0 {
		t.Fatalf("expected the publish to have dispatched process_action against the subscriber, got no action history")
	}
	last := history[len(history)-1]
	if last.Action.Method.ByName != "tick" {
		t.Fatalf("expected dispatched action method %q, got %q", "tick", last.Action.Method.ByName)
	}
	if payload, ok := last.Action.Params["payload"].(float64); !ok || payload != 7 {
		t.Fatalf("expected dispatched payload 7, got %v", last.Action.Params["payload"])
	}
}
