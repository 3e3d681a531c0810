package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	core "hostruntime/core"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	code, err := core.NewCodeStore(8)
	if err != nil {
		t.Fatalf("new code store: %v", err)
	}
	db := core.NewMemDb()
	locks := core.NewLockRegistry()
	return &app{
		db:       db,
		code:     code,
		locks:    locks,
		contract: core.NewContractRuntime(db, code, locks),
		agent:    core.NewAgentRuntime(db, code, locks, 50, 10),
		ctrl:     core.NewController(db),
	}
}

func TestHandleMetaBadEntityID(t *testing.T) {
	srv := newHTTPServer(":0", newTestApp(t))
	req := httptest.NewRequest(http.MethodGet, "/not-hex/meta", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleMetaNotIntroduced(t *testing.T) {
	srv := newHTTPServer(":0", newTestApp(t))
	id := core.NewId(core.KindContract)
	req := httptest.NewRequest(http.MethodGet, "/"+id.Hex()+"/meta", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHandleDescUsesControllerFacade(t *testing.T) {
	a := newTestApp(t)
	entity := core.NewId(core.KindAgent)
	intro := core.Introduction{ID: entity, Description: "a test agent", Metadata: core.Metadata{ActiveSince: 1}}
	if err := a.db.Update(func(rw core.RwTxn) error { return core.WriteIntroduction(rw, intro) }); err != nil {
		t.Fatalf("seed introduction: %v", err)
	}

	srv := newHTTPServer(":0", a)
	req := httptest.NewRequest(http.MethodGet, "/"+entity.Hex()+"/desc", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("a test agent")) {
		t.Fatalf("expected description in response body, got %s", rr.Body.String())
	}
}

func TestHandleSubscribeThenUnsubscribe(t *testing.T) {
	a := newTestApp(t)
	srv := newHTTPServer(":0", a)
	agent := core.NewId(core.KindAgent)
	publisher := core.NewId(core.KindContract)

	body := `{"publisher":"` + publisher.Hex() + `","topic":"orders","method":"on_order"}`
	req := httptest.NewRequest(http.MethodPost, "/"+agent.Hex()+"/subscribe", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from subscribe, got %d: %s", rr.Code, rr.Body.String())
	}

	// /subs lists a publisher's topic subscribers, keyed by the publisher
	// in the URL rather than the subscribing agent.
	listReq := httptest.NewRequest(http.MethodGet, "/"+publisher.Hex()+"/subs?topic=orders", nil)
	listRR := httptest.NewRecorder()
	srv.router.ServeHTTP(listRR, listReq)
	if listRR.Code != http.StatusOK {
		t.Fatalf("expected 200 from subs listing, got %d", listRR.Code)
	}
	var subscribers []core.Subscriber
	if err := json.Unmarshal(listRR.Body.Bytes(), &subscribers); err != nil {
		t.Fatalf("decode subscribers: %v", err)
	}
	if len(subscribers) != 1 || subscribers[0].Agent != agent || subscribers[0].Method != "on_order" {
		t.Fatalf("expected the new subscriber to be listed, got %+v", subscribers)
	}

	unsubReq := httptest.NewRequest(http.MethodPost, "/"+agent.Hex()+"/unsubscribe", bytes.NewBufferString(body))
	unsubRR := httptest.NewRecorder()
	srv.router.ServeHTTP(unsubRR, unsubReq)
	if unsubRR.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from unsubscribe, got %d: %s", unsubRR.Code, unsubRR.Body.String())
	}

	afterReq := httptest.NewRequest(http.MethodGet, "/"+publisher.Hex()+"/subs?topic=orders", nil)
	afterRR := httptest.NewRecorder()
	srv.router.ServeHTTP(afterRR, afterReq)
	var afterSubscribers []core.Subscriber
	if err := json.Unmarshal(afterRR.Body.Bytes(), &afterSubscribers); err != nil {
		t.Fatalf("decode subscribers after unsubscribe: %v", err)
	}
	if len(afterSubscribers) != 0 {
		t.Fatalf("expected the subscriber to be gone after unsubscribe, got %+v", afterSubscribers)
	}
}

func TestHandleSubscribeBadPublisherID(t *testing.T) {
	a := newTestApp(t)
	srv := newHTTPServer(":0", a)
	agent := core.NewId(core.KindAgent)
	body := `{"publisher":"not-hex","topic":"orders","method":"on_order"}`
	req := httptest.NewRequest(http.MethodPost, "/"+agent.Hex()+"/subscribe", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
