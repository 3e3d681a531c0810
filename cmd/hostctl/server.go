package main

// server.go ships the reference HTTP surface named in §6: a go-chi/chi
// router exercising the read-only controller facade plus the two mutating
// routes (action, subscribe/unsubscribe), grounded on the teacher's
// cmd/explorer/server.go router-plus-server-struct shape, swapped from
// gorilla/mux to go-chi/chi per this runtime's domain stack.

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	core "hostruntime/core"
)

type httpServer struct {
	router *chi.Mux
	srv    *http.Server
	app    *app
}

func newHTTPServer(addr string, a *app) *httpServer {
	s := &httpServer{router: chi.NewRouter(), app: a}
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.routes()
	s.srv = &http.Server{Addr: addr, Handler: s.router}
	return s
}

func (s *httpServer) Start() error {
	logrus.WithField("addr", s.srv.Addr).Info("hostctl http surface listening")
	return s.srv.ListenAndServe()
}

func (s *httpServer) routes() {
	s.router.Route("/{entityID}", func(r chi.Router) {
		r.Get("/state/*", s.handleState)
		r.Get("/logs", s.handleLogs)
		r.Get("/sinks", s.handleSinks)
		r.Get("/subs", s.handleSubs)
		r.Get("/desc", s.handleDesc)
		r.Get("/meta", s.handleMeta)
		r.Get("/symbols", s.handleSymbols)
		r.Get("/pkg", s.handlePkg)
		r.Get("/pkg/def", s.handlePkgDef)
		r.Get("/pkg/source", s.handlePkgSource)
		r.Post("/action", s.handleAction)
		r.Post("/subscribe", s.handleSubscribe)
		r.Post("/unsubscribe", s.handleUnsubscribe)
	})
}

func (s *httpServer) entityID(r *http.Request) (core.Id, bool) {
	id, err := core.IdFromHex(chi.URLParam(r, "entityID"))
	if err != nil {
		return core.Id{}, false
	}
	return id, true
}

func (s *httpServer) handleState(w http.ResponseWriter, r *http.Request) {
	id, ok := s.entityID(r)
	if !ok {
		httpError(w, http.StatusBadRequest, "bad entity id")
		return
	}
	path := chi.URLParam(r, "*")
	status, result, err := s.app.ctrl.State(s.app.contract, id, path)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(result)
	_ = status
}

func (s *httpServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := s.entityID(r)
	if !ok {
		httpError(w, http.StatusBadRequest, "bad entity id")
		return
	}
	lines, err := s.app.ctrl.Logs(id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, lines)
}

func (s *httpServer) handleSinks(w http.ResponseWriter, r *http.Request) {
	id, ok := s.entityID(r)
	if !ok {
		httpError(w, http.StatusBadRequest, "bad entity id")
		return
	}
	sinks, err := s.app.ctrl.Sinks(id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, sinks)
}

func (s *httpServer) handleSubs(w http.ResponseWriter, r *http.Request) {
	id, ok := s.entityID(r)
	if !ok {
		httpError(w, http.StatusBadRequest, "bad entity id")
		return
	}
	topic := r.URL.Query().Get("topic")
	subs, err := s.app.ctrl.Subs(id, topic)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, subs)
}

func (s *httpServer) handleDesc(w http.ResponseWriter, r *http.Request) {
	id, ok := s.entityID(r)
	if !ok {
		httpError(w, http.StatusBadRequest, "bad entity id")
		return
	}
	desc, err := s.app.ctrl.Description(id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, map[string]string{"description": desc})
}

func (s *httpServer) handleMeta(w http.ResponseWriter, r *http.Request) {
	id, ok := s.entityID(r)
	if !ok {
		httpError(w, http.StatusBadRequest, "bad entity id")
		return
	}
	m, found, err := s.app.ctrl.Metadata(id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if !found {
		httpError(w, http.StatusNotFound, "entity not introduced")
		return
	}
	writeJSON(w, m)
}

func (s *httpServer) handleSymbols(w http.ResponseWriter, r *http.Request) {
	id, ok := s.entityID(r)
	if !ok {
		httpError(w, http.StatusBadRequest, "bad entity id")
		return
	}
	names, err := s.app.ctrl.Symbols(s.app.code, id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, names)
}

func (s *httpServer) handlePkg(w http.ResponseWriter, r *http.Request) {
	id, ok := s.entityID(r)
	if !ok {
		httpError(w, http.StatusBadRequest, "bad entity id")
		return
	}
	pkg, err := s.app.ctrl.Package(id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"has_definition": len(pkg.Definition) > 0, "has_source": len(pkg.Source) > 0})
}

func (s *httpServer) handlePkgDef(w http.ResponseWriter, r *http.Request) {
	id, ok := s.entityID(r)
	if !ok {
		httpError(w, http.StatusBadRequest, "bad entity id")
		return
	}
	pkg, err := s.app.ctrl.Package(id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/wasm")
	w.Write(pkg.Definition)
}

func (s *httpServer) handlePkgSource(w http.ResponseWriter, r *http.Request) {
	id, ok := s.entityID(r)
	if !ok {
		httpError(w, http.StatusBadRequest, "bad entity id")
		return
	}
	pkg, err := s.app.ctrl.Package(id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	w.Write(pkg.Source)
}

type actionRequest struct {
	Method string        `json:"method"`
	Params core.Document `json:"params"`
}

func (s *httpServer) handleAction(w http.ResponseWriter, r *http.Request) {
	id, ok := s.entityID(r)
	if !ok {
		httpError(w, http.StatusBadRequest, "bad entity id")
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	action := core.CallAction{Method: core.MethodRef{ByName: req.Method}, Params: req.Params}
	txCtx := core.TxContext{TxID: newTxID(), Writer: id}

	var out []byte
	var err error
	if id.Kind() == core.KindAgent {
		out, err = s.app.agent.InvokeAction(r.Context(), id, action, txCtx)
	} else {
		out, err = s.app.contract.Invoke(id, action, txCtx, core.BlockContext{})
	}
	if err != nil {
		writeCoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

type subscribeRequest struct {
	Publisher string `json:"publisher"`
	Topic     string `json:"topic"`
	Method    string `json:"method"`
}

func (s *httpServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := s.entityID(r)
	if !ok {
		httpError(w, http.StatusBadRequest, "bad entity id")
		return
	}
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	publisher, err := core.IdFromHex(req.Publisher)
	if err != nil {
		httpError(w, http.StatusBadRequest, "bad publisher id")
		return
	}
	if err := s.app.db.Update(func(rw core.RwTxn) error {
		return core.Subscribe(rw, publisher, id, req.Topic, req.Method)
	}); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *httpServer) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := s.entityID(r)
	if !ok {
		httpError(w, http.StatusBadRequest, "bad entity id")
		return
	}
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	publisher, err := core.IdFromHex(req.Publisher)
	if err != nil {
		httpError(w, http.StatusBadRequest, "bad publisher id")
		return
	}
	if err := s.app.db.Update(func(rw core.RwTxn) error {
		return core.Unsubscribe(rw, publisher, id, req.Topic, req.Method)
	}); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}

func writeCoreError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), core.HTTPStatus(err))
}
