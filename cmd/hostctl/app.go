package main

// app.go wires one process-wide runtime: a KV store, the shared code cache
// and lock registry, the contract/agent runtimes and the read-only
// controller, following the teacher's cmd/cli access_control.go pattern of
// a package-level singleton built once via sync.Once rather than threading
// a context struct through every command.

import (
	"sync"

	"github.com/sirupsen/logrus"

	core "hostruntime/core"
	pkgconfig "hostruntime/pkg/config"
)

type app struct {
	db       core.Db
	code     *core.CodeStore
	locks    *core.LockRegistry
	contract *core.ContractRuntime
	agent    *core.AgentRuntime
	ctrl     *core.Controller
	cfg      pkgconfig.Config
}

var (
	appOnce sync.Once
	theApp  *app
	appErr  error
)

// bootstrap loads configuration and constructs the singleton runtime. Only
// the in-memory core/memkv backend ships today, so Storage.Backend in the
// loaded config is currently advisory rather than selecting among drivers.
func bootstrap(env string) (*app, error) {
	appOnce.Do(func() {
		cfg, cfgErr := pkgconfig.Load(env)
		if cfgErr != nil {
			logrus.WithError(cfgErr).Warn("no config file found, using defaults")
			cfg = &pkgconfig.Config{}
		}
		store, codeErr := core.NewCodeStore(cfg.Engine.CodeCacheSize)
		if codeErr != nil {
			appErr = codeErr
			return
		}
		db := core.NewMemDb()
		locks := core.NewLockRegistry()
		rps := cfg.RateLimit.RequestsPerSecond
		if rps <= 0 {
			rps = 50
		}
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 10
		}
		theApp = &app{
			db:       db,
			code:     store,
			locks:    locks,
			contract: core.NewContractRuntime(db, store, locks),
			agent:    core.NewAgentRuntime(db, store, locks, rps, burst),
			ctrl:     core.NewController(db),
			cfg:      *cfg,
		}
	})
	return theApp, appErr
}
