// Package module wires the lot supervisor into the API using modkit
package module

import (
	"context"
	"net/http"

	modkit "stallwatch/internal/modkit"
	"stallwatch/internal/modkit/httpkit"
	str "stallwatch/internal/platform/strings"

	"stallwatch/internal/services/lots/domain"
	lotshttp "stallwatch/internal/services/lots/http"
	"stallwatch/internal/services/lots/repo"
	"stallwatch/internal/services/lots/service"
)

// Module implements the lots module; it also runs the supervisor loop
type Module struct {
	deps   modkit.Deps
	name   string
	prefix string
	mws    []func(http.Handler) http.Handler

	register func(httpkit.Router)

	svc   *service.Svc
	ports Ports
}

// New constructs the lots module; call Attach before Run
func New(deps modkit.Deps, opts ...modkit.Option) *Module {
	b := modkit.Build(append([]modkit.Option{
		modkit.WithName("lots"),
		modkit.WithPrefix("/lots"),
	}, opts...)...)

	o := FromConfig(deps.Cfg)
	svc := service.New(deps.SQL, repo.New(), service.Config{
		Layout:      domain.Layout{Root: deps.DataDir},
		MaxStalls:   o.MaxStalls,
		Grace:       o.Grace,
		HealthEvery: o.HealthEvery,
		StaleAfter:  o.StaleAfter,
		StableAfter: o.StableAfter,
		MaxRestarts: o.MaxRestarts,
		RestartBase: o.RestartBase,
		RestartMax:  o.RestartMax,
	})

	m := &Module{
		deps:   deps,
		name:   b.Name,
		prefix: b.Prefix,
		mws:    b.Mw,
		svc:    svc,
		ports:  Ports{Supervisor: svc, View: svc},
	}

	external := b.Register
	m.register = func(r httpkit.Router) {
		lotshttp.Register(r, m.svc)
		if external != nil {
			external(r)
		}
	}
	return m
}

// Migrate applies the lots schema
func (m *Module) Migrate(ctx context.Context) error {
	return repo.Migrate(ctx, m.deps.SQL, m.deps.Dialect)
}

// Attach wires the worker factory and lifecycle hooks owned by the capture and detection modules
func (m *Module) Attach(f domain.WorkerFactory, hooks ...domain.Hooks) { m.svc.Attach(f, hooks...) }

// Layout returns the on disk layout of lot directories
func (m *Module) Layout() domain.Layout { return m.svc.Config().Layout }

// Run satisfies modkit.Runner; it reconciles stored lots and health checks until ctx is done
func (m *Module) Run(ctx context.Context) error { return m.svc.Run(ctx) }

// MountRoutes satisfies modkit.Module
func (m *Module) MountRoutes(r httpkit.Router) {
	r.Route(m.prefix, func(rr httpkit.Router) {
		for _, mw := range m.mws {
			rr.Use(mw)
		}
		if m.register != nil {
			m.register(rr)
		}
	})
}

// Name satisfies modkit.Module
func (m *Module) Name() string { return str.MustString(m.name, "lots") }

// Prefix returns the module route prefix
func (m *Module) Prefix() string { return str.MustPrefix(m.prefix) }

// Ports satisfies modkit.Module
func (m *Module) Ports() any { return m.ports }
