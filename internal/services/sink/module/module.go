// Package module wires the result sink and the retention pruner using modkit
package module

import (
	"context"
	"net/http"

	modkit "stallwatch/internal/modkit"
	"stallwatch/internal/modkit/httpkit"
	"stallwatch/internal/platform/store"
	str "stallwatch/internal/platform/strings"
	lotsdomain "stallwatch/internal/services/lots/domain"
	sinkhttp "stallwatch/internal/services/sink/http"
	"stallwatch/internal/services/sink/repo"
	"stallwatch/internal/services/sink/service"
)

// Module owns the sink and runs the pruner
// its routes live under /lots, so they are attached to the lots module through Routes
type Module struct {
	deps   modkit.Deps
	name   string
	prefix string
	mws    []func(http.Handler) http.Handler

	register func(httpkit.Router)

	sink   *service.Sink
	pruner *service.Pruner
	ports  Ports
}

// New constructs the sink module; it fails on an invalid retention policy
func New(deps modkit.Deps, opts ...modkit.Option) (*Module, error) {
	b := modkit.Build(append([]modkit.Option{
		modkit.WithName("sink"),
	}, opts...)...)

	o := FromConfig(deps.Cfg)
	layout := lotsdomain.Layout{Root: deps.DataDir}

	var ch store.Clickhouse
	if o.Stream {
		ch = deps.CH
	}
	sink := service.NewSink(deps.SQL, repo.New(), ch, layout)
	pruner, err := service.NewPruner(deps.SQL, repo.New(), layout, o.Policy, o.Every)
	if err != nil {
		return nil, err
	}

	return &Module{
		deps:     deps,
		name:     b.Name,
		prefix:   b.Prefix,
		mws:      b.Mw,
		register: b.Register,
		sink:     sink,
		pruner:   pruner,
		ports:    Ports{Writer: sink, Query: sink, Pruner: pruner},
	}, nil
}

// Migrate applies the snapshot schema, and the stall_states table when streaming
func (m *Module) Migrate(ctx context.Context) error {
	if err := repo.Migrate(ctx, m.deps.SQL, m.deps.Dialect); err != nil {
		return err
	}
	if m.deps.CH != nil && FromConfig(m.deps.Cfg).Stream {
		return m.deps.CH.Exec(ctx, repo.StallStatesDDL)
	}
	return nil
}

// Routes returns the read endpoints for the lots router
// lots is resolved when the routes are mounted, after every module exists
func (m *Module) Routes(lots func() lotsdomain.ViewPort) func(httpkit.Router) {
	return func(r httpkit.Router) {
		sinkhttp.Register(r, m.sink, lots())
	}
}

// Run satisfies modkit.Runner; it sweeps retention until ctx is done
func (m *Module) Run(ctx context.Context) error { return m.pruner.Run(ctx) }

// MountRoutes satisfies modkit.Module; only extra routes given through WithRegister are mounted
func (m *Module) MountRoutes(r httpkit.Router) {
	if m.prefix == "" {
		return
	}
	r.Route(m.prefix, func(rr httpkit.Router) {
		for _, mw := range m.mws {
			rr.Use(mw)
		}
		m.register(rr)
	})
}

// Name satisfies modkit.Module
func (m *Module) Name() string { return str.MustString(m.name, "sink") }

// Ports satisfies modkit.Module
func (m *Module) Ports() any { return m.ports }
