// Package module wires meta endpoints into the API using a tiny module
package module

import (
	"net/http"
	"time"

	modkit "stallwatch/internal/modkit"
	"stallwatch/internal/modkit/httpkit"
	str "stallwatch/internal/platform/strings"

	metahttp "stallwatch/internal/services/api/meta/http"
)

// Ports lets the api hand in checks owned by other modules
type Ports struct {
	Detector any
	Live     func() int
	Banks    func() int
}

// Module implements the modkit.Module interface
type Module struct {
	deps   modkit.Deps
	name   string
	prefix string
	mws    []func(http.Handler) http.Handler

	register func(httpkit.Router)

	startedAt time.Time
}

// New constructs a meta module with the provided dependencies and options
// pass Ports through modkit.WithPorts to add the detector check and the worker and bank counts
func New(deps modkit.Deps, opts ...modkit.Option) modkit.Module {
	b := modkit.Build(append([]modkit.Option{
		modkit.WithName("meta"),
		modkit.WithPrefix("/meta"),
	}, opts...)...)

	m := &Module{
		deps:      deps,
		name:      b.Name,
		prefix:    b.Prefix,
		mws:       b.Mw,
		startedAt: time.Now(),
	}
	p, _ := b.Ports.(Ports)

	d := metahttp.Deps{
		ServiceName: "stallwatch-api",
		StartedAt:   m.startedAt,
		Detector:    p.Detector,
		Live:        p.Live,
		Banks:       p.Banks,
	}
	// typed nils would read as configured
	if deps.SQL != nil {
		d.SQL = deps.SQL
	}
	if deps.CH != nil {
		d.CH = deps.CH
	}

	external := b.Register
	m.register = func(r httpkit.Router) {
		metahttp.Register(r, d)
		if external != nil {
			external(r)
		}
	}

	return m
}

// MountRoutes implements the modkit.Module interface
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

// Name implements the modkit.Module interface
func (m *Module) Name() string { return str.MustString(m.name, "meta") }

// Prefix implements the modkit.Module interface
func (m *Module) Prefix() string { return str.MustPrefix(m.prefix) }

// Ports implements the modkit.Module interface
func (m *Module) Ports() any { return nil }
