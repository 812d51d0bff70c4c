// Package module builds capture workers for the lot supervisor
package module

import (
	modkit "stallwatch/internal/modkit"
	"stallwatch/internal/modkit/httpkit"
	perr "stallwatch/internal/platform/errors"
	str "stallwatch/internal/platform/strings"

	"stallwatch/internal/adapters/camera"
	"stallwatch/internal/services/capture/domain"
	"stallwatch/internal/services/capture/service"
	lotsdomain "stallwatch/internal/services/lots/domain"
)

// Module has no routes; the supervisor pulls workers from it
type Module struct {
	name   string
	layout lotsdomain.Layout
	open   domain.Opener
	cfg    domain.Config
	lots   lotsdomain.ViewPort
}

// New constructs the capture module; call Bind before the supervisor spawns workers
func New(deps modkit.Deps, opts ...modkit.Option) *Module {
	b := modkit.Build(append([]modkit.Option{modkit.WithName("capture")}, opts...)...)
	o := FromConfig(deps.Cfg)
	copts := camera.Options{Timeout: o.GrabTimeout, MaxBytes: o.MaxBytes}
	return &Module{
		name:   b.Name,
		layout: lotsdomain.Layout{Root: deps.DataDir},
		open: func(uri string) (domain.Source, error) {
			return camera.Open(uri, copts)
		},
		cfg: domain.Config{
			Every:       o.Every,
			GrabTimeout: o.GrabTimeout,
			RetryBase:   o.RetryBase,
			RetryMax:    o.RetryMax,
		},
	}
}

// Bind gives workers the supervisor view they read the source uri and flip flag from
func (m *Module) Bind(lots lotsdomain.ViewPort) { m.lots = lots }

// NewWorker builds the capture worker of a lot
func (m *Module) NewWorker(lotID int64) (lotsdomain.Worker, error) {
	if m.lots == nil {
		return nil, perr.Processf("capture module is not bound to a supervisor")
	}
	return service.New(lotID, m.lots, m.layout, m.open, m.cfg), nil
}

// MountRoutes satisfies modkit.Module
func (m *Module) MountRoutes(httpkit.Router) {}

// Name satisfies modkit.Module
func (m *Module) Name() string { return str.MustString(m.name, "capture") }

// Ports satisfies modkit.Module
func (m *Module) Ports() any { return nil }
