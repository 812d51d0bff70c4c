// Package module builds detection workers and keeps the per lot smoother banks
package module

import (
	"context"

	"stallwatch/internal/adapters/detector"
	"stallwatch/internal/core/occupancy"
	"stallwatch/internal/core/smoother"
	modkit "stallwatch/internal/modkit"
	"stallwatch/internal/modkit/httpkit"
	perr "stallwatch/internal/platform/errors"
	str "stallwatch/internal/platform/strings"

	"stallwatch/internal/services/detection/domain"
	"stallwatch/internal/services/detection/guardrails"
	"stallwatch/internal/services/detection/service"
	lotsdomain "stallwatch/internal/services/lots/domain"
	sinkdomain "stallwatch/internal/services/sink/domain"
)

// Module has no routes; it is the supervisor's detection factory and lifecycle hook
type Module struct {
	name     string
	layout   lotsdomain.Layout
	detector domain.Detector
	engine   *occupancy.Engine
	banks    *smoother.Banks
	cfg      service.Config

	lots lotsdomain.ViewPort
	sink sinkdomain.WriterPort
}

var _ lotsdomain.Hooks = (*Module)(nil)

// New constructs the detection module; invalid engine or smoother settings are ConfigErrors
// a detector passed through modkit.WithPorts replaces the HTTP adapter
func New(deps modkit.Deps, opts ...modkit.Option) (*Module, error) {
	b := modkit.Build(append([]modkit.Option{modkit.WithName("detection")}, opts...)...)
	o := FromConfig(deps.Cfg)

	engine, err := occupancy.New(o.Occupancy)
	if err != nil {
		return nil, err
	}
	banks, err := smoother.NewBanks(o.Smoother)
	if err != nil {
		return nil, err
	}

	var det domain.Detector = detector.NewHTTP(detector.Options{URL: o.URL, Timeout: o.Timeout})
	if p, ok := b.Ports.(Ports); ok && p.Detector != nil {
		det = p.Detector
	}

	return &Module{
		name:     b.Name,
		layout:   lotsdomain.Layout{Root: deps.DataDir},
		detector: det,
		engine:   engine,
		banks:    banks,
		cfg: service.Config{
			Every: o.Every,
			Timeouts: guardrails.Timeouts{
				Cycle:   o.CycleTimeout,
				Detect:  o.Timeout,
				Persist: o.PersistTimeout,
			},
			Render: o.Render,
		},
	}, nil
}

// Bind gives workers the supervisor view and the sink
func (m *Module) Bind(lots lotsdomain.ViewPort, sink sinkdomain.WriterPort) {
	m.lots, m.sink = lots, sink
}

// NewWorker builds the detection worker of a lot; the lot's bank survives worker restarts
func (m *Module) NewWorker(lotID int64) (lotsdomain.Worker, error) {
	if m.lots == nil || m.sink == nil {
		return nil, perr.Processf("detection module is not bound to a supervisor")
	}
	return service.New(lotID, service.Deps{
		Lots:     m.lots,
		Layout:   m.layout,
		Detector: m.detector,
		Engine:   m.engine,
		Bank:     m.banks.For(lotID),
		Sink:     m.sink,
	}, m.cfg), nil
}

// StallsReplaced satisfies lotsdomain.Hooks
func (m *Module) StallsReplaced(_ context.Context, lotID int64, stalls []occupancy.Stall) {
	m.banks.For(lotID).Sync(stalls)
}

// LotRemoved satisfies lotsdomain.Hooks
func (m *Module) LotRemoved(_ context.Context, lotID int64) { m.banks.Drop(lotID) }

// MountRoutes satisfies modkit.Module
func (m *Module) MountRoutes(httpkit.Router) {}

// Name satisfies modkit.Module
func (m *Module) Name() string { return str.MustString(m.name, "detection") }

// Ports satisfies modkit.Module
func (m *Module) Ports() any { return Ports{Banks: m.banks, Detector: m.detector} }
