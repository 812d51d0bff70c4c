// Package api assembles the stallwatch modules into one HTTP service
package api

import (
	"context"

	"stallwatch/internal/platform/config"
	"stallwatch/internal/platform/logger"
	phttp "stallwatch/internal/platform/net/http"
	"stallwatch/internal/platform/store"

	"stallwatch/internal/modkit"
	"stallwatch/internal/modkit/httpkit"
	"stallwatch/internal/modkit/module"
	"stallwatch/internal/modkit/swaggerkit"

	metamod "stallwatch/internal/services/api/meta/module"
	capturemod "stallwatch/internal/services/capture/module"
	detectiondomain "stallwatch/internal/services/detection/domain"
	detectionmod "stallwatch/internal/services/detection/module"
	lotsdomain "stallwatch/internal/services/lots/domain"
	lotsmod "stallwatch/internal/services/lots/module"
	sinkmod "stallwatch/internal/services/sink/module"
)

// Options are the API options
type Options struct {
	Config         config.Conf
	Store          *store.Store
	Logger         *logger.Logger
	DataDir        string
	EnableSwagger  bool
	EnableProfiler bool

	// Detector replaces the HTTP detector adapter when set
	Detector detectiondomain.Detector
}

// App is the mounted service; Run drives its background loops
type App struct {
	Lots      *lotsmod.Module
	Sink      *sinkmod.Module
	Capture   *capturemod.Module
	Detection *detectionmod.Module

	mods []module.Module
}

// Build constructs and cross wires every module and applies the schemas
func Build(ctx context.Context, opt Options) (*App, error) {
	deps := modkit.FromStore(opt.Store, opt.Config, opt.DataDir)

	sink, err := sinkmod.New(deps)
	if err != nil {
		return nil, err
	}
	var detOpts []modkit.Option
	if opt.Detector != nil {
		detOpts = append(detOpts, modkit.WithPorts(detectionmod.Ports{Detector: opt.Detector}))
	}
	detection, err := detectionmod.New(deps, detOpts...)
	if err != nil {
		return nil, err
	}
	capture := capturemod.New(deps)

	// sink routes share the /lots prefix, so the lots module mounts them
	var lots *lotsmod.Module
	lots = lotsmod.New(deps, modkit.WithRegister(sink.Routes(func() lotsdomain.ViewPort {
		return module.MustPortsOf[lotsmod.Ports](lots).View
	})))
	view := module.MustPortsOf[lotsmod.Ports](lots).View
	sinkPorts := module.MustPortsOf[sinkmod.Ports](sink)

	capture.Bind(view)
	detection.Bind(view, sinkPorts.Writer)
	lots.Attach(lotsdomain.WorkerFactoryFunc(func(kind lotsdomain.WorkerKind, lotID int64) (lotsdomain.Worker, error) {
		if kind == lotsdomain.WorkerCapture {
			return capture.NewWorker(lotID)
		}
		return detection.NewWorker(lotID)
	}), detection)

	if err := lots.Migrate(ctx); err != nil {
		return nil, err
	}
	if err := sink.Migrate(ctx); err != nil {
		return nil, err
	}

	detPorts := module.MustPortsOf[detectionmod.Ports](detection)
	meta := metamod.New(deps, modkit.WithPorts(metamod.Ports{
		Detector: detPorts.Detector,
		Live:     module.MustPortsOf[lotsmod.Ports](lots).Supervisor.Live,
		Banks:    detPorts.Banks.Len,
	}))

	return &App{
		Lots:      lots,
		Sink:      sink,
		Capture:   capture,
		Detection: detection,
		mods:      []module.Module{meta, lots, sink, capture, detection},
	}, nil
}

// Mount registers module ports and mounts every route onto r under /api/v1
func (a *App) Mount(r phttp.Router, opt Options) {
	httpkit.MountAPIV1(r, httpkit.CommonStack(opt.Config), func(api httpkit.Router) {
		swaggerkit.Mount(r, opt.EnableSwagger)
		phttp.MountProfiler(r, "/debug", opt.EnableProfiler)

		for _, m := range a.mods {
			// register each module's ports under its own name for cross module lookups
			module.Register(m.Name(), m.Ports())
			m.MountRoutes(api)
		}
	})
}

// Run reconciles stored lots, health checks them and sweeps retention until ctx is done
func (a *App) Run(ctx context.Context) error { return modkit.RunAll(ctx, a.mods...) }
