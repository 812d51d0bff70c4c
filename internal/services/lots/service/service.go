// Package service implements the lot supervisor
// every mutation runs under one writer lock; readers load an immutable view
package service

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"stallwatch/internal/modkit/repokit"
	"stallwatch/internal/platform/logger"
	"stallwatch/internal/services/lots/domain"
	"stallwatch/internal/services/lots/repo"
)

// Config tunes validation, shutdown and health checking
type Config struct {
	Layout domain.Layout

	// MaxStalls bounds total_stalls on AddLot
	MaxStalls int

	// Grace bounds how long RemoveLot waits for workers to exit
	Grace time.Duration

	HealthEvery time.Duration
	StaleAfter  time.Duration
	StableAfter time.Duration
	MaxRestarts int
	RestartBase time.Duration
	RestartMax  time.Duration
}

func (c *Config) defaults() {
	if c.MaxStalls <= 0 || c.MaxStalls > domain.StallLimit {
		c.MaxStalls = domain.StallLimit
	}
	if c.Grace <= 0 {
		c.Grace = 5 * time.Second
	}
	if c.HealthEvery <= 0 {
		c.HealthEvery = 2 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Second
	}
	if c.StableAfter <= 0 {
		c.StableAfter = time.Minute
	}
	if c.MaxRestarts < 0 {
		c.MaxRestarts = 0
	}
	if c.RestartBase <= 0 {
		c.RestartBase = time.Second
	}
	if c.RestartMax <= 0 {
		c.RestartMax = time.Minute
	}
}

// entry is one published lot; gate is shared by every view generation of the lot
type entry struct {
	view domain.LotView
	gate *gate
}

type gate struct {
	mu   sync.RWMutex
	gone atomic.Bool
}

type published map[int64]entry

// lotRuntime is the supervisor owned state of a lot, guarded by Svc.mu
type lotRuntime struct {
	gate     *gate
	handles  map[domain.WorkerKind]*handle
	observed domain.Observed
	// base is cancelled when the lot is removed; every worker context derives from it
	base   context.Context
	cancel context.CancelFunc
}

// Svc is the supervisor
type Svc struct {
	db     repokit.TxRunner
	binder repokit.Binder[repo.Storage]
	cfg    Config
	log    logger.Logger

	factory domain.WorkerFactory
	hooks   []domain.Hooks

	now func() time.Time

	// root is the parent of every lot context; cancelled by Shutdown
	root     context.Context
	rootStop context.CancelFunc

	mu   sync.Mutex
	rt   map[int64]*lotRuntime
	view atomic.Pointer[published]

	live atomic.Int64
}

// New constructs the supervisor; Attach must be called before lots can start
func New(db repokit.TxRunner, binder repokit.Binder[repo.Storage], cfg Config) *Svc {
	cfg.defaults()
	root, stop := context.WithCancel(context.Background())
	s := &Svc{
		db:       db,
		binder:   binder,
		cfg:      cfg,
		log:      *logger.Named("lots"),
		now:      time.Now,
		root:     root,
		rootStop: stop,
		rt:       map[int64]*lotRuntime{},
	}
	s.view.Store(&published{})
	return s
}

// Attach sets the worker factory and lifecycle hooks
func (s *Svc) Attach(f domain.WorkerFactory, hooks ...domain.Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factory = f
	s.hooks = append(s.hooks, hooks...)
}

// Config returns the effective configuration
func (s *Svc) Config() Config { return s.cfg }

// View implements domain.ViewPort
func (s *Svc) View(id int64) (domain.LotView, bool) {
	e, ok := (*s.view.Load())[id]
	return e.view, ok
}

// Views implements domain.ViewPort
func (s *Svc) Views() []domain.LotView {
	m := *s.view.Load()
	out := make([]domain.LotView, 0, len(m))
	for _, e := range m {
		out = append(out, e.view)
	}
	slices.SortFunc(out, func(a, b domain.LotView) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Enter implements domain.ViewPort
func (s *Svc) Enter(id int64) (func(), bool) {
	e, ok := (*s.view.Load())[id]
	if !ok {
		return nil, false
	}
	e.gate.mu.RLock()
	if e.gate.gone.Load() {
		e.gate.mu.RUnlock()
		return nil, false
	}
	return e.gate.mu.RUnlock, true
}

// Live counts worker goroutines that have not returned, detached stragglers included
func (s *Svc) Live() int { return int(s.live.Load()) }

// publish swaps in a new view map; callers hold s.mu
func (s *Svc) publish(fn func(m published)) {
	old := *s.view.Load()
	next := make(published, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	fn(next)
	s.view.Store(&next)
}

// setView replaces one lot's view, keeping its gate; callers hold s.mu
func (s *Svc) setView(v domain.LotView, g *gate) {
	s.publish(func(m published) { m[v.ID] = entry{view: v, gate: g} })
}

// refresh republishes a lot with current worker statuses; callers hold s.mu
func (s *Svc) refresh(id int64) {
	rt, ok := s.rt[id]
	if !ok {
		return
	}
	e, ok := (*s.view.Load())[id]
	if !ok {
		return
	}
	v := e.view
	v.Observed = rt.observed
	v.Workers = s.statuses(rt)
	s.setView(v, rt.gate)
}

func (s *Svc) statuses(rt *lotRuntime) []domain.WorkerStatus {
	out := make([]domain.WorkerStatus, 0, len(domain.Kinds))
	for _, k := range domain.Kinds {
		h, ok := rt.handles[k]
		if !ok {
			out = append(out, domain.WorkerStatus{Kind: k})
			continue
		}
		out = append(out, h.status())
	}
	return out
}
