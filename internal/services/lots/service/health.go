package service

import (
	"context"
	"time"

	"stallwatch/internal/core/occupancy"
	"stallwatch/internal/modkit/repokit"
	"stallwatch/internal/services/lots/domain"
)

// observe derives the lot state from its handles; callers hold s.mu
func (s *Svc) observe(rt *lotRuntime, now time.Time) domain.Observed {
	all := len(rt.handles) == len(domain.Kinds)
	for _, k := range domain.Kinds {
		h, ok := rt.handles[k]
		if !ok || h.exhausted || !h.alive(now, s.cfg.StaleAfter) {
			all = false
		}
	}
	if all {
		return domain.ObservedRunning
	}
	return domain.ObservedErrored
}

// HealthCheck restarts dead workers with backoff and republishes every lot
// a worker over its restart budget stays down until Retry
func (s *Svc) HealthCheck(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, rt := range s.rt {
		for _, k := range domain.Kinds {
			s.checkWorker(rt, id, k, now)
		}
		prev := rt.observed
		rt.observed = s.observe(rt, now)
		if prev != rt.observed {
			ev := s.log.Info()
			if rt.observed == domain.ObservedErrored {
				ev = s.log.Warn()
			}
			ev.Int64("lot_id", id).Str("from", string(prev)).Str("to", string(rt.observed)).Msg("lot state changed")
		}
		s.refresh(id)
	}
}

func (s *Svc) checkWorker(rt *lotRuntime, id int64, k domain.WorkerKind, now time.Time) {
	h, ok := rt.handles[k]
	if !ok {
		return
	}
	if h.alive(now, s.cfg.StaleAfter) {
		if h.attempts > 0 && now.Sub(h.startedAt) >= s.cfg.StableAfter {
			s.log.Info().Int64("lot_id", id).Str("worker", string(k)).Int("attempts", h.attempts).Msg("worker stable; restart budget reset")
			h.attempts = 0
		}
		return
	}
	if h.exhausted {
		return
	}
	if h.attempts >= s.cfg.MaxRestarts {
		h.exhausted = true
		h.cancel()
		s.log.Error().Int64("lot_id", id).Str("worker", string(k)).Int("attempts", h.attempts).Msg("worker restart budget exhausted")
		return
	}
	if h.retryAt.IsZero() {
		// a stale worker is still running; cancel and detach it
		h.cancel()
		if h.exited() && h.err != nil {
			h.lastErr = h.err.Error()
		}
		h.retryAt = now.Add(backoffFor(h.attempts, s.cfg.RestartBase, s.cfg.RestartMax))
		s.log.Warn().Int64("lot_id", id).Str("worker", string(k)).Time("retry_at", h.retryAt).Str("error", h.lastErr).Msg("worker dead; restart scheduled")
		return
	}
	if now.Before(h.retryAt) {
		return
	}
	nh, err := s.spawn(rt, id, k)
	if err != nil {
		h.attempts++
		h.lastErr = err.Error()
		h.retryAt = now.Add(backoffFor(h.attempts, s.cfg.RestartBase, s.cfg.RestartMax))
		s.log.Error().Err(err).Int64("lot_id", id).Str("worker", string(k)).Msg("worker restart failed")
		return
	}
	nh.attempts = h.attempts + 1
	nh.lastErr = h.lastErr
	rt.handles[k] = nh
	s.log.Info().Int64("lot_id", id).Str("worker", string(k)).Int("attempt", nh.attempts).Msg("worker restarted")
}

// Reconcile spawns every stored lot whose desired state is running and that is not yet supervised
func (s *Svc) Reconcile(ctx context.Context) error {
	var (
		lots   []domain.Lot
		stalls = map[int64][]occupancy.Stall{}
	)
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		r := s.binder.Bind(q)
		var err error
		if lots, err = r.ListLots(ctx); err != nil {
			return err
		}
		for _, l := range lots {
			if l.Desired != domain.DesiredRunning {
				continue
			}
			st, err := r.ListStalls(ctx, l.ID)
			if err != nil {
				return err
			}
			stalls[l.ID] = st
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range lots {
		if l.Desired != domain.DesiredRunning {
			continue
		}
		if _, ok := s.rt[l.ID]; ok {
			continue
		}
		s.boot(ctx, l, stalls[l.ID])
	}
	return nil
}

// boot restores one lot after a restart; failures leave it errored, never fatal; callers hold s.mu
func (s *Svc) boot(ctx context.Context, l domain.Lot, stalls []occupancy.Stall) {
	lctx, cancel := context.WithCancel(s.root)
	rt := &lotRuntime{
		gate:     &gate{},
		handles:  map[domain.WorkerKind]*handle{},
		observed: domain.ObservedStarting,
		base:     lctx,
		cancel:   cancel,
	}
	s.rt[l.ID] = rt
	s.setView(domain.LotView{Lot: l, Observed: domain.ObservedStarting, Stalls: stalls}, rt.gate)
	for _, h := range s.hooks {
		h.StallsReplaced(ctx, l.ID, stalls)
	}

	if err := s.layoutDir(ctx, l, stalls); err != nil {
		s.log.Error().Err(err).Int64("lot_id", l.ID).Msg("restore lot directory failed")
	}
	if err := s.startAll(rt, l.ID); err != nil {
		s.log.Error().Err(err).Int64("lot_id", l.ID).Msg("lot failed to start on boot")
		rt.observed = domain.ObservedErrored
	} else {
		rt.observed = domain.ObservedRunning
	}
	s.refresh(l.ID)
	s.log.Info().Int64("lot_id", l.ID).Str("observed", string(rt.observed)).Msg("lot restored")
}

// Run reconciles stored lots, then health checks every HealthEvery until ctx is done
func (s *Svc) Run(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		s.log.Error().Err(err).Msg("boot reconcile failed")
	}
	defer s.Shutdown()

	t := time.NewTicker(s.cfg.HealthEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.HealthCheck(ctx)
		}
	}
}

// Shutdown stops every lot's workers, each bounded by Grace, and keeps the records
func (s *Svc) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootStop()
	for id, rt := range s.rt {
		s.stopAll(rt, id)
		rt.observed = domain.ObservedStopped
		s.refresh(id)
	}
}
