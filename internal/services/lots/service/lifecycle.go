package service

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"stallwatch/internal/core/occupancy"
	"stallwatch/internal/modkit/repokit"
	perr "stallwatch/internal/platform/errors"
	"stallwatch/internal/platform/files"
	"stallwatch/internal/platform/net/http/bind"
	"stallwatch/internal/services/lots/domain"
)

// seams for tests
var (
	mkdirAll  = os.MkdirAll
	removeAll = os.RemoveAll
)

// validateLot checks an AddLot request; every failure is a ConfigError
func (s *Svc) validateLot(in domain.AddLotInput, stalls []occupancy.Stall) error {
	if strings.TrimSpace(in.Name) == "" {
		return perr.WithField(perr.Configf("name is required"), "name")
	}
	if in.TotalStalls < 1 || in.TotalStalls > s.cfg.MaxStalls {
		return perr.WithField(perr.Configf("total stalls %d outside 1-%d", in.TotalStalls, s.cfg.MaxStalls), "total_stalls")
	}
	if !bind.ValidCameraURI(in.SourceURI) {
		return perr.WithField(perr.Configf("unsupported camera uri %q", in.SourceURI), "source_uri")
	}
	return s.validateStalls(stalls, in.TotalStalls)
}

func (s *Svc) validateStalls(stalls []occupancy.Stall, total int) error {
	if len(stalls) > total {
		return perr.WithField(perr.Configf("%d stalls exceed total stalls %d", len(stalls), total), "stalls")
	}
	return occupancy.ValidateStalls(stalls)
}

// AddLot validates, persists, lays out the lot directory and starts both workers
func (s *Svc) AddLot(ctx context.Context, in domain.AddLotInput) (domain.LotView, error) {
	in.Name = strings.TrimSpace(in.Name)
	stalls := domain.ToStalls(in.Stalls)
	if err := s.validateLot(in, stalls); err != nil {
		return domain.LotView{}, err
	}
	occupancy.SortStalls(stalls)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	lot := domain.Lot{
		Name:        in.Name,
		SourceURI:   in.SourceURI,
		TotalStalls: in.TotalStalls,
		Flip:        in.Flip,
		Desired:     domain.DesiredRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var dirMade bool
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		r := s.binder.Bind(q)
		id, err := r.InsertLot(ctx, lot)
		if err != nil {
			return err
		}
		lot.ID = id
		if err := r.InsertStalls(ctx, id, stalls); err != nil {
			return err
		}
		dirMade = true
		return s.layoutDir(ctx, lot, stalls)
	})
	if err != nil {
		if dirMade {
			_ = removeAll(s.cfg.Layout.Dir(lot.ID))
		}
		if !perr.IsCode(err, perr.ErrorCodeResource) {
			err = perr.Wrapf(err, perr.ErrorCodeResource, "create lot %q", lot.Name)
		}
		return domain.LotView{}, err
	}

	lctx, cancel := context.WithCancel(s.root)
	rt := &lotRuntime{
		gate:     &gate{},
		handles:  map[domain.WorkerKind]*handle{},
		observed: domain.ObservedStarting,
		base:     lctx,
		cancel:   cancel,
	}
	view := domain.LotView{Lot: lot, Observed: domain.ObservedStarting, Stalls: stalls}
	s.rt[lot.ID] = rt
	s.setView(view, rt.gate)
	for _, h := range s.hooks {
		h.StallsReplaced(ctx, lot.ID, stalls)
	}

	if err := s.startAll(rt, lot.ID); err != nil {
		s.stopAll(rt, lot.ID)
		s.forget(ctx, lot.ID, rt)
		if derr := s.db.Tx(context.WithoutCancel(ctx), func(q repokit.Queryer) error {
			return s.binder.Bind(q).DeleteLot(ctx, lot.ID)
		}); derr != nil {
			s.log.Error().Err(derr).Int64("lot_id", lot.ID).Msg("rollback lot record failed")
		}
		s.removeDir(lot.ID)
		s.log.Error().Err(err).Int64("lot_id", lot.ID).Msg("lot failed to start")
		return domain.LotView{}, err
	}

	rt.observed = domain.ObservedRunning
	s.refresh(lot.ID)
	v, _ := s.View(lot.ID)
	s.log.Info().Int64("lot_id", lot.ID).Str("name", lot.Name).Int("stalls", len(stalls)).Msg("lot added")
	return v, nil
}

// startAll spawns both workers; on error the ones already started stay in rt.handles for stopAll
func (s *Svc) startAll(rt *lotRuntime, lotID int64) error {
	for _, k := range domain.Kinds {
		h, err := s.spawn(rt, lotID, k)
		if err != nil {
			return err
		}
		rt.handles[k] = h
	}
	return nil
}

// layoutDir creates lot{id}/{frames,overlays,maps} and lot_config.json
func (s *Svc) layoutDir(ctx context.Context, lot domain.Lot, stalls []occupancy.Stall) error {
	l := s.cfg.Layout
	for _, d := range []string{l.Frames(lot.ID), l.Overlays(lot.ID), l.Maps(lot.ID)} {
		if err := mkdirAll(d, 0o755); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeResource, "create %s", d)
		}
	}
	return s.writeConfig(ctx, lot, stalls)
}

func (s *Svc) writeConfig(ctx context.Context, lot domain.Lot, stalls []occupancy.Stall) error {
	cf := domain.LotConfigFile{
		ID:          lot.ID,
		Name:        lot.Name,
		SourceURI:   lot.SourceURI,
		TotalStalls: lot.TotalStalls,
		Flip:        lot.Flip,
		Stalls:      domain.LotView{Stalls: stalls}.DTO().Stalls,
	}
	b, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeJSON, "encode lot config")
	}
	return files.WriteAtomic(ctx, s.cfg.Layout.Config(lot.ID), b, 0o644)
}

// removeDir deletes the lot tree, retrying while a straggler races a write into it
func (s *Svc) removeDir(id int64) {
	dir := s.cfg.Layout.Dir(id)
	var err error
	for range 3 {
		if err = removeAll(dir); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	s.log.Error().Err(err).Str("dir", dir).Msg("remove lot directory failed")
}

// forget unpublishes the lot and closes its gate; callers hold s.mu
func (s *Svc) forget(ctx context.Context, id int64, rt *lotRuntime) {
	if rt != nil {
		rt.gate.gone.Store(true)
	}
	delete(s.rt, id)
	s.publish(func(m published) { delete(m, id) })
	for _, h := range s.hooks {
		h.LotRemoved(ctx, id)
	}
}

// RemoveLot stops the workers within the grace period and deletes every trace of the lot
// an unknown id is not an error
func (s *Svc) RemoveLot(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, running := s.rt[id]
	if !running {
		if _, err := s.lookup(ctx, id); perr.IsCode(err, perr.ErrorCodeNotFound) {
			return nil
		} else if err != nil {
			return err
		}
	}

	if err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).SetDesired(ctx, id, domain.DesiredStopped, s.now())
	}); err != nil && !perr.IsCode(err, perr.ErrorCodeNotFound) {
		s.log.Warn().Err(err).Int64("lot_id", id).Msg("mark lot stopped failed")
	}

	if running {
		s.stopAll(rt, id)
	}
	s.forget(ctx, id, rt)

	// removal must finish even if the caller goes away mid way
	dctx := context.WithoutCancel(ctx)
	if err := s.db.Tx(dctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).DeleteLot(dctx, id)
	}); err != nil {
		s.removeDir(id)
		return perr.Wrapf(err, perr.ErrorCodeResource, "delete lot %d", id)
	}
	s.removeDir(id)
	s.log.Info().Int64("lot_id", id).Msg("lot removed")
	return nil
}

// lookup returns the view of a lot, or a NotFound error
func (s *Svc) lookup(ctx context.Context, id int64) (domain.LotView, error) {
	if v, ok := s.View(id); ok {
		return v, nil
	}
	var lot domain.Lot
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		lot, err = s.binder.Bind(q).GetLot(ctx, id)
		return err
	})
	if err != nil {
		return domain.LotView{}, err
	}
	return domain.LotView{Lot: lot, Observed: domain.ObservedStopped}, nil
}

// UpdateLot edits the name, camera uri and total stalls of a lot
// workers keep running; capture reopens its source when it sees the new uri on its next cycle
func (s *Svc) UpdateLot(ctx context.Context, id int64, in domain.UpdateLotInput) (domain.LotView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := (*s.view.Load())[id]
	if !ok {
		return domain.LotView{}, perr.NotFoundf("lot %d not found", id)
	}
	lot := e.view.Lot
	if in.Name != nil {
		lot.Name = strings.TrimSpace(*in.Name)
	}
	if in.SourceURI != nil {
		lot.SourceURI = strings.TrimSpace(*in.SourceURI)
	}
	if in.TotalStalls != nil {
		lot.TotalStalls = *in.TotalStalls
	}
	check := domain.AddLotInput{Name: lot.Name, SourceURI: lot.SourceURI, TotalStalls: lot.TotalStalls}
	if err := s.validateLot(check, e.view.Stalls); err != nil {
		return domain.LotView{}, err
	}

	lot.UpdatedAt = s.now().UTC()
	if err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).UpdateLot(ctx, lot)
	}); err != nil {
		return domain.LotView{}, err
	}
	v := e.view
	v.Lot = lot
	s.setView(v, e.gate)
	if err := s.writeConfig(ctx, v.Lot, v.Stalls); err != nil {
		s.log.Warn().Err(err).Int64("lot_id", id).Msg("rewrite lot config failed")
	}
	s.log.Info().Int64("lot_id", id).Str("name", lot.Name).Int("total_stalls", lot.TotalStalls).Msg("lot updated")
	return v, nil
}

// SetFlip changes only the flag; capture picks it up on its next cycle
func (s *Svc) SetFlip(ctx context.Context, id int64, flip bool) (domain.LotView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := (*s.view.Load())[id]
	if !ok {
		return domain.LotView{}, perr.NotFoundf("lot %d not found", id)
	}
	now := s.now().UTC()
	if err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).SetFlip(ctx, id, flip, now)
	}); err != nil {
		return domain.LotView{}, err
	}
	v := e.view
	v.Flip, v.UpdatedAt = flip, now
	s.setView(v, e.gate)
	if err := s.writeConfig(ctx, v.Lot, v.Stalls); err != nil {
		s.log.Warn().Err(err).Int64("lot_id", id).Msg("rewrite lot config failed")
	}
	return v, nil
}

// ReplaceStalls pauses the lot's detection cycle, commits the new polygons and resumes
func (s *Svc) ReplaceStalls(ctx context.Context, id int64, stalls []occupancy.Stall) (domain.LotView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := (*s.view.Load())[id]
	if !ok {
		return domain.LotView{}, perr.NotFoundf("lot %d not found", id)
	}
	if err := s.validateStalls(stalls, e.view.TotalStalls); err != nil {
		return domain.LotView{}, err
	}
	stalls = append([]occupancy.Stall(nil), stalls...)
	occupancy.SortStalls(stalls)

	e.gate.mu.Lock()
	defer e.gate.mu.Unlock()

	now := s.now().UTC()
	if err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		r := s.binder.Bind(q)
		if err := r.DeleteStalls(ctx, id); err != nil {
			return err
		}
		return r.InsertStalls(ctx, id, stalls)
	}); err != nil {
		return domain.LotView{}, err
	}

	v := e.view
	v.Stalls, v.UpdatedAt = stalls, now
	s.setView(v, e.gate)
	for _, h := range s.hooks {
		h.StallsReplaced(ctx, id, stalls)
	}
	if err := s.writeConfig(ctx, v.Lot, stalls); err != nil {
		s.log.Warn().Err(err).Int64("lot_id", id).Msg("rewrite lot config failed")
	}
	s.log.Info().Int64("lot_id", id).Int("stalls", len(stalls)).Msg("stalls replaced")
	return v, nil
}

// Retry clears the restart budget of an errored lot and restarts its dead workers now
func (s *Svc) Retry(ctx context.Context, id int64) (domain.LotView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.rt[id]
	if !ok {
		return domain.LotView{}, perr.NotFoundf("lot %d not found", id)
	}
	now := s.now()
	var firstErr error
	for _, k := range domain.Kinds {
		h, ok := rt.handles[k]
		if ok && h.alive(now, s.cfg.StaleAfter) {
			h.attempts, h.exhausted, h.retryAt = 0, false, time.Time{}
			continue
		}
		if ok {
			h.cancel()
		}
		nh, err := s.spawn(rt, id, k)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if ok {
				h.exhausted, h.lastErr = true, err.Error()
			}
			continue
		}
		rt.handles[k] = nh
	}
	rt.observed = s.observe(rt, now)
	s.refresh(id)
	v, _ := s.View(id)
	if firstErr != nil {
		return v, firstErr
	}
	s.log.Info().Int64("lot_id", id).Msg("lot retried")
	return v, nil
}
