// Package service implements the per lot detection worker
package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"stallwatch/internal/core/occupancy"
	"stallwatch/internal/core/render"
	"stallwatch/internal/core/smoother"
	perr "stallwatch/internal/platform/errors"
	"stallwatch/internal/platform/files"
	"stallwatch/internal/platform/logger"
	"stallwatch/internal/services/detection/domain"
	"stallwatch/internal/services/detection/guardrails"
	lotsdomain "stallwatch/internal/services/lots/domain"
	sinkdomain "stallwatch/internal/services/sink/domain"

	"github.com/golang/geo/r2"
	"github.com/google/uuid"
)

// Config tunes one detection worker
type Config struct {
	Every    time.Duration
	Timeouts guardrails.Timeouts
	// Render writes overlay and map JPEGs each cycle
	Render bool
}

// Deps are the collaborators of a worker; Bank is shared across restarts of the same lot
type Deps struct {
	Lots     lotsdomain.ViewPort
	Layout   lotsdomain.Layout
	Detector domain.Detector
	Engine   *occupancy.Engine
	Bank     *smoother.Bank
	Sink     sinkdomain.WriterPort
}

// Worker polls frames/latest.jpg and turns each new frame into a snapshot
type Worker struct {
	lotID int64
	deps  Deps
	cfg   Config
	log   logger.Logger
	now   func() time.Time

	heartbeat atomic.Int64
	progress  atomic.Int64
	lastMod   time.Time

	mu       sync.Mutex
	failures int
	lastErr  string
}

var (
	_ lotsdomain.Worker   = (*Worker)(nil)
	_ lotsdomain.Reporter = (*Worker)(nil)
)

// New constructs a worker
func New(lotID int64, deps Deps, cfg Config) *Worker {
	if cfg.Every <= 0 {
		cfg.Every = time.Second
	}
	return &Worker{
		lotID: lotID,
		deps:  deps,
		cfg:   cfg,
		log:   logger.Named("detection").With().Int64("lot_id", lotID).Logger(),
		now:   time.Now,
	}
}

// Heartbeat satisfies lotsdomain.Worker
func (w *Worker) Heartbeat() time.Time { return unix(w.heartbeat.Load()) }

// Progress satisfies lotsdomain.Worker; it moves on completed cycles and on quiet skips, never on failed ones
func (w *Worker) Progress() time.Time { return unix(w.progress.Load()) }

// Report satisfies lotsdomain.Reporter; Cycles counts smoothed cycles of the lot across restarts
func (w *Worker) Report() lotsdomain.Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return lotsdomain.Report{Failures: w.failures, CycleError: w.lastErr, Cycles: w.deps.Bank.Cycles()}
}

func unix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (w *Worker) beat() { w.heartbeat.Store(w.now().UnixNano()) }

// record books the outcome of one cycle
func (w *Worker) record(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.failures++
		w.lastErr = err.Error()
		return
	}
	if w.failures > 0 {
		w.log.Info().Int("failures", w.failures).Msg("detection recovered")
	}
	w.failures, w.lastErr = 0, ""
	w.progress.Store(w.now().UnixNano())
}

// Run cycles every interval until ctx is done or the lot is gone
func (w *Worker) Run(ctx context.Context) error {
	ctx = logger.WithLot(ctx, w.lotID)
	w.beat()
	t := time.NewTicker(w.cfg.Every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		w.beat()

		c, err := w.Cycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if c.Skipped == domain.SkipGone {
			w.log.Debug().Msg("lot gone; detection exiting")
			return nil
		}
		w.record(err)
		switch {
		case err != nil:
			w.log.Warn().Err(err).Str("skip", string(c.Skipped)).Msg("detection cycle skipped")
		case c.Skipped == domain.SkipNone:
			w.log.Debug().
				Str("cycle_id", c.ID.String()).
				Int("detections", c.Detections).
				Int("kept", c.Kept).
				Int("occupied", c.Occupied()).
				Dur("took", c.Took).
				Msg("cycle done")
		}
	}
}

// Cycle runs one pass; an unchanged or missing frame is a quiet skip
// a detector failure is returned with SkipDetector and leaves the smoother untouched
func (w *Worker) Cycle(ctx context.Context) (domain.Cycle, error) {
	c := domain.Cycle{LotID: w.lotID, StartedAt: w.now()}
	ctx, cancel := guardrails.WithCycle(ctx, w.cfg.Timeouts)
	defer cancel()

	path := w.deps.Layout.Latest(w.lotID)
	info, err := os.Stat(path)
	if err != nil {
		c.Skipped = domain.SkipNoFrame
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return c, perr.Wrapf(err, perr.ErrorCodeResource, "stat %s", path)
	}
	c.FrameAt = info.ModTime()
	if c.FrameAt.Equal(w.lastMod) {
		c.Skipped = domain.SkipUnchanged
		return c, nil
	}
	jpg, err := os.ReadFile(path)
	if err != nil {
		c.Skipped = domain.SkipNoFrame
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return c, perr.Wrapf(err, perr.ErrorCodeResource, "read %s", path)
	}

	// stalls cannot change between Enter and leave
	leave, ok := w.deps.Lots.Enter(w.lotID)
	if !ok {
		c.Skipped = domain.SkipGone
		return c, nil
	}
	defer leave()
	view, ok := w.deps.Lots.View(w.lotID)
	if !ok {
		c.Skipped = domain.SkipGone
		return c, nil
	}

	dctx, dcancel := guardrails.ForDetect(ctx, w.cfg.Timeouts)
	dets, err := w.deps.Detector.Detect(dctx, domain.Frame{LotID: w.lotID, Path: path, ModTime: c.FrameAt, JPEG: jpg})
	dcancel()
	if err != nil {
		c.Skipped = domain.SkipDetector
		if !perr.IsCode(err, perr.ErrorCodeDetector) {
			err = perr.Wrap(err, perr.ErrorCodeDetector, "detect")
		}
		return c, err
	}

	at := w.now()
	res := w.deps.Engine.Evaluate(dets, view.Stalls).Stamp(w.lotID, at)
	w.deps.Bank.Sync(view.Stalls)
	c.ID = uuid.New()
	c.Detections = len(dets)
	c.Kept = res.Kept
	c.Ambiguous = len(res.Ambiguous)
	c.Readings = w.deps.Bank.Apply(res.Observations)
	w.lastMod = c.FrameAt

	for _, a := range res.Ambiguous {
		w.log.Warn().
			Str("cycle_id", c.ID.String()).
			Int("box", a.Box).
			Str("winner", a.Winner).
			Float64("winner_ratio", a.WinnerRatio).
			Str("runner_up", a.RunnerUp).
			Float64("runner_up_ratio", a.RunnerUpRatio).
			Msg("ambiguous stall assignment")
	}
	for _, r := range c.Readings {
		if r.Changed {
			w.log.Info().Str("stall_id", r.StallID).Stringer("state", r.State).Msg("stall changed")
		}
	}

	snap := sinkdomain.Snapshot{
		LotID:   w.lotID,
		CycleID: c.ID,
		TakenAt: at.UTC(),
		FrameAt: c.FrameAt.UTC(),
		Frame:   filepath.Join(lotsdomain.FramesDir, lotsdomain.LatestFrame),
		Stalls:  states(view.Stalls, res.Observations, c.Readings),
	}
	if w.cfg.Render {
		snap.Overlay, snap.Map = w.render(ctx, jpg, view.Stalls, c.Readings, dets, at)
	}

	pctx, pcancel := guardrails.ForPersist(ctx, w.cfg.Timeouts)
	err = w.deps.Sink.Write(pctx, snap)
	pcancel()
	c.Took = w.now().Sub(c.StartedAt)
	if err != nil {
		if perr.IsCode(err, perr.ErrorCodeConflict) {
			c.Skipped = domain.SkipGone
			return c, nil
		}
		// retried next cycle; the smoother already advanced on a valid frame
		w.log.Warn().Err(err).Str("cycle_id", c.ID.String()).Msg("snapshot not persisted")
	}
	return c, nil
}

func states(stalls []occupancy.Stall, obs []occupancy.Observation, rs []smoother.Reading) []sinkdomain.StallState {
	ratio := make(map[string]float64, len(obs))
	for _, o := range obs {
		ratio[o.StallID] = o.Ratio
	}
	reading := make(map[string]smoother.Reading, len(rs))
	for _, r := range rs {
		reading[r.StallID] = r
	}
	out := make([]sinkdomain.StallState, 0, len(stalls))
	for _, s := range stalls {
		r := reading[s.ID]
		out = append(out, sinkdomain.StallState{
			StallID: s.ID,
			Lane:    s.Lane,
			State:   r.State,
			Since:   r.Since,
			Ratio:   ratio[s.ID],
		})
	}
	return out
}

// render writes the overlay and the map; failures are logged and leave the names empty
func (w *Worker) render(ctx context.Context, jpg []byte, stalls []occupancy.Stall, rs []smoother.Reading, dets []occupancy.Detection, at time.Time) (overlay, stallMap string) {
	state := make(map[string]smoother.State, len(rs))
	for _, r := range rs {
		state[r.StallID] = r.State
	}
	tiles := make([]render.Tile, 0, len(stalls))
	for _, s := range stalls {
		tiles = append(tiles, render.Tile{ID: s.ID, Lane: s.Lane, Polygon: s.Polygon, State: state[s.ID]})
	}
	boxes := make([]r2.Rect, 0, len(dets))
	for _, d := range dets {
		boxes = append(boxes, d.Box)
	}

	if frame, err := render.Decode(bytes.NewReader(jpg)); err != nil {
		w.log.Warn().Err(err).Msg("overlay skipped")
	} else {
		var buf bytes.Buffer
		name := files.Stamp("overlay", at, ".jpg")
		if err := render.Overlay(&buf, frame, tiles, boxes); err != nil {
			w.log.Warn().Err(err).Msg("overlay render failed")
		} else if err := files.WriteAtomic(ctx, filepath.Join(w.deps.Layout.Overlays(w.lotID), name), buf.Bytes(), 0o644); err != nil {
			w.log.Warn().Err(err).Msg("overlay write failed")
		} else {
			overlay = filepath.Join(lotsdomain.OverlaysDir, name)
		}
	}

	var buf bytes.Buffer
	name := files.Stamp("map", at, ".jpg")
	if err := render.Map(&buf, tiles); err != nil {
		w.log.Warn().Err(err).Msg("map render failed")
	} else if err := files.WriteAtomic(ctx, filepath.Join(w.deps.Layout.Maps(w.lotID), name), buf.Bytes(), 0o644); err != nil {
		w.log.Warn().Err(err).Msg("map write failed")
	} else {
		stallMap = filepath.Join(lotsdomain.MapsDir, name)
	}
	return overlay, stallMap
}
