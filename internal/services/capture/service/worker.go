// Package service implements the per lot capture worker
package service

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"stallwatch/internal/adapters/camera"
	perr "stallwatch/internal/platform/errors"
	"stallwatch/internal/platform/files"
	"stallwatch/internal/platform/logger"
	"stallwatch/internal/services/capture/domain"
	lotsdomain "stallwatch/internal/services/lots/domain"
)

// seam for tests
var flip = camera.Flip180

// Worker grabs frames for one lot into frames/ and swaps frames/latest.jpg
// it never creates directories, so a removed lot cannot be recreated by a late write
type Worker struct {
	lotID  int64
	lots   lotsdomain.ViewPort
	layout lotsdomain.Layout
	open   domain.Opener
	cfg    domain.Config
	log    logger.Logger
	now    func() time.Time

	heartbeat atomic.Int64
	lastFrame atomic.Int64

	mu       sync.Mutex
	failures int
	lastErr  string

	src    domain.Source
	srcURI string
}

var (
	_ lotsdomain.Worker   = (*Worker)(nil)
	_ lotsdomain.Reporter = (*Worker)(nil)
)

// New constructs a worker; zero durations take defaults
func New(lotID int64, lots lotsdomain.ViewPort, layout lotsdomain.Layout, open domain.Opener, cfg domain.Config) *Worker {
	if cfg.Every <= 0 {
		cfg.Every = time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = cfg.Every
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = 30 * cfg.RetryBase
	}
	return &Worker{
		lotID:  lotID,
		lots:   lots,
		layout: layout,
		open:   open,
		cfg:    cfg,
		log:    logger.Named("capture").With().Int64("lot_id", lotID).Logger(),
		now:    time.Now,
	}
}

// Heartbeat satisfies lotsdomain.Worker; it moves on every loop iteration, failed or not
func (w *Worker) Heartbeat() time.Time { return unix(w.heartbeat.Load()) }

// LastFrame is the time of the last frame written
func (w *Worker) LastFrame() time.Time { return unix(w.lastFrame.Load()) }

// Progress satisfies lotsdomain.Worker; a camera that keeps failing goes stale here
func (w *Worker) Progress() time.Time { return w.LastFrame() }

// Report satisfies lotsdomain.Reporter
func (w *Worker) Report() lotsdomain.Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return lotsdomain.Report{Failures: w.failures, CycleError: w.lastErr}
}

func unix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (w *Worker) beat() { w.heartbeat.Store(w.now().UnixNano()) }

// Run grabs until ctx is done or the lot disappears from the view
// source failures back off and never end the loop
func (w *Worker) Run(ctx context.Context) error {
	ctx = logger.WithLot(ctx, w.lotID)
	w.beat()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		w.beat()

		view, ok := w.lots.View(w.lotID)
		if !ok {
			w.log.Debug().Msg("lot gone; capture exiting")
			return nil
		}
		err := w.Cycle(ctx, view)
		if ctx.Err() != nil {
			return nil
		}
		timer.Reset(w.next(err))
	}
}

// next records the outcome of a cycle and returns the wait before the following one
func (w *Worker) next(err error) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		if w.failures > 0 {
			w.log.Info().Int("failures", w.failures).Msg("camera recovered")
		}
		w.failures, w.lastErr = 0, ""
		return w.cfg.Every
	}
	d := backoffFor(w.failures, w.cfg.RetryBase, w.cfg.RetryMax)
	w.failures++
	w.lastErr = err.Error()
	w.log.Warn().Err(err).Int("failures", w.failures).Dur("retry_in", d).Msg("capture failed")
	return d
}

// Cycle grabs one frame for view and writes it; flip is read from view so a change applies to the next grab
func (w *Worker) Cycle(ctx context.Context, view lotsdomain.LotView) error {
	src, err := w.source(view.SourceURI)
	if err != nil {
		return err
	}

	gctx, cancel := ctx, context.CancelFunc(func() {})
	if w.cfg.GrabTimeout > 0 {
		gctx, cancel = context.WithTimeout(ctx, w.cfg.GrabTimeout)
	}
	b, err := src.Grab(gctx)
	cancel()
	if err != nil {
		return err
	}
	if view.Flip {
		if b, err = flip(b); err != nil {
			return perr.Wrap(err, perr.ErrorCodeProcess, "flip frame")
		}
	}

	at := w.now()
	frame := filepath.Join(w.layout.Frames(w.lotID), files.Stamp("frame", at, ".jpg"))
	if err := files.WriteAtomic(ctx, frame, b, 0o644); err != nil {
		return err
	}
	if err := files.WriteAtomic(ctx, w.layout.Latest(w.lotID), b, 0o644); err != nil {
		return err
	}
	w.lastFrame.Store(at.UnixNano())
	return nil
}

// source reopens only when the uri changes
func (w *Worker) source(uri string) (domain.Source, error) {
	if w.src != nil && w.srcURI == uri {
		return w.src, nil
	}
	s, err := w.open(uri)
	if err != nil {
		return nil, err
	}
	w.src, w.srcURI = s, uri
	return s, nil
}

func backoffFor(failures int, base, max time.Duration) time.Duration {
	if failures > 30 {
		return max
	}
	d := base << uint(failures)
	if d <= 0 || d > max {
		return max
	}
	return d
}
