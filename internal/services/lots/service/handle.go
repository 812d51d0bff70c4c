package service

import (
	"context"
	"time"

	perr "stallwatch/internal/platform/errors"
	"stallwatch/internal/platform/logger"
	"stallwatch/internal/services/lots/domain"
)

// handle owns one worker goroutine
type handle struct {
	kind      domain.WorkerKind
	w         domain.Worker
	cancel    context.CancelFunc
	done      chan struct{}
	err       error // written before done closes
	startedAt time.Time

	attempts  int
	retryAt   time.Time
	exhausted bool
	lastErr   string
}

func (h *handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// alive is false once Run returned, or when the heartbeat or the last progress is older than stale
// a worker that is looping but keeps failing goes stale through Progress
// zero timestamps count from the worker's start
func (h *handle) alive(now time.Time, stale time.Duration) bool {
	if h.exited() {
		return false
	}
	for _, at := range []time.Time{h.w.Heartbeat(), h.w.Progress()} {
		if at.IsZero() {
			at = h.startedAt
		}
		if now.Sub(at) > stale {
			return false
		}
	}
	return true
}

func (h *handle) status() domain.WorkerStatus {
	st := domain.WorkerStatus{
		Kind:      h.kind,
		Alive:     !h.exited(),
		Heartbeat: h.w.Heartbeat(),
		Progress:  h.w.Progress(),
		Restarts:  h.attempts,
		LastError: h.lastErr,
	}
	if r, ok := h.w.(domain.Reporter); ok {
		st.Report = r.Report()
	}
	if h.exited() && h.err != nil {
		st.LastError = h.err.Error()
	}
	return st
}

// spawn starts kind for a lot; panics in Run become a ProcessError on the handle
func (s *Svc) spawn(rt *lotRuntime, lotID int64, kind domain.WorkerKind) (*handle, error) {
	if s.factory == nil {
		return nil, perr.Processf("no worker factory attached")
	}
	w, err := s.factory.NewWorker(kind, lotID)
	if err != nil {
		if perr.CodeOf(err) == perr.ErrorCodeUnknown {
			err = perr.Wrapf(err, perr.ErrorCodeProcess, "build %s worker for lot %d", kind, lotID)
		}
		return nil, err
	}
	ctx, cancel := context.WithCancel(logger.WithLot(rt.base, lotID))
	h := &handle{
		kind:      kind,
		w:         w,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: s.now(),
	}
	s.live.Add(1)
	go func() {
		defer s.live.Add(-1)
		defer close(h.done)
		defer func() {
			if p := recover(); p != nil {
				h.err = perr.Processf("%s worker panic: %v", kind, p)
				s.log.Error().Int64("lot_id", lotID).Str("worker", string(kind)).Interface("panic", p).Msg("worker panicked")
			}
		}()
		h.err = w.Run(ctx)
	}()
	return h, nil
}

// stopAll cancels every worker of rt and waits up to grace in total
// a worker still running after that is detached; its context stays cancelled
func (s *Svc) stopAll(rt *lotRuntime, lotID int64) {
	rt.cancel()
	for _, h := range rt.handles {
		h.cancel()
	}
	t := time.NewTimer(s.cfg.Grace)
	defer t.Stop()

	expired := false
	for _, k := range domain.Kinds {
		h, ok := rt.handles[k]
		if !ok {
			continue
		}
		if !expired {
			select {
			case <-h.done:
				continue
			case <-t.C:
				expired = true
			}
		}
		if !h.exited() {
			s.log.Warn().Int64("lot_id", lotID).Str("worker", string(k)).Dur("grace", s.cfg.Grace).
				Msg("worker did not exit in time; detached")
		}
	}
	rt.handles = map[domain.WorkerKind]*handle{}
}

// backoffFor is base << attempts capped at max
func backoffFor(attempts int, base, max time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 30 {
		return max
	}
	d := base << uint(attempts)
	if d <= 0 || d > max {
		return max
	}
	return d
}
