// Package http exposes snapshot, summary and rendered images under /lots/{id}
package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"stallwatch/internal/modkit/httpkit"
	perr "stallwatch/internal/platform/errors"
	lotsdomain "stallwatch/internal/services/lots/domain"
	"stallwatch/internal/services/sink/domain"
)

// Reader is the part of the sink the handlers use
type Reader interface {
	Snapshot(ctx context.Context, lotID int64) (domain.Snapshot, error)
	Summary(ctx context.Context, lotID int64) (domain.Summary, error)
	History(ctx context.Context, lotID int64, limit int) ([]domain.Snapshot, error)
	LatestImage(dir string) ([]byte, time.Time, error)
	Layout() lotsdomain.Layout
}

// Register mounts the read routes on a router scoped to /lots
func Register(r httpkit.Router, s Reader, lots lotsdomain.ViewPort) {
	h := &handlers{sink: s, lots: lots}
	httpkit.Get(r, "/{id}/snapshot", h.snapshot)
	httpkit.Get(r, "/{id}/summary", h.summary)
	httpkit.Get(r, "/{id}/history", h.history)
	httpkit.Get(r, "/{id}/overlay", h.overlay)
	httpkit.Get(r, "/{id}/map", h.stallMap)
}

type handlers struct {
	sink Reader
	lots lotsdomain.ViewPort
}

func (h *handlers) lotID(r *stdhttp.Request) (int64, error) {
	id, err := httpkit.URLParamInt64(r, "id")
	if err != nil {
		return 0, err
	}
	if _, ok := h.lots.View(id); !ok {
		return 0, perr.NotFoundf("lot %d not found", id)
	}
	return id, nil
}

// swagger:route GET /lots/{id}/snapshot Results snapshot
// @Summary Latest per stall states of a lot
// @Tags results
// @Produce json
// @Param id path int true "Lot id"
// @Success 200 {object} domain.Snapshot "ok"
// @Failure 404 {object} httpkit.Envelope "unknown lot or no snapshot yet"
// @Router /lots/{id}/snapshot [get]
func (h *handlers) snapshot(r *stdhttp.Request) (any, error) {
	id, err := h.lotID(r)
	if err != nil {
		return nil, err
	}
	return h.sink.Snapshot(r.Context(), id)
}

// swagger:route GET /lots/{id}/summary Results summary
// @Summary Available stalls, total and percentage
// @Tags results
// @Produce json
// @Param id path int true "Lot id"
// @Success 200 {object} domain.Summary "ok"
// @Failure 404 {object} httpkit.Envelope "unknown lot"
// @Router /lots/{id}/summary [get]
func (h *handlers) summary(r *stdhttp.Request) (any, error) {
	id, err := h.lotID(r)
	if err != nil {
		return nil, err
	}
	return h.sink.Summary(r.Context(), id)
}

// HistoryLimit caps the snapshots one history request returns
const HistoryLimit = 500

// swagger:route GET /lots/{id}/history Results history
// @Summary Past snapshots of a lot, newest first
// @Tags results
// @Produce json
// @Param id path int true "Lot id"
// @Param limit query int false "At most this many snapshots (default 50, max 500)"
// @Success 200 {array} domain.Snapshot "ok"
// @Failure 404 {object} httpkit.Envelope "unknown lot"
// @Failure 422 {object} httpkit.Envelope "invalid limit"
// @Router /lots/{id}/history [get]
func (h *handlers) history(r *stdhttp.Request) (any, error) {
	id, err := h.lotID(r)
	if err != nil {
		return nil, err
	}
	limit, err := httpkit.QueryInt(r, "limit", 50)
	if err != nil {
		return nil, err
	}
	hist, err := h.sink.History(r.Context(), id, min(limit, HistoryLimit))
	if err != nil {
		return nil, err
	}
	if hist == nil {
		hist = []domain.Snapshot{}
	}
	return hist, nil
}

// swagger:route GET /lots/{id}/overlay Results overlay
// @Summary Newest annotated frame
// @Tags results
// @Produce image/jpeg
// @Param id path int true "Lot id"
// @Success 200 {file} binary "jpeg"
// @Failure 404 {object} httpkit.Envelope "unknown lot or nothing rendered"
// @Router /lots/{id}/overlay [get]
func (h *handlers) overlay(r *stdhttp.Request) (any, error) {
	return h.image(r, h.sink.Layout().Overlays)
}

// swagger:route GET /lots/{id}/map Results map
// @Summary Newest schematic stall map
// @Tags results
// @Produce image/jpeg
// @Param id path int true "Lot id"
// @Success 200 {file} binary "jpeg"
// @Failure 404 {object} httpkit.Envelope "unknown lot or nothing rendered"
// @Router /lots/{id}/map [get]
func (h *handlers) stallMap(r *stdhttp.Request) (any, error) {
	return h.image(r, h.sink.Layout().Maps)
}

func (h *handlers) image(r *stdhttp.Request, dir func(int64) string) (any, error) {
	id, err := h.lotID(r)
	if err != nil {
		return nil, err
	}
	b, mod, err := h.sink.LatestImage(dir(id))
	if err != nil {
		return nil, err
	}
	resp := httpkit.JPEG(b)
	resp.Header.Set("Last-Modified", mod.UTC().Format(stdhttp.TimeFormat))
	return resp, nil
}
