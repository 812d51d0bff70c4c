// Package http provides the lot management endpoints
package http

import (
	stdhttp "net/http"

	"stallwatch/internal/modkit/httpkit"
	perr "stallwatch/internal/platform/errors"
	"stallwatch/internal/services/lots/domain"
)

// Register mounts the lot routes on a router scoped to /lots
func Register(r httpkit.Router, s domain.SupervisorPort) {
	h := &handlers{svc: s}
	httpkit.Get(r, "/", h.list)
	httpkit.PostJSON[domain.AddLotInput](r, "/", h.add)
	httpkit.Get(r, "/{id}", h.get)
	httpkit.PatchJSON[domain.UpdateLotInput](r, "/{id}", h.update)
	httpkit.Delete(r, "/{id}", h.remove)
	httpkit.PutJSON[domain.FlipInput](r, "/{id}/flip", h.flip)
	httpkit.PutJSON[domain.ReplaceStallsInput](r, "/{id}/stalls", h.stalls)
	httpkit.Post(r, "/{id}/retry", h.retry)
}

type handlers struct{ svc domain.SupervisorPort }

// swagger:route GET /lots Lots list
// @Summary List lots with their observed state
// @Tags lots
// @Produce json
// @Success 200 {array} domain.LotDTO "ok"
// @Router /lots [get]
func (h *handlers) list(*stdhttp.Request) (any, error) {
	vs := h.svc.Views()
	out := make([]domain.LotDTO, len(vs))
	for i, v := range vs {
		out[i] = v.DTO()
	}
	return out, nil
}

// swagger:route POST /lots Lots add
// @Summary Add a lot and start its workers
// @Tags lots
// @Accept json
// @Produce json
// @Param payload body domain.AddLotInput true "Lot"
// @Success 201 {object} domain.LotDTO "created"
// @Failure 422 {object} httpkit.Envelope "invalid configuration"
// @Failure 500 {object} httpkit.Envelope "resource or process failure"
// @Router /lots [post]
func (h *handlers) add(r *stdhttp.Request, in domain.AddLotInput) (any, error) {
	v, err := h.svc.AddLot(r.Context(), in)
	if err != nil {
		return nil, err
	}
	return httpkit.Created(v.DTO()), nil
}

// swagger:route GET /lots/{id} Lots get
// @Summary One lot
// @Tags lots
// @Produce json
// @Param id path int true "Lot id"
// @Success 200 {object} domain.LotDTO "ok"
// @Failure 404 {object} httpkit.Envelope "not found"
// @Router /lots/{id} [get]
func (h *handlers) get(r *stdhttp.Request) (any, error) {
	id, err := httpkit.URLParamInt64(r, "id")
	if err != nil {
		return nil, err
	}
	v, ok := h.svc.View(id)
	if !ok {
		return nil, perr.NotFoundf("lot %d not found", id)
	}
	return v.DTO(), nil
}

// swagger:route PATCH /lots/{id} Lots update
// @Summary Rename a lot, point it at another camera or change its total stalls
// @Tags lots
// @Accept json
// @Produce json
// @Param id path int true "Lot id"
// @Param payload body domain.UpdateLotInput true "Changes"
// @Success 200 {object} domain.LotDTO "ok"
// @Failure 404 {object} httpkit.Envelope "not found"
// @Failure 422 {object} httpkit.Envelope "invalid configuration"
// @Router /lots/{id} [patch]
func (h *handlers) update(r *stdhttp.Request, in domain.UpdateLotInput) (any, error) {
	id, err := httpkit.URLParamInt64(r, "id")
	if err != nil {
		return nil, err
	}
	v, err := h.svc.UpdateLot(r.Context(), id, in)
	if err != nil {
		return nil, err
	}
	return v.DTO(), nil
}

// swagger:route DELETE /lots/{id} Lots remove
// @Summary Stop the workers and delete every trace of the lot
// @Tags lots
// @Param id path int true "Lot id"
// @Success 204 "removed"
// @Router /lots/{id} [delete]
func (h *handlers) remove(r *stdhttp.Request) (any, error) {
	id, err := httpkit.URLParamInt64(r, "id")
	if err != nil {
		return nil, err
	}
	if err := h.svc.RemoveLot(r.Context(), id); err != nil {
		return nil, err
	}
	return httpkit.NoContent(), nil
}

// swagger:route PUT /lots/{id}/flip Lots flip
// @Summary Set the 180 degree rotation flag
// @Tags lots
// @Accept json
// @Produce json
// @Param id path int true "Lot id"
// @Param payload body domain.FlipInput true "Flip"
// @Success 200 {object} domain.LotDTO "ok"
// @Router /lots/{id}/flip [put]
func (h *handlers) flip(r *stdhttp.Request, in domain.FlipInput) (any, error) {
	id, err := httpkit.URLParamInt64(r, "id")
	if err != nil {
		return nil, err
	}
	v, err := h.svc.SetFlip(r.Context(), id, *in.Flip)
	if err != nil {
		return nil, err
	}
	return v.DTO(), nil
}

// swagger:route PUT /lots/{id}/stalls Lots stalls
// @Summary Replace the stall polygons of a lot
// @Tags lots
// @Accept json
// @Produce json
// @Param id path int true "Lot id"
// @Param payload body domain.ReplaceStallsInput true "Stalls"
// @Success 200 {object} domain.LotDTO "ok"
// @Failure 422 {object} httpkit.Envelope "invalid stalls"
// @Router /lots/{id}/stalls [put]
func (h *handlers) stalls(r *stdhttp.Request, in domain.ReplaceStallsInput) (any, error) {
	id, err := httpkit.URLParamInt64(r, "id")
	if err != nil {
		return nil, err
	}
	v, err := h.svc.ReplaceStalls(r.Context(), id, domain.ToStalls(in.Stalls))
	if err != nil {
		return nil, err
	}
	return v.DTO(), nil
}

// swagger:route POST /lots/{id}/retry Lots retry
// @Summary Restart the dead workers of an errored lot with a fresh budget
// @Tags lots
// @Produce json
// @Param id path int true "Lot id"
// @Success 200 {object} domain.LotDTO "ok"
// @Router /lots/{id}/retry [post]
func (h *handlers) retry(r *stdhttp.Request) (any, error) {
	id, err := httpkit.URLParamInt64(r, "id")
	if err != nil {
		return nil, err
	}
	v, err := h.svc.Retry(r.Context(), id)
	if err != nil {
		return nil, err
	}
	return v.DTO(), nil
}
