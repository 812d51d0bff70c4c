// Package domain defines lot types, the on disk layout and the supervisor ports
package domain

import (
	"time"

	"stallwatch/internal/core/geometry"
	"stallwatch/internal/core/occupancy"
	perr "stallwatch/internal/platform/errors"
)

// StallLimit is the most stalls a lot may declare; LOTS_MAX_STALLS can only lower it
const StallLimit = 20

// Desired is the operator intent for a lot
type Desired string

const (
	DesiredRunning Desired = "running"
	DesiredStopped Desired = "stopped"
)

// Observed is what the supervisor last saw
type Observed string

const (
	ObservedStarting Observed = "starting"
	ObservedRunning  Observed = "running"
	ObservedErrored  Observed = "errored"
	ObservedStopped  Observed = "stopped"
)

// WorkerKind names the two workers of a lot
type WorkerKind string

const (
	WorkerCapture   WorkerKind = "capture"
	WorkerDetection WorkerKind = "detection"
)

// Kinds is the fixed spawn order
var Kinds = []WorkerKind{WorkerCapture, WorkerDetection}

// Lot is the persisted record
type Lot struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	SourceURI   string    `json:"source_uri"`
	TotalStalls int       `json:"total_stalls"`
	Flip        bool      `json:"flip"`
	Desired     Desired   `json:"desired"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Report is a worker's own account of its recent cycles
type Report struct {
	Failures   int    `json:"failures"`
	CycleError string `json:"cycle_error,omitempty"`
	Cycles     int64  `json:"cycles,omitempty"`
}

// WorkerStatus is the supervisor view of one worker
type WorkerStatus struct {
	Kind      WorkerKind `json:"kind"`
	Alive     bool       `json:"alive"`
	Heartbeat time.Time  `json:"heartbeat,omitzero"`
	Progress  time.Time  `json:"progress,omitzero"`
	Restarts  int        `json:"restarts"`
	LastError string     `json:"last_error,omitempty"`
	Report
}

// LotView is an immutable snapshot of a lot as the supervisor sees it
// values are never mutated after publication; copy before changing
type LotView struct {
	Lot
	Observed Observed          `json:"observed"`
	Stalls   []occupancy.Stall `json:"-"`
	Workers  []WorkerStatus    `json:"workers,omitempty"`
}

// StallDTO is the wire form of a stall
type StallDTO struct {
	ID      string       `json:"id"`
	Lane    int          `json:"lane"`
	Polygon [][2]float64 `json:"polygon"`
}

// LotDTO is the wire form of a lot view
type LotDTO struct {
	LotView
	Stalls []StallDTO `json:"stalls"`
}

// DTO converts the view for transport
func (v LotView) DTO() LotDTO {
	out := LotDTO{LotView: v, Stalls: make([]StallDTO, len(v.Stalls))}
	for i, s := range v.Stalls {
		out.Stalls[i] = StallDTO{ID: s.ID, Lane: s.Lane, Polygon: s.Polygon.Pairs()}
	}
	return out
}

// StallInput is one stall in a request body
type StallInput struct {
	ID      string       `json:"id" validate:"required,stall_id"`
	Lane    int          `json:"lane" validate:"min=1,max=9"`
	Polygon [][2]float64 `json:"polygon" validate:"min=3"`
}

// AddLotInput is the AddLot request
type AddLotInput struct {
	Name        string       `json:"name" validate:"required,max=120"`
	SourceURI   string       `json:"source_uri" validate:"required,camera_uri"`
	TotalStalls int          `json:"total_stalls" validate:"min=1"`
	Flip        bool         `json:"flip"`
	Stalls      []StallInput `json:"stalls" validate:"dive"`
}

// ValidationCode reports invalid lot bodies as configuration errors
func (AddLotInput) ValidationCode() perr.ErrorCode { return perr.ErrorCodeConfig }

// UpdateLotInput is the UpdateLot request; absent fields keep their value
type UpdateLotInput struct {
	Name        *string `json:"name" validate:"omitempty,max=120"`
	SourceURI   *string `json:"source_uri" validate:"omitempty,camera_uri"`
	TotalStalls *int    `json:"total_stalls" validate:"omitempty,min=1"`
}

// ValidationCode reports invalid lot bodies as configuration errors
func (UpdateLotInput) ValidationCode() perr.ErrorCode { return perr.ErrorCodeConfig }

// FlipInput is the SetFlip request
type FlipInput struct {
	Flip *bool `json:"flip" validate:"required"`
}

// ReplaceStallsInput is the ReplaceStalls request
type ReplaceStallsInput struct {
	Stalls []StallInput `json:"stalls" validate:"dive"`
}

// ValidationCode reports invalid stall bodies as configuration errors
func (ReplaceStallsInput) ValidationCode() perr.ErrorCode { return perr.ErrorCodeConfig }

// ToStalls converts request stalls into engine stalls
func ToStalls(in []StallInput) []occupancy.Stall {
	out := make([]occupancy.Stall, len(in))
	for i, s := range in {
		out[i] = occupancy.Stall{ID: s.ID, Lane: s.Lane, Polygon: geometry.FromPairs(s.Polygon)}
	}
	return out
}

// LotConfigFile is the lot_config.json written next to the artifacts
type LotConfigFile struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	SourceURI   string     `json:"source_uri"`
	TotalStalls int        `json:"total_stalls"`
	Flip        bool       `json:"flip"`
	Stalls      []StallDTO `json:"stalls"`
}
