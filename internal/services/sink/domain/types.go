// Package domain defines snapshots, the parking summary and the sink ports
package domain

import (
	"context"
	"time"

	"stallwatch/internal/core/smoother"
	ptime "stallwatch/internal/platform/time"

	"github.com/google/uuid"
)

// StallState is the debounced state of one stall in a snapshot
type StallState struct {
	StallID string         `json:"stall_id"`
	Lane    int            `json:"lane"`
	State   smoother.State `json:"state"`
	Since   time.Time      `json:"since,omitzero"`
	// Ratio is the raw overlap of the frame that produced the snapshot
	Ratio float64 `json:"ratio"`
}

// Summary is the dashboard headline for a lot
type Summary struct {
	LotID       int64      `json:"lot_id"`
	Available   int        `json:"available"`
	Occupied    int        `json:"occupied"`
	Unknown     int        `json:"unknown"`
	Total       int        `json:"total"`
	Percentage  float64    `json:"percentage"`
	LastUpdated *time.Time `json:"last_updated"`
	HasOverlay  bool       `json:"has_overlay"`
	HasMap      bool       `json:"has_map"`
}

// Snapshot is the result of one detection cycle for a lot
type Snapshot struct {
	LotID   int64        `json:"lot_id"`
	CycleID uuid.UUID    `json:"cycle_id"`
	TakenAt time.Time    `json:"taken_at"`
	FrameAt time.Time    `json:"frame_at"`
	Frame   string       `json:"frame,omitempty"`
	Overlay string       `json:"overlay,omitempty"`
	Map     string       `json:"map,omitempty"`
	Stalls  []StallState `json:"stalls"`
}

// Counts tallies stall states
func (s Snapshot) Counts() (open, occupied, unknown int) {
	for _, st := range s.Stalls {
		switch st.State {
		case smoother.Open:
			open++
		case smoother.Occupied:
			occupied++
		default:
			unknown++
		}
	}
	return open, occupied, unknown
}

// Summarize derives the headline; only open stalls count as available
func (s Snapshot) Summarize() Summary {
	open, occ, unk := s.Counts()
	total := len(s.Stalls)
	out := Summary{
		LotID:       s.LotID,
		Available:   open,
		Occupied:    occ,
		Unknown:     unk,
		Total:       total,
		LastUpdated: ptime.Ptr(s.TakenAt.UTC()),
	}
	if total > 0 {
		out.Percentage = float64(open) / float64(total) * 100
	}
	return out
}

// WriterPort persists a snapshot; called by the detection worker each cycle
type WriterPort interface {
	Write(ctx context.Context, s Snapshot) error
}

// QueryPort reads persisted snapshots
type QueryPort interface {
	Current(ctx context.Context, lotID int64) (Snapshot, error)
	History(ctx context.Context, lotID int64, limit int) ([]Snapshot, error)
}

// PruneOptions scopes a retention sweep
type PruneOptions struct {
	// LotID limits the sweep to one lot; zero means every lot directory
	LotID  int64
	DryRun bool
}

// PruneReport counts what a sweep removed, or would remove on a dry run
type PruneReport struct {
	Lots     int      `json:"lots"`
	Files    int      `json:"files"`
	Bytes    int64    `json:"bytes"`
	Rows     int64    `json:"rows"`
	Selected []string `json:"selected,omitempty"`
}

// PrunerPort applies the retention policy
type PrunerPort interface {
	Prune(ctx context.Context, o PruneOptions) (PruneReport, error)
}
