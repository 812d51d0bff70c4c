// Package domain defines detection worker types and ports
package domain

import (
	"context"
	"time"

	"stallwatch/internal/core/occupancy"
	"stallwatch/internal/core/smoother"

	"github.com/google/uuid"
)

// Frame is one captured JPEG handed to the detector
type Frame struct {
	LotID   int64
	Path    string
	ModTime time.Time
	JPEG    []byte
}

// Detector finds vehicles in a frame
// implementations return a DetectorError on timeout or failure
type Detector interface {
	Detect(ctx context.Context, f Frame) ([]occupancy.Detection, error)
}

// Skip names why a cycle produced no snapshot
type Skip string

const (
	SkipNone      Skip = ""
	SkipNoFrame   Skip = "no_frame"
	SkipUnchanged Skip = "unchanged"
	SkipDetector  Skip = "detector"
	SkipGone      Skip = "lot_gone"
)

// Cycle is the outcome of one detection pass, logged and counted
type Cycle struct {
	ID        uuid.UUID
	LotID     int64
	FrameAt   time.Time
	StartedAt time.Time
	Took      time.Duration
	Skipped   Skip

	Detections int
	Kept       int
	Ambiguous  int
	Readings   []smoother.Reading
}

// Occupied counts debounced occupied stalls
func (c Cycle) Occupied() int {
	n := 0
	for _, r := range c.Readings {
		if r.State == smoother.Occupied {
			n++
		}
	}
	return n
}
