// Package occupancy turns one frame of detections into raw per stall occupancy
package occupancy

import (
	"slices"
	"time"

	"stallwatch/internal/core/geometry"
	perr "stallwatch/internal/platform/errors"
	pstrings "stallwatch/internal/platform/strings"

	"github.com/golang/geo/r2"
)

// Detection is one detector box in frame pixels
type Detection struct {
	ClassID    int
	Label      string
	Confidence float64
	Box        r2.Rect
}

// Stall is a configured parking space
type Stall struct {
	ID      string
	Lane    int
	Polygon geometry.Polygon
}

// Observation is the raw verdict for one stall in one frame
// Ratio is the best overlap any kept box had with the stall, won or not
type Observation struct {
	LotID    int64
	StallID  string
	At       time.Time
	Occupied bool
	Ratio    float64
}

// Ambiguity reports a box whose runner-up stall came within Eps of the winner
type Ambiguity struct {
	Box           int
	Winner        string
	WinnerRatio   float64
	RunnerUp      string
	RunnerUpRatio float64
}

// Result is the engine output for one frame
type Result struct {
	// Observations has exactly one entry per stall in input order
	Observations []Observation
	Ambiguous    []Ambiguity
	// Kept counts boxes that passed the class, confidence and area filters
	Kept int
}

// Stamp sets the lot and the cycle time on every observation
func (r Result) Stamp(lotID int64, at time.Time) Result {
	for i := range r.Observations {
		r.Observations[i].LotID = lotID
		r.Observations[i].At = at
	}
	return r
}

// Occupied returns the stall ids marked occupied
func (r Result) Occupied() []string {
	var out []string
	for _, o := range r.Observations {
		if o.Occupied {
			out = append(out, o.StallID)
		}
	}
	return out
}

// Engine is immutable after New and safe for concurrent use
type Engine struct {
	cfg     Config
	classes map[int]struct{}
}

// New validates cfg and returns an Engine
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg}
	if len(cfg.Classes) > 0 {
		e.classes = make(map[int]struct{}, len(cfg.Classes))
		for _, c := range cfg.Classes {
			e.classes[c] = struct{}{}
		}
	}
	return e, nil
}

// Config returns the engine configuration
func (e *Engine) Config() Config { return e.cfg }

// keep applies the class, confidence and area filters
func (e *Engine) keep(d Detection) bool {
	if d.Confidence < e.cfg.MinConf {
		return false
	}
	if e.classes != nil {
		if _, ok := e.classes[d.ClassID]; !ok {
			return false
		}
	}
	if d.Box.IsEmpty() {
		return false
	}
	return d.Box.X.Length()*d.Box.Y.Length() >= e.cfg.MinArea
}

// Evaluate assigns each kept box to at most one stall
// the winner has the highest ratio above Threshold; exact ties go to the lower stall id
func (e *Engine) Evaluate(dets []Detection, stalls []Stall) Result {
	res := Result{Observations: make([]Observation, len(stalls))}
	for i, s := range stalls {
		res.Observations[i] = Observation{StallID: s.ID}
	}
	if len(stalls) == 0 {
		return res
	}

	ratios := make([]float64, len(stalls))
	for bi, d := range dets {
		if !e.keep(d) {
			continue
		}
		res.Kept++
		fp := geometry.Footprint(d.Box, e.cfg.FootprintTrim)

		win, second := -1, -1
		for si, s := range stalls {
			r := geometry.OverlapRatio(s.Polygon, fp)
			ratios[si] = r
			if r > res.Observations[si].Ratio {
				res.Observations[si].Ratio = r
			}
			if r <= e.cfg.Threshold {
				continue
			}
			switch {
			case win < 0 || better(r, s.ID, ratios[win], stalls[win].ID):
				win, second = si, win
			case second < 0 || better(r, s.ID, ratios[second], stalls[second].ID):
				second = si
			}
		}
		if win < 0 {
			continue
		}
		res.Observations[win].Occupied = true
		if second >= 0 && ratios[win]-ratios[second] <= e.cfg.AmbiguityEps {
			res.Ambiguous = append(res.Ambiguous, Ambiguity{
				Box:           bi,
				Winner:        stalls[win].ID,
				WinnerRatio:   ratios[win],
				RunnerUp:      stalls[second].ID,
				RunnerUpRatio: ratios[second],
			})
		}
	}
	return res
}

// better orders candidates by ratio, then by lower id
func better(r float64, id string, rBest float64, idBest string) bool {
	if r != rBest {
		return r > rBest
	}
	return pstrings.CompareIDs(id, idBest) < 0
}

// ValidateStalls checks polygons, lanes and id uniqueness
func ValidateStalls(stalls []Stall) error {
	seen := make(map[string]struct{}, len(stalls))
	for _, s := range stalls {
		if s.ID == "" {
			return perr.WithField(perr.Configf("stall id is required"), "stalls")
		}
		if _, dup := seen[s.ID]; dup {
			return perr.WithField(perr.Configf("duplicate stall id %q", s.ID), "stalls")
		}
		seen[s.ID] = struct{}{}
		if s.Lane < 1 || s.Lane > 9 {
			return perr.WithField(perr.Configf("stall %q lane %d outside 1-9", s.ID, s.Lane), "stalls")
		}
		if err := s.Polygon.Validate(); err != nil {
			return perr.WithField(perr.Configf("stall %q: %v", s.ID, err), "stalls")
		}
	}
	return nil
}

// SortStalls orders stalls by id with numeric ids compared as numbers
func SortStalls(stalls []Stall) {
	slices.SortFunc(stalls, func(a, b Stall) int { return pstrings.CompareIDs(a.ID, b.ID) })
}
