package smoother

import (
	"sync"
	"time"

	"stallwatch/internal/core/geometry"
	"stallwatch/internal/core/occupancy"
)

// Reading is the visible part of a track
type Reading struct {
	StallID string    `json:"stall_id"`
	State   State     `json:"state"`
	Since   time.Time `json:"since,omitzero"`
	Changed bool      `json:"-"`
}

type entry struct {
	poly  geometry.Polygon
	track *Track
}

// Bank holds the tracks of one lot
type Bank struct {
	mu     sync.Mutex
	cfg    Config
	lotID  int64
	tracks map[string]*entry
	cycles int64
}

// NewBank validates cfg and returns an empty bank
func NewBank(cfg Config) (*Bank, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Bank{cfg: cfg, tracks: map[string]*entry{}}, nil
}

// Sync aligns the bank with a stall set
// removed stalls lose their track, stalls with a new polygon start over as unknown
func (b *Bank) Sync(stalls []occupancy.Stall) {
	b.mu.Lock()
	defer b.mu.Unlock()

	keep := make(map[string]struct{}, len(stalls))
	for _, s := range stalls {
		keep[s.ID] = struct{}{}
		e, ok := b.tracks[s.ID]
		switch {
		case !ok:
			b.tracks[s.ID] = &entry{poly: s.Polygon, track: NewTrack(b.cfg)}
		case !e.poly.Equal(s.Polygon):
			e.poly = s.Polygon
			e.track.reset()
		}
	}
	for id := range b.tracks {
		if _, ok := keep[id]; !ok {
			delete(b.tracks, id)
		}
	}
}

// Apply feeds one cycle of observations, each at its own At
// stall ids the bank does not know are ignored, as are other lots' observations
func (b *Bank) Apply(obs []occupancy.Observation) []Reading {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cycles++
	out := make([]Reading, 0, len(obs))
	for _, o := range obs {
		if b.lotID != 0 && o.LotID != b.lotID {
			continue
		}
		e, ok := b.tracks[o.StallID]
		if !ok {
			continue
		}
		changed := e.track.Observe(o.Occupied, o.At)
		out = append(out, Reading{StallID: o.StallID, State: e.track.State(), Since: e.track.Since(), Changed: changed})
	}
	return out
}

// Cycles counts Apply calls since the bank was created
func (b *Bank) Cycles() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cycles
}

// Banks keys one Bank per lot
type Banks struct {
	mu  sync.Mutex
	cfg Config
	m   map[int64]*Bank
}

// NewBanks validates cfg once for every bank it will hand out
func NewBanks(cfg Config) (*Banks, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Banks{cfg: cfg, m: map[int64]*Bank{}}, nil
}

// For returns the lot's bank, creating it on first use
func (bs *Banks) For(lotID int64) *Bank {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.m[lotID]
	if !ok {
		b = &Bank{cfg: bs.cfg, lotID: lotID, tracks: map[string]*entry{}}
		bs.m[lotID] = b
	}
	return b
}

// Drop forgets the lot's bank
func (bs *Banks) Drop(lotID int64) {
	bs.mu.Lock()
	delete(bs.m, lotID)
	bs.mu.Unlock()
}

// Len is the number of lots with a bank; reported by the meta service
func (bs *Banks) Len() int {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return len(bs.m)
}
