// Package service implements the result sink and the retention pruner
package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"stallwatch/internal/modkit/repokit"
	perr "stallwatch/internal/platform/errors"
	"stallwatch/internal/platform/files"
	"stallwatch/internal/platform/logger"
	"stallwatch/internal/platform/store"
	lotsdomain "stallwatch/internal/services/lots/domain"
	"stallwatch/internal/services/sink/domain"
	"stallwatch/internal/services/sink/repo"
)

// Sink writes snapshot.json, the history row and the current row for each cycle
type Sink struct {
	db     repokit.TxRunner
	binder repokit.Binder[repo.Storage]
	ch     store.Clickhouse
	layout lotsdomain.Layout
	log    logger.Logger
}

var (
	_ domain.WriterPort = (*Sink)(nil)
	_ domain.QueryPort  = (*Sink)(nil)
)

// NewSink constructs the sink; ch may be nil
// every transaction first checks that the lot still exists, so a detached worker cannot resurrect it
func NewSink(db repokit.TxRunner, binder repokit.Binder[repo.Storage], ch store.Clickhouse, layout lotsdomain.Layout) *Sink {
	s := &Sink{binder: binder, ch: ch, layout: layout, log: *logger.Named("sink")}
	s.db = repokit.WithBeginHooks(db, s.fence)
	return s
}

// fence aborts writes for a lot that is gone; ctx carries the lot id
func (s *Sink) fence(ctx context.Context, q repokit.Queryer) error {
	id, ok := logger.LotID(ctx)
	if !ok {
		return nil
	}
	exists, err := s.binder.Bind(q).LotExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return perr.Conflictf("lot %d no longer exists", id)
	}
	return nil
}

// Write persists one snapshot
// the file swap is skipped when ctx is already done; store failures are returned for the caller to log
func (s *Sink) Write(ctx context.Context, snap domain.Snapshot) error {
	ctx = logger.WithLot(ctx, snap.LotID)
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeJSON, "encode snapshot")
	}
	if err := files.WriteAtomic(ctx, s.layout.Snapshot(snap.LotID), b, 0o644); err != nil {
		return err
	}

	if err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		r := s.binder.Bind(q)
		if err := r.AppendHistory(ctx, snap); err != nil {
			return err
		}
		return r.UpsertCurrent(ctx, snap)
	}); err != nil {
		return err
	}

	if s.ch != nil {
		if err := s.ch.Insert(ctx, "stall_states", stallRows(snap)); err != nil {
			s.log.Warn().Err(err).Int64("lot_id", snap.LotID).Msg("stall_states insert failed")
		}
	}
	return nil
}

func stallRows(snap domain.Snapshot) [][]any {
	rows := make([][]any, 0, len(snap.Stalls))
	for _, st := range snap.Stalls {
		rows = append(rows, []any{
			snap.LotID, snap.CycleID, st.StallID, uint8(st.Lane), st.State.String(),
			st.Since.UTC(), st.Ratio, snap.TakenAt.UTC(),
		})
	}
	return rows
}

// Current implements domain.QueryPort
func (s *Sink) Current(ctx context.Context, lotID int64) (domain.Snapshot, error) {
	var out domain.Snapshot
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		out, err = s.binder.Bind(q).Current(ctx, lotID)
		return err
	})
	return out, err
}

// History implements domain.QueryPort
func (s *Sink) History(ctx context.Context, lotID int64, limit int) ([]domain.Snapshot, error) {
	var out []domain.Snapshot
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		out, err = s.binder.Bind(q).History(ctx, lotID, limit)
		return err
	})
	return out, err
}

// Snapshot returns the current snapshot file of a lot, falling back to the store
func (s *Sink) Snapshot(ctx context.Context, lotID int64) (domain.Snapshot, error) {
	b, err := os.ReadFile(s.layout.Snapshot(lotID))
	switch {
	case err == nil:
		var snap domain.Snapshot
		if err := json.Unmarshal(b, &snap); err != nil {
			return domain.Snapshot{}, perr.Wrap(err, perr.ErrorCodeJSON, "decode snapshot file")
		}
		return snap, nil
	case errors.Is(err, os.ErrNotExist):
		return s.Current(ctx, lotID)
	default:
		return domain.Snapshot{}, perr.Wrapf(err, perr.ErrorCodeResource, "read snapshot of lot %d", lotID)
	}
}

// Summary returns available, total, percentage and last updated
// a lot without snapshots yet has a zero summary
func (s *Sink) Summary(ctx context.Context, lotID int64) (domain.Summary, error) {
	snap, err := s.Snapshot(ctx, lotID)
	if err != nil && !perr.IsCode(err, perr.ErrorCodeNotFound) {
		return domain.Summary{}, err
	}
	sum := snap.Summarize()
	sum.LotID = lotID
	_, sum.HasOverlay, _ = files.Latest(s.layout.Overlays(lotID))
	_, sum.HasMap, _ = files.Latest(s.layout.Maps(lotID))
	return sum, nil
}

// LatestImage returns the newest JPEG in dir
func (s *Sink) LatestImage(dir string) ([]byte, time.Time, error) {
	e, ok, err := files.Latest(dir)
	if err != nil {
		return nil, time.Time{}, err
	}
	if !ok {
		return nil, time.Time{}, perr.NotFoundf("no image rendered yet")
	}
	b, err := os.ReadFile(e.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// pruned between listing and read
			return nil, time.Time{}, perr.NotFoundf("no image rendered yet")
		}
		return nil, time.Time{}, perr.Wrapf(err, perr.ErrorCodeResource, "read %s", e.Path)
	}
	return b, e.ModTime, nil
}

// Layout returns the lot directory layout
func (s *Sink) Layout() lotsdomain.Layout { return s.layout }
