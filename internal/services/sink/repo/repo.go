// Package repo stores snapshot history and the current snapshot of each lot
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"stallwatch/internal/modkit/repokit"
	perr "stallwatch/internal/platform/errors"
	"stallwatch/internal/platform/store"
	"stallwatch/internal/services/sink/domain"

	"github.com/google/uuid"
)

type (
	sqlRepo struct{ q repokit.Queryer }
	binder  struct{}
)

// New constructs a repo binder; queries are shared by postgres and sqlite
func New() repokit.Binder[Storage] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Storage { return &sqlRepo{q: q} }

// Storage defines the snapshot repository
type Storage interface {
	LotExists(ctx context.Context, lotID int64) (bool, error)
	AppendHistory(ctx context.Context, s domain.Snapshot) error
	UpsertCurrent(ctx context.Context, s domain.Snapshot) error
	Current(ctx context.Context, lotID int64) (domain.Snapshot, error)
	History(ctx context.Context, lotID int64, limit int) ([]domain.Snapshot, error)
	HistoryLots(ctx context.Context) ([]int64, error)
	// PruneHistory removes rows beyond the newest keep that are older than before
	// with dryRun it only counts them
	PruneHistory(ctx context.Context, lotID int64, keep int, before time.Time, dryRun bool) (int64, error)
}

const snapCols = `lot_id, cycle_id, taken_at, frame_at, frame, overlay, map, open, occupied, unknown, stalls`

func args(s domain.Snapshot) ([]any, error) {
	stalls, err := json.Marshal(s.Stalls)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeJSON, "encode snapshot stalls")
	}
	open, occ, unk := s.Counts()
	return []any{
		s.LotID, s.CycleID.String(), s.TakenAt.UTC(), s.FrameAt.UTC(),
		s.Frame, s.Overlay, s.Map, open, occ, unk, string(stalls),
	}, nil
}

func scanSnapshot(r store.Row) (domain.Snapshot, error) {
	var (
		s             domain.Snapshot
		cycle, stalls string
		open, occ     int
		unk           int
	)
	if err := r.Scan(&s.LotID, &cycle, &s.TakenAt, &s.FrameAt, &s.Frame, &s.Overlay, &s.Map, &open, &occ, &unk, &stalls); err != nil {
		return s, err
	}
	s.TakenAt, s.FrameAt = s.TakenAt.UTC(), s.FrameAt.UTC()
	id, err := uuid.Parse(cycle)
	if err != nil {
		return s, perr.Wrapf(err, perr.ErrorCodeJSON, "parse cycle id %q", cycle)
	}
	s.CycleID = id
	if err := json.Unmarshal([]byte(stalls), &s.Stalls); err != nil {
		return s, perr.Wrap(err, perr.ErrorCodeJSON, "decode snapshot stalls")
	}
	return s, nil
}

// LotExists implements Storage
func (r *sqlRepo) LotExists(ctx context.Context, lotID int64) (bool, error) {
	n, err := store.Scalar[int64](ctx, r.q, `SELECT COUNT(*) FROM lots WHERE id = $1`, lotID)
	if err != nil {
		return false, perr.FromDB(err, "check lot")
	}
	return n > 0, nil
}

// AppendHistory implements Storage
func (r *sqlRepo) AppendHistory(ctx context.Context, s domain.Snapshot) error {
	a, err := args(s)
	if err != nil {
		return err
	}
	if _, err := r.q.Exec(ctx, `
		INSERT INTO snapshots (`+snapCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, a...); err != nil {
		return perr.FromDB(err, "append snapshot")
	}
	return nil
}

// UpsertCurrent implements Storage
func (r *sqlRepo) UpsertCurrent(ctx context.Context, s domain.Snapshot) error {
	a, err := args(s)
	if err != nil {
		return err
	}
	if _, err := r.q.Exec(ctx, `
		INSERT INTO current_snapshots (`+snapCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (lot_id) DO UPDATE SET
			cycle_id = excluded.cycle_id,
			taken_at = excluded.taken_at,
			frame_at = excluded.frame_at,
			frame    = excluded.frame,
			overlay  = excluded.overlay,
			map      = excluded.map,
			open     = excluded.open,
			occupied = excluded.occupied,
			unknown  = excluded.unknown,
			stalls   = excluded.stalls`, a...); err != nil {
		return perr.FromDB(err, "upsert current snapshot")
	}
	return nil
}

// Current implements Storage
func (r *sqlRepo) Current(ctx context.Context, lotID int64) (domain.Snapshot, error) {
	s, err := store.One(ctx, r.q, scanSnapshot, `SELECT `+snapCols+` FROM current_snapshots WHERE lot_id = $1`, lotID)
	if errors.Is(err, perr.ErrNotFound) {
		return domain.Snapshot{}, perr.NotFoundf("no snapshot for lot %d yet", lotID)
	}
	if err != nil {
		return domain.Snapshot{}, perr.FromDB(err, "get current snapshot")
	}
	return s, nil
}

// History implements Storage; newest first
func (r *sqlRepo) History(ctx context.Context, lotID int64, limit int) ([]domain.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	out, err := store.Many(ctx, r.q, scanSnapshot, `
		SELECT `+snapCols+` FROM snapshots
		WHERE lot_id = $1
		ORDER BY taken_at DESC, id DESC
		LIMIT $2`, lotID, limit)
	if err != nil {
		return nil, perr.FromDB(err, "list snapshot history")
	}
	return out, nil
}

// HistoryLots implements Storage
func (r *sqlRepo) HistoryLots(ctx context.Context) ([]int64, error) {
	out, err := store.Many(ctx, r.q, func(row store.Row) (int64, error) {
		var id int64
		return id, row.Scan(&id)
	}, `SELECT DISTINCT lot_id FROM snapshots ORDER BY lot_id`)
	if err != nil {
		return nil, perr.FromDB(err, "list history lots")
	}
	return out, nil
}

const prunable = `
	FROM snapshots
	WHERE lot_id = $1
	  AND taken_at < $2
	  AND id NOT IN (
		SELECT id FROM snapshots WHERE lot_id = $1
		ORDER BY taken_at DESC, id DESC
		LIMIT $3
	  )`

// PruneHistory implements Storage
func (r *sqlRepo) PruneHistory(ctx context.Context, lotID int64, keep int, before time.Time, dryRun bool) (int64, error) {
	// the newest row is never eligible
	keep = max(keep, 1)
	if dryRun {
		n, err := store.Scalar[int64](ctx, r.q, `SELECT COUNT(*)`+prunable, lotID, before.UTC(), keep)
		if err != nil {
			return 0, perr.FromDB(err, "count prunable snapshots")
		}
		return n, nil
	}
	tag, err := r.q.Exec(ctx, `DELETE`+prunable, lotID, before.UTC(), keep)
	if err != nil {
		return 0, perr.FromDB(err, "prune snapshots")
	}
	return tag.RowsAffected(), nil
}
