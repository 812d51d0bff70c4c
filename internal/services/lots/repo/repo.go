// Package repo provides the lots repository implementation
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"stallwatch/internal/core/geometry"
	"stallwatch/internal/core/occupancy"
	"stallwatch/internal/modkit/repokit"
	perr "stallwatch/internal/platform/errors"
	"stallwatch/internal/platform/store"
	"stallwatch/internal/services/lots/domain"
)

type (
	sqlRepo struct{ q repokit.Queryer }
	binder  struct{}
)

// New constructs a repo binder; queries are shared by postgres and sqlite
func New() repokit.Binder[Storage] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Storage { return &sqlRepo{q: q} }

// Storage defines the lots repository
type Storage interface {
	InsertLot(ctx context.Context, l domain.Lot) (int64, error)
	GetLot(ctx context.Context, id int64) (domain.Lot, error)
	ListLots(ctx context.Context) ([]domain.Lot, error)
	UpdateLot(ctx context.Context, l domain.Lot) error
	SetFlip(ctx context.Context, id int64, flip bool, at time.Time) error
	SetDesired(ctx context.Context, id int64, d domain.Desired, at time.Time) error
	DeleteLot(ctx context.Context, id int64) error

	InsertStalls(ctx context.Context, lotID int64, stalls []occupancy.Stall) error
	DeleteStalls(ctx context.Context, lotID int64) error
	ListStalls(ctx context.Context, lotID int64) ([]occupancy.Stall, error)
}

const lotCols = `id, name, source_uri, total_stalls, flip, desired, created_at, updated_at`

func scanLot(r store.Row) (domain.Lot, error) {
	var l domain.Lot
	var desired string
	err := r.Scan(&l.ID, &l.Name, &l.SourceURI, &l.TotalStalls, &l.Flip, &desired, &l.CreatedAt, &l.UpdatedAt)
	l.Desired = domain.Desired(desired)
	l.CreatedAt, l.UpdatedAt = l.CreatedAt.UTC(), l.UpdatedAt.UTC()
	return l, err
}

// InsertLot implements Storage
func (s *sqlRepo) InsertLot(ctx context.Context, l domain.Lot) (int64, error) {
	id, err := store.Scalar[int64](ctx, s.q, `
		INSERT INTO lots (name, source_uri, total_stalls, flip, desired, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		l.Name, l.SourceURI, l.TotalStalls, l.Flip, string(l.Desired), l.CreatedAt.UTC(), l.UpdatedAt.UTC())
	if err != nil {
		return 0, perr.FromDB(err, "insert lot")
	}
	return id, nil
}

// GetLot implements Storage
func (s *sqlRepo) GetLot(ctx context.Context, id int64) (domain.Lot, error) {
	l, err := store.One(ctx, s.q, scanLot, `SELECT `+lotCols+` FROM lots WHERE id = $1`, id)
	if errors.Is(err, perr.ErrNotFound) {
		return domain.Lot{}, perr.NotFoundf("lot %d not found", id)
	}
	if err != nil {
		return domain.Lot{}, perr.FromDB(err, "get lot")
	}
	return l, nil
}

// ListLots implements Storage
func (s *sqlRepo) ListLots(ctx context.Context) ([]domain.Lot, error) {
	ls, err := store.Many(ctx, s.q, scanLot, `SELECT `+lotCols+` FROM lots ORDER BY id`)
	if err != nil {
		return nil, perr.FromDB(err, "list lots")
	}
	return ls, nil
}

// UpdateLot implements Storage; it rewrites the editable columns of l
func (s *sqlRepo) UpdateLot(ctx context.Context, l domain.Lot) error {
	err := store.ExecOne(ctx, s.q, `
		UPDATE lots SET name = $2, source_uri = $3, total_stalls = $4, updated_at = $5
		WHERE id = $1`,
		l.ID, l.Name, l.SourceURI, l.TotalStalls, l.UpdatedAt.UTC())
	return mapWrite(err, l.ID, "update lot")
}

// SetFlip implements Storage
func (s *sqlRepo) SetFlip(ctx context.Context, id int64, flip bool, at time.Time) error {
	err := store.ExecOne(ctx, s.q, `UPDATE lots SET flip = $2, updated_at = $3 WHERE id = $1`, id, flip, at.UTC())
	return mapWrite(err, id, "set flip")
}

// SetDesired implements Storage
func (s *sqlRepo) SetDesired(ctx context.Context, id int64, d domain.Desired, at time.Time) error {
	err := store.ExecOne(ctx, s.q, `UPDATE lots SET desired = $2, updated_at = $3 WHERE id = $1`, id, string(d), at.UTC())
	return mapWrite(err, id, "set desired")
}

// DeleteLot implements Storage; stalls go with it
func (s *sqlRepo) DeleteLot(ctx context.Context, id int64) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM lots WHERE id = $1`, id); err != nil {
		return perr.FromDB(err, "delete lot")
	}
	return nil
}

// InsertStalls implements Storage
func (s *sqlRepo) InsertStalls(ctx context.Context, lotID int64, stalls []occupancy.Stall) error {
	for _, st := range stalls {
		poly, err := json.Marshal(st.Polygon.Pairs())
		if err != nil {
			return perr.Wrapf(err, perr.ErrorCodeJSON, "encode polygon %s", st.ID)
		}
		if _, err := s.q.Exec(ctx, `
			INSERT INTO stalls (lot_id, stall_id, lane, polygon) VALUES ($1, $2, $3, $4)`,
			lotID, st.ID, st.Lane, string(poly)); err != nil {
			return perr.FromDB(err, "insert stall")
		}
	}
	return nil
}

// DeleteStalls implements Storage
func (s *sqlRepo) DeleteStalls(ctx context.Context, lotID int64) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM stalls WHERE lot_id = $1`, lotID); err != nil {
		return perr.FromDB(err, "delete stalls")
	}
	return nil
}

// ListStalls implements Storage
func (s *sqlRepo) ListStalls(ctx context.Context, lotID int64) ([]occupancy.Stall, error) {
	out, err := store.Many(ctx, s.q, func(r store.Row) (occupancy.Stall, error) {
		var st occupancy.Stall
		var poly string
		if err := r.Scan(&st.ID, &st.Lane, &poly); err != nil {
			return st, err
		}
		var pairs [][2]float64
		if err := json.Unmarshal([]byte(poly), &pairs); err != nil {
			return st, perr.Wrapf(err, perr.ErrorCodeJSON, "decode polygon %s", st.ID)
		}
		st.Polygon = geometry.FromPairs(pairs)
		return st, nil
	}, `SELECT stall_id, lane, polygon FROM stalls WHERE lot_id = $1`, lotID)
	if err != nil {
		return nil, perr.FromDB(err, "list stalls")
	}
	occupancy.SortStalls(out)
	return out, nil
}

func mapWrite(err error, id int64, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, perr.ErrNotFound):
		return perr.NotFoundf("lot %d not found", id)
	default:
		return perr.FromDB(err, op)
	}
}
