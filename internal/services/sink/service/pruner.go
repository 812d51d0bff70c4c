package service

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"stallwatch/internal/core/retention"
	"stallwatch/internal/modkit/repokit"
	perr "stallwatch/internal/platform/errors"
	"stallwatch/internal/platform/files"
	"stallwatch/internal/platform/logger"
	lotsdomain "stallwatch/internal/services/lots/domain"
	"stallwatch/internal/services/sink/domain"
	"stallwatch/internal/services/sink/repo"
)

// seam for tests
var remove = os.Remove

// Pruner applies the retention policy to lot artifacts and the snapshot history
type Pruner struct {
	db     repokit.TxRunner
	binder repokit.Binder[repo.Storage]
	layout lotsdomain.Layout
	policy retention.Policy
	every  time.Duration
	log    logger.Logger
	now    func() time.Time
}

var _ domain.PrunerPort = (*Pruner)(nil)

// NewPruner constructs a pruner; every is the Run interval
func NewPruner(db repokit.TxRunner, binder repokit.Binder[repo.Storage], layout lotsdomain.Layout, p retention.Policy, every time.Duration) (*Pruner, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if every <= 0 {
		every = time.Minute
	}
	return &Pruner{
		db:     db,
		binder: binder,
		layout: layout,
		policy: p,
		every:  every,
		log:    *logger.Named("pruner"),
		now:    time.Now,
	}, nil
}

// Policy returns the effective policy
func (p *Pruner) Policy() retention.Policy { return p.policy }

// lotDirs lists lot ids that have a directory under the layout root
func (p *Pruner) lotDirs() ([]int64, error) {
	des, err := os.ReadDir(p.layout.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeResource, "list %s", p.layout.Root)
	}
	var out []int64
	for _, de := range des {
		if !de.IsDir() || !strings.HasPrefix(de.Name(), "lot") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(de.Name(), "lot"), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// Prune runs one sweep; a failing lot is logged and the sweep continues
func (p *Pruner) Prune(ctx context.Context, o domain.PruneOptions) (domain.PruneReport, error) {
	var rep domain.PruneReport
	now := p.now()

	lots := []int64{o.LotID}
	if o.LotID == 0 {
		var err error
		if lots, err = p.lotDirs(); err != nil {
			return rep, err
		}
	}

	for _, id := range lots {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Lots++
		for _, sub := range lotsdomain.ArtifactDirs {
			p.pruneDir(filepath.Join(p.layout.Dir(id), sub), now, o.DryRun, &rep)
		}
	}

	rows, err := p.pruneHistory(ctx, lots, o, now)
	rep.Rows = rows
	if err != nil {
		return rep, err
	}
	p.log.Info().Int("lots", rep.Lots).Int("files", rep.Files).Int64("bytes", rep.Bytes).
		Int64("rows", rep.Rows).Bool("dry_run", o.DryRun).Msg("retention sweep")
	return rep, nil
}

func (p *Pruner) pruneDir(dir string, now time.Time, dry bool, rep *domain.PruneReport) {
	es, err := files.List(dir, lotsdomain.LatestFrame)
	if err != nil {
		p.log.Warn().Err(err).Str("dir", dir).Msg("list artifacts failed")
		return
	}
	arts := make([]retention.Artifact, len(es))
	for i, e := range es {
		arts[i] = retention.Artifact{Name: e.Name, ModTime: e.ModTime, Size: e.Size}
	}
	for _, a := range retention.Select(arts, now, p.policy) {
		path := filepath.Join(dir, a.Name)
		if !dry {
			if err := remove(path); err != nil && !os.IsNotExist(err) {
				p.log.Warn().Err(err).Str("path", path).Msg("remove artifact failed")
				continue
			}
		}
		rep.Files++
		rep.Bytes += a.Size
		rep.Selected = append(rep.Selected, path)
	}
}

func (p *Pruner) pruneHistory(ctx context.Context, lots []int64, o domain.PruneOptions, now time.Time) (int64, error) {
	before := now.Add(-p.policy.MaxAge)
	var total int64
	err := p.db.Tx(ctx, func(q repokit.Queryer) error {
		r := p.binder.Bind(q)
		ids := lots
		if o.LotID == 0 {
			hist, err := r.HistoryLots(ctx)
			if err != nil {
				return err
			}
			ids = append(slices.Clone(lots), hist...)
			slices.Sort(ids)
			ids = slices.Compact(ids)
		}
		for _, id := range ids {
			n, err := r.PruneHistory(ctx, id, p.policy.MaxFiles, before, o.DryRun)
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}

// Run sweeps every interval until ctx is done; failures are logged
func (p *Pruner) Run(ctx context.Context) error {
	t := time.NewTicker(p.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := p.Prune(ctx, domain.PruneOptions{}); err != nil && ctx.Err() == nil {
				p.log.Error().Err(err).Msg("retention sweep failed")
			}
		}
	}
}
