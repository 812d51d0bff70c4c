package repo

import (
	"context"
	"testing"
	"time"

	"stallwatch/internal/core/smoother"
	perr "stallwatch/internal/platform/errors"
	"stallwatch/internal/platform/store/storetest"
	lotsdomain "stallwatch/internal/services/lots/domain"
	lotsrepo "stallwatch/internal/services/lots/repo"
	"stallwatch/internal/services/sink/domain"

	"github.com/google/uuid"
)

func setup(t *testing.T) (Storage, lotsrepo.Storage, int64) {
	t.Helper()
	ctx := context.Background()
	st := storetest.SQLite(t)
	if err := lotsrepo.Migrate(ctx, st.SQL, st.Dialect); err != nil {
		t.Fatal(err)
	}
	if err := Migrate(ctx, st.SQL, st.Dialect); err != nil {
		t.Fatal(err)
	}
	lots := lotsrepo.New().Bind(st.SQL)
	now := time.Now().UTC()
	id, err := lots.InsertLot(ctx, lotsdomain.Lot{Name: "n", SourceURI: "file:///x.jpg", TotalStalls: 2, Desired: lotsdomain.DesiredRunning, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	return New().Bind(st.SQL), lots, id
}

func snap(lot int64, at time.Time) domain.Snapshot {
	return domain.Snapshot{
		LotID: lot, CycleID: uuid.New(), TakenAt: at, FrameAt: at,
		Overlay: "overlay_1.jpg",
		Stalls: []domain.StallState{
			{StallID: "1", Lane: 1, State: smoother.Occupied, Since: at, Ratio: 0.8},
			{StallID: "2", Lane: 2, State: smoother.Unknown},
		},
	}
}

func TestUpsertCurrentAndHistory(t *testing.T) {
	r, _, id := setup(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	if _, err := r.Current(ctx, id); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("Current before write = %v", err)
	}
	var last domain.Snapshot
	for i := 0; i < 3; i++ {
		last = snap(id, t0.Add(time.Duration(i)*time.Second))
		if err := r.AppendHistory(ctx, last); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
		if err := r.UpsertCurrent(ctx, last); err != nil {
			t.Fatalf("UpsertCurrent: %v", err)
		}
	}
	cur, err := r.Current(ctx, id)
	if err != nil || cur.CycleID != last.CycleID || cur.Overlay != "overlay_1.jpg" {
		t.Fatalf("Current = %+v, %v", cur, err)
	}
	if len(cur.Stalls) != 2 || cur.Stalls[0].State != smoother.Occupied || cur.Stalls[1].State != smoother.Unknown {
		t.Fatalf("stalls = %+v", cur.Stalls)
	}
	hist, err := r.History(ctx, id, 2)
	if err != nil || len(hist) != 2 || hist[0].CycleID != last.CycleID {
		t.Fatalf("History = %+v, %v", hist, err)
	}
	if ok, _ := r.LotExists(ctx, id); !ok {
		t.Fatalf("LotExists = false")
	}
	if ok, _ := r.LotExists(ctx, id+1); ok {
		t.Fatalf("LotExists unknown = true")
	}
}

func TestPruneHistoryKeepsNewest(t *testing.T) {
	r, lots, id := setup(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := r.AppendHistory(ctx, snap(id, now.Add(-time.Duration(5-i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	// keep 0 still keeps the newest row
	n, err := r.PruneHistory(ctx, id, 0, now, true)
	if err != nil || n != 4 {
		t.Fatalf("dry count = %d, %v", n, err)
	}
	// only rows older than the cutoff go
	n, err = r.PruneHistory(ctx, id, 1, now.Add(-150*time.Minute), false)
	if err != nil || n != 3 {
		t.Fatalf("pruned = %d, %v", n, err)
	}
	hist, _ := r.History(ctx, id, 10)
	if len(hist) != 2 {
		t.Fatalf("left = %d", len(hist))
	}

	if err := lots.DeleteLot(ctx, id); err != nil {
		t.Fatal(err)
	}
	if ids, _ := r.HistoryLots(ctx); len(ids) != 0 {
		t.Fatalf("history survived lot delete: %v", ids)
	}
}
