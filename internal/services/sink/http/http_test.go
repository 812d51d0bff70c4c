package http_test

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stallwatch/internal/core/smoother"
	"stallwatch/internal/modkit/httpkit"
	"stallwatch/internal/platform/config"
	perr "stallwatch/internal/platform/errors"
	phttp "stallwatch/internal/platform/net/http"
	lotsdomain "stallwatch/internal/services/lots/domain"
	"stallwatch/internal/services/sink/domain"
	sinkhttp "stallwatch/internal/services/sink/http"

	"github.com/go-chi/chi/v5"
)

type fakeLots struct{ ids map[int64]bool }

func (f fakeLots) View(id int64) (lotsdomain.LotView, bool) {
	return lotsdomain.LotView{Lot: lotsdomain.Lot{ID: id}}, f.ids[id]
}
func (f fakeLots) Views() []lotsdomain.LotView { return nil }
func (f fakeLots) Enter(int64) (func(), bool)  { return func() {}, true }

type fakeSink struct {
	snaps  map[int64]domain.Snapshot
	images map[string][]byte
	mod    time.Time
	limit  int
}

func (f *fakeSink) Snapshot(_ context.Context, id int64) (domain.Snapshot, error) {
	s, ok := f.snaps[id]
	if !ok {
		return s, perr.NotFoundf("no snapshot for lot %d", id)
	}
	return s, nil
}

func (f *fakeSink) Summary(_ context.Context, id int64) (domain.Summary, error) {
	sum := f.snaps[id].Summarize()
	sum.LotID = id
	return sum, nil
}

func (f *fakeSink) History(_ context.Context, id int64, limit int) ([]domain.Snapshot, error) {
	f.limit = limit
	s, ok := f.snaps[id]
	if !ok {
		return nil, nil
	}
	return []domain.Snapshot{s}, nil
}

func (f *fakeSink) LatestImage(dir string) ([]byte, time.Time, error) {
	b, ok := f.images[dir]
	if !ok {
		return nil, time.Time{}, perr.NotFoundf("no image rendered yet")
	}
	return b, f.mod, nil
}

func (f *fakeSink) Layout() lotsdomain.Layout { return lotsdomain.Layout{Root: "/data"} }

func newAPI(t *testing.T) (phttp.Router, *fakeSink) {
	t.Helper()
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	f := &fakeSink{
		snaps: map[int64]domain.Snapshot{
			1: {LotID: 1, TakenAt: at, Stalls: []domain.StallState{
				{StallID: "1", State: smoother.Open},
				{StallID: "2", State: smoother.Occupied},
				{StallID: "3", State: smoother.Open},
				{StallID: "4", State: smoother.Unknown},
			}},
		},
		images: map[string][]byte{},
		mod:    at,
	}
	f.images[f.Layout().Overlays(1)] = []byte{0xFF, 0xD8, 0xFF, 0xD9}
	lots := fakeLots{ids: map[int64]bool{1: true, 2: true}}

	r := phttp.AdaptChi(chi.NewRouter())
	httpkit.MountAPIV1(r, httpkit.CommonStack(config.New().Prefix("SINK_HTTP_TEST_")), func(api httpkit.Router) {
		api.Route("/lots", func(lr httpkit.Router) { sinkhttp.Register(lr, f, lots) })
	})
	return r, f
}

func get(r phttp.Router, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.Mux().ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestSummaryCountsOnlyOpenAsAvailable(t *testing.T) {
	r, _ := newAPI(t)
	rec := get(r, "/api/v1/lots/1/summary")
	if rec.Code != 200 {
		t.Fatalf("summary = %d %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Data domain.Summary `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	s := env.Data
	if s.Available != 2 || s.Total != 4 || s.Percentage != 50 || s.LastUpdated == nil {
		t.Fatalf("summary = %+v", s)
	}
}

func TestSnapshotAndImages(t *testing.T) {
	r, _ := newAPI(t)

	if rec := get(r, "/api/v1/lots/1/snapshot"); rec.Code != 200 {
		t.Fatalf("snapshot = %d", rec.Code)
	}

	rec := get(r, "/api/v1/lots/1/overlay")
	if rec.Code != 200 || rec.Header().Get("Content-Type") != "image/jpeg" || rec.Body.Len() != 4 {
		t.Fatalf("overlay = %d %q len=%d", rec.Code, rec.Header().Get("Content-Type"), rec.Body.Len())
	}
	if got := rec.Header().Get("Last-Modified"); got != "Fri, 01 May 2026 09:30:00 GMT" {
		t.Fatalf("Last-Modified = %q", got)
	}
}

func TestMissingResources(t *testing.T) {
	r, _ := newAPI(t)
	cases := []struct {
		path string
		code int
	}{
		{"/api/v1/lots/9/summary", stdhttp.StatusNotFound},
		{"/api/v1/lots/9/overlay", stdhttp.StatusNotFound},
		{"/api/v1/lots/2/snapshot", stdhttp.StatusNotFound},
		{"/api/v1/lots/1/map", stdhttp.StatusNotFound},
		{"/api/v1/lots/x/map", stdhttp.StatusUnprocessableEntity},
		{"/api/v1/lots/9/history", stdhttp.StatusNotFound},
		{"/api/v1/lots/1/history?limit=0", stdhttp.StatusUnprocessableEntity},
		{"/api/v1/lots/1/history?limit=ten", stdhttp.StatusUnprocessableEntity},
	}
	for _, c := range cases {
		if rec := get(r, c.path); rec.Code != c.code {
			t.Fatalf("%s = %d, want %d (%s)", c.path, rec.Code, c.code, rec.Body.String())
		}
	}
}

func TestHistoryLimits(t *testing.T) {
	r, f := newAPI(t)
	cases := []struct {
		path  string
		limit int
		n     int
	}{
		{"/api/v1/lots/1/history", 50, 1},
		{"/api/v1/lots/1/history?limit=3", 3, 1},
		{"/api/v1/lots/1/history?limit=100000", sinkhttp.HistoryLimit, 1},
		{"/api/v1/lots/2/history", 50, 0},
	}
	for _, c := range cases {
		rec := get(r, c.path)
		if rec.Code != 200 {
			t.Fatalf("%s = %d %s", c.path, rec.Code, rec.Body.String())
		}
		var env struct {
			Data []domain.Snapshot `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatal(err)
		}
		if f.limit != c.limit || env.Data == nil || len(env.Data) != c.n {
			t.Fatalf("%s: limit=%d rows=%v, want limit=%d rows=%d", c.path, f.limit, env.Data, c.limit, c.n)
		}
	}
}
