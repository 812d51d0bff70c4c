package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync"
	"testing"
	"time"

	"stallwatch/internal/core/geometry"
	"stallwatch/internal/core/occupancy"
	"stallwatch/internal/core/smoother"
	perr "stallwatch/internal/platform/errors"
	"stallwatch/internal/platform/files"
	kit "stallwatch/internal/platform/testkit"
	"stallwatch/internal/services/detection/domain"
	"stallwatch/internal/services/detection/guardrails"
	lotsdomain "stallwatch/internal/services/lots/domain"
	sinkdomain "stallwatch/internal/services/sink/domain"
)

var stalls = []occupancy.Stall{
	{ID: "1", Lane: 1, Polygon: geometry.FromPairs([][2]float64{{10, 10}, {90, 10}, {90, 110}, {10, 110}})},
	{ID: "2", Lane: 1, Polygon: geometry.FromPairs([][2]float64{{110, 10}, {190, 10}, {190, 110}, {110, 110}})},
}

// a car whose footprint covers stall 1
var car = occupancy.Detection{ClassID: 2, Label: "car", Confidence: 0.9, Box: geometry.Box(10, -60, 90, 110)}

type views struct {
	mu      sync.Mutex
	gone    bool
	entered int
}

func (v *views) View(id int64) (lotsdomain.LotView, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return lotsdomain.LotView{Lot: lotsdomain.Lot{ID: id}, Stalls: stalls}, !v.gone
}
func (v *views) Views() []lotsdomain.LotView { return nil }
func (v *views) Enter(int64) (func(), bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.gone {
		return nil, false
	}
	v.entered++
	return func() {}, true
}

type detector struct {
	mu    sync.Mutex
	dets  []occupancy.Detection
	block bool
	calls int
}

func (d *detector) Detect(ctx context.Context, f domain.Frame) ([]occupancy.Detection, error) {
	d.mu.Lock()
	d.calls++
	block, dets := d.block, d.dets
	d.mu.Unlock()
	if len(f.JPEG) == 0 {
		return nil, perr.Detectorf("empty frame")
	}
	if block {
		<-ctx.Done()
		return nil, perr.Wrap(ctx.Err(), perr.ErrorCodeDetector, "detector timed out")
	}
	return dets, nil
}

type sink struct {
	mu    sync.Mutex
	snaps []sinkdomain.Snapshot
	err   error
}

func (s *sink) Write(_ context.Context, snap sinkdomain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

func (s *sink) last() sinkdomain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps[len(s.snaps)-1]
}

type fixture struct {
	w      *Worker
	views  *views
	det    *detector
	sink   *sink
	bank   *smoother.Bank
	layout lotsdomain.Layout
	frame  []byte
	mod    time.Time
}

func newFixture(t *testing.T, render bool) *fixture {
	t.Helper()
	layout := lotsdomain.Layout{Root: t.TempDir()}
	for _, d := range []string{layout.Frames(1), layout.Overlays(1), layout.Maps(1)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	engine, err := occupancy.New(occupancy.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	banks, err := smoother.NewBanks(smoother.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	bank := banks.For(1)

	img := image.NewRGBA(image.Rect(0, 0, 200, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: 90, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		views:  &views{},
		det:    &detector{dets: []occupancy.Detection{car}},
		sink:   &sink{},
		bank:   bank,
		layout: layout,
		frame:  buf.Bytes(),
		mod:    time.Date(2026, 4, 2, 7, 0, 0, 0, time.UTC),
	}
	f.w = New(1, Deps{
		Lots:     f.views,
		Layout:   layout,
		Detector: f.det,
		Engine:   engine,
		Bank:     bank,
		Sink:     f.sink,
	}, Config{
		Every:    10 * time.Millisecond,
		Timeouts: guardrails.Timeouts{Detect: 20 * time.Millisecond},
		Render:   render,
	})
	return f
}

// newFrame swaps latest.jpg and moves its mtime forward
func (f *fixture) newFrame(t *testing.T) {
	t.Helper()
	f.mod = f.mod.Add(time.Second)
	if err := os.WriteFile(f.layout.Latest(1), f.frame, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(f.layout.Latest(1), f.mod, f.mod); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) cycle(t *testing.T) domain.Cycle {
	t.Helper()
	c, err := f.w.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	return c
}

func stallOf(t *testing.T, snap sinkdomain.Snapshot, id string) sinkdomain.StallState {
	t.Helper()
	for _, st := range snap.Stalls {
		if st.StallID == id {
			return st
		}
	}
	t.Fatalf("no stall %s in snapshot", id)
	return sinkdomain.StallState{}
}

func TestCycleSkipsMissingAndUnchangedFrames(t *testing.T) {
	f := newFixture(t, false)

	if c := f.cycle(t); c.Skipped != domain.SkipNoFrame {
		t.Fatalf("first skip = %q", c.Skipped)
	}
	f.newFrame(t)
	if c := f.cycle(t); c.Skipped != domain.SkipNone {
		t.Fatalf("fresh frame skipped: %q", c.Skipped)
	}
	if c := f.cycle(t); c.Skipped != domain.SkipUnchanged {
		t.Fatalf("unchanged frame = %q", c.Skipped)
	}
	if f.det.calls != 1 || f.bank.Cycles() != 1 {
		t.Fatalf("calls=%d cycles=%d", f.det.calls, f.bank.Cycles())
	}
}

func TestThreeCyclesOccupyCoveredStall(t *testing.T) {
	f := newFixture(t, true)

	for i := 0; i < 3; i++ {
		f.newFrame(t)
		c := f.cycle(t)
		if c.Kept != 1 || c.Detections != 1 {
			t.Fatalf("cycle %d kept=%d detections=%d", i, c.Kept, c.Detections)
		}
		want := smoother.Unknown
		if i == 2 {
			want = smoother.Occupied
		}
		if got := stallOf(t, f.sink.last(), "1").State; got != want {
			t.Fatalf("cycle %d stall 1 = %v, want %v", i, got, want)
		}
	}
	if got := stallOf(t, f.sink.last(), "2").State; got != smoother.Open {
		t.Fatalf("stall 2 = %v, want open", got)
	}

	if f.sink.count() != 3 {
		t.Fatalf("snapshots = %d", f.sink.count())
	}
	last := f.sink.snaps[2]
	if len(last.Stalls) != 2 || last.Stalls[0].State != smoother.Occupied || last.Stalls[0].Ratio < 0.99 {
		t.Fatalf("last snapshot stalls = %+v", last.Stalls)
	}
	// observations carry the lot and the cycle time into the lot's bank
	if since := last.Stalls[0].Since; !since.Equal(last.TakenAt) {
		t.Fatalf("stall 1 since %v, cycle at %v", since, last.TakenAt)
	}
	if last.Overlay == "" || last.Map == "" {
		t.Fatalf("artifacts not named: %+v", last)
	}
	if ov, _ := files.List(f.layout.Overlays(1)); len(ov) == 0 {
		t.Fatalf("no overlay written")
	}
	if mp, _ := files.List(f.layout.Maps(1)); len(mp) == 0 {
		t.Fatalf("no map written")
	}
}

func TestDetectorTimeoutsLeaveSmootherUntouched(t *testing.T) {
	f := newFixture(t, false)
	for i := 0; i < 3; i++ {
		f.newFrame(t)
		f.cycle(t)
	}
	before := stallOf(t, f.sink.last(), "1")
	cycles := f.bank.Cycles()
	writes := f.sink.count()

	f.det.block = true
	for i := 0; i < 3; i++ {
		f.newFrame(t)
		c, err := f.w.Cycle(context.Background())
		if !perr.IsCode(err, perr.ErrorCodeDetector) || c.Skipped != domain.SkipDetector {
			t.Fatalf("timeout %d = %v skip=%q", i, err, c.Skipped)
		}
	}

	if f.bank.Cycles() != cycles {
		t.Fatalf("window advanced: %d -> %d", cycles, f.bank.Cycles())
	}
	if f.sink.count() != writes {
		t.Fatalf("snapshot written on a skipped cycle")
	}

	// the same frame is retried once the detector recovers
	f.det.block = false
	if c := f.cycle(t); c.Skipped != domain.SkipNone {
		t.Fatalf("retry skipped: %q", c.Skipped)
	}
	after := stallOf(t, f.sink.last(), "1")
	if before.State != smoother.Occupied || after.State != before.State || !after.Since.Equal(before.Since) {
		t.Fatalf("state changed: %+v -> %+v", before, after)
	}
}

func TestRunFailingDetectorBeatsWithoutProgress(t *testing.T) {
	f := newFixture(t, false)
	f.det.block = true
	f.newFrame(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	kit.Eventually(t, 2*time.Second, "three failed cycles", func() bool { return f.w.Report().Failures >= 3 })
	if f.w.Heartbeat().IsZero() {
		t.Fatalf("no heartbeat while failing")
	}
	if !f.w.Progress().IsZero() {
		t.Fatalf("progress moved on failed cycles: %v", f.w.Progress())
	}
	if rep := f.w.Report(); rep.CycleError == "" || rep.Cycles != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if f.sink.count() != 0 {
		t.Fatalf("snapshot written while the detector is down")
	}

	f.det.mu.Lock()
	f.det.block = false
	f.det.mu.Unlock()
	kit.Eventually(t, 2*time.Second, "progress after recovery", func() bool { return !f.w.Progress().IsZero() })
	if rep := f.w.Report(); rep.Failures != 0 || rep.CycleError != "" || rep.Cycles == 0 {
		t.Fatalf("report after recovery = %+v", rep)
	}
}

func TestCycleGoneWhenLotRemoved(t *testing.T) {
	f := newFixture(t, false)
	f.newFrame(t)
	f.views.gone = true
	if c := f.cycle(t); c.Skipped != domain.SkipGone {
		t.Fatalf("skip = %q", c.Skipped)
	}
	if f.det.calls != 0 {
		t.Fatalf("detector called for a removed lot")
	}
}

func TestSinkConflictMeansGoneOtherFailuresAreLogged(t *testing.T) {
	f := newFixture(t, false)
	f.sink.err = perr.Unavailablef("database is locked")
	f.newFrame(t)
	if c := f.cycle(t); c.Skipped != domain.SkipNone {
		t.Fatalf("persistence failure skipped the cycle: %q", c.Skipped)
	}

	f.sink.err = perr.Conflictf("lot 1 no longer exists")
	f.newFrame(t)
	if c := f.cycle(t); c.Skipped != domain.SkipGone {
		t.Fatalf("conflict skip = %q", c.Skipped)
	}
}

func TestRunExitsWhenLotGone(t *testing.T) {
	f := newFixture(t, false)
	f.newFrame(t)
	done := make(chan error, 1)
	go func() { done <- f.w.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.sink.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no cycle ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.views.mu.Lock()
	f.views.gone = true
	f.views.mu.Unlock()
	f.newFrame(t)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run kept going for a removed lot")
	}
	if f.w.Heartbeat().IsZero() {
		t.Fatalf("no heartbeat recorded")
	}
}
