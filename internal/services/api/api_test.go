package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"stallwatch/internal/core/geometry"
	"stallwatch/internal/core/occupancy"
	"stallwatch/internal/modkit/module"
	"stallwatch/internal/platform/config"
	perr "stallwatch/internal/platform/errors"
	phttp "stallwatch/internal/platform/net/http"
	"stallwatch/internal/platform/store/storetest"
	kit "stallwatch/internal/platform/testkit"
	detectiondomain "stallwatch/internal/services/detection/domain"
	detectionmod "stallwatch/internal/services/detection/module"
	lotsmod "stallwatch/internal/services/lots/module"
	sinkmod "stallwatch/internal/services/sink/module"

	"github.com/go-chi/chi/v5"
)

// detector reports a car over stall 1 and can be told to hang mid cycle
type detector struct {
	mu      sync.Mutex
	calls   int
	hang    bool
	hanging chan struct{}
}

func (d *detector) Detect(ctx context.Context, _ detectiondomain.Frame) ([]occupancy.Detection, error) {
	d.mu.Lock()
	d.calls++
	hang := d.hang
	d.mu.Unlock()
	if hang {
		select {
		case d.hanging <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, perr.Wrap(ctx.Err(), perr.ErrorCodeDetector, "detector aborted")
	}
	return []occupancy.Detection{{ClassID: 2, Label: "car", Confidence: 0.9, Box: geometry.Box(10, -30, 50, 70)}}, nil
}

func (d *detector) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type harness struct {
	app     *App
	router  phttp.Router
	det     *detector
	dataDir string
	camera  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	module.Reset()
	t.Setenv("CAPTURE_EVERY", "10ms")
	t.Setenv("DETECT_EVERY", "10ms")
	t.Setenv("DETECT_RENDER", "false")
	t.Setenv("LOTS_GRACE", "500ms")
	t.Setenv("LOTS_HEALTH_EVERY", "50ms")
	t.Setenv("RETENTION_EVERY", "1h")

	h := &harness{det: &detector{hanging: make(chan struct{}, 1)}, dataDir: t.TempDir()}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 320, 80)), nil); err != nil {
		t.Fatal(err)
	}
	h.camera = filepath.Join(t.TempDir(), "cam.jpg")
	if err := os.WriteFile(h.camera, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	opt := Options{
		Config:   config.New(),
		Store:    storetest.SQLite(t),
		DataDir:  h.dataDir,
		Detector: h.det,
	}
	ctx, cancel := context.WithCancel(context.Background())
	app, err := Build(ctx, opt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h.app = app
	h.router = phttp.AdaptChi(chi.NewRouter())
	app.Mount(h.router, opt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = app.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.router.Mux().ServeHTTP(rec, req)
	return rec.Code, rec.Body.Bytes()
}

func fiveStallLot(camera string) string {
	stalls := make([]string, 5)
	for i := range stalls {
		x := 10 + 60*i
		stalls[i] = fmt.Sprintf(`{"id":"%d","lane":1,"polygon":[[%d,10],[%d,10],[%d,70],[%d,70]]}`, i+1, x, x+40, x+40, x)
	}
	return fmt.Sprintf(`{"name":"north","source_uri":"file://%s","total_stalls":5,"stalls":[%s]}`,
		filepath.ToSlash(camera), strings.Join(stalls, ","))
}

func TestLotRemovedMidCycleLeavesNothing(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, "POST", "/api/v1/lots", fiveStallLot(h.camera))
	if code != 201 {
		t.Fatalf("POST = %d %s", code, body)
	}
	var created struct {
		Data struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}
	id := created.Data.ID
	ports := module.MustPortsOf[sinkmod.Ports](h.app.Sink)

	kit.Eventually(t, 5*time.Second, "10 detection cycles", func() bool { return h.det.count() >= 10 })
	kit.Eventually(t, 5*time.Second, "a persisted snapshot", func() bool {
		hist, _ := ports.Query.History(context.Background(), id, 1)
		return len(hist) > 0
	})

	code, body = h.do(t, "GET", fmt.Sprintf("/api/v1/lots/%d/summary", id), "")
	if code != 200 || !strings.Contains(string(body), `"total":5`) {
		t.Fatalf("summary = %d %s", code, body)
	}

	h.det.mu.Lock()
	h.det.hang = true
	h.det.mu.Unlock()
	select {
	case <-h.det.hanging:
	case <-time.After(5 * time.Second):
		t.Fatalf("detector never entered a hanging cycle")
	}

	if code, body = h.do(t, "DELETE", fmt.Sprintf("/api/v1/lots/%d", id), ""); code != 204 {
		t.Fatalf("DELETE = %d %s", code, body)
	}
	// stragglers get a moment to misbehave
	time.Sleep(100 * time.Millisecond)

	if code, _ = h.do(t, "GET", fmt.Sprintf("/api/v1/lots/%d", id), ""); code != 404 {
		t.Fatalf("GET after remove = %d", code)
	}
	if live := module.MustPortsOf[lotsmod.Ports](h.app.Lots).Supervisor.Live(); live != 0 {
		t.Fatalf("live workers = %d", live)
	}
	if _, err := os.Stat(filepath.Join(h.dataDir, fmt.Sprintf("lot%d", id))); !os.IsNotExist(err) {
		t.Fatalf("lot dir still present: %v", err)
	}
	if _, err := ports.Query.Current(context.Background(), id); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("current snapshot survived: %v", err)
	}
	if hist, _ := ports.Query.History(context.Background(), id, 10); len(hist) != 0 {
		t.Fatalf("history survived: %d rows", len(hist))
	}
	if n := module.MustPortsOf[detectionmod.Ports](h.app.Detection).Banks.Len(); n != 0 {
		t.Fatalf("smoother banks left: %d", n)
	}
}

func TestAddThenRemoveOverHTTP(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(t, "POST", "/api/v1/lots", fiveStallLot(h.camera))
	if code != 201 {
		t.Fatalf("POST = %d %s", code, body)
	}
	if code, _ := h.do(t, "DELETE", "/api/v1/lots/1", ""); code != 204 {
		t.Fatalf("DELETE = %d", code)
	}
	if code, _ := h.do(t, "DELETE", "/api/v1/lots/1", ""); code != 204 {
		t.Fatalf("second DELETE = %d", code)
	}
	if code, body := h.do(t, "GET", "/api/v1/lots", ""); code != 200 || strings.Contains(string(body), `"north"`) {
		t.Fatalf("list = %d %s", code, body)
	}
	if code, _ := h.do(t, "GET", "/api/v1/meta/health", ""); code != 200 {
		t.Fatalf("health = %d", code)
	}
}
