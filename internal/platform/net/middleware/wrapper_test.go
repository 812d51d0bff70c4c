package middleware_test

import (
	"compress/flate"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stallwatch/internal/platform/config"
	"stallwatch/internal/platform/net/middleware"

	chimw "github.com/go-chi/chi/v5/middleware"
)

func TestWrappers_ReturnHandlers(t *testing.T) {
	if middleware.RequestID() == nil ||
		middleware.RealIP() == nil ||
		middleware.Timeout(time.Second) == nil ||
		middleware.NoCache() == nil ||
		middleware.StripSlashes() == nil ||
		middleware.Throttle(10) == nil ||
		middleware.Heartbeat("/health") == nil {
		t.Fatal("expected non nil handlers from wrappers")
	}
}

func TestCompress_JSONButNotJPEG(t *testing.T) {
	mw := middleware.Compress(flate.BestSpeed)
	serve := func(ct string) string {
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", ct)
			_, _ = io.WriteString(w, strings.Repeat("a", 4<<10))
		})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		rr := httptest.NewRecorder()
		mw(h).ServeHTTP(rr, req)
		return rr.Result().Header.Get("Content-Encoding")
	}
	if enc := serve("application/json"); enc == "" {
		t.Fatalf("expected json to be compressed")
	}
	if enc := serve("image/jpeg"); enc != "" {
		t.Fatalf("jpeg compressed with %q", enc)
	}
}

func TestCORS_DefaultsFillMissing(t *testing.T) {
	cors := middleware.CORS(middleware.CORSOptions{AllowedOrigins: []string{"https://lots.example.com"}})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/lots", nil)
	req.Header.Set("Origin", "https://lots.example.com")
	req.Header.Set("Access-Control-Request-Method", "PUT")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	rr := httptest.NewRecorder()
	cors(h).ServeHTTP(rr, req)

	if rr.Code != 200 && rr.Code != 204 {
		t.Fatalf("expected 200 or 204 got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("expected Access-Control-Allow-Methods to be set")
	}
	if rr.Header().Get("Access-Control-Allow-Headers") == "" {
		t.Fatal("expected Access-Control-Allow-Headers to be set")
	}
}

func TestCORSFromConfig(t *testing.T) {
	cfg := config.New().Prefix("SWT_API_")
	if o := middleware.CORSFromConfig(cfg); len(o.AllowedOrigins) != 1 || o.AllowedOrigins[0] != "*" || o.MaxAge != 300 {
		t.Fatalf("defaults = %+v", o)
	}
	t.Setenv("SWT_API_CORS_ORIGINS", "http://a.local, http://b.local")
	t.Setenv("SWT_API_CORS_MAX_AGE", "60")
	o := middleware.CORSFromConfig(cfg)
	if len(o.AllowedOrigins) != 2 || o.AllowedOrigins[1] != "http://b.local" || o.MaxAge != 60 {
		t.Fatalf("from env = %+v", o)
	}
}

func TestRequestIDAndNoCache(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rid := chimw.GetReqID(r.Context()); rid == "" {
			t.Fatalf("expected request id in context")
		}
		w.WriteHeader(200)
	})
	rr := httptest.NewRecorder()
	middleware.RequestID()(middleware.NoCache()(h)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("Cache-Control") == "" {
		t.Fatal("expected Cache-Control to be set by NoCache")
	}
}
