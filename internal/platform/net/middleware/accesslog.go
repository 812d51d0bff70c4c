// Package middleware holds adapters and in house middlewares
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"stallwatch/internal/platform/logger"
	pnet "stallwatch/internal/platform/net"

	"github.com/go-chi/chi/v5"
)

// AccessLogOptions configures the zerolog access log
type AccessLogOptions struct {
	// Slow marks requests taking >= Slow as warn level, 0 disables slow marking
	Slow time.Duration
	// Quiet drops successful requests for these exact paths (heartbeats, image polling)
	Quiet []string
}

// captureWriter wraps the original ResponseWriter and records status & bytes
type captureWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	n, err := cw.ResponseWriter.Write(b)
	cw.bytes += n
	return n, err
}

// AccessLogZerolog logs one line per request with method, route, status, elapsed and bytes
// 5xx responses log at error level
func AccessLogZerolog(opt AccessLogOptions) func(http.Handler) http.Handler {
	quiet := make(map[string]struct{}, len(opt.Quiet))
	for _, p := range opt.Quiet {
		quiet[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(cw, r)

			elapsed := time.Since(start)
			if _, ok := quiet[r.URL.Path]; ok && cw.status < 400 {
				return
			}
			log := logger.C(r.Context())
			evt := log.Info()
			switch {
			case cw.status >= 500:
				evt = log.Error()
			case opt.Slow > 0 && elapsed >= opt.Slow:
				evt = log.Warn()
			}
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				evt = evt.Str("route", rc.RoutePattern())
			}
			evt.Str("request_id", pnet.RequestID(r.Context())).
				Int("status", cw.status).
				Dur("elapsed", elapsed).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("bytes", cw.bytes).
				Msg("request done")
		})
	}
}

// LotScope tags the request context with the lot id from the named path parameter
// so handler and access logs carry lot_id; place it inside the /{id} route
func LotScope(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64); err == nil && id > 0 {
				r = r.WithContext(logger.WithLot(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}
