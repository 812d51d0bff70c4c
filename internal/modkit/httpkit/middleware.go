package httpkit

import (
	"compress/flate"
	"net/http"
	"time"

	"stallwatch/internal/platform/config"
	"stallwatch/internal/platform/net/middleware"
)

// HealthPath answers load balancer health checks inside the v1 scope
const HealthPath = "/api/v1/health"

// CommonStack returns the baseline middleware for the /api/v1 scope
// cfg is the api prefix view (STALLWATCH_API_) for CORS and timeouts
func CommonStack(cfg config.Conf) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		// correlation
		middleware.RequestID(),
		middleware.RealIP(),

		// safety
		middleware.RecoverJSON,

		// snapshots and images change every cycle
		middleware.NoCache(),

		// observability
		middleware.AccessLogZerolog(middleware.AccessLogOptions{
			Slow:  cfg.MayDuration("SLOW_REQUEST", 500*time.Millisecond),
			Quiet: []string{HealthPath},
		}),

		middleware.CORS(middleware.CORSFromConfig(cfg)),
		middleware.Compress(flate.BestSpeed),
		middleware.Heartbeat(HealthPath),
		middleware.StripSlashes(),
		middleware.Timeout(cfg.MayDuration("REQUEST_TIMEOUT", 30*time.Second)),
	}
}
