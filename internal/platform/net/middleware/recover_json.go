package middleware

import (
	stdhttp "net/http"
	"runtime/debug"

	perr "stallwatch/internal/platform/errors"
	"stallwatch/internal/platform/logger"
	pnet "stallwatch/internal/platform/net"
	phttp "stallwatch/internal/platform/net/http"
)

// RecoverJSON converts handler panics into the JSON error envelope and logs the stack
func RecoverJSON(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			// let net/http abort the connection as it normally would
			if v == stdhttp.ErrAbortHandler {
				panic(v)
			}
			reqID := pnet.RequestID(r.Context())
			logger.C(r.Context()).Error().
				Str("request_id", reqID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Interface("panic", v).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if reqID != "" {
				w.Header().Set("X-Request-ID", reqID)
			}
			phttp.RespondError(w, r, perr.PanicErrf("internal error"))
		}()
		next.ServeHTTP(w, r)
	})
}
