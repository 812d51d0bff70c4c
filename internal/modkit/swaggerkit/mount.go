// Package swaggerkit mounts Swagger UI over the embedded OpenAPI document
package swaggerkit

import (
	_ "embed"
	"net/http"

	phttp "stallwatch/internal/platform/net/http"

	httpSwagger "github.com/swaggo/http-swagger"
)

//go:embed openapi.json
var openapiDoc []byte

// Mount the Swagger UI and JSON document under /api/docs if enabled
func Mount(r phttp.Router, enabled bool) {
	if !enabled {
		return
	}
	r.Get("/api/docs", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/docs/", http.StatusPermanentRedirect)
	})
	r.Get("/api/docs/doc.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(openapiDoc)
	})
	r.Handle("/api/docs/*", httpSwagger.Handler(
		httpSwagger.InstanceName("stallwatch"),
		httpSwagger.URL("/api/docs/doc.json"),
	))
}
