package http

import "net/http"

// Handler is the handler shape every route is mounted with
type Handler = func(http.ResponseWriter, *http.Request)

// Router is what modules mount lot, result and meta routes on
// Route scopes a prefix such as /lots; Handle mounts foreign handlers like the swagger UI
type Router interface {
	Get(path string, h Handler)
	Post(path string, h Handler)
	Put(path string, h Handler)
	Patch(path string, h Handler)
	Delete(path string, h Handler)

	Handle(path string, h http.Handler)
	Use(mw ...func(http.Handler) http.Handler)
	Route(pattern string, fn func(Router))

	Mux() http.Handler
}
