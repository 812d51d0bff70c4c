package http

import (
	"net/http"
	"strconv"

	perr "stallwatch/internal/platform/errors"

	"github.com/go-chi/chi/v5"
)

// chiRouter adapts a chi router, the root mux or a Route scope, to Router
type chiRouter struct{ r chi.Router }

// AdaptChi adapts a *chi.Mux to a Router
func AdaptChi(m *chi.Mux) Router { return chiRouter{r: m} }

func (c chiRouter) Get(p string, h Handler)    { c.r.MethodFunc(http.MethodGet, p, h) }
func (c chiRouter) Post(p string, h Handler)   { c.r.MethodFunc(http.MethodPost, p, h) }
func (c chiRouter) Put(p string, h Handler)    { c.r.MethodFunc(http.MethodPut, p, h) }
func (c chiRouter) Patch(p string, h Handler)  { c.r.MethodFunc(http.MethodPatch, p, h) }
func (c chiRouter) Delete(p string, h Handler) { c.r.MethodFunc(http.MethodDelete, p, h) }

func (c chiRouter) Handle(p string, h http.Handler)           { c.r.Handle(p, h) }
func (c chiRouter) Use(mw ...func(http.Handler) http.Handler) { c.r.Use(mw...) }

// Route mounts a sub router at pattern; its middleware stays inside the scope
func (c chiRouter) Route(pattern string, fn func(Router)) {
	c.r.Route(pattern, func(sub chi.Router) { fn(chiRouter{r: sub}) })
}

// Mux serves this router; for a Route scope that is only the scope's routes
func (c chiRouter) Mux() http.Handler { return c.r }

// URLParam returns the named path parameter of the matched route
func URLParam(r *http.Request, key string) string { return chi.URLParam(r, key) }

// URLParamInt64 parses a positive integer path parameter such as a lot id
func URLParamInt64(r *http.Request, key string) (int64, error) {
	s := URLParam(r, key)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, perr.WithField(perr.InvalidArgf("invalid %s %q", key, s), key)
	}
	return n, nil
}

// QueryInt parses an optional positive integer query parameter, def when absent
func QueryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, perr.WithField(perr.InvalidArgf("invalid %s %q", key, s), key)
	}
	return n, nil
}
