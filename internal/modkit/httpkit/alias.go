// Package httpkit provides handler and routing helpers that alias the platform http package
// use these from modules so they do not import internal/platform/net/http directly
package httpkit

import (
	"net/http"

	phttp "stallwatch/internal/platform/net/http"
)

type (
	// Envelope is the transport envelope type
	Envelope = phttp.Envelope

	// Response is the HTTP response type
	Response = phttp.Response

	// Handler is the platform handler type
	Handler = phttp.Handler

	// Router is a re-export of the platform router seam
	Router = phttp.Router
)

// OK returns a 200 response
func OK(data any) Response { return phttp.OK(data) }

// Created returns a 201 response
func Created(data any) Response { return phttp.Created(data) }

// NoContent returns a 204 response
func NoContent() Response { return phttp.NoContent() }

// Error returns a response that maps an error to status and envelope
func Error(err error) Response { return phttp.Error(err) }

// JPEG returns a raw image/jpeg response
func JPEG(b []byte) Response { return phttp.JPEG(b) }

// URLParamInt64 reads a positive integer path parameter such as {id}
func URLParamInt64(r *http.Request, key string) (int64, error) { return phttp.URLParamInt64(r, key) }

// QueryInt reads an optional positive integer query parameter such as ?limit=
func QueryInt(r *http.Request, key string, def int) (int, error) { return phttp.QueryInt(r, key, def) }

// Call adapts a handler that takes no JSON body
// a handler may return a Response to pick its own status or content type
func Call(fn func(*http.Request) (any, error)) Handler {
	return phttp.Handle(func(r *http.Request) phttp.Response {
		out, err := fn(r)
		return respond(out, err)
	})
}

// JSON adapts a handler that takes a validated JSON body of type T
func JSON[T any](fn func(*http.Request, T) (any, error)) Handler {
	return phttp.Handle(func(r *http.Request) phttp.Response {
		in, err := bindJSON[T](r)
		if err != nil {
			return phttp.Error(err)
		}
		out, err := fn(r, in)
		return respond(out, err)
	})
}

func respond(out any, err error) Response {
	if err != nil {
		return phttp.Error(err)
	}
	if resp, ok := out.(phttp.Response); ok {
		return resp
	}
	return phttp.OK(out)
}
