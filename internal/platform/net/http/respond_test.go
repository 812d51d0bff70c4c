package http_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	perr "stallwatch/internal/platform/errors"
	pnet "stallwatch/internal/platform/net"
	phttp "stallwatch/internal/platform/net/http"
)

// helper to build a request with a request_id in context
func reqWithReqID(method, path, rid string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	return req.WithContext(pnet.WithRequest(req.Context(), rid))
}

func decodeEnv(t *testing.T, rec *httptest.ResponseRecorder) phttp.Envelope {
	t.Helper()
	var env phttp.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v (%q)", err, rec.Body.String())
	}
	return env
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	phttp.JSON(rec, http.StatusTeapot, map[string]any{"k": "v"})
	if rec.Code != http.StatusTeapot {
		t.Fatalf("JSON status: expected 418, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct == "" {
		t.Fatalf("expected content-type set")
	}
}

func TestRespondOKAndError(t *testing.T) {
	rec := httptest.NewRecorder()
	phttp.RespondOK(rec, reqWithReqID("GET", "/lots", "rid-1"), map[string]int{"total": 12})
	env := decodeEnv(t, rec)
	if rec.Code != http.StatusOK || env.StatusCode != 200 || env.RequestID != "rid-1" || env.Data == nil {
		t.Fatalf("bad envelope: %d %+v", rec.Code, env)
	}

	rec = httptest.NewRecorder()
	phttp.RespondError(rec, reqWithReqID("GET", "/lots/9", "rid-2"), perr.NotFoundf("lot 9 not found"))
	env = decodeEnv(t, rec)
	if rec.Code != http.StatusNotFound || env.Code != perr.ErrorCodeNotFound || env.Error == "" || env.RequestID != "rid-2" {
		t.Fatalf("bad error envelope: %d %+v", rec.Code, env)
	}
}

func TestHandleStatuses(t *testing.T) {
	cases := []struct {
		name string
		resp phttp.Response
		code int
	}{
		{"ok", phttp.OK("hello"), http.StatusOK},
		{"data alias", phttp.Data(1), http.StatusOK},
		{"created", phttp.Created(map[string]any{"id": 99}), http.StatusCreated},
		{"config error", phttp.Error(perr.Configf("total_stalls out of range")), http.StatusUnprocessableEntity},
		{"detector error", phttp.Error(perr.Detectorf("detector timed out")), http.StatusServiceUnavailable},
		{"process error", phttp.Error(perr.Processf("spawn failed")), http.StatusInternalServerError},
		{"generic error", phttp.Error(errors.New("boom")), http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			phttp.Handle(func(*http.Request) phttp.Response { return c.resp })(rec, reqWithReqID("GET", "/x", "rid"))
			if rec.Code != c.code {
				t.Fatalf("code = %d want %d", rec.Code, c.code)
			}
			if env := decodeEnv(t, rec); env.StatusCode != c.code {
				t.Fatalf("envelope status = %d", env.StatusCode)
			}
		})
	}
}

func TestHandleNoContentAndHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	phttp.Handle(func(*http.Request) phttp.Response { return phttp.NoContent() })(rec, reqWithReqID("DELETE", "/lots/1", "r"))
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Fatalf("NoContent code=%d body=%q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	phttp.Handle(func(*http.Request) phttp.Response {
		resp := phttp.OK("hello")
		resp.Header = http.Header{}
		resp.Header.Set("X-Lot", "3")
		return resp
	})(rec, reqWithReqID("GET", "/hdr", "r"))
	if got := rec.Header().Get("X-Lot"); got != "3" {
		t.Fatalf("expected header, got %q", got)
	}
}

func TestHandleErrorCarriesField(t *testing.T) {
	rec := httptest.NewRecorder()
	phttp.Handle(func(*http.Request) phttp.Response {
		return phttp.Error(perr.WithField(perr.Configf("duplicate stall id"), "stalls"))
	})(rec, reqWithReqID("POST", "/lots", "r"))
	if env := decodeEnv(t, rec); env.Field != "stalls" || env.Code != perr.ErrorCodeConfig {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestJPEG(t *testing.T) {
	img := []byte{0xff, 0xd8, 0xff, 0xd9}
	rec := httptest.NewRecorder()
	phttp.Handle(func(*http.Request) phttp.Response { return phttp.JPEG(img) })(rec, reqWithReqID("GET", "/overlay", "r"))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("code=%d ct=%q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if rec.Body.Len() != len(img) || rec.Header().Get("Content-Length") != "4" {
		t.Fatalf("body len = %d", rec.Body.Len())
	}

	rec = httptest.NewRecorder()
	phttp.Handle(func(*http.Request) phttp.Response { return phttp.JPEG(img) })(rec, reqWithReqID("HEAD", "/overlay", "r"))
	if rec.Body.Len() != 0 {
		t.Fatalf("HEAD wrote body")
	}
}
