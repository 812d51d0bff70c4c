package errors

import (
	stderrs "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCodeMapping(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{ErrorCodeNotFound, http.StatusNotFound},
		{ErrorCodeInvalidArgument, http.StatusUnprocessableEntity},
		{ErrorCodeConfig, http.StatusUnprocessableEntity},
		{ErrorCodeDuplicateKey, http.StatusConflict},
		{ErrorCodeConflict, http.StatusConflict},
		{ErrorCodeValidation, http.StatusBadRequest},
		{ErrorCodeJSON, http.StatusBadRequest},
		{ErrorCodeUnavailable, http.StatusServiceUnavailable},
		{ErrorCodeDetector, http.StatusServiceUnavailable},
		{ErrorCodeResource, http.StatusInternalServerError},
		{ErrorCodeProcess, http.StatusInternalServerError},
		{ErrorCodeDB, http.StatusInternalServerError},
		{ErrorCodePanic, http.StatusInternalServerError},
		{ErrorCodeUnknown, http.StatusInternalServerError},
		{9999, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatusCode(c.code); got != c.want {
			t.Fatalf("HTTPStatusCode(%v) = %d, want %d", c.code, got, c.want)
		}
	}
}

func TestErrorCodeString(t *testing.T) {
	if ErrorCodeDetector.String() != "detector" || ErrorCodeConfig.String() != "config" {
		t.Fatalf("String() mismatch")
	}
	if ErrorCode(9999).String() != "unknown" {
		t.Fatalf("out of range code should be unknown")
	}
}

func TestErrorTypeAndMethods(t *testing.T) {
	var e *Error
	if e.Error() != "<nil>" {
		t.Fatalf("nil *Error render = %q, want <nil>", e.Error())
	}

	e1 := Newf(ErrorCodeConfig, "lot %d: %d stalls exceeds max", 7, 20)
	if got := e1.Error(); got != "lot 7: 20 stalls exceeds max" {
		t.Fatalf("Newf().Error = %q", got)
	}

	src := stderrs.New("connection refused")
	e2 := Wrapf(src, ErrorCodeDetector, "detect lot %d", 3)
	if want := "detect lot 3: connection refused"; e2.Error() != want {
		t.Fatalf("Wrapf().Error = %q, want %q", e2.Error(), want)
	}
	if u := stderrs.Unwrap(e2); u != src {
		t.Fatalf("Unwrap lost orig")
	}
	if got, ok := As(e2); !ok || got.Code() != ErrorCodeDetector {
		t.Fatalf("As() failed for our error")
	}
	if _, ok := As(src); ok {
		t.Fatalf("As() true for foreign error")
	}

	// copy-on-write
	e3 := Configf("bad polygon")
	e4 := WithOp(WithField(e3, "stalls"), "replace_stalls")
	if fe, ok := As(e4); !ok || fe.Field() != "stalls" || fe.Op() != "replace_stalls" {
		t.Fatalf("WithField/WithOp failed")
	}
	if fe0, _ := As(e3); fe0.Field() != "" || fe0.Op() != "" {
		t.Fatalf("copy-on-write mutated original")
	}
	if WithField(src, "x") != src {
		t.Fatalf("WithField should leave foreign errors alone")
	}

	// wrapping with fmt keeps the code visible
	outer := fmt.Errorf("add lot: %w", e1)
	if CodeOf(outer) != ErrorCodeConfig {
		t.Fatalf("CodeOf through fmt wrap = %v", CodeOf(outer))
	}
}

func TestWire(t *testing.T) {
	w := (&Error{code: ErrorCodeConfig, msg: "too many stalls", field: "stalls"}).ToWire()
	if w.Code != ErrorCodeConfig || w.Message != "too many stalls" || w.Field != "stalls" {
		t.Fatalf("ToWire mismatch: %+v", w)
	}
	if wf := WireFrom(nil); wf != (Wire{}) {
		t.Fatalf("WireFrom(nil) expected zero, got %+v", wf)
	}
	src := stderrs.New("root")
	if wf := WireFrom(src); wf.Code != ErrorCodeUnknown || wf.Message != "root" {
		t.Fatalf("WireFrom(foreign) mismatch: %+v", wf)
	}
	// only the message crosses the wire, never the wrapped cause
	if wf := WireFrom(Wrap(src, ErrorCodeResource, "mkdir lot dir")); wf.Message != "mkdir lot dir" {
		t.Fatalf("WireFrom(ours) leaked cause: %+v", wf)
	}
}

func TestSugarAndHelpers(t *testing.T) {
	cases := []struct {
		err  error
		code ErrorCode
	}{
		{NotFoundf("x"), ErrorCodeNotFound},
		{InvalidArgf("x"), ErrorCodeInvalidArgument},
		{JSONErrf("x"), ErrorCodeJSON},
		{PanicErrf("x"), ErrorCodePanic},
		{Conflictf("x"), ErrorCodeConflict},
		{Unavailablef("x"), ErrorCodeUnavailable},
		{Configf("x"), ErrorCodeConfig},
		{Resourcef("x"), ErrorCodeResource},
		{Processf("x"), ErrorCodeProcess},
		{Detectorf("x"), ErrorCodeDetector},
		{Internalf("x"), ErrorCodeUnknown},
		{ErrNotFound, ErrorCodeNotFound},
	}
	for _, c := range cases {
		if !IsCode(c.err, c.code) {
			t.Fatalf("%v: code = %v, want %v", c.err, CodeOf(c.err), c.code)
		}
	}

	if WrapIf(nil, ErrorCodeDB, "ignored") != nil {
		t.Fatalf("WrapIf(nil) should return nil")
	}
	if st, _ := HTTP(nil); st != http.StatusOK {
		t.Fatalf("HTTP(nil) status = %d", st)
	}
	if st, w := HTTP(Detectorf("timeout")); st != http.StatusServiceUnavailable || w.Code != ErrorCodeDetector {
		t.Fatalf("HTTP(detector) = %d %+v", st, w)
	}

	deep := fmt.Errorf("l2: %w", fmt.Errorf("l1: %w", stderrs.New("root")))
	if got := Root(deep); got == nil || got.Error() != "root" {
		t.Fatalf("Root() failed, got %v", got)
	}
}
