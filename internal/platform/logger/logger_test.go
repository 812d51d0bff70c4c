package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	kit "stallwatch/internal/platform/testkit"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"trace":   "trace",
		"DEBUG":   "debug",
		"info":    "info",
		"warn":    "warn",
		"warning": "warn",
		"error":   "error",
		"fatal":   "fatal",
		"panic":   "panic",
		"":        "info",
		" junk ":  "info",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInit_NamedAndContextFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{
		Level:        "debug",
		Format:       "json",
		Service:      "stallwatch-test",
		Writer:       &buf,
		StaticFields: map[string]string{"build": "test"},
	})

	Get().Info().Msg("root-msg")
	Named("capture").Info().Msg("named-msg")

	ctx := WithLot(WithRequest(context.Background(), "req-7"), 42)
	C(ctx).Warn().Msg("ctx-msg")
	C(context.Background()).Debug().Msg("bare-msg")

	out := buf.String()
	if out == "" {
		t.Skip("root logger was initialized earlier in this process")
	}
	kit.MustContain(t, out, "root-msg")
	kit.MustContain(t, out, `"component":"capture"`)
	kit.MustContain(t, out, `"request_id":"req-7"`)
	kit.MustContain(t, out, `"lot_id":42`)
	kit.MustContain(t, out, `"service":"stallwatch-test"`)
	kit.MustContain(t, out, "bare-msg")
}

func TestWithLot_IgnoresNonPositive(t *testing.T) {
	ctx := WithLot(context.Background(), 0)
	if _, ok := LotID(ctx); ok {
		t.Fatalf("lot id 0 should not be stored")
	}
	ctx = WithLot(ctx, 9)
	if id, ok := LotID(ctx); !ok || id != 9 {
		t.Fatalf("LotID = %d,%v", id, ok)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_COMPONENT", "supervisor")
	t.Setenv("LOG_CALLER", "yes")
	t.Setenv("LOG_SAMPLE_EVERY", "4")

	opt := FromEnv()
	if opt.Level != "warn" || opt.Format != "json" || opt.Component != "supervisor" {
		t.Fatalf("FromEnv mismatch: %+v", opt)
	}
	if opt.Service != "stallwatch" {
		t.Fatalf("default service = %q", opt.Service)
	}
	if !opt.WithCaller || opt.SampleEvery != 4 {
		t.Fatalf("FromEnv caller/sample mismatch: %+v", opt)
	}
	if strings.TrimSpace(opt.Level) == "" {
		t.Fatalf("level should not be blank")
	}
}
