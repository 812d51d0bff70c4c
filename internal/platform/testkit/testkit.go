// Package testkit holds the assertions and seams shared by stallwatch tests
package testkit

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// serial is held by tests that replace package level hooks such as pg newPool or files rename
var serial sync.Mutex

// Serial holds the hook lock until t finishes
func Serial(t *testing.T) {
	t.Helper()
	serial.Lock()
	t.Cleanup(serial.Unlock)
}

// Swap points *hook at fake until t finishes
func Swap[T any](t *testing.T, hook *T, fake T) {
	t.Helper()
	prev := *hook
	*hook = fake
	t.Cleanup(func() { *hook = prev })
}

// Eventually polls cond until it holds or fails t after timeout
func Eventually(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %v waiting for %s", timeout, what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// MustPanic fails t unless fn panics
func MustPanic(t *testing.T, fn func()) {
	t.Helper()
	if !panics(fn) {
		t.Fatalf("want panic, fn returned")
	}
}

// MustNotPanic fails t if fn panics
func MustNotPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()
	fn()
}

func panics(fn func()) (did bool) {
	defer func() { did = recover() != nil }()
	fn()
	return false
}

// MustContain fails t unless out contains want
// long output such as a log stream is saved under t.TempDir instead of printed
func MustContain(t *testing.T, out, want string) {
	t.Helper()
	if strings.Contains(out, want) {
		return
	}
	if len(out) <= 512 {
		t.Fatalf("%q not found in %q", want, out)
	}
	p := filepath.Join(t.TempDir(), "output.txt")
	_ = os.WriteFile(p, []byte(out), 0o600)
	t.Fatalf("%q not found in %d bytes of output, saved to %s", want, len(out), p)
}
