// Package domain defines the capture worker ports
package domain

import (
	"context"
	"time"
)

// Source returns one JPEG per grab
type Source interface {
	Grab(ctx context.Context) ([]byte, error)
}

// Opener builds a Source for a camera uri
type Opener func(uri string) (Source, error)

// Config tunes one capture worker
type Config struct {
	// Every is the grab interval
	Every time.Duration
	// GrabTimeout bounds one grab; zero leaves it to the worker ctx
	GrabTimeout time.Duration
	// RetryBase and RetryMax shape the backoff after a failed grab
	RetryBase time.Duration
	RetryMax  time.Duration
}
