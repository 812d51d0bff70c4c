package modkit

import (
	"context"
	"sync"

	"stallwatch/internal/modkit/module"
)

// Module is the common surface for API modules that can mount routes and expose ports
type Module = module.Module

// Runner is implemented by modules that own background loops (supervisor, pruner)
// Run blocks until ctx is done
type Runner interface {
	Run(ctx context.Context) error
}

// Builder constructs a Module from shared deps and options
type Builder func(Deps, ...Option) Module

// RunAll runs every module that implements Runner and waits for all of them
// the first non-nil error cancels the rest and is returned
func RunAll(ctx context.Context, mods ...Module) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, m := range mods {
		r, ok := m.(Runner)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(ctx); err != nil && ctx.Err() == nil {
				once.Do(func() { firstErr = err; cancel() })
			}
		}()
	}
	wg.Wait()
	return firstErr
}
