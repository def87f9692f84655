package fn

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrFunc is a function that operates on a single value of a homogeneous set
// of work items.
type ErrFunc[V any] func(context.Context, V) error

// ParSlice runs f for each element of s in parallel, with at most one
// goroutine per CPU. The context passed to f is canceled as soon as the first
// call fails, and that first error is returned once all goroutines exited.
func ParSlice[V any](ctx context.Context, s []V, f ErrFunc[V]) error {
	errGroup, ctx := errgroup.WithContext(ctx)
	errGroup.SetLimit(runtime.NumCPU())

	for _, v := range s {
		v := v
		errGroup.Go(func() error {
			return f(ctx, v)
		})
	}

	return errGroup.Wait()
}

// ContextGuard bundles the wait group and quit channel of a long running
// sub-system and creates contexts that are canceled on shutdown.
type ContextGuard struct {
	// DefaultTimeout is the timeout used by WithCtxQuit.
	DefaultTimeout time.Duration

	// Wg tracks all goroutines of the sub-system.
	Wg sync.WaitGroup

	// Quit is closed when the sub-system shuts down.
	Quit chan struct{}
}

// NewContextGuard creates a new guard with the given default timeout.
func NewContextGuard(timeout time.Duration) *ContextGuard {
	return &ContextGuard{
		DefaultTimeout: timeout,
		Quit:           make(chan struct{}),
	}
}

// WithCtxQuit returns a context that is canceled on shutdown or once the
// default timeout expired.
func (g *ContextGuard) WithCtxQuit() (context.Context, func()) {
	ctx, cancel := context.WithTimeout(
		context.Background(), g.DefaultTimeout,
	)
	return ctx, g.watch(ctx, cancel)
}

// WithCtxQuitNoTimeout returns a context that is only canceled on shutdown.
func (g *ContextGuard) WithCtxQuitNoTimeout() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	return ctx, g.watch(ctx, cancel)
}

// CtxBlocking returns a context that only expires after the default timeout.
// It is meant for cleanup work that must be able to finish during shutdown.
func (g *ContextGuard) CtxBlocking() (context.Context, func()) {
	return context.WithTimeout(context.Background(), g.DefaultTimeout)
}

// watch cancels the context once the quit channel is closed. The returned
// function must be called to release the watcher.
func (g *ContextGuard) watch(ctx context.Context,
	cancel context.CancelFunc) func() {

	g.Wg.Add(1)
	go func() {
		defer g.Wg.Done()

		select {
		case <-g.Quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	return cancel
}
