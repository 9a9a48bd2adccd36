package tracectx

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Group is an [errgroup.Group] that carries the context of whoever calls Go into the goroutine it
// starts.
//
// The zero Group is valid, with the same meaning as the zero errgroup.Group.
type Group struct {
	once sync.Once
	g    *errgroup.Group
}

// NewGroup returns a Group and a context derived from ctx, as with [errgroup.WithContext].
//
// The returned context.Context also carries a capture of the calling goroutine's context, so
// code further down can use [AdoptContext].
func NewGroup(ctx context.Context) (*Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	return &Group{g: g}, WithCapture(gctx)
}

// Go calls f in a new goroutine, with the calling goroutine's context adopted for the duration of
// the call.
//
// Errors returned by f are annotated with the context it was started from (see [Wrap]), unless
// they already carry one.
func (g *Group) Go(f func() error) {
	g.group().Go(wrapErrFunc(f))
}

// TryGo is like Go, but only starts f if doing so wouldn't exceed the limit set by SetLimit.
func (g *Group) TryGo(f func() error) bool {
	return g.group().TryGo(wrapErrFunc(f))
}

// SetLimit limits the number of active goroutines in the group. See [errgroup.Group.SetLimit].
func (g *Group) SetLimit(n int) {
	g.group().SetLimit(n)
}

// Wait blocks until all calls to Go have returned, then returns the first non-nil error.
func (g *Group) Wait() error {
	return g.group().Wait()
}

func (g *Group) group() *errgroup.Group {
	g.once.Do(func() {
		if g.g == nil {
			g.g = new(errgroup.Group)
		}
	})
	return g.g
}

func wrapErrFunc(f func() error) func() error {
	b := Capture()
	if b.Empty() {
		return f
	}
	return func() (err error) {
		b.Run(func() { err = f() })
		return annotate(b.Context(), err)
	}
}
