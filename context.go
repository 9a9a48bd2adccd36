package tracectx

import "context"

type bridgeKey struct{}

// NewContext returns a copy of ctx that carries b.
//
// This is how a captured context is usually handed to other goroutines: pass the context.Context
// along as normal, and call [AdoptContext] where the work runs.
func NewContext(ctx context.Context, b Bridge) context.Context {
	return context.WithValue(ctx, bridgeKey{}, b)
}

// WithCapture returns a copy of ctx carrying a [Capture] of the calling goroutine's context.
func WithCapture(ctx context.Context) context.Context {
	return NewContext(ctx, Capture())
}

// FromContext returns the Bridge carried by ctx, if there is one.
func FromContext(ctx context.Context) (Bridge, bool) {
	if ctx == nil {
		return Bridge{}, false
	}
	b, ok := ctx.Value(bridgeKey{}).(Bridge)
	return b, ok
}

// AdoptContext adopts the Bridge carried by ctx on the calling goroutine. See [Bridge.Adopt] for
// the rules around release.
//
// If ctx doesn't carry a Bridge, or it's empty, the calling goroutine's context is left alone and
// release does nothing.
func AdoptContext(ctx context.Context) (release func()) {
	b, ok := FromContext(ctx)
	if !ok || b.Empty() {
		return func() {}
	}
	return b.Adopt()
}
