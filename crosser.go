package tracectx

import (
	"github.com/pkg/errors"

	"github.com/sharnoff/tracectx/internal/gls"
)

// Bridge is a snapshot of a goroutine's context, taken by [Capture], that can be adopted on another
// goroutine with [Bridge.Adopt].
//
// A Bridge holds a reference to the topmost scope at the time of capture, not a copy of the names.
// The referenced scopes are immutable, so a single Bridge may be adopted by any number of
// goroutines at once. The zero Bridge is empty.
type Bridge struct {
	top *Scope
}

// Capture returns a snapshot of the calling goroutine's context.
func Capture() Bridge {
	return Bridge{top: current.Get()}
}

// Empty returns whether there were no open scopes when b was captured.
func (b Bridge) Empty() bool {
	return b.top == nil
}

// Live returns whether every scope in b's chain is still open.
//
// An empty Bridge is always live.
func (b Bridge) Live() bool {
	for s := b.top; s != nil; s = s.parent {
		if s.closed.Load() {
			return false
		}
	}
	return true
}

// Context renders the captured chain, the same way as [GetContext].
func (b Bridge) Context() string {
	return render(b.top)
}

// Trace returns the captured chain, innermost first.
func (b Bridge) Trace() Trace {
	return traceOf(b.top)
}

// Adopt makes b's chain the calling goroutine's context, until the returned function is called.
//
// While adopted, [GetContext] on the calling goroutine returns b's context, and scopes opened are
// added on top of it. The goroutine's previous context is restored by release:
//
//	release := bridge.Adopt()
//	defer release()
//
// Release must be called exactly once, on the same goroutine, after closing any scopes opened
// since Adopt. Adopt panics with an error wrapping [ErrMisuse] if any scope in b's chain has
// already been closed. Release panics the same way if it is called out of order or twice.
func (b Bridge) Adopt() (release func()) {
	if !b.Live() {
		panic(errors.Wrapf(ErrMisuse, "adopting context %q after its scope was closed", b.Context()))
	}
	return b.adopt().release
}

// adoption is a single Adopt on a particular goroutine.
type adoption struct {
	bridge   Bridge
	id       uint64
	previous *Scope
	released bool
}

func (b Bridge) adopt() *adoption {
	id := gls.ID()
	a := &adoption{bridge: b, id: id, previous: current.GetAt(id)}
	current.SetAt(id, b.top)
	return a
}

func (a *adoption) release() {
	if a.released {
		panic(errors.Wrapf(ErrMisuse, "adoption of context %q released twice", a.bridge.Context()))
	}
	id := gls.ID()
	if top := current.GetAt(id); id != a.id || top != a.bridge.top {
		panic(errors.Wrapf(
			ErrMisuse, "releasing adopted context %q, but the topmost scope on goroutine %d is %q",
			a.bridge.Context(), id, top.Context(),
		))
	}
	a.released = true
	current.SetAt(id, a.previous)
}

// abandon restores the goroutine's previous context no matter what was left open, marking any
// scopes above the bridge's top as closed.
func (a *adoption) abandon() {
	if a.released {
		return
	}
	for s := current.GetAt(a.id); s != nil && s != a.bridge.top; s = s.parent {
		// only scopes opened here; anything else came from an adoption f never released
		if s.frame.Goroutine == a.id {
			s.closed.Store(true)
		}
	}
	a.released = true
	current.SetAt(a.id, a.previous)
}

// Run calls f with b adopted, releasing it when f returns.
//
// If f panics (or calls runtime.Goexit), the calling goroutine's previous context is restored
// even if f left scopes open, and the panic continues unchanged. Scopes left open this way are
// marked closed. On a normal return, scopes left open are misuse, as with the release returned
// by [Bridge.Adopt].
func (b Bridge) Run(f func()) {
	if !b.Live() {
		panic(errors.Wrapf(ErrMisuse, "adopting context %q after its scope was closed", b.Context()))
	}
	b.run(f)
}

// run is Run without the liveness check.
func (b Bridge) run(f func()) {
	a := b.adopt()
	defer a.abandon()
	f()
	a.release()
}

// WrapCall captures the calling goroutine's context and returns a function that runs call with
// that context adopted, wherever it's executed.
//
// The capture happens immediately, not when the returned function is called. If call is nil,
// WrapCall returns nil. If there are no open scopes, call is returned unchanged, and it runs with
// whatever context its caller has.
func WrapCall(call func()) func() {
	if call == nil {
		return nil
	}
	b := Capture()
	if b.Empty() {
		return call
	}
	return func() { b.Run(call) }
}

// Go starts f in a new goroutine, with the calling goroutine's context.
func Go(f func()) {
	if f == nil {
		panic(errors.Wrap(ErrMisuse, "Go called with nil function"))
	}
	go WrapCall(f)()
}
