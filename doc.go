/*
Package tracectx attaches hierarchical, human-readable names to the current goroutine, so that
logs, errors, and crash reports can say where in a program's logical structure they came from, even
after work has been handed off to another goroutine.

Broadly, the tools belong to a few distinct groups:

- Named scopes: [Open], [Scope.Close], [Do], and [GetContext]
- Carrying context across goroutines: [Capture], [Bridge.Adopt], [WrapCall], [Go], and the
  context.Context helpers [WithCapture] and [AdoptContext]
- Reporting: [GetTrace], [Wrap], [Errorf], [Field], and [WrapCore]
- Dispatch bookkeeping: [Tracker] and [Group]

# Scopes

A scope is opened with a name and closed when the enclosing code is done, normally via defer:

	func compute(value int) {
		defer tracectx.Open("compute").Close()
		log.Printf("%s: computing %d", tracectx.GetContext(), value)
	}

Scopes are tracked per goroutine. Each new scope points to the one that was topmost when it was
opened, and GetContext joins the names from the outermost to the innermost with ":", e.g.
"main:queueThread:compute". With no scope open, GetContext returns "".

Scopes must be closed in the reverse order they were opened, on the goroutine that opened them.
Violations are programming errors and panic with an error wrapping [ErrMisuse].

# Crossing goroutines

A new goroutine starts with no scopes. To carry a context along, capture it where the work is
dispatched and adopt it where the work runs:

	go tracectx.WrapCall(func() {
		// GetContext() here starts with the dispatcher's context
	})()

[WrapCall] captures immediately and adopts for exactly the duration of the call. The lower-level
[Capture] and [Bridge.Adopt] do the same thing in two steps, and [WithCapture] stores a capture in a
context.Context so that it travels with the rest of the request-scoped values.

While a goroutine has adopted a [Bridge], scopes it opens are added on top of the captured chain,
and its own previous context is hidden until the adoption is released. A Bridge may be adopted by
many goroutines at once. It must not be adopted after any scope in its chain has been closed; that
panics with an error wrapping ErrMisuse.

# Reporting

[GetTrace] returns the chain with the call site that opened each scope, and marks where it crossed
from one goroutine to another. [Wrap] and [Errorf] prefix errors with the current context.
[WrapCore] makes a zap logger add the writing goroutine's context to every entry.

# Dispatch bookkeeping

[Tracker] is a hierarchical sync.WaitGroup for work dispatched with a context. It records
unfinished work by the context that dispatched it, for diagnosing what's still running. [Group] is
an errgroup.Group that carries context into its goroutines.
*/
package tracectx
