package tracectx

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/sharnoff/tracectx/internal/gls"
)

// Separator is placed between scope names by [GetContext].
const Separator = ":"

// current is the topmost open Scope for each goroutine.
var current gls.Slot[Scope]

// Scope is a single named frame in the calling goroutine's context, created by [Open].
//
// Scopes form a chain through their parents: each Scope points at whatever was topmost when it
// was opened. Everything except the liveness flag is immutable once Open returns, so a chain can
// be read from any goroutine.
type Scope struct {
	name   string
	parent *Scope
	frame  Frame // includes the goroutine it was opened on
	closed atomic.Bool
}

// Open adds a named scope to the calling goroutine's context, returning the Scope so that it can
// be closed. The usual pattern is:
//
//	defer tracectx.Open("name").Close()
//
// The scope is part of [GetContext] on this goroutine until it's closed.
func Open(name string) *Scope {
	return open(name, 1)
}

// Do runs f inside a scope with the given name.
func Do(name string, f func()) {
	defer open(name, 1).Close()
	f()
}

// open is Open, with skip counting the frames between open's caller and the site to record.
func open(name string, skip int) *Scope {
	id := gls.ID()
	s := &Scope{
		name:   name,
		parent: current.GetAt(id),
		frame:  callerFrame(skip + 1),
	}
	s.frame.Name = name
	s.frame.Goroutine = id
	current.SetAt(id, s)
	return s
}

// Close removes the scope from the calling goroutine's context, so that its parent is topmost
// again.
//
// Scopes must be closed in the reverse order they were opened, on the goroutine that opened them
// (or the one that adopted their chain; see [Bridge.Adopt]). Close panics with an error wrapping
// [ErrMisuse] if s is not currently topmost, or if it was already closed. Closing a nil Scope does
// nothing.
func (s *Scope) Close() {
	if s == nil {
		return
	}

	if s.closed.Load() {
		panic(errors.Wrapf(ErrMisuse, "scope %q closed twice", s.Context()))
	}
	id := gls.ID()
	if top := current.GetAt(id); top != s {
		panic(errors.Wrapf(
			ErrMisuse, "closing scope %q, but the topmost scope on goroutine %d is %q",
			s.Context(), id, top.Context(),
		))
	}

	s.closed.Store(true)
	current.SetAt(id, s.parent)
}

// Name returns the name the Scope was opened with.
func (s *Scope) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Parent returns the scope that was topmost when s was opened, or nil if s is a root.
func (s *Scope) Parent() *Scope {
	if s == nil {
		return nil
	}
	return s.parent
}

// Frame returns where s was opened.
func (s *Scope) Frame() Frame {
	if s == nil {
		return Frame{}
	}
	return s.frame
}

// Closed returns whether s has been closed.
func (s *Scope) Closed() bool {
	return s != nil && s.closed.Load()
}

// Context renders the chain ending at s, the same way [GetContext] does.
func (s *Scope) Context() string {
	return render(s)
}

// GetContext returns the names of the calling goroutine's open scopes, outermost first, joined by
// [Separator]. For example:
//
//	defer tracectx.Open("scope1").Close()
//	defer tracectx.Open("scope2").Close()
//	fmt.Println(tracectx.GetContext()) // "scope1:scope2"
//
// GetContext returns the empty string if no scope is open.
func GetContext() string {
	return render(current.Get())
}

func render(top *Scope) string {
	if top == nil {
		return ""
	}

	// links point from child to parent, so collect innermost-first and write in reverse
	var names []string
	for s := top; s != nil; s = s.parent {
		names = append(names, s.name)
	}

	var f Formatter
	for i := len(names) - 1; i >= 0; i -= 1 {
		f.Append(names[i])
		if i != 0 {
			f.Append(Separator)
		}
	}
	return f.String()
}
