package tracectx

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// UnknownContext is the name given to work dispatched with no open scopes.
const UnknownContext = "(unknown context)"

// Tracker records work handed off to other goroutines, by the context it was dispatched from,
// until it finishes. It's similar to a [sync.WaitGroup], with the following changes:
//
//  1. Work is added with [Tracker.Track] or [Tracker.Go], which also carry the dispatching
//     goroutine's context into the work (like [WrapCall])
//  2. Pending work is named by the context that dispatched it, and can be fetched with
//     [Tracker.Pending] or [Tracker.Tree]
//  3. Trackers are hierarchical, with subtrackers that can be separately waited on
//  4. [Tracker.Wait] returns a channel, so it can be selected over
//
// The intended use is diagnostics: when something is taking too long to shut down, Tree says which
// work is still running and where it came from.
type Tracker struct {
	mu               sync.Mutex
	parent           *Tracker
	idInParent       subtrackerID
	name             string
	count            uint
	allDone          chan struct{}
	pending          map[string]uint
	subtrackers      map[subtrackerID]*Tracker
	nextSubtrackerID subtrackerID
}

// PendingTree represents the unfinished work in a [Tracker], returned by [Tracker.Tree].
type PendingTree struct {
	Name        string        `json:"name"`
	Pending     []PendingInfo `json:"pending"`
	Subtrackers []PendingTree `json:"subtrackers"`
}

// PendingInfo describes the unfinished work dispatched from a particular context.
type PendingInfo struct {
	// Context is the rendered context of the dispatching goroutine, or UnknownContext.
	Context string `json:"context"`
	// Count is the number of unfinished calls dispatched from Context. It is never zero when
	// returned by [Tracker.Pending] or [Tracker.Tree].
	Count uint `json:"count"`
}

type subtrackerID uint64

func (t *Tracker) initialize() {
	if t.pending == nil {
		t.pending = make(map[string]uint)
		t.subtrackers = make(map[subtrackerID]*Tracker)
	}
}

// NewTracker creates a new Tracker with the given name.
func NewTracker(name string) *Tracker {
	return &Tracker{name: name}
}

// Name returns the name of the Tracker.
func (t *Tracker) Name() string {
	return t.name
}

// NewSubtracker creates a Tracker contained within t.
//
// Waiting on t will not complete while the subtracker has unfinished work.
func (t *Tracker) NewSubtracker(name string) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initialize()

	id := t.nextSubtrackerID
	t.nextSubtrackerID += 1
	return &Tracker{
		parent:     t,
		idInParent: id,
		name:       name,
	}
}

// Track captures the calling goroutine's context and returns a function that runs call with that
// context adopted, recording it as pending until the call returns (or panics).
//
// The returned function must be called exactly once; waiting on t won't complete until it has
// been. If call is nil, Track returns nil and records nothing.
func (t *Tracker) Track(call func()) func() {
	if call == nil {
		return nil
	}

	b := Capture()
	key := b.Context()
	if key == "" {
		key = UnknownContext
	}
	t.add(key)

	var called atomic.Bool
	return func() {
		if !called.CompareAndSwap(false, true) {
			panic(errors.Wrapf(ErrMisuse, "work tracked from %q called more than once", key))
		}

		defer t.done(key)
		if b.Empty() {
			call()
		} else {
			b.Run(call)
		}
	}
}

// Go runs f in a new goroutine with the calling goroutine's context, tracked by t.
func (t *Tracker) Go(f func()) {
	if f == nil {
		panic(errors.Wrap(ErrMisuse, "Tracker.Go called with nil function"))
	}
	go t.Track(f)()
}

func (t *Tracker) add(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initialize()

	t.count += 1
	t.pending[key] += 1
	t.rectifyAdded()
}

func (t *Tracker) rectifyAdded() {
	if t.count+uint(len(t.subtrackers)) == 1 && t.parent != nil {
		t.parent.mu.Lock()
		defer t.parent.mu.Unlock()

		t.parent.subtrackers[t.idInParent] = t
		t.parent.rectifyAdded()
	}
}

func (t *Tracker) done(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initialize()

	c := t.pending[key]
	if c == 0 {
		panic(fmt.Sprintf("tracectx: no pending work from %q", key))
	}

	c -= 1
	if c == 0 {
		delete(t.pending, key)
	} else {
		t.pending[key] = c
	}

	t.count -= 1
	t.rectifyDone()
}

func (t *Tracker) rectifyDone() {
	if t.count+uint(len(t.subtrackers)) == 0 {
		if t.allDone != nil {
			close(t.allDone)
			t.allDone = nil
		}

		if t.parent != nil {
			t.parent.mu.Lock()
			defer t.parent.mu.Unlock()

			delete(t.parent.subtrackers, t.idInParent)
			t.parent.rectifyDone()
		}
	}
}

// Wait returns a channel that is closed once all tracked work has finished.
func (t *Tracker) Wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initialize()

	if t.count == 0 && len(t.subtrackers) == 0 {
		return alwaysClosed
	}

	if t.allDone == nil {
		t.allDone = make(chan struct{})
	}

	return t.allDone
}

// TryWait waits on the Tracker, returning early with ctx.Err() if the context is canceled.
//
// If the context is already canceled when TryWait is called, it always returns the context's
// error.
func (t *Tracker) TryWait(ctx context.Context) error {
	if isClosed(ctx.Done()) {
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Wait():
		return nil
	}
}

// Finished returns whether all tracked work is finished, i.e. if waiting will immediately
// complete.
func (t *Tracker) Finished() bool {
	return isClosed(t.Wait())
}

// Pending returns the unfinished work tracked directly by t, sorted by context. It does not recurse
// into subtrackers.
func (t *Tracker) Pending() []PendingInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	return sortedPending(t.pending)
}

func sortedPending(pending map[string]uint) []PendingInfo {
	if len(pending) == 0 {
		return nil
	}

	ps := make([]PendingInfo, 0, len(pending))
	for ctx, count := range pending {
		ps = append(ps, PendingInfo{Context: ctx, Count: count})
	}
	slices.SortFunc(ps, func(a, b PendingInfo) bool { return a.Context < b.Context })
	return ps
}

// Subtrackers returns the subtrackers with unfinished work.
//
// Between calling Subtrackers and calling methods on the returned Trackers, some or all of them
// may have finished.
func (t *Tracker) Subtrackers() []*Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()

	var sts []*Tracker
	for _, st := range t.subtrackers {
		sts = append(sts, st)
	}
	slices.SortFunc(sts, func(a, b *Tracker) bool { return a.idInParent < b.idInParent })
	return sts
}

// Tree returns a snapshot of all unfinished work.
//
// If work is starting or finishing during the call, the result may not match the state at any
// single point in time; e.g. some returned subtrackers may have nothing pending. Anything that is
// true for the whole duration of the call (like "work from context X in subtracker Y is running")
// is represented correctly.
func (t *Tracker) Tree() PendingTree {
	t.mu.Lock()
	pending := sortedPending(t.pending)
	var sts []*Tracker
	for _, st := range t.subtrackers {
		sts = append(sts, st)
	}
	// unlock during traversal; the children lock their parent while finishing
	t.mu.Unlock()

	slices.SortFunc(sts, func(a, b *Tracker) bool { return a.idInParent < b.idInParent })

	var subtrees []PendingTree
	for _, st := range sts {
		tree := st.Tree()
		if len(tree.Pending) != 0 || len(tree.Subtrackers) != 0 {
			subtrees = append(subtrees, tree)
		}
	}

	return PendingTree{
		Name:        t.name,
		Pending:     pending,
		Subtrackers: subtrees,
	}
}

var alwaysClosed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func isClosed(c <-chan struct{}) bool {
	if c == nil {
		return false
	}

	select {
	case <-c:
		return true
	default:
		return false
	}
}
