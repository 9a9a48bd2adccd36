package tracectx

import (
	"context"
	"os"
	ossignal "os/signal" // rename so we can have function args named 'signal'
	"sync"

	"golang.org/x/exp/slices"
)

// SignalRegister is the registration half of a [SignalManager]: it is implemented by the
// SignalManager itself and by the values returned from WithErrorHandler.
type SignalRegister interface {
	On(signal any, immediateCtx context.Context, callbacks ...func(context.Context) error) error
	WithErrorHandler(handler func(context.Context, error) error) SignalRegister
}

// SignalManager runs callbacks ("hooks") when a signal is triggered, remembering where each hook
// was registered from.
//
// Signals may be any comparable value. An os.Signal is also triggered when the process receives
// it. Hooks are run in the reverse order they were registered, across the manager and its
// children (see [SignalManager.NewChild]), so that teardown happens in the opposite order to
// setup.
//
// Each hook captures the context of the goroutine that registered it, and runs with that context
// adopted (like [WrapCall]), whichever goroutine triggers the signal. Errors returned by a hook are
// annotated with that context unless they already carry one. If the registering scope has already
// closed by the time the signal is triggered, the hook runs in the triggering goroutine's context
// instead.
type SignalManager struct {
	mu sync.Mutex

	parent     *SignalManager
	idInParent int
	children   []*SignalManager

	signals        map[any]signalState
	nextID         int
	stopRequested  bool
	cleanupStarted bool
}

type signalRegisterWithErrorHandler struct {
	r          SignalRegister
	errHandler func(context.Context, error) error
}

type signalState struct {
	ctx    context.Context
	cancel context.CancelFunc

	hooks            []hook
	cleanup          func()
	triggered        bool
	inheritedTrigger bool
	ignored          bool
}

type hook struct {
	id     int
	bridge Bridge
	f      func(context.Context) error
	onErr  func(context.Context, error) error
}

// call runs the hook in the context it was registered from.
func (h hook) call(ctx context.Context) error {
	var err error
	f := func() { err = h.f(ctx) }
	if h.bridge.Empty() || !h.bridge.Live() {
		f()
	} else {
		h.bridge.run(f)
	}

	err = annotate(h.bridge.Context(), err)
	if err != nil && h.onErr != nil {
		err = h.onErr(ctx, err)
	}
	return err
}

// NewSignalManager returns a new SignalManager with nothing registered.
func NewSignalManager() *SignalManager {
	return &SignalManager{
		signals: make(map[any]signalState),
	}
}

// NewChild creates a SignalManager that is triggered along with m, at the position in m's hook
// order where NewChild was called. Signals already triggered in m count as triggered in the child.
//
// Stopping the child removes it from m. If m is stopped, the returned child is already stopped.
func (m *SignalManager) NewChild() *SignalManager {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopRequested || m.cleanupStarted {
		return &SignalManager{
			signals:        make(map[any]signalState),
			stopRequested:  true,
			cleanupStarted: true,
		}
	}

	id := m.nextID
	m.nextID += 1

	child := &SignalManager{
		parent:     m,
		idInParent: id,
		signals:    make(map[any]signalState),
	}

	// Copy in all signals that have already been triggered
	for sig, state := range m.signals {
		if state.triggered {
			child.signals[sig] = signalState{triggered: true, inheritedTrigger: true}
		}
	}

	m.children = append(m.children, child)
	return child
}

func (m *SignalManager) setupOSSignal(s *signalState, signal any) {
	if s.triggered || s.cleanup != nil {
		return
	}

	if sig, ok := signal.(os.Signal); ok {
		ch := make(chan os.Signal, 1)
		ossignal.Notify(ch, sig)
		s.cleanup = func() {
			ossignal.Stop(ch)
			close(ch)
		}
		go func() {
			for range ch {
				_ = m.Trigger(signal, context.Background())
			}
		}()
	}
}

// On registers callbacks to run when signal is triggered, capturing the calling goroutine's
// context for each of them.
//
// If the signal has already been triggered, the callbacks are run immediately with immediateCtx,
// in reverse order, stopping at the first error.
func (m *SignalManager) On(signal any, immediateCtx context.Context, callbacks ...func(context.Context) error) error {
	return m.on(signal, immediateCtx, nil, callbacks...)
}

// WithErrorHandler returns a SignalRegister whose hooks pass any error they return through
// handler. If handler returns nil, the error is considered handled and later hooks still run.
func (m *SignalManager) WithErrorHandler(handler func(context.Context, error) error) SignalRegister {
	return &signalRegisterWithErrorHandler{
		r:          m,
		errHandler: handler,
	}
}

func (r *signalRegisterWithErrorHandler) base() *SignalManager {
	for {
		switch inner := r.r.(type) {
		case *signalRegisterWithErrorHandler:
			r = inner
		case *SignalManager:
			return inner
		default:
			panic("unexpected type")
		}
	}
}

func (r *signalRegisterWithErrorHandler) On(signal any, ctx context.Context, callbacks ...func(context.Context) error) error {
	return r.base().on(signal, ctx, r.errHandler, callbacks...)
}

func (r *signalRegisterWithErrorHandler) WithErrorHandler(handler func(context.Context, error) error) SignalRegister {
	if r.errHandler == nil {
		return &signalRegisterWithErrorHandler{r: r.r, errHandler: handler}
	}

	return &signalRegisterWithErrorHandler{
		r: r,
		errHandler: func(ctx context.Context, err error) error {
			err = handler(ctx, err)
			if err != nil {
				err = r.errHandler(ctx, err)
			}
			return err
		},
	}
}

func (m *SignalManager) on(signal any, ctx context.Context, errHandler func(context.Context, error) error, callbacks ...func(context.Context) error) error {
	bridge := Capture()

	m.mu.Lock()
	locked := true
	defer func() {
		if locked {
			m.mu.Unlock()
		}
	}()

	if m.stopRequested || m.cleanupStarted {
		return nil
	}

	s := m.signals[signal]
	m.setupOSSignal(&s, signal)

	// if the signal already happened, do the callbacks ourselves, right now
	if s.triggered {
		locked = false
		m.mu.Unlock()

		for i := len(callbacks) - 1; i >= 0; i -= 1 {
			h := hook{bridge: bridge, f: callbacks[i], onErr: errHandler}
			if err := h.call(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	for _, f := range callbacks {
		s.hooks = append(s.hooks, hook{id: m.nextID, bridge: bridge, f: f, onErr: errHandler})
		m.nextID += 1
	}

	m.signals[signal] = s
	return nil
}

// Hooks returns the hooks registered directly with m for signal that haven't run yet, counted by
// the context they were registered from ([UnknownContext] if none). It does not include children.
func (m *SignalManager) Hooks(signal any) []PendingInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]uint)
	for _, h := range m.signals[signal].hooks {
		key := h.bridge.Context()
		if key == "" {
			key = UnknownContext
		}
		counts[key] += 1
	}
	return sortedPending(counts)
}

var canceledContext = func() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}()

// Context returns a context.Context that is canceled when signal is triggered, or once m is
// stopped.
func (m *SignalManager) Context(signal any) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopRequested || m.cleanupStarted {
		return canceledContext
	}

	s := m.signals[signal]
	if s.triggered {
		return canceledContext
	} else if s.ctx != nil {
		return s.ctx
	}

	m.setupOSSignal(&s, signal)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	m.signals[signal] = s
	return s.ctx
}

// Trigger runs all hooks for signal in m and its children, newest first, stopping at the first
// error. Triggering a signal a second time does nothing.
func (m *SignalManager) Trigger(signal any, ctx context.Context) error {
	return m.triggerInner(signal, ctx, true)
}

func (m *SignalManager) triggerInner(signal any, ctx context.Context, explicit bool) error {
	m.mu.Lock()

	if m.stopRequested || m.cleanupStarted {
		m.mu.Unlock()
		return nil
	}

	s := m.signals[signal]
	if s.triggered {
		if s.inheritedTrigger && explicit {
			s.inheritedTrigger = false
			m.signals[signal] = s
		}
		m.mu.Unlock()
		return nil
	} else if s.ignored && !explicit {
		m.mu.Unlock()
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	// Once triggered, new hooks run immediately instead of being added, so we can take the current
	// set and run it without holding the lock. The hooks and child triggers might be reentrant.
	s.triggered = true
	hooks := s.hooks
	s.hooks = nil
	m.signals[signal] = s
	children := slices.Clone(m.children)
	m.mu.Unlock()

	hookIdx := len(hooks) - 1
	childIdx := len(children) - 1

	var err error
	for err == nil && (hookIdx >= 0 || childIdx >= 0) {
		hookID := -1
		if hookIdx != -1 {
			hookID = hooks[hookIdx].id
		}
		childID := -1
		if childIdx != -1 {
			childID = children[childIdx].idInParent
		}

		if hookID > childID {
			err = hooks[hookIdx].call(ctx)
			hookIdx -= 1
		} else {
			// children stopped in the meantime do nothing here
			err = children[childIdx].triggerInner(signal, ctx, false)
			childIdx -= 1
		}
	}

	return err
}

// Ignore stops signal from being triggered in m by its parent. Explicitly triggering it on m still
// works.
func (m *SignalManager) Ignore(signal any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.signals[signal]
	s.ignored = true
	if s.inheritedTrigger {
		s.triggered = false
	}
	m.signals[signal] = s
}

// Stop deregisters all of m's hooks and OS signal handling once all of its children have stopped,
// and removes m from its parent.
func (m *SignalManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopRequested || m.cleanupStarted {
		return
	}

	m.stopRequested = true
	m.rectifyStop()
}

func (m *SignalManager) rectifyStop() {
	if !m.stopRequested || len(m.children) != 0 {
		return
	}

	m.cleanupStarted = true
	for _, sigState := range m.signals {
		if sigState.cleanup != nil {
			sigState.cleanup()
		}
	}

	if m.parent != nil {
		m.parent.mu.Lock()
		defer m.parent.mu.Unlock()

		// children are sorted by id, because ids only increase
		idx, ok := slices.BinarySearchFunc(m.parent.children, m.idInParent, func(c *SignalManager, id int) int {
			switch {
			case c.idInParent < id:
				return -1
			case c.idInParent > id:
				return 1
			default:
				return 0
			}
		})
		if !ok {
			panic("internal error: child SignalManager not found in parent")
		}
		m.parent.children = slices.Delete(m.parent.children, idx, idx+1)

		m.parent.rectifyStop()
	}
}
