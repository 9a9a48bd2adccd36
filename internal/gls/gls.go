// Package gls provides goroutine-local slots: a per-goroutine "current value" keyed by the
// goroutine's id.
//
// Entries are created on the first non-nil SetAt and removed on SetAt(id, nil), so a goroutine
// that has nothing stored costs nothing.
package gls

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

var goroutinePrefix = []byte("goroutine ")

// ID returns the id of the calling goroutine, or zero if it can't be determined.
func ID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]

	// header is "goroutine 123 [running]:\n..."
	if !bytes.HasPrefix(b, goroutinePrefix) {
		return 0
	}
	b = b[len(goroutinePrefix):]
	end := bytes.IndexByte(b, ' ')
	if end < 0 {
		return 0
	}

	id, err := strconv.ParseUint(string(b[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Slot stores one *T per goroutine. The zero value is ready to use.
//
// Each goroutine is expected to touch only its own entry; the methods taking an explicit id exist
// so that callers that already know the id don't have to look it up twice.
type Slot[T any] struct {
	m sync.Map // uint64 -> *T
}

// Get returns the calling goroutine's value, or nil.
func (s *Slot[T]) Get() *T {
	return s.GetAt(ID())
}

// GetAt returns the value stored for goroutine id, or nil.
func (s *Slot[T]) GetAt(id uint64) *T {
	v, ok := s.m.Load(id)
	if !ok {
		return nil
	}
	return v.(*T)
}

// SetAt stores v for goroutine id. Setting nil removes the entry.
func (s *Slot[T]) SetAt(id uint64, v *T) {
	if v == nil {
		s.m.Delete(id)
	} else {
		s.m.Store(id, v)
	}
}
