package tracectx_test

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	pkgerrors "github.com/pkg/errors"

	"github.com/sharnoff/tracectx"
)

func TestWrap(t *testing.T) {
	t.Parallel()

	assert(tracectx.Wrap(nil) == nil)

	// no context: returned unchanged
	assert(tracectx.Wrap(io.EOF) == io.EOF)

	defer tracectx.Open("reader").Close()
	defer tracectx.Open("next").Close()

	err := tracectx.Wrap(io.EOF)
	if got, want := err.Error(), "reader:next: EOF"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	assert(errors.Is(err, io.EOF))
	assert(pkgerrors.Cause(err) == io.EOF)

	ctx, ok := tracectx.ContextOf(err)
	assert(ok)
	assert(ctx == "reader:next")
}

func TestWrapKeepsOuterContext(t *testing.T) {
	t.Parallel()

	var inner error
	tracectx.Do("inner", func() {
		inner = tracectx.Wrap(io.ErrUnexpectedEOF)
	})

	defer tracectx.Open("outer").Close()
	err := tracectx.Wrap(fmt.Errorf("reading: %w", inner))

	assert(err.Error() == "outer: reading: inner: unexpected EOF")
	ctx, ok := tracectx.ContextOf(err)
	assert(ok)
	assert(ctx == "outer")
	assert(errors.Is(err, io.ErrUnexpectedEOF))
}

func TestContextOfUnwrapped(t *testing.T) {
	t.Parallel()

	_, ok := tracectx.ContextOf(io.EOF)
	assert(!ok)
	_, ok = tracectx.ContextOf(nil)
	assert(!ok)
}

func TestErrorf(t *testing.T) {
	t.Parallel()

	defer tracectx.Open("main").Close()
	err := tracectx.Errorf("bad value %d", 3)
	assert(err.Error() == "main: bad value 3")

	// %+v includes the stack from github.com/pkg/errors, followed by the context
	verbose := fmt.Sprintf("%+v", err)
	assert(strings.HasPrefix(verbose, "bad value 3\n"))
	assert(strings.Contains(verbose, "TestErrorf"))
	assert(strings.HasSuffix(verbose, "context: main"))

	assert(fmt.Sprintf("%v", err) == "main: bad value 3")
	assert(fmt.Sprintf("%q", err) == `"main: bad value 3"`)
}
