package tracectx

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// ErrMisuse is wrapped by the panics raised when scopes or adoptions are closed out of order, on
// the wrong goroutine, more than once, or when a stale [Bridge] is adopted.
//
// These are programming errors, not conditions to handle at runtime.
var ErrMisuse = errors.New("tracectx: misuse")

// contextError annotates an error with the context it was created in.
type contextError struct {
	context string
	cause   error
}

// Wrap annotates err with the calling goroutine's context, so that its message reads
// "outer:inner: original message".
//
// Wrap returns err unchanged if it is nil or if there is no open scope.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	ctx := GetContext()
	if ctx == "" {
		return err
	}
	return &contextError{context: ctx, cause: err}
}

// annotate is like Wrap with a fixed context, but leaves errors that already carry one alone.
func annotate(ctx string, err error) error {
	if err == nil || ctx == "" {
		return err
	}
	if _, ok := ContextOf(err); ok {
		return err
	}
	return &contextError{context: ctx, cause: err}
}

// Errorf formats a new error with a stack trace and annotates it with the calling goroutine's
// context, like [Wrap].
func Errorf(format string, args ...any) error {
	return Wrap(errors.Errorf(format, args...))
}

// ContextOf returns the context recorded by the outermost [Wrap] in err's chain.
func ContextOf(err error) (string, bool) {
	var ce *contextError
	if errors.As(err, &ce) {
		return ce.context, true
	}
	return "", false
}

func (e *contextError) Error() string {
	return e.context + ": " + e.cause.Error()
}

func (e *contextError) Unwrap() error { return e.cause }

// Cause allows errors.Cause from github.com/pkg/errors to see through the annotation.
func (e *contextError) Cause() error { return e.cause }

func (e *contextError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%+v\n", e.cause)
			io.WriteString(s, "context: "+e.context)
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
