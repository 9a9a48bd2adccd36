package tracectx_test

import (
	"context"
	"testing"

	"github.com/sharnoff/tracectx"
)

func TestContextCarriesCapture(t *testing.T) {
	t.Parallel()

	_, ok := tracectx.FromContext(context.Background())
	assert(!ok)

	defer tracectx.Open("handler").Close()
	ctx := tracectx.WithCapture(context.Background())

	b, ok := tracectx.FromContext(ctx)
	assert(ok)
	assert(b.Context() == "handler")

	result := make(chan string)
	go func(ctx context.Context) {
		release := tracectx.AdoptContext(ctx)
		defer release()
		defer tracectx.Open("background").Close()
		result <- tracectx.GetContext()
	}(ctx)
	assert(<-result == "handler:background")
}

func TestAdoptContextWithoutCapture(t *testing.T) {
	t.Parallel()

	defer tracectx.Open("mine").Close()

	release := tracectx.AdoptContext(context.Background())
	assert(tracectx.GetContext() == "mine")
	release()
	assert(tracectx.GetContext() == "mine")

	// an empty capture leaves the current context alone too
	empty := tracectx.NewContext(context.Background(), tracectx.Bridge{})
	release = tracectx.AdoptContext(empty)
	assert(tracectx.GetContext() == "mine")
	release()
}

func TestFromNilContext(t *testing.T) {
	t.Parallel()

	//nolint:staticcheck // intentionally testing nil context
	_, ok := tracectx.FromContext(nil)
	assert(!ok)
}
