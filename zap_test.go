package tracectx_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sharnoff/tracectx"
)

// simple renders captured entries as "message context=...".
func simple(entries []observer.LoggedEntry) []string {
	var out []string
	for _, e := range entries {
		line := e.Message
		if ctx, ok := e.ContextMap()[tracectx.FieldKey]; ok {
			line += " context=" + ctx.(string)
		}
		out = append(out, line)
	}
	return out
}

func TestField(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	l := zap.New(core)

	l.Info("nothing open", tracectx.Field())
	tracectx.Do("outer", func() {
		l.Info("in outer", tracectx.Field())
	})

	want := []string{"nothing open", "in outer context=outer"}
	if diff := cmp.Diff(simple(logs.AllUntimed()), want); diff != "" {
		t.Errorf("logs (-got +want):\n%s", diff)
	}
}

func TestWrapCore(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	l := zap.New(core, tracectx.Option()).With(zap.String("component", "test"))

	l.Info("no context")
	defer tracectx.Open("main").Close()
	l.Info("main")
	l.Debug("filtered out")

	done := make(chan struct{})
	tracectx.Go(func() {
		defer close(done)
		defer tracectx.Open("worker").Close()
		l.Info("from worker")
	})
	<-done

	want := []string{"no context", "main context=main", "from worker context=main:worker"}
	if diff := cmp.Diff(simple(logs.AllUntimed()), want); diff != "" {
		t.Errorf("logs (-got +want):\n%s", diff)
	}
	for _, e := range logs.AllUntimed() {
		if e.ContextMap()["component"] != "test" {
			t.Errorf("entry %q lost the logger's fields", e.Message)
		}
	}
}
