package tracectx_test

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/exp/slices"

	"github.com/sharnoff/tracectx"
)

func concatLines(lines ...string) string {
	return strings.Join(lines, "\n")
}

func TestTraceFormatVarieties(t *testing.T) {
	t.Parallel()

	expected := concatLines(
		`"foo" [goroutine 3]`,
		"\tpackagename.foo(...)",
		"\t/path/to/package/foo.go:37",
		`"bar" [goroutine 3]`,
		"\tpackagename.bar(...)",
		"\t/path/to/package/bar.go",
		`"baz" [goroutine 3]`,
		"\tpackagename.baz(...)",
		"\t<unknown file>",
		`"qux" [goroutine 3]`,
		"\tpackagename.qux(...)",
		"\t<unknown file>",
		`"" [goroutine 3]`,
		"\t<unknown function>",
		"\t/unknown/function/path.go:45",
		"... crossed from goroutine 0",
		`"unknown"`,
		"\t<unknown function>",
		"\t<unknown file>",
		"",
	)

	tr := tracectx.Trace{
		Frames: []tracectx.Frame{
			{Name: "foo", Function: "packagename.foo", File: "/path/to/package/foo.go", Line: 37, Goroutine: 3},
			{Name: "bar", Function: "packagename.bar", File: "/path/to/package/bar.go", Goroutine: 3},
			{Name: "baz", Function: "packagename.baz", Goroutine: 3},
			{Name: "qux", Function: "packagename.qux", Line: 29, Goroutine: 3}, // Line should have no effect if File is missing.
			{File: "/unknown/function/path.go", Line: 45, Goroutine: 3},
			{Name: "unknown"},
		},
	}

	if diff := cmp.Diff(tr.String(), expected); diff != "" {
		t.Fatalf("formatting (-got +want):\n%s", diff)
	}
}

func TestTraceEmpty(t *testing.T) {
	t.Parallel()

	tr := tracectx.GetTrace()
	assert(len(tr.Frames) == 0)
	assert(tr.String() == "<empty trace>\n")
	assert(tr.Context() == "")
}

func TestTraceCrossingFormat(t *testing.T) {
	t.Parallel()

	expected := concatLines(
		`"inner" [goroutine 20]`,
		"\tpkg.worker(...)",
		"\t/src/worker.go:12",
		"... crossed from goroutine 10",
		`"outer" [goroutine 10]`,
		"\tpkg.main(...)",
		"\t/src/main.go:5",
		"",
	)

	tr := tracectx.Trace{
		Frames: []tracectx.Frame{
			{Name: "inner", Function: "pkg.worker", File: "/src/worker.go", Line: 12, Goroutine: 20},
			{Name: "outer", Function: "pkg.main", File: "/src/main.go", Line: 5, Goroutine: 10},
		},
	}

	if diff := cmp.Diff(tr.String(), expected); diff != "" {
		t.Fatalf("formatting (-got +want):\n%s", diff)
	}
	assert(tr.Context() == "outer:inner")
}

func validateFrame(t *testing.T, i int, f tracectx.Frame, name, function string) {
	t.Helper()

	if f.Name != name {
		t.Fatalf("Frames[%d].Name: expected %q, got %q", i, name, f.Name)
	}
	if matched, err := regexp.MatchString(fmt.Sprint("^", function, "$"), f.Function); !matched || err != nil {
		if err != nil {
			panic(fmt.Errorf("bad regex for Frames[%d].Function: %w", i, err))
		}
		t.Fatalf("Frames[%d].Function: expected match for %q, got %q", i, function, f.Function)
	}
	if matched, _ := regexp.MatchString(`.*/trace_test\.go$`, f.File); !matched {
		t.Fatalf("Frames[%d].File: expected trace_test.go, got %q", i, f.File)
	}
	if f.Line == 0 {
		t.Fatalf("Frames[%d].Line: expected != 0", i)
	}
	if f.Goroutine == 0 {
		t.Fatalf("Frames[%d].Goroutine: expected != 0", i)
	}
}

func TestTraceRecordsOpenSites(t *testing.T) {
	t.Parallel()

	var tr tracectx.Trace
	func1 := func() {
		defer tracectx.Open("func1").Close()
		tr = tracectx.GetTrace()
	}
	func2 := func() {
		tracectx.Do("func2", func1)
	}

	defer tracectx.Open("root").Close()
	func2()

	if !slices.Equal(tr.Names(), []string{"func1", "func2", "root"}) {
		t.Fatalf("unexpected names: %v", tr.Names())
	}
	validateFrame(t, 0, tr.Frames[0], "func1", `.*/tracectx_test\.TestTraceRecordsOpenSites\.func1`)
	validateFrame(t, 1, tr.Frames[1], "func2", `.*/tracectx_test\.TestTraceRecordsOpenSites\.func2`)
	validateFrame(t, 2, tr.Frames[2], "root", `.*/tracectx_test\.TestTraceRecordsOpenSites`)
	assert(tr.Context() == "root:func2:func1")
	assert(!strings.Contains(tr.String(), "crossed"))
}

func TestTraceAcrossGoroutines(t *testing.T) {
	t.Parallel()

	defer tracectx.Open("outer").Close()

	ch := make(chan tracectx.Trace)
	tracectx.Go(func() {
		defer tracectx.Open("inner").Close()
		ch <- tracectx.GetTrace()
	})
	tr := <-ch

	assert(len(tr.Frames) == 2)
	assert(tr.Frames[0].Goroutine != tr.Frames[1].Goroutine)
	assert(strings.Contains(tr.String(), fmt.Sprint("... crossed from goroutine ", tr.Frames[1].Goroutine)))
	assert(tr.Context() == "outer:inner")
}
