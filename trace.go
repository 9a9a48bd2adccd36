package tracectx

import (
	"runtime"
	"strconv"
)

// Trace is a snapshot of a context chain, innermost scope first.
//
// Unlike [GetContext], a Trace keeps where each scope was opened, which makes it more suitable for
// crash reports.
type Trace struct {
	Frames []Frame
}

// Frame is a single scope in a [Trace].
type Frame struct {
	// Name is the name the scope was opened with.
	Name string
	// Function, File, and Line give the call site of the Open. They may be empty if the runtime
	// couldn't resolve them.
	Function string
	File     string
	Line     int
	// Goroutine is the id of the goroutine the scope was opened on.
	Goroutine uint64
}

// GetTrace returns the calling goroutine's context chain, innermost first.
func GetTrace() Trace {
	return traceOf(current.Get())
}

// Trace returns the chain ending at s, innermost first.
func (s *Scope) Trace() Trace {
	return traceOf(s)
}

func traceOf(top *Scope) Trace {
	var frames []Frame
	for s := top; s != nil; s = s.parent {
		frames = append(frames, s.frame)
	}
	return Trace{Frames: frames}
}

// Names returns the scope names in the trace, innermost first.
func (t Trace) Names() []string {
	names := make([]string, len(t.Frames))
	for i, f := range t.Frames {
		names[i] = f.Name
	}
	return names
}

// Context renders the trace the same way as [GetContext]: outermost first, joined by [Separator].
func (t Trace) Context() string {
	var f Formatter
	for i := len(t.Frames) - 1; i >= 0; i -= 1 {
		f.Append(t.Frames[i].Name)
		if i != 0 {
			f.Append(Separator)
		}
	}
	return f.String()
}

// String formats the trace over multiple lines, innermost first, in a format similar to a
// goroutine stack dump. Points where the chain was carried from one goroutine to another are
// marked.
func (t Trace) String() string {
	var buf []byte

	if len(t.Frames) == 0 {
		return "<empty trace>\n"
	}

	for i, f := range t.Frames {
		var function, functionTail, file, fileLineSep, line string

		if f.Function == "" {
			function = "<unknown function>"
		} else {
			function = f.Function
			functionTail = "(...)"
		}

		if f.File == "" {
			file = "<unknown file>"
		} else {
			file = f.File
			if f.Line != 0 {
				fileLineSep = ":"
				line = strconv.Itoa(f.Line)
			}
		}

		buf = append(buf, strconv.Quote(f.Name)...)
		if f.Goroutine != 0 {
			buf = append(buf, " [goroutine "...)
			buf = strconv.AppendUint(buf, f.Goroutine, 10)
			buf = append(buf, ']')
		}
		buf = append(buf, "\n\t"...)
		buf = append(buf, function...)
		buf = append(buf, functionTail...)
		buf = append(buf, "\n\t"...)
		buf = append(buf, file...)
		buf = append(buf, fileLineSep...)
		buf = append(buf, line...)
		buf = append(buf, '\n')

		if i+1 < len(t.Frames) {
			if from := t.Frames[i+1].Goroutine; from != f.Goroutine {
				buf = append(buf, "... crossed from goroutine "...)
				buf = strconv.AppendUint(buf, from, 10)
				buf = append(buf, '\n')
			}
		}
	}

	return string(buf)
}

// callerFrame returns the frame skip levels above the function calling callerFrame, with Name and
// Goroutine unset.
func callerFrame(skip int) Frame {
	// skip only runtime.Callers here; the rest are skipped below, so that inlined frames are counted
	// the same as any other.
	var pcs [16]uintptr
	n := runtime.Callers(1, pcs[:])
	if n == 0 {
		return Frame{}
	}

	skip += 1 // callerFrame itself
	framesIter := runtime.CallersFrames(pcs[:n])
	for more := true; more; {
		var frame runtime.Frame
		frame, more = framesIter.Next()

		if skip > 0 {
			skip -= 1
			continue
		}

		return Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		}
	}
	return Frame{}
}
