package tracectx

import (
	"fmt"
	"strings"
)

// Formatter accumulates values as text. For example:
//
//	msg := new(Formatter).Append("number: ", 1).String()
//
// The zero value is ready to use.
type Formatter struct {
	buf strings.Builder
}

// Append writes each value in its default format, with no separators.
func (f *Formatter) Append(values ...any) *Formatter {
	for _, v := range values {
		switch v := v.(type) {
		case string:
			f.buf.WriteString(v)
		case fmt.Stringer:
			f.buf.WriteString(v.String())
		default:
			fmt.Fprint(&f.buf, v)
		}
	}
	return f
}

// String returns everything appended so far.
func (f *Formatter) String() string {
	return f.buf.String()
}
