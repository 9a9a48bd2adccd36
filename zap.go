package tracectx

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FieldKey is the key used for the context by [Field] and [WrapCore].
const FieldKey = "context"

// Field returns a zap.Field holding [GetContext], or a field that's skipped if there are no open
// scopes.
func Field() zap.Field {
	return contextField(GetContext())
}

func contextField(ctx string) zap.Field {
	if ctx == "" {
		return zap.Skip()
	}
	return zap.String(FieldKey, ctx)
}

// Option returns a zap.Option that adds the writing goroutine's context to every entry. See
// [WrapCore].
func Option() zap.Option {
	return zap.WrapCore(WrapCore)
}

// WrapCore returns a zapcore.Core that adds the context of the goroutine writing each entry as a
// field named [FieldKey].
//
// The context is read when the entry is written, so a logger can be created once and shared: each
// goroutine's entries get that goroutine's context.
func WrapCore(core zapcore.Core) zapcore.Core {
	return &contextCore{Core: core}
}

type contextCore struct {
	zapcore.Core
}

func (c *contextCore) With(fields []zapcore.Field) zapcore.Core {
	return &contextCore{Core: c.Core.With(fields)}
}

func (c *contextCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *contextCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if ctx := GetContext(); ctx != "" {
		fields = append(fields[:len(fields):len(fields)], contextField(ctx))
	}
	return c.Core.Write(ent, fields)
}
