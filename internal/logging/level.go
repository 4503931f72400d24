package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Levels lists the level names accepted by ParseLevel, from the most verbose.
var Levels = []string{"debug", "info", "warn", "error"}

// WithLevel returns a logger that additionally drops entries below level. Lowering level never
// shows entries the base logger already filters out.
func WithLevel(log *zap.Logger, level zap.AtomicLevel) *zap.Logger {
	return log.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &levelFilterCore{Core: core, level: level}
	}))
}

type levelFilterCore struct {
	zapcore.Core
	level zap.AtomicLevel
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return c.level.Enabled(lvl) && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), level: c.level}
}

func (c *levelFilterCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.level.Enabled(ent.Level) {
		return ce
	}
	return c.Core.Check(ent, ce)
}
