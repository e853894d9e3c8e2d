// Package logx gates log output by the configured logging.level.
package logx

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level. Unknown values map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger wraps a logrus logger. The level can be changed while other
// goroutines log, which is how config reloads apply it.
type Logger struct {
	l *logrus.Logger
}

func New(w io.Writer, level Level) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})
	l.SetLevel(level.logrus())
	return &Logger{l: l}
}

func (lg *Logger) SetLevel(level Level) { lg.l.SetLevel(level.logrus()) }

func (lg *Logger) Level() Level {
	switch lg.l.GetLevel() {
	case logrus.DebugLevel, logrus.TraceLevel:
		return LevelDebug
	case logrus.WarnLevel:
		return LevelWarn
	case logrus.InfoLevel:
		return LevelInfo
	default:
		return LevelError
	}
}

func (lg *Logger) Debugf(format string, args ...any) {
	if lg != nil {
		lg.l.Debugf(format, args...)
	}
}

func (lg *Logger) Infof(format string, args ...any) {
	if lg != nil {
		lg.l.Infof(format, args...)
	}
}

func (lg *Logger) Warnf(format string, args ...any) {
	if lg != nil {
		lg.l.Warnf(format, args...)
	}
}

func (lg *Logger) Errorf(format string, args ...any) {
	if lg != nil {
		lg.l.Errorf(format, args...)
	}
}
