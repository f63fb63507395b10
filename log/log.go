// Package log provides a minimal leveled logging facade. The runtime
// accepts any Logger; hosts plug in their own sink or wrap the default
// stdout logger with a level filter.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Level is a logger severity level.
type Level int8

const (
	LevelDebug Level = iota - 1
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return ""
}

// Logger is the sink interface implemented by hosts.
type Logger interface {
	Log(level Level, msg string)
}

type stdLogger struct {
	w  io.Writer
	mu sync.Mutex
}

// NewStdLogger wraps an io.Writer into a Logger.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{w: w}
}

func (l *stdLogger) Log(level Level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s %s\n", level, msg)
}

// DefaultLogger logs to stdout.
var DefaultLogger = NewStdLogger(os.Stdout)

type filter struct {
	logger Logger
	level  Level
}

// FilterOption configures a filter logger.
type FilterOption func(*filter)

// FilterLevel drops messages below the given level.
func FilterLevel(level Level) FilterOption {
	return func(f *filter) { f.level = level }
}

// NewFilter wraps a logger with filtering options.
func NewFilter(logger Logger, opts ...FilterOption) Logger {
	f := &filter{logger: logger}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *filter) Log(level Level, msg string) {
	if level < f.level {
		return
	}
	f.logger.Log(level, msg)
}

// Helper adds printf-style convenience methods on top of a Logger.
type Helper struct {
	logger Logger
}

// NewHelper creates a Helper around the given logger.
func NewHelper(logger Logger) *Helper {
	if logger == nil {
		logger = DefaultLogger
	}
	return &Helper{logger: logger}
}

func (h *Helper) Debugf(format string, a ...any) { h.logger.Log(LevelDebug, fmt.Sprintf(format, a...)) }
func (h *Helper) Infof(format string, a ...any)  { h.logger.Log(LevelInfo, fmt.Sprintf(format, a...)) }
func (h *Helper) Warnf(format string, a ...any)  { h.logger.Log(LevelWarn, fmt.Sprintf(format, a...)) }
func (h *Helper) Errorf(format string, a ...any) { h.logger.Log(LevelError, fmt.Sprintf(format, a...)) }
