package utils

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Level is a logging severity threshold.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel maps a level name to a Level, defaulting to info.
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

var envLevel = sync.OnceValue(func() Level {
	return ParseLevel(os.Getenv("LOG_LEVEL"))
})

// Logger writes leveled key=value lines for one named component.
// Workers and sinks each hold their own; With derives a child logger
// carrying bound fields.
type Logger struct {
	name   string
	out    *log.Logger
	level  *atomic.Int32
	fields []interface{}
}

// NewLogger creates a logger for a named component. The threshold
// comes from LOG_LEVEL (debug, info, warn, error); unset means info.
func NewLogger(name string) *Logger {
	level := &atomic.Int32{}
	level.Store(int32(envLevel()))
	return &Logger{
		name:  name,
		out:   log.New(os.Stdout, "", log.LstdFlags),
		level: level,
	}
}

// SetLevel changes the threshold for this logger and its children.
func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// With returns a child logger whose lines always carry the given
// key-value pairs.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	child := *l
	child.fields = append(append([]interface{}{}, l.fields...), keyvals...)
	return &child
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.write(LevelDebug, msg, keyvals)
}

func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.write(LevelInfo, msg, keyvals)
}

func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.write(LevelWarn, msg, keyvals)
}

func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.write(LevelError, msg, keyvals)
}

func (l *Logger) write(level Level, msg string, keyvals []interface{}) {
	if level < Level(l.level.Load()) {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s", l.name, level, msg)
	appendPairs(&b, l.fields)
	appendPairs(&b, keyvals)
	l.out.Println(b.String())
}

// appendPairs formats keyvals as k=v; a trailing key without a value
// is printed as k=?.
func appendPairs(b *strings.Builder, keyvals []interface{}) {
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 < len(keyvals) {
			fmt.Fprintf(b, " %v=%v", keyvals[i], keyvals[i+1])
		} else {
			fmt.Fprintf(b, " %v=?", keyvals[i])
		}
	}
}
