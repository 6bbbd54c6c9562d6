// Package logger wraps zerolog behind the structured key/value surface
// the rest of the codebase consumes.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a leveled structured logger. Methods accept alternating
// key/value pairs after the message.
type Logger struct {
	zl zerolog.Logger
}

// Options configures a Logger.
type Options struct {
	Level  string // debug, info, warn, error
	Pretty bool   // human console output instead of JSON
	Output io.Writer
}

// New creates a Logger writing JSON (or pretty console output) to the
// configured writer, stderr by default.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level)); err == nil && opts.Level != "" {
		level = parsed
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger with the given key/value pairs attached to
// every record.
func (l *Logger) With(keyvals ...any) *Logger {
	ctx := l.zl.With()
	for k, v := range pairs(keyvals) {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zl: ctx.Logger()}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, keyvals ...any) { l.emit(l.zl.Debug(), msg, keyvals) }

// Info logs at info level.
func (l *Logger) Info(msg string, keyvals ...any) { l.emit(l.zl.Info(), msg, keyvals) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, keyvals ...any) { l.emit(l.zl.Warn(), msg, keyvals) }

// Error logs at error level.
func (l *Logger) Error(msg string, keyvals ...any) { l.emit(l.zl.Error(), msg, keyvals) }

func (l *Logger) emit(ev *zerolog.Event, msg string, keyvals []any) {
	for k, v := range pairs(keyvals) {
		if err, ok := v.(error); ok {
			ev = ev.AnErr(k, err)
			continue
		}
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// pairs folds a variadic key/value list into a map; a trailing unpaired
// value is recorded under "!BADKEY" rather than dropped.
func pairs(keyvals []any) map[string]any {
	out := make(map[string]any, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 >= len(keyvals) {
			out["!BADKEY"] = keyvals[i]
			break
		}
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		out[key] = keyvals[i+1]
	}
	return out
}
