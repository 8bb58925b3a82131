package logx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func init() {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"
}

// source yields the zerolog logger to write through. A Service is a source,
// so loggers derived from it follow Apply.
type source interface {
	current() zerolog.Logger
}

type fixed struct{ zl zerolog.Logger }

func (f fixed) current() zerolog.Logger { return f.zl }

// Logger is a value type. The zero value discards everything.
type Logger struct {
	src    source
	fields []Field
}

// Nop discards everything but, unlike the zero value, is not IsZero.
func Nop() Logger { return Logger{src: fixed{zerolog.Nop()}} }

// NewConsole is a standalone human-readable stdout logger for use before the
// Service exists.
func NewConsole(level string) Logger {
	return Logger{src: fixed{newRoot(consoleWriter(os.Stdout), level)}}
}

// NewWriter is a standalone JSON logger writing to w.
func NewWriter(w io.Writer, level string) Logger {
	return Logger{src: fixed{newRoot(w, level)}}
}

func newRoot(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

func (l Logger) IsZero() bool { return l.src == nil && len(l.fields) == 0 }

// With returns a logger that adds fields to every event.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	l.fields = append(append(make([]Field, 0, len(l.fields)+len(fields)), l.fields...), fields...)
	return l
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(zerolog.TraceLevel, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	if l.src == nil {
		return
	}
	zl := l.src.current()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// Skip emit and the level method to reach the caller.
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, f := range l.fields {
		f(e)
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
	e.Msg(msg)
}

// ParseLevel maps a config level name to zerolog. Unknown or empty names mean info.
func ParseLevel(s string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}
